package middleware

import (
	"net/http"
	"time"

	"shortlink/pkg/logging"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RequestIDHeader carries the correlation id in and out of the service.
const RequestIDHeader = "X-Request-ID"

// RequestLogger attaches a correlation id to the request context, echoes it
// in the response, and writes one access log line per request.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := logging.ContextWithCorrelationID(r.Context(), r.Header.Get(RequestIDHeader))
			w.Header().Set(RequestIDHeader, logging.GetCorrelationID(ctx))

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info(ctx, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
