package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"shortlink/pkg/logging"
	"shortlink/pkg/middleware"
	"shortlink/pkg/qr"
	"shortlink/pkg/service"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type Handler struct {
	linkService *service.LinkService
	qr          *qr.Encoder
	baseURL     string
	logger      *logging.Logger
}

// NewHandler builds the HTTP handlers. An empty baseURL makes QR codes
// point at http://<request host>.
func NewHandler(linkService *service.LinkService, encoder *qr.Encoder, baseURL string, logger *logging.Logger) *Handler {
	return &Handler{
		linkService: linkService,
		qr:          encoder,
		baseURL:     baseURL,
		logger:      logger,
	}
}

type shortenResponse struct {
	TargetURL string    `json:"target_url"`
	ShortID   string    `json:"short_id"`
	QRCode    string    `json:"qr_code"`
	CreatedAt time.Time `json:"created_at"`
}

type resolveResponse struct {
	URL string `json:"url"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (h *Handler) Shorten(w http.ResponseWriter, r *http.Request) {
	var req service.ShortenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	link, err := h.linkService.Shorten(r.Context(), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	qrCode, err := h.qr.DataURI(h.shortURL(r, link.ShortID))
	if err != nil {
		h.logger.Error(r.Context(), "failed to render qr code", "short_id", link.ShortID, "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, r, http.StatusOK, shortenResponse{
		TargetURL: link.TargetURL,
		ShortID:   link.ShortID,
		QRCode:    qrCode,
		CreatedAt: link.CreatedAt,
	})
}

// Resolve records a click and returns the target as JSON; the caller redirects.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	target, err := h.recordClick(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, resolveResponse{URL: target})
}

// Redirect records a click and answers with 302 Found.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	target, err := h.recordClick(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) recordClick(r *http.Request) (string, error) {
	shortID := chi.URLParam(r, "short_id")
	return h.linkService.RecordClick(r.Context(), shortID, optionalHeader(r, "Referer"), optionalHeader(r, "User-Agent"))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.linkService.GetStats(r.Context(), chi.URLParam(r, "short_id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, stats)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) shortURL(r *http.Request, shortID string) string {
	base := h.baseURL
	if base == "" {
		base = "http://" + r.Host
	}
	return base + "/" + shortID
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidURL):
		h.writeError(w, r, http.StatusBadRequest, "Invalid URL")
	case errors.Is(err, service.ErrInvalidAlias):
		h.writeError(w, r, http.StatusBadRequest, "Invalid custom alias")
	case errors.Is(err, service.ErrAliasTaken):
		h.writeError(w, r, http.StatusBadRequest, "Custom alias already taken")
	case errors.Is(err, service.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "URL not found")
	default:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

// optionalHeader returns nil when the header is absent so "not sent" and
// "sent empty" stay distinguishable.
func optionalHeader(r *http.Request, name string) *string {
	values := r.Header.Values(name)
	if len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error(r.Context(), "failed to write response", "path", r.URL.Path, "status", status, "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	h.writeJSON(w, r, status, errorResponse{Detail: detail})
}

func useCommon(r *chi.Mux, logger *logging.Logger) {
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
}

// SetupRoutes mounts the full API.
func SetupRoutes(r *chi.Mux, handler *Handler, logger *logging.Logger) {
	useCommon(r, logger)
	r.Route("/api", func(r chi.Router) {
		r.Post("/shorten", handler.Shorten)
		r.Get("/stats/{short_id}", handler.Stats)
		r.Get("/health", handler.HealthCheck)
	})
	r.Get("/{short_id}", handler.Resolve)
}

// SetupRedirectRoutes mounts only the browser-facing redirect.
func SetupRedirectRoutes(r *chi.Mux, handler *Handler, logger *logging.Logger) {
	useCommon(r, logger)
	r.Get("/{short_id}", handler.Redirect)
}
