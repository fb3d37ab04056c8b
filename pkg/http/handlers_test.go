package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shortlink/pkg/logging"
	"shortlink/pkg/qr"
	"shortlink/pkg/service"
	"shortlink/pkg/storage"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	api      *chi.Mux
	redirect *chi.Mux
}

func newTestServer(t *testing.T, name, baseURL string) *testServer {
	t.Helper()
	store, err := storage.NewSQLStore(context.Background(), fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := logging.Discard()
	linkService := service.NewLinkService(store, logger, service.Options{})
	handler := NewHandler(linkService, qr.NewEncoder(128), baseURL, logger)

	api := chi.NewRouter()
	SetupRoutes(api, handler, logger)
	redirect := chi.NewRouter()
	SetupRedirectRoutes(redirect, handler, logger)
	return &testServer{api: api, redirect: redirect}
}

func do(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestShortenHandler(t *testing.T) {
	srv := newTestServer(t, "shorten", "")

	rec := do(t, srv.api, http.MethodPost, "/api/shorten", `{"target_url":"https://example.com/long/path"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp shortenResponse
	decode(t, rec, &resp)
	assert.Equal(t, "https://example.com/long/path", resp.TargetURL)
	assert.Len(t, resp.ShortID, service.ShortIDLength)
	assert.True(t, strings.HasPrefix(resp.QRCode, "data:image/png;base64,"))
	assert.False(t, resp.CreatedAt.IsZero())
}

func TestShortenHandlerErrors(t *testing.T) {
	srv := newTestServer(t, "shorten_errors", "https://sho.rt")

	rec := do(t, srv.api, http.MethodPost, "/api/shorten", `{"target_url":"https://example.com","custom_alias":"mine"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name   string
		body   string
		status int
		detail string
	}{
		{"invalid url", `{"target_url":"not a url"}`, http.StatusBadRequest, "Invalid URL"},
		{"javascript url", `{"target_url":"javascript:alert(1)"}`, http.StatusBadRequest, "Invalid URL"},
		{"alias taken", `{"target_url":"https://other.example","custom_alias":"mine"}`, http.StatusBadRequest, "Custom alias already taken"},
		{"reserved alias", `{"target_url":"https://other.example","custom_alias":"api"}`, http.StatusBadRequest, "Invalid custom alias"},
		{"malformed json", `{"target_url":`, http.StatusUnprocessableEntity, "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv.api, http.MethodPost, "/api/shorten", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)
			var resp errorResponse
			decode(t, rec, &resp)
			assert.Equal(t, tt.detail, resp.Detail)
		})
	}
}

func TestResolveAndStats(t *testing.T) {
	srv := newTestServer(t, "resolve", "")

	rec := do(t, srv.api, http.MethodPost, "/api/shorten", `{"target_url":"https://example.com","custom_alias":"docs"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var created shortenResponse
	decode(t, rec, &created)

	rec = do(t, srv.api, http.MethodGet, "/api/stats/docs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"recent_clicks":[]`)
	assert.Contains(t, rec.Body.String(), `"clicks":0`)

	rec = do(t, srv.api, http.MethodGet, "/docs", "", map[string]string{"Referer": "https://news.example", "User-Agent": "test-agent"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved resolveResponse
	decode(t, rec, &resolved)
	assert.Equal(t, "https://example.com", resolved.URL)

	rec = do(t, srv.api, http.MethodGet, "/docs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv.api, http.MethodGet, "/api/stats/docs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats service.Stats
	decode(t, rec, &stats)
	assert.Equal(t, "https://example.com", stats.URL)
	assert.Equal(t, "docs", stats.ShortID)
	assert.True(t, created.CreatedAt.Equal(stats.CreatedAt))
	assert.Equal(t, int64(2), stats.Clicks)
	require.Len(t, stats.RecentClicks, 2)
	require.NotNil(t, stats.RecentClicks[0].Referrer)
	assert.Equal(t, "https://news.example", *stats.RecentClicks[0].Referrer)
	assert.Equal(t, "test-agent", *stats.RecentClicks[0].UserAgent)
	assert.Nil(t, stats.RecentClicks[1].Referrer)
	assert.Nil(t, stats.RecentClicks[1].UserAgent)
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t, "notfound", "")

	for _, path := range []string{"/missing", "/api/stats/missing"} {
		rec := do(t, srv.api, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		var resp errorResponse
		decode(t, rec, &resp)
		assert.Equal(t, "URL not found", resp.Detail)
	}

	rec := do(t, srv.redirect, http.MethodGet, "/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedirectRoutes(t *testing.T) {
	srv := newTestServer(t, "redirect", "")

	rec := do(t, srv.api, http.MethodPost, "/api/shorten", `{"target_url":"https://example.com/landing","custom_alias":"go"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv.redirect, http.MethodGet, "/go", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/landing", rec.Header().Get("Location"))

	// the redirect server does not expose the API
	rec = do(t, srv.redirect, http.MethodPost, "/api/shorten", `{"target_url":"https://example.com"}`, nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	rec = do(t, srv.api, http.MethodGet, "/api/stats/go", "", nil)
	var stats service.Stats
	decode(t, rec, &stats)
	assert.Equal(t, int64(1), stats.Clicks)
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, "health", "")

	before := time.Now().UTC().Add(-time.Second)
	rec := do(t, srv.api, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.Timestamp.After(before))
}

func TestCORSPreflightOnRouter(t *testing.T) {
	srv := newTestServer(t, "cors", "")

	rec := do(t, srv.api, http.MethodOptions, "/api/shorten", "", map[string]string{
		"Origin":                        "https://app.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestShortURL(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest(http.MethodPost, "/api/shorten", nil)
	req.Host = "localhost:8000"
	assert.Equal(t, "http://localhost:8000/abc123", h.shortURL(req, "abc123"))

	h.baseURL = "https://sho.rt"
	assert.Equal(t, "https://sho.rt/abc123", h.shortURL(req, "abc123"))
}

func TestOptionalHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, optionalHeader(req, "Referer"))

	req.Header.Set("Referer", "")
	got := optionalHeader(req, "Referer")
	require.NotNil(t, got)
	assert.Equal(t, "", *got)
}

func TestAliasWithSpaceAndUnicodeResolves(t *testing.T) {
	srv := newTestServer(t, "verbatim_alias", "")

	for alias, path := range map[string]string{"my alias": "/my%20alias", "café": "/caf%C3%A9"} {
		body, err := json.Marshal(map[string]string{"target_url": "https://example.com", "custom_alias": alias})
		require.NoError(t, err)

		rec := do(t, srv.api, http.MethodPost, "/api/shorten", string(body), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var created shortenResponse
		decode(t, rec, &created)
		assert.Equal(t, alias, created.ShortID)

		rec = do(t, srv.api, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, alias)
		var resolved resolveResponse
		decode(t, rec, &resolved)
		assert.Equal(t, "https://example.com", resolved.URL)
	}
}

func TestWriteJSONLogsEncodeFailure(t *testing.T) {
	var buf bytes.Buffer
	h := &Handler{logger: logging.NewLoggerWithWriter(&buf, logging.LevelInfo)}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.writeJSON(rec, req, http.StatusOK, map[string]any{"bad": make(chan int)})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "failed to write response", entry["msg"])
	assert.Equal(t, "/api/health", entry["path"])
}
