// Package api exposes the harvester over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pinscout/internal/models"
)

type Fetcher interface {
	FetchResults(ctx context.Context, params models.QueryParams) (models.SearchResult, error)
}

type envelope struct {
	OK    bool                 `json:"ok"`
	Data  *models.SearchResult `json:"data,omitempty"`
	Error string               `json:"error,omitempty"`
}

type handler struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewRouter wires /health and /api/search. When apiKey is non-empty every
// /api route requires a matching X-API-Key header.
func NewRouter(f Fetcher, logger *slog.Logger, apiKey string) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{fetcher: f, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logRequest(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Route("/api", func(r chi.Router) {
		if apiKey != "" {
			r.Use(requireAPIKey(apiKey))
		}
		r.Get("/search", h.search)
	})
	return r
}

// GET /api/search?q=<keyword>&scrolls=<1-10>&login=<0|1>
func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	params, err := models.NewQueryParams(qs.Get("q"), parseScrolls(qs.Get("scrolls")), parseBool(qs.Get("login")))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing q"})
		return
	}

	// A scrape may be shared with other waiters, so a client hanging up must
	// not cancel it. Browser operation timeouts still bound it.
	res, err := h.fetcher.FetchResults(context.WithoutCancel(r.Context()), params)
	if err != nil {
		if errors.Is(err, models.ErrEmptyQuery) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing q"})
			return
		}
		h.logger.Error("api: search failed", "query", params.Query, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: &res})
}

func parseScrolls(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return models.DefaultScrolls
	}
	return models.ClampScrolls(n)
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func logRequest(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			l.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
