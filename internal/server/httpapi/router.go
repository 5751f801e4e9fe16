// Package httpapi exposes the file service over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/logging"
	"github.com/dmitrijs2005/zkdrop/internal/server/metrics"
	"github.com/dmitrijs2005/zkdrop/internal/server/services"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// FileService is the part of services.FileService the handlers use.
type FileService interface {
	Upload(ctx context.Context, req services.UploadRequest, blob []byte) (*services.UploadResult, error)
	Download(ctx context.Context, shortURL, accessPassword string) (*services.DownloadResult, error)
	Describe(ctx context.Context, shortURL string) (*services.FileInfo, error)
	Delete(ctx context.Context, shortURL, owner string) error
	Ping(ctx context.Context) error
	MaxUploadSize() int64
}

type Options struct {
	JWTSecret      []byte
	AllowedOrigins []string
	TrustProxy     bool
}

type Handler struct {
	svc    FileService
	logger logging.Logger
	opts   Options
}

// NewRouter builds the HTTP API with CORS handling.
func NewRouter(svc FileService, logger logging.Logger, opts Options) http.Handler {
	h := &Handler{
		svc:    svc,
		logger: logger.With("module", "http_api"),
		opts:   opts,
	}

	r := mux.NewRouter()
	r.Use(h.instrument)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/files").Subrouter()
	api.HandleFunc("", h.upload).Methods(http.MethodPost)
	api.HandleFunc("/{shortUrl:[A-Za-z0-9_-]+}", h.describe).Methods(http.MethodGet)
	api.HandleFunc("/{shortUrl:[A-Za-z0-9_-]+}/download", h.download).Methods(http.MethodPost)
	api.HandleFunc("/{shortUrl:[A-Za-z0-9_-]+}", h.delete).Methods(http.MethodDelete)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{common.MetadataHeaderName, "Retry-After"},
	})

	return c.Handler(r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency per route template.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		elapsed := time.Since(start)
		metrics.RecordAPIRequest(r.Method, endpoint, strconv.Itoa(rec.status), elapsed.Seconds())
		h.logger.Debug(r.Context(), "request served", "method", r.Method, "endpoint", endpoint, "status", rec.status, "duration", elapsed)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		h.logger.Error(r.Context(), "health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
