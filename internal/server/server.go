// Package server exposes the scanner over HTTP with a websocket event stream.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/homework-scanner/internal/async"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/export"
	"github.com/joseph-ayodele/homework-scanner/internal/ingest"
	"github.com/joseph-ayodele/homework-scanner/internal/llm/provider"
	"github.com/joseph-ayodele/homework-scanner/internal/repository"
	"github.com/joseph-ayodele/homework-scanner/internal/scan"
	"github.com/joseph-ayodele/homework-scanner/internal/sources"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

// PreviewResolver maps a preview URL to a file on disk.
type PreviewResolver interface {
	Path(url string) (string, bool)
}

// Deps are the collaborators the HTTP surface drives. History, Previews and
// Runs are optional.
type Deps struct {
	Store    store.Store
	Sources  *sources.Registry
	Scanner  *scan.Scanner
	Ingestor ingest.Ingestor
	Runs     async.Queue
	Export   *export.Service
	History  repository.SolutionRepository
	Clients  provider.Factory
	Previews PreviewResolver
	Hub      *Hub
}

type Server struct {
	Deps
	cfg    common.ServerConfig
	logger *slog.Logger
	router *mux.Router
}

func New(deps Deps, cfg common.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 32
	}
	s := &Server{Deps: deps, cfg: cfg, logger: logger, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(s.requestID, s.logRequests, s.cors)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/items", s.handleAddItems).Methods(http.MethodPost)
	api.HandleFunc("/items", s.handleListItems).Methods(http.MethodGet)
	api.HandleFunc("/items", s.handleClearItems).Methods(http.MethodDelete)
	api.HandleFunc("/items/{id}", s.handleRemoveItem).Methods(http.MethodDelete)

	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)

	api.HandleFunc("/solutions", s.handleListSolutions).Methods(http.MethodGet)
	api.HandleFunc("/solutions/improve", s.handleImprove).Methods(http.MethodPost)
	api.HandleFunc("/export.xlsx", s.handleExport).Methods(http.MethodGet)

	api.HandleFunc("/sources", s.handleListSources).Methods(http.MethodGet)
	api.HandleFunc("/sources", s.handleAddSource).Methods(http.MethodPost)
	api.HandleFunc("/sources/{id}", s.handleUpdateSource).Methods(http.MethodPut)
	api.HandleFunc("/sources/{id}", s.handleRemoveSource).Methods(http.MethodDelete)
	api.HandleFunc("/sources/{id}/activate", s.handleActivateSource).Methods(http.MethodPost)
	api.HandleFunc("/models/{source}", s.handleListModels).Methods(http.MethodGet)

	if s.Previews != nil {
		r.PathPrefix(store.URLPrefix).HandlerFunc(s.handlePreview).Methods(http.MethodGet)
	}
	if s.Hub != nil {
		r.HandleFunc("/ws", s.Hub.ServeWS)
	}
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(common.WithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		common.LoggerFromContext(r.Context(), s.logger).Debug("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.Header().Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"items":   len(s.Store.Items()),
		"working": s.Store.Working(),
	}
	if s.Hub != nil {
		body["ws_clients"] = s.Hub.Clients()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, ok := s.Previews.Path(r.URL.Path)
	if !ok || strings.Contains(r.URL.Path, "..") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, p)
}

// ListenAndServe runs the HTTP server until ctx is done, then shuts it down gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http.listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("http.shutting_down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
