package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"calsync/internal/syncer"
)

// HSTS is set on every response.
const HSTS = "max-age=10886400; includeSubDomains; preload"

//go:embed templates/*.html
var templates embed.FS

// Service is the part of the syncer served over HTTP.
type Service interface {
	Compare(ctx context.Context) []syncer.Comparison
	Sync(ctx context.Context) (int, error)
}

// Server exposes the comparison page, a JSON API and the sync trigger.
type Server struct {
	logger *slog.Logger
	svc    Service
	mux    *http.ServeMux
	index  *template.Template
}

// NewServer constructs a new Server.
func NewServer(logger *slog.Logger, svc Service) (*Server, error) {
	index, err := template.ParseFS(templates, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	s := &Server{
		logger: logger,
		svc:    svc,
		mux:    http.NewServeMux(),
		index:  index,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /sync", s.handleSync)
	s.mux.HandleFunc("GET /api/compare", s.handleCompare)
	s.mux.HandleFunc("POST /api/sync", s.handleAPISync)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler {
	return withHSTS(s.mux)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server.", "listen", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func withHSTS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", HSTS)
		h.ServeHTTP(w, r)
	})
}

type pageData struct {
	Comparisons []syncer.Comparison
	Synced      bool
	SyncCount   int
	SyncError   string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, pageData{Comparisons: s.svc.Compare(r.Context())})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	created, err := s.svc.Sync(r.Context())
	data := pageData{Synced: true, SyncCount: created}
	if err != nil {
		s.logger.Error("Sync request failed", "error", err)
		data.SyncError = err.Error()
	}
	data.Comparisons = s.svc.Compare(r.Context())
	s.render(w, data)
}

func (s *Server) render(w http.ResponseWriter, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, data); err != nil {
		s.logger.Error("Failed to render page", "error", err)
	}
}

type syncResponse struct {
	Created     int                 `json:"created"`
	Error       string              `json:"error,omitempty"`
	Comparisons []syncer.Comparison `json:"comparisons"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Compare(r.Context()))
}

func (s *Server) handleAPISync(w http.ResponseWriter, r *http.Request) {
	created, err := s.svc.Sync(r.Context())
	resp := syncResponse{Created: created}
	if err != nil {
		s.logger.Error("Sync request failed", "error", err)
		resp.Error = err.Error()
	}
	resp.Comparisons = s.svc.Compare(r.Context())
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
