package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"barkeep/internal/overview"
	"barkeep/internal/store"
)

// Server exposes the overview and stage classifications as a read-only
// JSON API for dashboards and scripts.
type Server struct {
	store   *store.Store
	builder *overview.Builder
	log     *logrus.Logger
	srv     *http.Server
}

// NewServer creates a new API server.
func NewServer(st *store.Store, builder *overview.Builder, logger *logrus.Logger) *Server {
	return &Server{
		store:   st,
		builder: builder,
		log:     logger,
	}
}

// Handler builds the routed handler. Exposed so tests can drive requests
// without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/overview", s.handleOverview)
	mux.HandleFunc("/api/stages/", s.handleStages)
	mux.HandleFunc("/api/health", s.handleHealth)

	return corsMiddleware(mux)
}

// Start starts the API server on the specified port and blocks until the
// listener closes.
func (s *Server) Start(port int) error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.WithField("addr", s.srv.Addr).Info("api server listening")

	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers for local development
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
