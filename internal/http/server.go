// Package http hosts the editor API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"splitledger/internal/backend"
	"splitledger/internal/editor"
	"splitledger/internal/gateway"
	"splitledger/internal/log"
	"splitledger/internal/middleware/ratelimit"
	"splitledger/internal/middleware/trace"
)

// DeletePublisher emits purchase-deleted events, best effort.
type DeletePublisher interface {
	PublishPurchaseDeleted(ctx context.Context, purchaseID, deletedBy int64) error
}

// Server wires the editor engine behind chi.
type Server struct {
	sessions  *editor.Manager
	gw        *gateway.Gateway
	backend   backend.Backend
	publisher DeletePublisher
	limiter   *ratelimit.Limiter
	trace     *trace.Middleware
	logger    *log.Logger

	httpServer *http.Server
}

// Config holds server construction parameters.
type Config struct {
	Addr            string
	SaveRatePerMin  int
	ShutdownTimeout time.Duration
}

// NewServer builds the server and its router. publisher may be nil.
func NewServer(cfg Config, sessions *editor.Manager, gw *gateway.Gateway, b backend.Backend, publisher DeletePublisher, logger *log.Logger) *Server {
	s := &Server{
		sessions:  sessions,
		gw:        gw,
		backend:   b,
		publisher: publisher,
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.SaveRatePerMin}),
		trace:     trace.NewMiddleware(),
		logger:    logger.WithComponent(log.ComponentHTTP),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.trace.Handler)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.handleSessionCreate)
		r.Route("/sessions/{sid}", func(r chi.Router) {
			r.Get("/", s.handleSessionState)
			r.Patch("/", s.handlePurchasePatch)
			r.Delete("/", s.handleSessionClose)

			r.Post("/items", s.handleItemAdd)
			r.Patch("/items/{id}", s.handleItemUpdate)
			r.Delete("/items/{id}", s.handleItemDelete)
			r.Post("/items/{id}/contributors/{uid}", s.handleContributorToggle)

			r.Put("/defaults", s.handleDefaultsSet)
			r.Post("/defaults/broadcast", s.handleDefaultsBroadcast)

			r.Post("/reorder", s.handleReorder)
			r.Post("/drag", s.handleDrag)

			r.Post("/images", s.handleImageAdd)
			r.Delete("/images/{id}", s.handleImageRemove)
			r.Post("/images/{id}/edit", s.handleImageEditOpen)
			r.Patch("/images/{id}/edit", s.handleImageEditAdjust)
			r.Post("/images/{id}/edit/commit", s.handleImageEditCommit)
			r.Post("/images/{id}/edit/cancel", s.handleImageEditCancel)

			r.Post("/scan", s.handleScan)
			r.With(s.limiter.Handler(trace.ClientIP)).Post("/save", s.handleSave)
		})

		r.Delete("/purchases/{id}", s.handlePurchaseDelete)
		r.Get("/purchases/{id}/logs", s.handlePurchaseLogs)
		r.Get("/purchases/{id}/export.xlsx", s.handlePurchaseExport)

		r.Get("/categories/{level}", s.handleCategories)
		r.Get("/users", s.handleUsers)
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.limiter.Stop()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.backend.ListCategories(r.Context(), 1); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "backend unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
