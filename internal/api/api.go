// Package api provides HTTP handlers and the main API server for the
// sentinel crisis engine.
//
// It exposes RESTful endpoints for message analysis, alert lifecycle
// operations, emergency contact management and engine configuration.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mindmesh/sentinel/internal/alert"
	"github.com/mindmesh/sentinel/internal/detection"
	"github.com/mindmesh/sentinel/internal/models"
	"github.com/mindmesh/sentinel/internal/notify"
	"github.com/mindmesh/sentinel/internal/store"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the engine components behind the HTTP API.
type Server struct {
	detector   *detection.Detector
	pool       *detection.Pool
	manager    *alert.Manager
	dispatcher *notify.Dispatcher
	bus        *alert.EventBus
	store      store.Store

	addr string
	srv  *http.Server
}

// NewServer creates the API server over the engine components.
func NewServer(detector *detection.Detector, pool *detection.Pool, manager *alert.Manager, dispatcher *notify.Dispatcher, bus *alert.EventBus, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		detector:   detector,
		pool:       pool,
		manager:    manager,
		dispatcher: dispatcher,
		bus:        bus,
		store:      st,
		addr:       cfg.Addr,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", s.analyzeHandler)
	mux.HandleFunc("/alerts", s.alertsHandler)
	mux.HandleFunc("/alerts/", s.alertHandler)
	mux.HandleFunc("/contacts", s.contactsHandler)
	mux.HandleFunc("/contacts/", s.contactHandler)
	mux.HandleFunc("/config", s.configHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown failed: %w", err)
		}
		slog.Info("Server stopped")
		return nil
	}
}

// handleDetection opens an alert for detections whose risk warrants
// escalation and publishes the crisis-detected event.
func (s *Server) handleDetection(ctx context.Context, result *models.CrisisDetectionResult) {
	if result == nil {
		return
	}
	s.bus.Publish(ctx, models.Event{
		Type:       models.EventCrisisDetected,
		UserID:     result.UserID,
		Detection:  result,
		OccurredAt: result.DetectedAt,
	})
	if !result.RiskLevel.AtLeast(models.RiskLevelHigh) {
		return
	}
	if _, err := s.manager.CreateFromDetection(ctx, *result); err != nil {
		slog.Error("Server.handleDetection: failed to create alert from detection", "error", err, "detectionID", result.ID)
	}
}
