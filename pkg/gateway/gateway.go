// Package gateway serves the bridge's operational endpoints: liveness,
// readiness derived from session lifecycle events, and Prometheus metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presagebridge/pkg/bus"
	"presagebridge/pkg/jsoncodec"
)

const shutdownTimeout = 5 * time.Second

type Service struct {
	addr     string
	registry *prometheus.Registry
	log      *slog.Logger

	mu        sync.RWMutex
	startedAt time.Time
	sessions  map[string]*sessionState
}

type sessionState struct {
	Running     string `json:"running,omitempty"`
	LastCommand string `json:"last_command,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	Dropped     int    `json:"dropped_units,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Sessions      map[string]sessionState `json:"sessions"`
}

func NewService(addr string, registry *prometheus.Registry, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		addr:     addr,
		registry: registry,
		log:      log.With("component", "gateway"),
		sessions: make(map[string]*sessionState),
	}
}

// Run tracks events and serves until ctx ends.
func (s *Service) Run(ctx context.Context, events *bus.Events) error {
	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	lifecycle, unsubscribe := events.Subscribe(ctx, 256)
	defer unsubscribe()
	go func() {
		for event := range lifecycle {
			s.track(event)
		}
	}()

	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Status server started", "address", s.addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start status server: %w", err)
	}
	return nil
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}
	return mux
}

func (s *Service) track(event bus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Type == bus.EventSessionClosed {
		delete(s.sessions, event.Session)
		return
	}

	state, ok := s.sessions[event.Session]
	if !ok {
		state = &sessionState{}
		s.sessions[event.Session] = state
	}

	switch event.Type {
	case bus.EventCommandStarted:
		state.Running = event.Command
	case bus.EventCommandFinished:
		state.Running = ""
		state.LastCommand = event.Command
		state.LastError = event.Error
	case bus.EventUnitDropped:
		state.Dropped++
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := jsoncodec.Encode(w, payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	sessions := make(map[string]sessionState, len(s.sessions))
	for name, state := range s.sessions {
		sessions[name] = *state
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Sessions:      sessions,
	}
}

// isReady reports whether any session is open and its last command, if
// any, succeeded.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.sessions {
		if state.LastError == "" {
			return true
		}
	}
	return false
}
