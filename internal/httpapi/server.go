package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kingrea/orchestra/internal/bootstrap"
	"github.com/kingrea/orchestra/internal/engine"
	"github.com/kingrea/orchestra/internal/logging"
	"github.com/kingrea/orchestra/internal/metrics"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// Services is what the API needs from the bootstrapper.
type Services interface {
	State() bootstrap.State
	RepositoryQueryService(ctx context.Context) (engine.RepositoryQueryService, error)
	ProcessCommandService(ctx context.Context) (engine.ProcessCommandService, error)
	ProcessQueryService(ctx context.Context) (engine.ProcessQueryService, error)
	ExecutionCommandService(ctx context.Context) (engine.ExecutionCommandService, error)
	ExecutionQueryService(ctx context.Context) (engine.ExecutionQueryService, error)
}

// Server exposes the engine services over HTTP.
type Server struct {
	settings Settings
	services Services
	logger   logrus.FieldLogger
	metrics  *metrics.Set
	clock    func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default discard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics serves the metric set on /metrics.
func WithMetrics(m *metrics.Set) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a server using the provided settings.
func NewServer(settings Settings, services Services, opts ...Option) (*Server, error) {
	if services == nil {
		return nil, fmt.Errorf("httpapi: services are required")
	}
	settings.normalize()
	s := &Server{
		settings: settings,
		services: services,
		logger:   logging.Discard(),
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Router builds the route table. It is exported so tests can drive it
// through httptest without binding a port.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/definitions", s.handleListDefinitions).Methods(http.MethodGet)
	r.HandleFunc("/definitions/{id}", s.handleGetDefinition).Methods(http.MethodGet)
	r.HandleFunc("/processes/{definition}/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/instances", s.handleListInstances).Methods(http.MethodGet)
	r.HandleFunc("/instances/{id}", s.handleGetInstance).Methods(http.MethodGet)
	r.HandleFunc("/instances/{id}", s.handleAbort).Methods(http.MethodDelete)
	r.HandleFunc("/instances/{id}/executions", s.handleListExecutions).Methods(http.MethodGet)
	r.HandleFunc("/executions/{id}/signal", s.handleSignal).Methods(http.MethodPost)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	return r
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("httpapi: server already started")
	}
	listener, err := net.Listen("tcp", s.settings.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", s.settings.Addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("httpapi: serve")
		}
	}()
	s.logger.WithField("addr", listener.Addr().String()).Info("httpapi: listening")
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		addr = s.settings.Addr
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}
