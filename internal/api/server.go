package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/fleetlink-core/internal/agent"
	"github.com/nerrad567/fleetlink-core/internal/audit"
	"github.com/nerrad567/fleetlink-core/internal/broadcast"
	"github.com/nerrad567/fleetlink-core/internal/dashboard"
	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/logging"
)

const (
	// gracefulShutdownTimeout bounds both the HTTP drain and the wait for
	// channel read loops to finish their close handling.
	gracefulShutdownTimeout = 10 * time.Second

	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Store    device.Store
	Agents   *agent.Dispatcher
	Hub      *dashboard.Hub
	Verifier dashboard.Verifier
	Relay    dashboard.Shutdowner
	Bridge   *broadcast.Bridge // optional: enables POST /debug/broadcast
	Audit    audit.Repository  // optional: enables GET /audit
	Version  string
}

// Server is the HTTP API and WebSocket server.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	store    device.Store
	agents   *agent.Dispatcher
	hub      *dashboard.Hub
	verifier dashboard.Verifier
	relay    dashboard.Shutdowner
	bridge   *broadcast.Bridge
	audit    audit.Repository
	version  string

	upgrader websocket.Upgrader
	server   *http.Server

	// ctx is handed to channel handlers; Start replaces it and Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	connMu sync.Mutex
	conns  map[*wsConn]struct{}
	connWG sync.WaitGroup
}

// New creates an API server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("device store is required")
	case deps.Agents == nil:
		return nil, fmt.Errorf("agent dispatcher is required")
	case deps.Hub == nil:
		return nil, fmt.Errorf("dashboard hub is required")
	case deps.Verifier == nil:
		return nil, fmt.Errorf("session verifier is required")
	case deps.Relay == nil:
		return nil, fmt.Errorf("command relay is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		store:    deps.Store,
		agents:   deps.Agents,
		hub:      deps.Hub,
		verifier: deps.Verifier,
		relay:    deps.Relay,
		bridge:   deps.Bridge,
		audit:    deps.Audit,
		version:  deps.Version,
		ctx:      context.Background(),
		conns:    make(map[*wsConn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
	return s, nil
}

// Handler returns the router. Start serves the same handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close stops accepting requests, closes every WebSocket channel and waits
// for their close handling (registry sweeps, disconnect broadcasts) to run.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	var err error
	if s.server != nil {
		s.logger.Info("API server shutting down")
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutting down API server: %w", shutdownErr)
		}
	}

	s.closeConns()

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("timed out waiting for websocket channels to close")
	}

	if s.cancel != nil {
		s.cancel()
	}
	return err
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
