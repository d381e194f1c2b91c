package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/log4ym/station-core/internal/discovery"
	"github.com/log4ym/station-core/internal/hub"
	"github.com/log4ym/station-core/internal/infrastructure/config"
	"github.com/log4ym/station-core/internal/infrastructure/influxdb"
	"github.com/log4ym/station-core/internal/infrastructure/logging"
	"github.com/log4ym/station-core/internal/infrastructure/mqtt"
	"github.com/log4ym/station-core/internal/keyer"
	"github.com/log4ym/station-core/internal/radio"
	"github.com/log4ym/station-core/internal/rigctld"
	"github.com/log4ym/station-core/internal/telemetry"
	"github.com/log4ym/station-core/internal/wirelog"
	"github.com/log4ym/station-core/internal/wsjtx"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// RadioController is the slice of the supervisor manager the API
// drives: connection lifecycle and rig commands. Satisfied by
// *supervisor.Manager; narrowed to an interface so handlers can be
// exercised without live adapters.
type RadioController interface {
	Connect(deviceID string) error
	Disconnect(deviceID string) error
	Remove(ctx context.Context, deviceID string) error
	SetFrequency(ctx context.Context, deviceID string, hz int64) error
	SetMode(ctx context.Context, deviceID string, mode string) error
	SetPTT(ctx context.Context, deviceID string, on bool) error
	DeviceIDs() []string
}

// KeyerController is the slice of the CW coordinator the API drives.
// Satisfied by *keyer.Coordinator.
type KeyerController interface {
	Send(ctx context.Context, radioID, text string, wpm int) error
	Stop(ctx context.Context, radioID string) error
	SetSpeed(ctx context.Context, radioID string, wpm int) error
	Active(radioID string) bool
	GetStats() keyer.Stats
}

// Deps holds the dependencies required by the API server.
//
// Hub, Registry, Radios, Keyer, and Logger are required. The remaining
// fields are optional stats/health sources surfaced on /metrics.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Hub      *hub.Hub
	Registry *radio.Registry
	Radios   RadioController
	Keyer    KeyerController

	Discovery *discovery.Manager
	DigiMode  *wsjtx.Bridge
	Exporter  *telemetry.Exporter
	Wirelog   *wirelog.Recorder
	MQTT      *mqtt.Client
	InfluxDB  *influxdb.Client
	Rigctld   *rigctld.Manager

	Version string
}

// Server is the HTTP API server for the station core.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket
// event stream. The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	hub       *hub.Hub
	registry  *radio.Registry
	radios    RadioController
	keyer     KeyerController
	disc      *discovery.Manager
	digimode  *wsjtx.Bridge
	exporter  *telemetry.Exporter
	wirelog   *wirelog.Recorder
	mqtt      *mqtt.Client
	influx    *influxdb.Client
	rigctld   *rigctld.Manager
	version   string
	startTime time.Time

	server    *http.Server
	cancel    context.CancelFunc // cancels WebSocket client contexts on Close()
	srvCtx    context.Context
	wsClients atomic.Int64
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, hub, registry, controllers)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("event hub is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Radios == nil {
		return nil, fmt.Errorf("radio controller is required")
	}
	if deps.Keyer == nil {
		return nil, fmt.Errorf("keyer controller is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		hub:       deps.Hub,
		registry:  deps.Registry,
		radios:    deps.Radios,
		keyer:     deps.Keyer,
		disc:      deps.Discovery,
		digimode:  deps.DigiMode,
		exporter:  deps.Exporter,
		wirelog:   deps.Wirelog,
		mqtt:      deps.MQTT,
		influx:    deps.InfluxDB,
		rigctld:   deps.Rigctld,
		version:   deps.Version,
		startTime: time.Now(),

		// Replaced by Start; a usable default keeps handlers safe when
		// the router is exercised directly in tests.
		srvCtx: context.Background(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context bounding WebSocket client streams
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can end WebSocket streams
	// independently of the parent context.
	s.srvCtx, s.cancel = context.WithCancel(ctx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// End WebSocket event streams so Shutdown is not held open by them.
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
