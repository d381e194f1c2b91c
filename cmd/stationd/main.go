// Log4YM Station Core - Amateur Radio Control Plane
//
// This is the main entry point for the station core daemon. It owns
// every radio and accessory connection at the operating position and
// presents one coherent surface to clients:
//   - Discovery of radios announcing on the LAN, plus hand-configured rigs
//   - Supervised connections with capped-backoff retry per device
//   - A REST/WebSocket API carrying live state to logging software
//   - Digital-mode UDP bridging, CW keying, and telemetry export
//
// Clients never talk to a radio directly; everything flows through the
// event hub so all consumers see the same state at the same time.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/log4ym/station-core/internal/adapter"
	"github.com/log4ym/station-core/internal/api"
	"github.com/log4ym/station-core/internal/discovery"
	"github.com/log4ym/station-core/internal/hub"
	"github.com/log4ym/station-core/internal/infrastructure/config"
	"github.com/log4ym/station-core/internal/infrastructure/influxdb"
	"github.com/log4ym/station-core/internal/infrastructure/logging"
	"github.com/log4ym/station-core/internal/infrastructure/mqtt"
	"github.com/log4ym/station-core/internal/keyer"
	"github.com/log4ym/station-core/internal/radio"
	"github.com/log4ym/station-core/internal/rigctld"
	"github.com/log4ym/station-core/internal/supervisor"
	"github.com/log4ym/station-core/internal/telemetry"
	"github.com/log4ym/station-core/internal/wirelog"
	"github.com/log4ym/station-core/internal/wsjtx"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds the teardown of the radio supervisors.
const shutdownTimeout = 10 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Log4YM station core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)
	log.Info("station identity",
		"id", cfg.Station.ID,
		"callsign", cfg.Station.Callsign,
		"locator", cfg.Station.Locator,
	)

	// The registry and the event hub are the shared spine: discovery
	// and the API write to the registry, everything publishes through
	// the hub.
	registry := radio.NewRegistry(cfg.Discovery.ExpiryMultiplier)
	registry.SetLogger(log)

	events := hub.New(cfg.WebSocket.SendBuffer)
	events.SetLogger(log)
	defer events.Close()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Wire capture (optional)
	var recorder *wirelog.Recorder
	if cfg.Wirelog.Enabled {
		recorder = wirelog.NewRecorder(wirelog.Config{
			Path:       cfg.Wirelog.File.Path,
			MaxSize:    cfg.Wirelog.File.MaxSize,
			MaxBackups: cfg.Wirelog.File.MaxBackups,
			MaxAge:     cfg.Wirelog.File.MaxAge,
			Compress:   cfg.Wirelog.File.Compress,
		})
		defer func() {
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing wire capture", "error", closeErr)
			}
		}()
		log.Info("wire capture enabled", "path", cfg.Wirelog.File.Path)
	}

	// Start rigctld (launches the daemon when managed, no-op otherwise)
	rigDaemon, err := startRigctld(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("starting rigctld: %w", err)
	}
	defer func() {
		if stopErr := rigDaemon.Stop(); stopErr != nil {
			log.Error("error stopping rigctld", "error", stopErr)
		}
	}()

	// Radio supervision
	radios := supervisor.NewManager(ctx,
		buildAdapterFactory(cfg, recorder, log),
		supervisorConfig(cfg.Supervisor),
		events, registry, log,
	)
	defer func() {
		log.Info("stopping radio supervisors")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if closeErr := radios.Close(stopCtx); closeErr != nil {
			log.Error("error stopping radio supervisors", "error", closeErr)
		}
	}()

	seedManualRadios(cfg, registry, events, radios, log)

	// Passive discovery listeners and the expiry sweep
	var disc *discovery.Manager
	if cfg.Discovery.Enabled {
		disc = discovery.NewManager(discoveryConfig(cfg), registry, events, log)
		if startErr := disc.Start(ctx); startErr != nil {
			return fmt.Errorf("starting discovery: %w", startErr)
		}
		defer func() {
			log.Info("stopping discovery")
			if closeErr := disc.Close(); closeErr != nil {
				log.Error("error stopping discovery", "error", closeErr)
			}
		}()
	} else {
		log.Info("discovery disabled")
	}

	// Digital-mode UDP bridge
	var digimode *wsjtx.Bridge
	if cfg.DigiMode.Enabled {
		digimode = wsjtx.NewBridge(wsjtx.Config{
			Listen:        digiListenAddr(cfg.DigiMode),
			RelayTargets:  cfg.DigiMode.Forward,
			MaxFrameBytes: cfg.DigiMode.MaxFrameBytes,
		}, events, log)
		if recorder != nil {
			digimode.SetDropRecorder(recorder)
		}
		if startErr := digimode.Start(ctx); startErr != nil {
			return fmt.Errorf("starting digital-mode bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping digital-mode bridge")
			if closeErr := digimode.Close(); closeErr != nil {
				log.Error("error stopping digital-mode bridge", "error", closeErr)
			}
		}()
	} else {
		log.Info("digital-mode bridge disabled")
	}

	// CW keying
	cw := keyer.New(ctx, radios, log)
	cw.SetLimits(keyer.Limits{
		MinWPM:     cfg.Keyer.MinWPM,
		MaxWPM:     cfg.Keyer.MaxWPM,
		DefaultWPM: cfg.Keyer.DefaultWPM,
	})
	defer cw.Close()

	// Telemetry export (runs when at least one sink is connected)
	var exporter *telemetry.Exporter
	if mqttClient != nil || influxClient != nil {
		opts := telemetry.Options{Hub: events, Sink: radios, Logger: log}
		// Assign conditionally: a nil concrete pointer in an interface
		// field would defeat the exporter's nil checks.
		if mqttClient != nil {
			opts.Broker = mqttClient
		}
		if influxClient != nil {
			opts.Metrics = influxClient
		}
		exporter, err = telemetry.New(opts)
		if err != nil {
			return fmt.Errorf("creating telemetry exporter: %w", err)
		}
		if startErr := exporter.Start(ctx); startErr != nil {
			return fmt.Errorf("starting telemetry exporter: %w", startErr)
		}
		defer func() {
			log.Info("stopping telemetry exporter")
			if closeErr := exporter.Close(); closeErr != nil {
				log.Error("error stopping telemetry exporter", "error", closeErr)
			}
		}()
	}

	// HTTP API and WebSocket event stream
	apiServer, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Hub:       events,
		Registry:  registry,
		Radios:    radios,
		Keyer:     cw,
		Discovery: disc,
		DigiMode:  digimode,
		Exporter:  exporter,
		Wirelog:   recorder,
		MQTT:      mqttClient,
		InfluxDB:  influxClient,
		Rigctld:   rigDaemon,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Advertise the API over mDNS so clients find the station without
	// configuration. Failure is not fatal: a LAN that filters multicast
	// still reaches us by address.
	if cfg.Discovery.Announce.Enabled {
		announcer, announceErr := discovery.Announce(discovery.AnnouncerConfig{
			Instance: cfg.Discovery.Announce.Instance,
			Port:     cfg.API.Port,
			Version:  version,
		}, log)
		if announceErr != nil {
			log.Warn("mDNS announcement failed", "error", announceErr)
		} else {
			defer announcer.Close()
		}
	}

	// Verify the external connections are healthy
	if err := healthCheck(ctx, mqttClient, influxClient, rigDaemon); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API first so clients
	// drop, then the bridges and supervisors, then the sinks, and the
	// hub last.

	log.Info("Log4YM station core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LOG4YM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LOG4YM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// supervisorConfig converts the config section's plain seconds into the
// supervisor's durations.
func supervisorConfig(sc config.SupervisorConfig) supervisor.Config {
	return supervisor.Config{
		ConnectTimeout:  time.Duration(sc.ConnectTimeout) * time.Second,
		TeardownTimeout: time.Duration(sc.TeardownTimeout) * time.Second,
		MaxAttempts:     sc.MaxAttempts,
		Backoff: supervisor.BackoffConfig{
			InitialDelay: time.Duration(sc.Backoff.InitialDelay) * time.Second,
			MaxDelay:     time.Duration(sc.Backoff.MaxDelay) * time.Second,
			Multiplier:   sc.Backoff.Multiplier,
			Jitter:       sc.Backoff.Jitter,
		},
	}
}

// buildAdapterFactory returns the supervisor's adapter constructor.
// Per-device credentials and poll cadence come from the matching manual
// radio entry when one exists; discovered radios run on defaults. The
// wire tap is attached when capture is enabled.
func buildAdapterFactory(cfg *config.Config, recorder *wirelog.Recorder, log *logging.Logger) supervisor.BuildAdapter {
	manual := make(map[string]config.ManualRadio, len(cfg.Radios))
	for _, rc := range cfg.Radios {
		if desc, err := manualDescriptor(rc); err == nil {
			manual[desc.ID] = rc
		}
	}

	return func(desc radio.Descriptor) (adapter.Adapter, error) {
		var tap adapter.Tap
		if recorder != nil {
			tap = recorder.TapFor(desc.ID)
		}
		rc := manual[desc.ID]

		switch desc.Family {
		case radio.FamilySocketRig:
			a := adapter.NewSocketRig(adapter.SocketRigConfig{
				Address:   desc.Address,
				AuthToken: rc.AuthToken,
			})
			a.SetLogger(log)
			if tap != nil {
				a.SetTap(tap)
			}
			return a, nil

		case radio.FamilyPolledRig:
			lib := adapter.NewRigctlLibrary(adapter.RigctlConfig{
				Address: desc.Address,
			})
			if tap != nil {
				lib.SetTap(tap)
			}
			a := adapter.NewPolledRig(adapter.PolledRigConfig{
				PollInterval: time.Duration(rc.PollMillis) * time.Millisecond,
			}, lib)
			a.SetLogger(log)
			return a, nil

		case radio.FamilyLineAcc:
			a := adapter.NewLineAccessory(adapter.LineAccessoryConfig{
				Address: desc.Address,
			})
			a.SetLogger(log)
			if tap != nil {
				a.SetTap(tap)
			}
			return a, nil

		default:
			return nil, fmt.Errorf("no adapter for family %q", desc.Family)
		}
	}
}

// manualDescriptor converts a configured radio entry to a descriptor.
// The ID defaults to the canonical serial- or address-derived form.
func manualDescriptor(rc config.ManualRadio) (radio.Descriptor, error) {
	family, err := radio.ParseFamily(rc.Family)
	if err != nil {
		return radio.Descriptor{}, fmt.Errorf("radio %q: %w", rc.ID, err)
	}
	if rc.Address == "" {
		return radio.Descriptor{}, fmt.Errorf("radio %q: address is required", rc.ID)
	}

	id := rc.ID
	if id == "" {
		id = radio.DeviceID(family, rc.Serial, rc.Address)
	}
	return radio.Descriptor{
		ID:      id,
		Family:  family,
		Model:   rc.Model,
		Serial:  rc.Serial,
		Address: rc.Address,
		Origin:  radio.OriginManual,
	}, nil
}

// seedManualRadios registers the configured radios and connects the
// ones marked auto_connect. Bad entries are logged and skipped so one
// typo cannot keep the rest of the station down.
func seedManualRadios(cfg *config.Config, registry *radio.Registry, events *hub.Hub, radios *supervisor.Manager, log *logging.Logger) {
	for _, rc := range cfg.Radios {
		desc, err := manualDescriptor(rc)
		if err != nil {
			log.Warn("skipping configured radio", "error", err)
			continue
		}

		if err := registry.AddManual(desc); err != nil {
			log.Warn("configured radio not registered", "id", desc.ID, "error", err)
			continue
		}
		events.PublishDeviceDiscovered(desc)
		log.Info("radio configured",
			"id", desc.ID,
			"family", string(desc.Family),
			"address", desc.Address,
		)

		if rc.AutoConnect {
			if err := radios.Connect(desc.ID); err != nil {
				log.Warn("auto-connect failed", "id", desc.ID, "error", err)
			}
		}
	}
}

// discoveryConfig maps the config listener list onto the manager's
// per-protocol bind addresses.
func discoveryConfig(cfg *config.Config) discovery.Config {
	dc := discovery.Config{
		SweepInterval: time.Duration(cfg.Discovery.SweepInterval) * time.Second,
	}
	for _, l := range cfg.Discovery.Listeners {
		switch l.Protocol {
		case "socketrig":
			dc.SocketRigListen = l.Bind
		case "lineacc":
			dc.LineAccListen = l.Bind
		}
	}
	return dc
}

// digiListenAddr returns the digital-mode listen address. A configured
// multicast group replaces the bind host but keeps the bind port.
func digiListenAddr(dm config.DigiModeConfig) string {
	if dm.MulticastGroup == "" {
		return dm.Bind
	}
	_, port, err := net.SplitHostPort(dm.Bind)
	if err != nil {
		return dm.Bind
	}
	return net.JoinHostPort(dm.MulticastGroup, port)
}

// startRigctld initialises the rigctld manager and, when managed,
// launches the daemon and waits for it to accept connections.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - *rigctld.Manager: Manager for the running (or external) daemon
//   - error: If a managed daemon fails to start
func startRigctld(ctx context.Context, cfg *config.Config, log *logging.Logger) (*rigctld.Manager, error) {
	manager, err := rigctld.NewManager(cfg.Rigctld)
	if err != nil {
		return nil, fmt.Errorf("creating rigctld manager: %w", err)
	}
	manager.SetLogger(log)

	if err := manager.Start(ctx); err != nil {
		return nil, err
	}
	return manager, nil
}

// healthCheck verifies the external connections are alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - rigDaemon: rigctld manager to probe (skipped when unmanaged)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client, rigDaemon *rigctld.Manager) error {
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// An unmanaged daemon may legitimately be absent (no polled rigs
	// configured); only a daemon we launched ourselves must answer.
	if rigDaemon.IsManaged() {
		if err := rigDaemon.HealthCheck(ctx); err != nil {
			return fmt.Errorf("rigctld: %w", err)
		}
	}

	return nil
}
