package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the station core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Station    StationConfig      `yaml:"station"`
	API        APIConfig          `yaml:"api"`
	WebSocket  WebSocketConfig    `yaml:"websocket"`
	MQTT       MQTTConfig         `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig     `yaml:"influxdb"`
	Logging    LoggingConfig      `yaml:"logging"`
	Discovery  DiscoveryConfig    `yaml:"discovery"`
	Radios     []ManualRadio      `yaml:"radios"`
	Supervisor SupervisorConfig   `yaml:"supervisor"`
	DigiMode   DigiModeConfig     `yaml:"digimode"`
	Keyer      KeyerConfig        `yaml:"keyer"`
	Wirelog    WirelogConfig      `yaml:"wirelog"`
	Rigctld    RigctldConfig      `yaml:"rigctld"`
}

// StationConfig identifies the operating station.
type StationConfig struct {
	ID       string `yaml:"id"`
	Callsign string `yaml:"callsign"`
	Locator  string `yaml:"locator"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	// AuthToken, when non-empty, is required as a bearer token on all
	// mutating endpoints. Read endpoints and /health stay open.
	AuthToken string `yaml:"auth_token"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket subscriber settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
	SendBuffer     int `yaml:"send_buffer"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileRotationConfig `yaml:"file"`
}

// FileRotationConfig contains rotating-file settings shared by the main
// log and the wire-capture log. Sizes are megabytes, ages are days.
type FileRotationConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// DiscoveryConfig contains passive discovery listener settings.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Listeners binds one passive UDP listener per supported announcement
	// protocol. Protocol is "socketrig" or "lineacc".
	Listeners        []DiscoveryListener `yaml:"listeners"`
	SweepInterval    int                 `yaml:"sweep_interval"`
	ExpiryMultiplier float64             `yaml:"expiry_multiplier"`
	Announce         AnnounceConfig      `yaml:"announce"`
}

// DiscoveryListener binds one discovery protocol to a UDP address.
type DiscoveryListener struct {
	Protocol string `yaml:"protocol"`
	Bind     string `yaml:"bind"`
}

// AnnounceConfig controls mDNS advertisement of the station API.
type AnnounceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// ManualRadio describes a radio configured by hand rather than discovered.
// Manual radios are exempt from discovery-silence expiry.
type ManualRadio struct {
	ID          string `yaml:"id"`
	Family      string `yaml:"family"`
	Model       string `yaml:"model"`
	Serial      string `yaml:"serial"`
	Address     string `yaml:"address"`
	AuthToken   string `yaml:"auth_token"`
	PollMillis  int    `yaml:"poll_interval_ms"`
	AutoConnect bool   `yaml:"auto_connect"`
}

// SupervisorConfig contains connection supervision settings.
type SupervisorConfig struct {
	ConnectTimeout  int           `yaml:"connect_timeout"`
	TeardownTimeout int           `yaml:"teardown_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	Backoff         BackoffConfig `yaml:"backoff"`
}

// BackoffConfig contains retry backoff settings. Delays are seconds.
type BackoffConfig struct {
	InitialDelay int     `yaml:"initial_delay"`
	MaxDelay     int     `yaml:"max_delay"`
	Multiplier   float64 `yaml:"multiplier"`
	Jitter       float64 `yaml:"jitter"`
}

// DigiModeConfig contains digital-mode UDP bridge settings.
type DigiModeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	// MulticastGroup, when set, joins the given group on the bind port
	// instead of plain unicast listening (e.g. "239.255.0.0").
	MulticastGroup string   `yaml:"multicast_group"`
	Forward        []string `yaml:"forward"`
	MaxFrameBytes  int      `yaml:"max_frame_bytes"`
}

// KeyerConfig contains CW keying settings.
type KeyerConfig struct {
	DefaultWPM int `yaml:"default_wpm"`
	MinWPM     int `yaml:"min_wpm"`
	MaxWPM     int `yaml:"max_wpm"`
}

// WirelogConfig contains wire-capture trace log settings.
type WirelogConfig struct {
	Enabled bool               `yaml:"enabled"`
	File    FileRotationConfig `yaml:"file"`
}

// RigctldConfig contains settings for managing a local rigctld daemon.
type RigctldConfig struct {
	// Managed indicates whether the station core should own the rigctld
	// lifecycle. If false, rigctld is expected to be running externally.
	Managed bool `yaml:"managed"`

	// Binary is the path to the rigctld executable.
	Binary string `yaml:"binary"`

	// Args are passed verbatim to rigctld (model, device, port flags).
	Args []string `yaml:"args"`

	// RestartOnFailure enables automatic restart if rigctld crashes.
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelaySeconds is the time to wait before restarting.
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LOG4YM_SECTION_KEY
// For example: LOG4YM_MQTT_HOST, LOG4YM_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Station: StationConfig{
			ID: "station-001",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     64,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "log4ym-station",
			},
			QoS:         1,
			TopicPrefix: "log4ym",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileRotationConfig{
				MaxSize:    50,
				MaxBackups: 3,
				MaxAge:     14,
			},
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Listeners: []DiscoveryListener{
				{Protocol: "socketrig", Bind: "0.0.0.0:4992"},
				{Protocol: "lineacc", Bind: "0.0.0.0:9007"},
			},
			SweepInterval:    1,
			ExpiryMultiplier: 3,
		},
		Supervisor: SupervisorConfig{
			ConnectTimeout:  10,
			TeardownTimeout: 5,
			MaxAttempts:     10,
			Backoff: BackoffConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				Multiplier:   2.0,
				Jitter:       0.25,
			},
		},
		DigiMode: DigiModeConfig{
			Enabled:       true,
			Bind:          "0.0.0.0:2237",
			MaxFrameBytes: 2048,
		},
		Keyer: KeyerConfig{
			DefaultWPM: 25,
			MinWPM:     5,
			MaxWPM:     60,
		},
		Rigctld: RigctldConfig{
			Binary:              "/usr/bin/rigctld",
			RestartOnFailure:    true,
			RestartDelaySeconds: 5,
			MaxRestartAttempts:  10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LOG4YM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Station
	if v := os.Getenv("LOG4YM_STATION_CALLSIGN"); v != "" {
		cfg.Station.Callsign = v
	}

	// MQTT
	if v := os.Getenv("LOG4YM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LOG4YM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LOG4YM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("LOG4YM_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("LOG4YM_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("LOG4YM_API_AUTH_TOKEN"); v != "" {
		cfg.API.AuthToken = v
	}

	// InfluxDB
	if v := os.Getenv("LOG4YM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("LOG4YM_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// knownFamilies mirrors the connection families the adapter layer
// implements. Config validation fails fast on anything else; ordinal
// values from older config files are accepted and normalized at startup.
var knownFamilies = map[string]bool{
	"socketrig": true, "polledrig": true, "lineacc": true,
	"0": true, "1": true, "2": true,
}

// knownDiscoveryProtocols are the announcement protocols with a listener
// implementation.
var knownDiscoveryProtocols = map[string]bool{
	"socketrig": true,
	"lineacc":   true,
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Station validation
	if c.Station.ID == "" {
		errs = append(errs, "station.id is required")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// Discovery validation
	for i, l := range c.Discovery.Listeners {
		if !knownDiscoveryProtocols[strings.ToLower(l.Protocol)] {
			errs = append(errs, fmt.Sprintf("discovery.listeners[%d].protocol %q is not supported", i, l.Protocol))
		}
		if l.Bind == "" {
			errs = append(errs, fmt.Sprintf("discovery.listeners[%d].bind is required", i))
		}
	}
	if c.Discovery.SweepInterval < 1 {
		errs = append(errs, "discovery.sweep_interval must be at least 1 second")
	}
	if c.Discovery.ExpiryMultiplier < 1 {
		errs = append(errs, "discovery.expiry_multiplier must be at least 1")
	}

	// Manual radio validation. An empty id is derived from the serial or
	// address at seed time, so only explicit ids are checked for clashes.
	seen := make(map[string]bool, len(c.Radios))
	for i, r := range c.Radios {
		if r.ID != "" {
			if seen[r.ID] {
				errs = append(errs, fmt.Sprintf("radios[%d].id %q is duplicated", i, r.ID))
			}
			seen[r.ID] = true
		}
		if !knownFamilies[strings.ToLower(r.Family)] {
			errs = append(errs, fmt.Sprintf("radios[%d].family %q is not supported", i, r.Family))
		}
		if r.Address == "" {
			errs = append(errs, fmt.Sprintf("radios[%d].address is required", i))
		}
	}

	// Supervisor validation
	if c.Supervisor.Backoff.InitialDelay < 1 {
		errs = append(errs, "supervisor.backoff.initial_delay must be at least 1 second")
	}
	if c.Supervisor.Backoff.MaxDelay < c.Supervisor.Backoff.InitialDelay {
		errs = append(errs, "supervisor.backoff.max_delay must be >= initial_delay")
	}
	if c.Supervisor.Backoff.Multiplier < 1 {
		errs = append(errs, "supervisor.backoff.multiplier must be >= 1")
	}
	if c.Supervisor.Backoff.Jitter < 0 || c.Supervisor.Backoff.Jitter > 1 {
		errs = append(errs, "supervisor.backoff.jitter must be between 0 and 1")
	}

	// Digital-mode bridge validation
	if c.DigiMode.Enabled && c.DigiMode.Bind == "" {
		errs = append(errs, "digimode.bind is required when digimode is enabled")
	}

	// Keyer validation
	if c.Keyer.MinWPM < 1 || c.Keyer.MaxWPM < c.Keyer.MinWPM {
		errs = append(errs, "keyer wpm range is invalid")
	}
	if c.Keyer.DefaultWPM < c.Keyer.MinWPM || c.Keyer.DefaultWPM > c.Keyer.MaxWPM {
		errs = append(errs, "keyer.default_wpm must be within [min_wpm, max_wpm]")
	}

	// Wirelog validation
	if c.Wirelog.Enabled && c.Wirelog.File.Path == "" {
		errs = append(errs, "wirelog.file.path is required when wirelog is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetSweepInterval returns the discovery sweep cadence as a Duration.
func (c *Config) GetSweepInterval() time.Duration {
	return time.Duration(c.Discovery.SweepInterval) * time.Second
}

// GetConnectTimeout returns the adapter connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Supervisor.ConnectTimeout) * time.Second
}

// GetTeardownTimeout returns the bounded disconnect grace period as a Duration.
func (c *Config) GetTeardownTimeout() time.Duration {
	return time.Duration(c.Supervisor.TeardownTimeout) * time.Second
}

// PollInterval returns the poll cadence for a manual radio, defaulting
// to 500ms when unset.
func (r ManualRadio) PollInterval() time.Duration {
	if r.PollMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(r.PollMillis) * time.Millisecond
}
