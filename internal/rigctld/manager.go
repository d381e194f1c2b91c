package rigctld

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/log4ym/station-core/internal/infrastructure/config"
	"github.com/log4ym/station-core/internal/process"
)

// Timeouts and paths for rigctld management.
const (
	// defaultPort is rigctld's standard listen port when the args carry
	// no -t/--port flag.
	defaultPort = 4532

	// readyTimeout is how long to wait for rigctld to accept TCP
	// connections after starting.
	readyTimeout = 20 * time.Second

	// readyPollInterval is how often to try connecting during the
	// readiness check.
	readyPollInterval = 200 * time.Millisecond

	// dialTimeout is the timeout for individual TCP connection attempts.
	dialTimeout = 500 * time.Millisecond

	// probeTimeout bounds one health probe round trip.
	probeTimeout = 3 * time.Second

	// healthInterval is how often the process watchdog probes the daemon.
	healthInterval = 30 * time.Second

	// gracefulTimeout is how long to wait for rigctld to exit on SIGTERM.
	gracefulTimeout = 10 * time.Second

	// pidFilePath guards against two cores managing the same rig.
	pidFilePath         = "/var/run/log4ym-rigctld.pid"
	pidFileFallbackPath = "/tmp/log4ym-rigctld.pid"
	pidFileMode         = 0o600
)

// ErrDuplicateInstance is returned when another managed rigctld is
// already running on this host.
var ErrDuplicateInstance = errors.New("rigctld: another instance is already running")

// Logger defines the logging interface for the rigctld manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager owns the lifecycle of a local rigctld daemon.
type Manager struct {
	cfg    config.RigctldConfig
	port   int
	proc   *process.Manager
	logger Logger

	// activePIDPath is the PID file path actually acquired, so removal
	// targets the same file even if /var/run permissions change later.
	activePIDPath string
}

// NewManager creates a rigctld manager from configuration.
func NewManager(cfg config.RigctldConfig) (*Manager, error) {
	if cfg.Binary == "" {
		cfg.Binary = "/usr/bin/rigctld"
	}
	if cfg.RestartDelaySeconds <= 0 {
		cfg.RestartDelaySeconds = 5
	}

	if cfg.Managed {
		if !filepath.IsAbs(cfg.Binary) {
			return nil, fmt.Errorf("rigctld binary must be an absolute path, got %q", cfg.Binary)
		}
		info, err := os.Stat(cfg.Binary)
		if err != nil {
			return nil, fmt.Errorf("rigctld binary: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("rigctld binary %q is a directory", cfg.Binary)
		}
	}

	return &Manager{
		cfg:    cfg,
		port:   listenPort(cfg.Args),
		logger: noopLogger{},
	}, nil
}

// listenPort extracts the daemon's listen port from its argument list.
// rigctld accepts -t PORT, -tPORT, --port PORT and --port=PORT.
func listenPort(args []string) int {
	for i, a := range args {
		switch {
		case a == "-t" || a == "--port":
			if i+1 < len(args) {
				if p, err := strconv.Atoi(args[i+1]); err == nil {
					return p
				}
			}
		case strings.HasPrefix(a, "--port="):
			if p, err := strconv.Atoi(strings.TrimPrefix(a, "--port=")); err == nil {
				return p
			}
		case strings.HasPrefix(a, "-t") && len(a) > 2:
			if p, err := strconv.Atoi(a[2:]); err == nil {
				return p
			}
		}
	}
	return defaultPort
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Addr returns the host:port the daemon listens on.
func (m *Manager) Addr() string {
	return fmt.Sprintf("localhost:%d", m.port)
}

// IsManaged reports whether this manager owns the daemon's lifecycle.
func (m *Manager) IsManaged() bool {
	return m.cfg.Managed
}

// Start launches rigctld and blocks until it accepts TCP connections.
// With management disabled it is a no-op: an external daemon is assumed.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Managed {
		m.logger.Info("rigctld management disabled, expecting external daemon",
			"address", m.Addr())
		return nil
	}

	m.logger.Info("starting rigctld",
		"binary", m.cfg.Binary,
		"args", m.cfg.Args,
		"address", m.Addr(),
	)

	m.proc = process.NewManager(process.Config{
		Name:               "rigctld",
		Binary:             m.cfg.Binary,
		Args:               m.cfg.Args,
		RestartOnFailure:   m.cfg.RestartOnFailure,
		RestartDelay:       time.Duration(m.cfg.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts: m.cfg.MaxRestartAttempts,
		GracefulTimeout:    gracefulTimeout,

		HealthCheckInterval: healthInterval,
		HealthCheck:         m.HealthCheck,

		OnExit: func(err error) {
			if err != nil {
				m.logger.Warn("rigctld exited", "error", err)
			} else {
				m.logger.Info("rigctld stopped")
			}
		},
		OnRestart: func(attempt int) {
			m.logger.Info("rigctld restarting", "attempt", attempt)
		},
	})
	m.proc.SetLogger(m.logger)

	if err := m.proc.Start(ctx); err != nil {
		return fmt.Errorf("starting rigctld: %w", err)
	}

	if err := m.waitForReady(ctx); err != nil {
		if stopErr := m.proc.Stop(); stopErr != nil {
			m.logger.Warn("error stopping rigctld after failed readiness check",
				"error", stopErr)
		}
		return fmt.Errorf("rigctld failed to become ready: %w", err)
	}

	// Claim the PID file only once the daemon is actually up, so the
	// file always names a live process.
	if pid := m.proc.PID(); pid > 0 {
		if err := m.acquirePIDFile(pid); err != nil {
			m.logger.Error("refusing to run a duplicate rigctld", "error", err)
			_ = m.proc.Stop() //nolint:errcheck // Already failing the start
			return err
		}
	}

	m.logger.Info("rigctld ready", "address", m.Addr(), "pid", m.proc.PID())
	return nil
}

// waitForReady polls the TCP port until the daemon accepts connections.
func (m *Manager) waitForReady(ctx context.Context) error {
	addr := m.Addr()
	deadline := time.Now().Add(readyTimeout)

	m.logger.Debug("waiting for rigctld", "address", addr)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for rigctld: %w", ctx.Err())
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for rigctld on %s after %v", addr, readyTimeout)
		}

		if !m.proc.IsRunning() {
			if lastErr := m.proc.LastError(); lastErr != nil {
				return fmt.Errorf("rigctld exited: %w", lastErr)
			}
			return errors.New("rigctld exited unexpectedly")
		}

		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}

		time.Sleep(readyPollInterval)
	}
}

// Stop shuts the daemon down and releases the PID file.
func (m *Manager) Stop() error {
	if !m.cfg.Managed || m.proc == nil {
		return nil
	}

	m.logger.Info("stopping rigctld")

	// Stop before removing the PID file so a replacement core cannot
	// start a second daemon while this one still holds the rig.
	err := m.proc.Stop()
	m.removePIDFile()
	return err
}

// IsRunning reports whether the daemon is up. An unmanaged daemon is
// assumed running; HealthCheck tells the truth.
func (m *Manager) IsRunning() bool {
	if !m.cfg.Managed {
		return true
	}
	if m.proc == nil {
		return false
	}
	return m.proc.IsRunning()
}

// HealthCheck verifies the daemon end to end: dial the command port,
// issue a read-only get_freq, and require any reply line. An RPRT error
// still proves the daemon is accepting and answering; only silence or a
// refused connection fails the probe.
func (m *Manager) HealthCheck(ctx context.Context) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", m.Addr())
	if err != nil {
		return fmt.Errorf("rigctld probe: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(probeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("rigctld probe: %w", err)
	}

	if _, err := conn.Write([]byte("f\n")); err != nil {
		return fmt.Errorf("rigctld probe write: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("rigctld probe read: %w", err)
	}

	m.logger.Debug("rigctld probe ok", "reply", strings.TrimSpace(line))
	return nil
}

// Stats describes the managed daemon for monitoring.
type Stats struct {
	Managed      bool          `json:"managed"`
	Status       string        `json:"status"`
	Address      string        `json:"address"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// GetStats returns current statistics for the daemon.
func (m *Manager) GetStats() Stats {
	stats := Stats{
		Managed: m.cfg.Managed,
		Address: m.Addr(),
	}

	switch {
	case m.proc != nil:
		procStats := m.proc.GetStats()
		stats.Status = string(procStats.Status)
		stats.PID = procStats.PID
		stats.Uptime = procStats.Uptime
		stats.RestartCount = procStats.RestartCount
		stats.LastError = procStats.LastError
	case !m.cfg.Managed:
		stats.Status = "external"
	default:
		stats.Status = string(process.StatusStopped)
	}

	return stats
}

// getPIDFilePath returns the PID file location, preferring /var/run but
// falling back to /tmp when it is not writable.
func (m *Manager) getPIDFilePath() string {
	if f, err := os.OpenFile(pidFilePath, os.O_CREATE|os.O_WRONLY, pidFileMode); err == nil {
		f.Close()
		os.Remove(pidFilePath)
		return pidFilePath
	}
	return pidFileFallbackPath
}

// maxPIDFileRetries bounds stale-file recovery attempts.
const maxPIDFileRetries = 3

// acquirePIDFile atomically claims the PID file. A stale file left by a
// dead instance is removed and the claim retried; a live instance fails
// the claim.
func (m *Manager) acquirePIDFile(pid int) error {
	for attempt := 0; attempt < maxPIDFileRetries; attempt++ {
		if attempt == 0 {
			m.activePIDPath = m.getPIDFilePath()
		}
		pidFile := m.activePIDPath

		f, err := os.OpenFile(pidFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, pidFileMode)
		if err == nil {
			_, writeErr := fmt.Fprintf(f, "%d\n", pid)
			f.Close()
			if writeErr != nil {
				os.Remove(pidFile)
				return fmt.Errorf("writing PID file: %w", writeErr)
			}
			m.logger.Debug("acquired PID file", "path", pidFile, "pid", pid)
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("creating PID file %s: %w", pidFile, err)
		}

		// File exists: decide whether its owner is still alive.
		data, readErr := os.ReadFile(pidFile)
		if readErr != nil {
			os.Remove(pidFile)
			continue
		}
		existingPID, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if parseErr != nil {
			m.logger.Warn("removing invalid PID file", "path", pidFile)
			os.Remove(pidFile)
			continue
		}
		if !m.isDaemonAlive(existingPID) {
			m.logger.Info("removing stale PID file", "path", pidFile, "stale_pid", existingPID)
			os.Remove(pidFile)
			continue
		}

		return fmt.Errorf("%w (PID %d, file %s)", ErrDuplicateInstance, existingPID, pidFile)
	}
	return fmt.Errorf("failed to acquire PID file after %d attempts", maxPIDFileRetries)
}

// isDaemonAlive reports whether pid is a live process actually running
// our daemon binary, not an unrelated process that reused the pid.
func (m *Manager) isDaemonAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix FindProcess always succeeds; signal 0 tests liveness.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}

	commData, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(commData)) == filepath.Base(m.cfg.Binary)
}

// removePIDFile releases the PID file acquired at startup.
func (m *Manager) removePIDFile() {
	pidFile := m.activePIDPath
	if pidFile == "" {
		return
	}
	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove PID file", "path", pidFile, "error", err)
	}
	m.activePIDPath = ""
}
