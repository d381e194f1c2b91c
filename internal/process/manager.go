package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status is the lifecycle state of a managed child process.
type Status string

// Status constants.
const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// ErrAlreadyRunning is returned by Start when the child is already
// running or starting.
var ErrAlreadyRunning = errors.New("process: already running")

// Defaults applied by NewManager for zero Config values.
const (
	defaultRestartDelay    = 5 * time.Second
	defaultMaxRestartDelay = 5 * time.Minute
	defaultStableThreshold = 2 * time.Minute
	defaultGracefulTimeout = 10 * time.Second
	defaultProbeInterval   = 30 * time.Second

	// probeFailureLimit is how many consecutive health probe failures
	// force a kill of a hung child.
	probeFailureLimit = 3

	// probeTimeout bounds a single health probe call.
	probeTimeout = 5 * time.Second

	// killWait is how long to wait for the child to die after SIGKILL.
	killWait = 5 * time.Second

	// maxOutputLine caps captured child output lines.
	maxOutputLine = 8192
)

// RecoverableError lets a health probe mark a failure as one a restart
// cannot fix, stopping the restart loop. A missing serial device will
// not reappear because the daemon restarted.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether restarting the child may fix the error.
// Plain errors are treated as recoverable.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// Config describes one supervised child process.
type Config struct {
	// Name identifies the child in log output.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are passed verbatim to the binary.
	Args []string

	// Env entries are appended to the inherited environment.
	Env []string

	// Dir is the working directory, inherited when empty.
	Dir string

	// RestartOnFailure enables automatic restart when the child exits
	// without being asked to.
	RestartOnFailure bool

	// RestartDelay is the wait before the first restart. It doubles per
	// consecutive failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is the uptime after which a run counts as stable
	// and the consecutive-failure count resets.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheck, when set, probes the child every HealthCheckInterval.
	// Three consecutive failures kill the child; a failure marked
	// unrecoverable also stops the restart loop.
	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration

	// OnStart runs after every successful launch, including restarts.
	OnStart func(pid int)

	// OnExit runs when a child exits: nil error for a requested stop,
	// the exit cause otherwise.
	OnExit func(err error)

	// OnRestart runs before each restart attempt.
	OnRestart func(attempt int)
}

// Logger defines the logging interface for the process manager.
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

// Manager supervises one child process: launch, output capture, health
// watchdog, restart with backoff, process-group shutdown.
type Manager struct {
	cfg    Config
	logger Logger

	mu           sync.RWMutex
	cmd          *exec.Cmd
	status       Status
	failures     int // consecutive failed runs, reset after a stable run
	restartTotal int
	lastErr      error
	startedAt    time.Time
	stopping     bool

	// stopCh interrupts a backoff sleep so Stop never races a restart.
	stopCh chan struct{}
	done   chan struct{}
}

// NewManager creates a process manager, filling zero config values with
// defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = defaultStableThreshold
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaultProbeInterval
	}

	return &Manager{
		cfg:    cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Start launches the child and begins supervising it. Cancelling ctx
// kills the child and ends supervision.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.cfg.Name)
	}
	m.status = StatusStarting
	m.stopping = false
	m.failures = 0
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.launch(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastErr = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.supervise(ctx)
	return nil
}

// launch starts the child process and wires up output capture.
func (m *Manager) launch(ctx context.Context) error {
	m.logger.Info("starting process",
		"name", m.cfg.Name,
		"binary", m.cfg.Binary,
		"args", m.cfg.Args,
	)

	cmd := exec.CommandContext(ctx, m.cfg.Binary, m.cfg.Args...) //nolint:gosec // Binary path comes from validated configuration

	// Own process group so Stop can signal helpers the child spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if len(m.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), m.cfg.Env...)
	}
	if m.cfg.Dir != "" {
		cmd.Dir = m.cfg.Dir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.cfg.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startedAt = time.Now()
	m.mu.Unlock()

	go m.relayOutput("stdout", stdout)
	go m.relayOutput("stderr", stderr)

	m.logger.Info("process started", "name", m.cfg.Name, "pid", cmd.Process.Pid)

	if m.cfg.OnStart != nil {
		m.cfg.OnStart(cmd.Process.Pid)
	}
	return nil
}

// relayOutput forwards child output to the log, one line per entry.
func (m *Manager) relayOutput(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024), maxOutputLine)
	for sc.Scan() {
		m.logger.Debug("child output",
			"name", m.cfg.Name,
			"stream", stream,
			"line", sc.Text(),
		)
	}
	if err := sc.Err(); err != nil {
		m.logger.Debug("child output stream ended",
			"name", m.cfg.Name,
			"stream", stream,
			"error", err,
		)
	}
}

// awaitExit blocks until the child exits. With a health probe
// configured it doubles as a watchdog: repeated or unrecoverable probe
// failures kill the child.
func (m *Manager) awaitExit(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	if m.cfg.HealthCheck == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			err := m.cfg.HealthCheck(probeCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("health probe recovered",
						"name", m.cfg.Name,
						"previous_failures", failures,
					)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("health probe failed",
				"name", m.cfg.Name,
				"error", err,
				"consecutive", failures,
			)

			if IsRecoverable(err) && failures < probeFailureLimit {
				continue
			}

			m.logger.Error("killing unhealthy process",
				"name", m.cfg.Name,
				"consecutive", failures,
			)
			if cmd.Process != nil {
				_ = cmd.Process.Kill() //nolint:errcheck // Kill failure surfaces as a wait timeout below
			}
			select {
			case <-exitCh:
			case <-time.After(killWait):
				return fmt.Errorf("%s did not exit after kill", m.cfg.Name)
			}
			if !IsRecoverable(err) {
				return err
			}
			return fmt.Errorf("killed after %d failed health probes: %w", failures, err)
		}
	}
}

// supervise owns the run/restart loop for one Start call.
func (m *Manager) supervise(ctx context.Context) {
	defer close(m.done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()
		if cmd == nil {
			return
		}

		runStart := time.Now()
		err := m.awaitExit(ctx, cmd)
		uptime := time.Since(runStart)

		m.mu.Lock()
		stopping := m.stopping
		m.lastErr = err
		m.mu.Unlock()

		if stopping || ctx.Err() != nil {
			m.setStatus(StatusStopped)
			m.logger.Info("process stopped", "name", m.cfg.Name)
			if m.cfg.OnExit != nil {
				m.cfg.OnExit(nil)
			}
			return
		}

		m.setStatus(StatusFailed)
		m.logger.Warn("process exited unexpectedly",
			"name", m.cfg.Name,
			"error", err,
			"uptime", uptime,
		)
		if m.cfg.OnExit != nil {
			m.cfg.OnExit(err)
		}

		if !m.cfg.RestartOnFailure {
			return
		}
		if !IsRecoverable(err) {
			m.logger.Error("not restarting, failure is unrecoverable",
				"name", m.cfg.Name,
				"error", err,
			)
			return
		}

		m.mu.Lock()
		if uptime >= m.cfg.StableThreshold {
			m.failures = 0
		}
		m.failures++
		attempt := m.failures
		m.mu.Unlock()

		if m.cfg.MaxRestartAttempts > 0 && attempt > m.cfg.MaxRestartAttempts {
			m.logger.Error("restart attempts exhausted",
				"name", m.cfg.Name,
				"attempts", attempt-1,
			)
			return
		}

		delay := m.backoffDelay(attempt)
		m.logger.Info("restarting process",
			"name", m.cfg.Name,
			"attempt", attempt,
			"delay", delay,
		)
		if m.cfg.OnRestart != nil {
			m.cfg.OnRestart(attempt)
		}

		select {
		case <-ctx.Done():
			m.setStatus(StatusStopped)
			return
		case <-m.stopCh:
			m.setStatus(StatusStopped)
			return
		case <-time.After(delay):
		}

		m.mu.RLock()
		stopping = m.stopping
		m.mu.RUnlock()
		if stopping {
			m.setStatus(StatusStopped)
			return
		}

		m.mu.Lock()
		m.restartTotal++
		m.mu.Unlock()

		// A failed launch falls through to the top of the loop: the
		// already-waited cmd returns immediately and routes back into
		// the restart path with the attempt counter advanced.
		if err := m.launch(ctx); err != nil {
			m.logger.Error("restart failed", "name", m.cfg.Name, "error", err)
			m.mu.Lock()
			m.status = StatusFailed
			m.lastErr = err
			m.mu.Unlock()
			continue
		}

		// Stop may have landed between the backoff check and the
		// launch; hand the fresh child its termination signal so the
		// exit flows back through the stopping path above.
		m.mu.RLock()
		stopping = m.stopping
		m.mu.RUnlock()
		if stopping {
			if pid := m.PID(); pid > 0 {
				_ = syscall.Kill(-pid, syscall.SIGTERM) //nolint:errcheck // Best effort, exit is collected by awaitExit
			}
		}
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// backoffDelay doubles the base delay per consecutive failure, capped
// at MaxRestartDelay.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	d := m.cfg.RestartDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.MaxRestartDelay {
			return m.cfg.MaxRestartDelay
		}
	}
	if d > m.cfg.MaxRestartDelay {
		return m.cfg.MaxRestartDelay
	}
	return d
}

// Stop ends supervision and shuts the child down: SIGTERM to the
// process group, then SIGKILL after GracefulTimeout. Safe to call at
// any point in the lifecycle, including mid-backoff.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.done == nil || m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	close(m.stopCh)
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	pid := 0
	if cmd != nil && cmd.Process != nil {
		pid = cmd.Process.Pid
	}

	if pid > 0 {
		m.logger.Info("stopping process", "name", m.cfg.Name, "pid", pid)

		// Negative pid signals the whole process group created via
		// Setpgid. ESRCH means the child already exited.
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			m.logger.Warn("failed to signal process group",
				"name", m.cfg.Name,
				"error", err,
			)
		}
	}

	select {
	case <-done:
		m.logger.Info("process stopped gracefully", "name", m.cfg.Name)
		return nil
	case <-time.After(m.cfg.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.cfg.Name,
			"timeout", m.cfg.GracefulTimeout,
		)
	}

	if pid > 0 {
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing process group %s: %w", m.cfg.Name, err)
		}
	}

	select {
	case <-done:
		m.logger.Info("process killed", "name", m.cfg.Name)
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("supervision of %s did not end after kill", m.cfg.Name)
	}
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the child is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the most recent exit or launch error.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// RestartCount returns the total number of restarts across the
// manager's lifetime.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartTotal
}

// Uptime returns how long the current child has been running, zero when
// it is not.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startedAt)
}

// PID returns the child's process ID, or 0 when not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats describes a managed child for monitoring.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// GetStats returns current statistics for the child.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.cfg.Name,
		Status:       m.status,
		RestartCount: m.restartTotal,
	}
	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startedAt)
	}
	if m.lastErr != nil {
		stats.LastError = m.lastErr.Error()
	}
	return stats
}
