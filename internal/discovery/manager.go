package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/log4ym/station-core/internal/hub"
	"github.com/log4ym/station-core/internal/radio"
)

// Logger is the minimal logging interface discovery needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds discovery listener addresses and sweep cadence. An
// empty listen address disables that listener.
type Config struct {
	// SocketRigListen receives ASCII radio announcements.
	SocketRigListen string

	// LineAccListen receives binary accessory beacons.
	LineAccListen string

	// SweepInterval is how often silent records are evicted.
	SweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
}

// Stats aggregates the discovery counters.
type Stats struct {
	SocketRig ListenerStats `json:"socketrig"`
	LineAcc   ListenerStats `json:"lineacc"`
	Evictions uint64        `json:"evictions"`
}

// Manager runs the discovery listeners and the expiry sweep. Listeners
// feed the registry; the sweep evicts silent devices and publishes
// their removal.
type Manager struct {
	cfg      Config
	registry *radio.Registry
	hub      *hub.Hub
	logger   Logger

	mu        sync.Mutex
	listeners []*listener
	cancel    context.CancelFunc
	group     *errgroup.Group
	started   bool

	evictions atomic.Uint64
}

// NewManager creates a discovery manager. Call Start to begin
// listening.
func NewManager(cfg Config, reg *radio.Registry, h *hub.Hub, logger Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		cfg:      cfg,
		registry: reg,
		hub:      h,
		logger:   logger,
	}
}

// Start binds the configured listeners and launches the receive loops
// and the sweep. Bind failures surface synchronously; nothing is left
// running on error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	specs := []struct {
		name  string
		addr  string
		parse parseFunc
	}{
		{"socketrig", m.cfg.SocketRigListen, parseSocketRigAnnouncement},
		{"lineacc", m.cfg.LineAccListen, parseLineAccBeacon},
	}

	var listeners []*listener
	for _, spec := range specs {
		if spec.addr == "" {
			continue
		}
		udpAddr, err := net.ResolveUDPAddr("udp4", spec.addr)
		if err != nil {
			closeListeners(listeners)
			return fmt.Errorf("resolve %s listen address %q: %w", spec.name, spec.addr, err)
		}
		conn, err := net.ListenUDP("udp4", udpAddr)
		if err != nil {
			closeListeners(listeners)
			return fmt.Errorf("bind %s listener on %s: %w", spec.name, spec.addr, err)
		}
		listeners = append(listeners, &listener{
			name:     spec.name,
			conn:     conn,
			parse:    spec.parse,
			registry: m.registry,
			hub:      m.hub,
			logger:   m.logger,
		})
		m.logger.Info("Discovery listener started",
			"protocol", spec.name, "address", conn.LocalAddr().String())
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for _, l := range listeners {
		l := l
		g.Go(func() error { return l.run(gctx) })
	}
	g.Go(func() error { return m.sweep(gctx) })

	m.listeners = listeners
	m.cancel = cancel
	m.group = g
	m.started = true
	return nil
}

// sweep periodically evicts records whose broadcasts have gone silent
// and publishes the removals. Manual devices never expire.
func (m *Manager) sweep(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, desc := range m.registry.ExpireStale(now) {
				m.evictions.Add(1)
				m.hub.PublishDeviceRemoved(desc)
				m.logger.Info("Device expired from discovery silence",
					"id", desc.ID, "family", desc.Family)
			}
		}
	}
}

// Close stops the listeners and the sweep, then waits for them.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	group := m.group
	listeners := m.listeners
	m.started = false
	m.mu.Unlock()

	cancel()
	closeListeners(listeners)
	return group.Wait()
}

// ListenAddrs reports the bound listener addresses by protocol name.
// Useful for diagnostics and for configs that bind port zero.
func (m *Manager) ListenAddrs() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	addrs := make(map[string]string, len(m.listeners))
	for _, l := range m.listeners {
		addrs[l.name] = l.conn.LocalAddr().String()
	}
	return addrs
}

// GetStats returns the aggregated discovery counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	listeners := m.listeners
	m.mu.Unlock()

	stats := Stats{Evictions: m.evictions.Load()}
	for _, l := range listeners {
		switch l.name {
		case "socketrig":
			stats.SocketRig = l.stats()
		case "lineacc":
			stats.LineAcc = l.stats()
		}
	}
	return stats
}

func closeListeners(listeners []*listener) {
	for _, l := range listeners {
		l.conn.Close()
	}
}
