package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/log4ym/station-core/internal/adapter"
	"github.com/log4ym/station-core/internal/hub"
	"github.com/log4ym/station-core/internal/radio"
)

// BuildAdapter constructs an adapter for a device descriptor. Supplied
// by the composition root, which knows per-device credentials and
// intervals.
type BuildAdapter func(desc radio.Descriptor) (adapter.Adapter, error)

// Manager owns all supervisors and guarantees at most one per device
// id: two connect requests for the same device always land on the same
// supervisor, which holds at most one live adapter.
type Manager struct {
	build    BuildAdapter
	cfg      Config
	hub      *hub.Hub
	registry *radio.Registry
	logger   Logger

	ctx context.Context

	mu     sync.Mutex
	sups   map[string]*Supervisor
	closed bool
}

// NewManager creates a supervisor manager. ctx bounds the lifetime of
// every supervisor it starts.
func NewManager(ctx context.Context, build BuildAdapter, cfg Config, h *hub.Hub, reg *radio.Registry, logger Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		build:    build,
		cfg:      cfg,
		hub:      h,
		registry: reg,
		logger:   logger,
		ctx:      ctx,
		sups:     make(map[string]*Supervisor),
	}
}

// Connect requests a connection to the device, creating and starting
// its supervisor on first use.
func (m *Manager) Connect(deviceID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	sup, ok := m.sups[deviceID]
	if !ok {
		rec, err := m.registry.Get(deviceID)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("connect %s: %w", deviceID, err)
		}
		desc := rec.Descriptor
		factory := func() (adapter.Adapter, error) { return m.build(desc) }
		sup = NewSupervisor(deviceID, factory, m.cfg, m.hub, m.logger)
		sup.Start(m.ctx)
		m.sups[deviceID] = sup
		m.logger.Info("Supervisor created", "device_id", deviceID, "family", string(desc.Family))
	}
	m.mu.Unlock()

	return sup.Connect()
}

// Disconnect requests a manual disconnect of the device.
func (m *Manager) Disconnect(deviceID string) error {
	sup, err := m.supervisor(deviceID)
	if err != nil {
		return err
	}
	return sup.Disconnect()
}

// Remove disconnects the device and discards its supervisor.
func (m *Manager) Remove(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	sup, ok := m.sups[deviceID]
	if ok {
		delete(m.sups, deviceID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("remove %s: %w", deviceID, ErrUnknownDevice)
	}
	return sup.Stop(ctx)
}

// Supervisor returns the supervisor for a device id.
func (m *Manager) Supervisor(deviceID string) (*Supervisor, error) {
	return m.supervisor(deviceID)
}

// Send routes a command to a monitored device.
func (m *Manager) Send(ctx context.Context, deviceID string, cmd adapter.Command) (adapter.Ack, error) {
	sup, err := m.supervisor(deviceID)
	if err != nil {
		return adapter.Ack{}, err
	}
	return sup.Send(ctx, cmd)
}

// SetFrequency tunes a monitored device.
func (m *Manager) SetFrequency(ctx context.Context, deviceID string, hz int64) error {
	sup, err := m.supervisor(deviceID)
	if err != nil {
		return err
	}
	return sup.SetFrequency(ctx, hz)
}

// SetMode switches a monitored device's mode with offset correction.
func (m *Manager) SetMode(ctx context.Context, deviceID string, mode string) error {
	sup, err := m.supervisor(deviceID)
	if err != nil {
		return err
	}
	return sup.SetMode(ctx, mode)
}

// SetPTT keys or unkeys a monitored device.
func (m *Manager) SetPTT(ctx context.Context, deviceID string, on bool) error {
	sup, err := m.supervisor(deviceID)
	if err != nil {
		return err
	}
	return sup.SetPTT(ctx, on)
}

// DeviceIDs lists the devices with supervisors, sorted.
func (m *Manager) DeviceIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sups))
	for id := range m.sups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops every supervisor within ctx's deadline.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sups := make([]*Supervisor, 0, len(m.sups))
	for _, sup := range m.sups {
		sups = append(sups, sup)
	}
	m.sups = make(map[string]*Supervisor)
	m.mu.Unlock()

	var firstErr error
	for _, sup := range sups {
		if err := sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) supervisor(deviceID string) (*Supervisor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	sup, ok := m.sups[deviceID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", deviceID, ErrUnknownDevice)
	}
	return sup, nil
}
