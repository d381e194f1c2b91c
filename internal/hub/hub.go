package hub

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/log4ym/station-core/internal/radio"
)

const defaultQueueCapacity = 64

// Logger is the minimal logging interface the hub needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Hub fans events out to subscribers and keeps the latest descriptor,
// connection state, and radio state per device so late attachers can
// be rehydrated. Publishing never blocks on a consumer.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber

	descriptors map[string]radio.Descriptor
	connections map[string]ConnectionChange
	states      map[string]radio.State

	queueCapacity int
	logger        Logger

	publishedTotal atomic.Uint64
	droppedTotal   atomic.Uint64
}

// New creates a hub with the given per-subscriber queue capacity.
// Capacity values <= 0 select the default.
func New(queueCapacity int) *Hub {
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	return &Hub{
		subs:          make(map[string]*Subscriber),
		descriptors:   make(map[string]radio.Descriptor),
		connections:   make(map[string]ConnectionChange),
		states:        make(map[string]radio.State),
		queueCapacity: queueCapacity,
		logger:        noopLogger{},
	}
}

// SetLogger installs a logger. Call before concurrent use.
func (h *Hub) SetLogger(l Logger) {
	if l != nil {
		h.logger = l
	}
}

// Subscribe attaches a new consumer. Only events published after the
// call are delivered; use Rehydrate to replay current state first.
func (h *Hub) Subscribe() *Subscriber {
	sub := newSubscriber(uuid.New().String(), h.queueCapacity)

	h.mu.Lock()
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("Subscriber attached", "subscriber_id", sub.id, "subscribers", count)
	return sub
}

// Unsubscribe detaches a consumer. Queued events remain readable until
// drained.
func (h *Hub) Unsubscribe(id string) error {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return ErrUnknownSubscriber
	}
	sub.close()
	h.logger.Debug("Subscriber detached", "subscriber_id", id, "subscribers", count)
	return nil
}

// Rehydrate replaces the subscriber's queue with a snapshot of every
// known device: descriptor, then connection state, then radio state,
// devices ordered by ID. Live events published after the call follow
// the snapshot.
func (h *Hub) Rehydrate(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return ErrUnknownSubscriber
	}

	ids := make([]string, 0, len(h.descriptors))
	for deviceID := range h.descriptors {
		ids = append(ids, deviceID)
	}
	sort.Strings(ids)

	now := time.Now()
	snapshot := make([]Event, 0, len(ids)*3)
	for _, deviceID := range ids {
		desc := h.descriptors[deviceID]
		snapshot = append(snapshot, Event{
			Type:      EventDeviceDiscovered,
			DeviceID:  deviceID,
			Snapshot:  true,
			Timestamp: now,
			Payload:   desc.DeepCopy(),
		})
		snapshot = append(snapshot, Event{
			Type:      EventConnectionStateChanged,
			DeviceID:  deviceID,
			Snapshot:  true,
			Timestamp: now,
			Payload:   h.connections[deviceID],
		})
		if st, known := h.states[deviceID]; known {
			snapshot = append(snapshot, Event{
				Type:      EventStateChanged,
				DeviceID:  deviceID,
				Snapshot:  true,
				Timestamp: now,
				Payload:   st,
			})
		}
	}

	sub.replace(snapshot)
	h.logger.Debug("Subscriber rehydrated", "subscriber_id", id, "events", len(snapshot))
	return nil
}

// PublishDeviceDiscovered records a device and announces it. When the
// device has no connection record yet, discovered devices start in
// Discovering and manual ones in Disconnected.
func (h *Hub) PublishDeviceDiscovered(desc radio.Descriptor) {
	h.mu.Lock()
	h.descriptors[desc.ID] = *desc.DeepCopy()
	if _, ok := h.connections[desc.ID]; !ok {
		initial := radio.ConnectionDiscovering
		if desc.Origin == radio.OriginManual {
			initial = radio.ConnectionDisconnected
		}
		h.connections[desc.ID] = ConnectionChange{State: initial}
	}
	h.fanOutLocked(Event{
		Type:      EventDeviceDiscovered,
		DeviceID:  desc.ID,
		Timestamp: time.Now(),
		Payload:   desc.DeepCopy(),
	})
	h.mu.Unlock()
}

// PublishDeviceRemoved drops the device's cached view and announces
// the removal.
func (h *Hub) PublishDeviceRemoved(desc radio.Descriptor) {
	h.mu.Lock()
	delete(h.descriptors, desc.ID)
	delete(h.connections, desc.ID)
	delete(h.states, desc.ID)
	h.fanOutLocked(Event{
		Type:      EventDeviceRemoved,
		DeviceID:  desc.ID,
		Timestamp: time.Now(),
		Payload:   desc.DeepCopy(),
	})
	h.mu.Unlock()
}

// PublishConnectionState announces a connection transition. Leaving the
// live states marks the cached radio state stale in the same critical
// section, and queued state updates for the device are superseded so a
// disconnect can never be followed by a frozen "live" delta.
func (h *Hub) PublishConnectionState(deviceID string, state radio.ConnectionState, errMsg string) {
	change := ConnectionChange{State: state, Error: errMsg}

	h.mu.Lock()
	h.connections[deviceID] = change

	dead := state == radio.ConnectionDisconnected || state == radio.ConnectionError
	if dead {
		if st, ok := h.states[deviceID]; ok && !st.Stale {
			st.Stale = true
			h.states[deviceID] = st
		}
		for _, sub := range h.subs {
			sub.supersede(deviceID)
		}
	}

	h.fanOutLocked(Event{
		Type:      EventConnectionStateChanged,
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Payload:   change,
	})
	h.mu.Unlock()
}

// PublishState announces a radio state observation and caches it as
// the device's latest.
func (h *Hub) PublishState(deviceID string, st radio.State) {
	h.mu.Lock()
	h.states[deviceID] = st
	h.fanOutLocked(Event{
		Type:      EventStateChanged,
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Payload:   st,
	})
	h.mu.Unlock()
}

// Publish fans out an event without touching the device caches. Used
// for digital-mode traffic and other events with no per-device latest
// view.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.fanOutLocked(ev)
	h.mu.Unlock()
}

// Device returns the hub's latest view of one device.
func (h *Hub) Device(deviceID string) (DeviceSnapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	desc, ok := h.descriptors[deviceID]
	if !ok {
		return DeviceSnapshot{}, radio.ErrNotFound
	}
	snap := DeviceSnapshot{
		Descriptor: *desc.DeepCopy(),
		Connection: h.connections[deviceID],
	}
	if st, known := h.states[deviceID]; known {
		stCopy := st
		snap.State = &stCopy
	}
	return snap, nil
}

// Devices returns the latest view of every known device, ordered by ID.
func (h *Hub) Devices() []DeviceSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.descriptors))
	for id := range h.descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]DeviceSnapshot, 0, len(ids))
	for _, id := range ids {
		desc := h.descriptors[id]
		snap := DeviceSnapshot{
			Descriptor: *desc.DeepCopy(),
			Connection: h.connections[id],
		}
		if st, known := h.states[id]; known {
			stCopy := st
			snap.State = &stCopy
		}
		out = append(out, snap)
	}
	return out
}

// ConnectionState returns the cached connection state for a device.
func (h *Hub) ConnectionState(deviceID string) (ConnectionChange, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	change, ok := h.connections[deviceID]
	return change, ok
}

// Stats reports fan-out counters.
type Stats struct {
	Subscribers    int    `json:"subscribers"`
	PublishedTotal uint64 `json:"published_total"`
	DroppedTotal   uint64 `json:"dropped_total"`
}

// GetStats returns current hub statistics.
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	subs := len(h.subs)
	h.mu.RUnlock()

	return Stats{
		Subscribers:    subs,
		PublishedTotal: h.publishedTotal.Load(),
		DroppedTotal:   h.droppedTotal.Load(),
	}
}

// Close detaches every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[string]*Subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// fanOutLocked delivers an event to every subscriber. Caller holds
// h.mu.
func (h *Hub) fanOutLocked(ev Event) {
	h.publishedTotal.Add(1)
	for _, sub := range h.subs {
		if !sub.push(ev) {
			h.droppedTotal.Add(1)
			h.logger.Warn("Event dropped for slow subscriber",
				"subscriber_id", sub.id,
				"event_type", string(ev.Type),
				"device_id", ev.DeviceID)
		}
	}
}
