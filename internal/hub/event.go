package hub

import (
	"time"

	"github.com/log4ym/station-core/internal/radio"
)

// EventType identifies the kind of event flowing through the hub.
type EventType string

// Event types on the subscriber surface.
const (
	EventDeviceDiscovered       EventType = "deviceDiscovered"
	EventDeviceRemoved          EventType = "deviceRemoved"
	EventConnectionStateChanged EventType = "connectionStateChanged"
	EventStateChanged           EventType = "stateChanged"
	EventDigitalStatus          EventType = "digitalStatus"
	EventDigitalDecode          EventType = "digitalDecode"
	EventQSOLogged              EventType = "qsoLogged"
)

// Event is one item on the subscriber surface. Payload carries the
// typed body for the event type: radio.Descriptor for discovery
// events, ConnectionChange for connection transitions, radio.State for
// state deltas, and the digital-mode message structs for bridge events.
type Event struct {
	Type     EventType `json:"type"`
	DeviceID string    `json:"device_id,omitempty"`

	// Snapshot marks events queued by rehydration so clients can tell
	// replayed current state from live transitions.
	Snapshot bool `json:"snapshot,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// ConnectionChange is the payload of a connectionStateChanged event.
type ConnectionChange struct {
	State radio.ConnectionState `json:"state"`
	Error string                `json:"error,omitempty"`
}

// DeviceSnapshot bundles the hub's latest view of one device.
type DeviceSnapshot struct {
	Descriptor radio.Descriptor `json:"descriptor"`
	Connection ConnectionChange `json:"connection"`

	// State is nil until at least one value has been observed on the
	// wire; the hub never invents operating state.
	State *radio.State `json:"state,omitempty"`
}
