package wirelog

import "time"

// Event is one captured line of wire traffic.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the line crossed the wire (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// DeviceID is the canonical device the traffic belongs to. Frames
	// dropped before any device was identified carry the peer address.
	DeviceID string `cbor:"2,keyasint"`

	// Direction indicates traffic flow relative to this station.
	Direction Direction `cbor:"3,keyasint"`

	// Size is the full line length in bytes, even when Data was
	// truncated at the capture limit.
	Size int `cbor:"4,keyasint"`

	// Data is the raw line, possibly truncated.
	Data []byte `cbor:"5,keyasint,omitempty"`

	// Truncated indicates Data was cut at the capture limit.
	Truncated bool `cbor:"6,keyasint,omitempty"`

	// Note annotates the event, typically with a drop reason.
	Note string `cbor:"7,keyasint,omitempty"`
}

// Direction indicates the direction of wire traffic.
type Direction uint8

const (
	// DirectionRx is traffic received from the device.
	DirectionRx Direction = 0
	// DirectionTx is traffic sent to the device.
	DirectionTx Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionRx:
		return "RX"
	case DirectionTx:
		return "TX"
	default:
		return "UNKNOWN"
	}
}
