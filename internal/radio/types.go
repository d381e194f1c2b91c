package radio

import (
	"fmt"
	"strings"
	"time"
)

// Family identifies which protocol adapter drives a device.
type Family string

// Family constants. Ordinal aliases exist because older saved
// configurations stored the family as an integer; ParseFamily accepts both.
const (
	FamilySocketRig Family = "socketrig"
	FamilyPolledRig Family = "polledrig"
	FamilyLineAcc   Family = "lineacc"
)

// AllFamilies returns all valid family values.
func AllFamilies() []Family {
	return []Family{FamilySocketRig, FamilyPolledRig, FamilyLineAcc}
}

// ParseFamily normalizes a stored family value to the canonical enum.
// It accepts the canonical name, any casing, or the legacy ordinal
// ("0" socketrig, "1" polledrig, "2" lineacc). Raw stored values are
// never trusted downstream of this decode step.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "socketrig", "0":
		return FamilySocketRig, nil
	case "polledrig", "1":
		return FamilyPolledRig, nil
	case "lineacc", "2":
		return FamilyLineAcc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
	}
}

// Origin records how a descriptor entered the registry.
type Origin string

// Origin constants.
const (
	OriginDiscovered Origin = "discovered"
	OriginManual     Origin = "manual"
)

// Capability represents a query or control surface a device supports.
type Capability string

// Capability constants.
const (
	CapFrequency Capability = "frequency"
	CapMode      Capability = "mode"
	CapPTT       Capability = "ptt"
	CapPower     Capability = "power"
	CapCW        Capability = "cw"
	CapAntenna   Capability = "antenna"
)

// AllCapabilities returns all valid capability values.
func AllCapabilities() []Capability {
	return []Capability{CapFrequency, CapMode, CapPTT, CapPower, CapCW, CapAntenna}
}

// ParseCapabilities decodes a comma-separated capability list from a
// discovery broadcast. Unknown tokens are skipped rather than rejected:
// newer firmware may advertise capabilities this plane does not drive.
func ParseCapabilities(s string) []Capability {
	if s == "" {
		return nil
	}
	known := make(map[Capability]bool, len(AllCapabilities()))
	for _, c := range AllCapabilities() {
		known[c] = true
	}
	var caps []Capability
	for _, tok := range strings.Split(s, ",") {
		c := Capability(strings.ToLower(strings.TrimSpace(tok)))
		if known[c] {
			caps = append(caps, c)
		}
	}
	return caps
}

// ConnectionState is the lifecycle state of a device's command connection.
type ConnectionState string

// ConnectionState constants.
const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionDiscovering  ConnectionState = "discovering"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionMonitoring   ConnectionState = "monitoring"
	ConnectionError        ConnectionState = "error"
)

// AllConnectionStates returns all valid connection state values.
func AllConnectionStates() []ConnectionState {
	return []ConnectionState{
		ConnectionDisconnected, ConnectionDiscovering, ConnectionConnecting,
		ConnectionConnected, ConnectionMonitoring, ConnectionError,
	}
}

// Descriptor identifies a radio or accessory device. Immutable once
// created; the registry replaces descriptors wholesale on refresh.
type Descriptor struct {
	// ID is the stable identity: family plus serial when the device
	// advertises one, family plus address otherwise. See DeviceID.
	ID     string `json:"id"`
	Family Family `json:"family"`
	Model  string `json:"model,omitempty"`
	Serial string `json:"serial,omitempty"`

	// Address is host:port for networked devices, a device path for
	// local ones.
	Address string `json:"address"`

	Capabilities []Capability `json:"capabilities,omitempty"`
	Origin       Origin       `json:"origin"`
	Version      string       `json:"version,omitempty"`

	// Slices is the number of independently tunable sub-channels the
	// device advertises. Zero means the device has a single VFO.
	Slices int `json:"slices,omitempty"`
}

// DeviceID derives the stable registry key for a device.
// Serial-bearing devices keep their identity across DHCP renumbering;
// everything else is keyed by where we reach it.
func DeviceID(family Family, serial, address string) string {
	if serial != "" {
		return fmt.Sprintf("%s-%s", family, strings.ToLower(serial))
	}
	sanitized := strings.NewReplacer(":", "-", "/", "-").Replace(address)
	return fmt.Sprintf("%s-%s", family, sanitized)
}

// DeepCopy creates an independent copy of the Descriptor.
// The capability slice is cloned so modifications to the copy do not
// affect the original. This is essential for cache isolation.
func (d *Descriptor) DeepCopy() *Descriptor {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	if d.Capabilities != nil {
		cpy.Capabilities = make([]Capability, len(d.Capabilities))
		copy(cpy.Capabilities, d.Capabilities)
	}

	return &cpy
}

// HasCapability reports whether the descriptor advertises a capability.
func (d *Descriptor) HasCapability(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// State is the canonical last-known operating state of a device.
// Fields hold only values actually observed on the wire; the sole
// derived fields are Band (from the band plan) and Stale.
type State struct {
	FrequencyHz  int64  `json:"frequency_hz"`
	Mode         string `json:"mode"`
	Transmitting bool   `json:"transmitting"`
	Band         string `json:"band,omitempty"`

	// Slice is the sub-channel the state refers to, empty for
	// single-VFO devices.
	Slice string `json:"slice,omitempty"`

	// Stale marks the state as a frozen last-known snapshot rather than
	// a live mirror. Set synchronously whenever monitoring stops.
	Stale bool `json:"stale"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DiscoveryRecord is the ephemeral registry entry for a device:
// descriptor plus liveness bookkeeping from its periodic broadcasts.
type DiscoveryRecord struct {
	Descriptor Descriptor `json:"descriptor"`

	// LastSeen is refreshed on every received broadcast.
	LastSeen time.Time `json:"last_seen"`

	// IntervalSec is the broadcast cadence the device advertises.
	// Expiry is a configured multiple of this interval.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Payload carries the raw broadcast fields (firmware version,
	// uptime, capability counts) for display and diagnostics.
	Payload map[string]string `json:"payload,omitempty"`
}

// Interval returns the advertised broadcast cadence, defaulting to one
// second when the device does not announce one.
func (rec *DiscoveryRecord) Interval() time.Duration {
	if rec.IntervalSec <= 0 {
		return time.Second
	}
	return time.Duration(rec.IntervalSec) * time.Second
}

// DeepCopy creates an independent copy of the DiscoveryRecord.
func (rec *DiscoveryRecord) DeepCopy() *DiscoveryRecord {
	if rec == nil {
		return nil
	}

	cpy := *rec
	cpy.Descriptor = *rec.Descriptor.DeepCopy()

	if rec.Payload != nil {
		cpy.Payload = make(map[string]string, len(rec.Payload))
		for k, v := range rec.Payload {
			cpy.Payload[k] = v
		}
	}

	return &cpy
}
