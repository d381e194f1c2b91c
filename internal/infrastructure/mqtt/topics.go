package mqtt

import (
	"fmt"
	"strings"
)

// Topic scheme: log4ym/{area}/...
//
// Radio topics carry the canonical device id; digimode topics are
// station-wide streams keyed by the sending client inside the payload.
const (
	// TopicPrefix is the base for all station topics.
	TopicPrefix = "log4ym"

	// TopicPrefixRadio is the base for per-radio topics.
	TopicPrefixRadio = "log4ym/radio"

	// TopicPrefixDigimode is the base for digital-mode stream topics.
	TopicPrefixDigimode = "log4ym/digimode"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "log4ym/system"
)

// Topics provides builders for station MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.RadioState("socketrig-a1b2c3")
//	// Returns: "log4ym/radio/socketrig-a1b2c3/state"
type Topics struct{}

// RadioConnection returns the retained connection-state topic for a radio.
//
// Example: log4ym/radio/socketrig-a1b2c3/connection
func (Topics) RadioConnection(deviceID string) string {
	return fmt.Sprintf("%s/%s/connection", TopicPrefixRadio, deviceID)
}

// RadioState returns the retained canonical-state topic for a radio.
//
// Example: log4ym/radio/socketrig-a1b2c3/state
func (Topics) RadioState(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixRadio, deviceID)
}

// RadioSet returns the command intake topic for a radio. External
// clients publish `{"frequency_hz":…}` / `{"mode":"…"}` / `{"ptt":…}`
// documents here.
//
// Example: log4ym/radio/socketrig-a1b2c3/set
func (Topics) RadioSet(deviceID string) string {
	return fmt.Sprintf("%s/%s/set", TopicPrefixRadio, deviceID)
}

// Discovery returns the topic for device appearance and removal events.
//
// Example: log4ym/discovery
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery", TopicPrefix)
}

// DigimodeStatus returns the topic for digital-mode client status.
//
// Example: log4ym/digimode/status
func (Topics) DigimodeStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixDigimode)
}

// DigimodeDecode returns the topic for the decode stream.
//
// Example: log4ym/digimode/decode
func (Topics) DigimodeDecode() string {
	return fmt.Sprintf("%s/decode", TopicPrefixDigimode)
}

// DigimodeQSO returns the topic for logged contacts.
//
// Example: log4ym/digimode/qso
func (Topics) DigimodeQSO() string {
	return fmt.Sprintf("%s/qso", TopicPrefixDigimode)
}

// SystemStatus returns the station status topic. Online/offline
// payloads and the broker LWT both land here, retained.
//
// Example: log4ym/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllRadioConnections returns a pattern matching every radio's
// connection-state topic.
//
// Pattern: log4ym/radio/+/connection
func (Topics) AllRadioConnections() string {
	return fmt.Sprintf("%s/+/connection", TopicPrefixRadio)
}

// AllRadioStates returns a pattern matching every radio's state topic.
//
// Pattern: log4ym/radio/+/state
func (Topics) AllRadioStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixRadio)
}

// AllRadioSets returns a pattern matching every radio's command intake.
//
// Pattern: log4ym/radio/+/set
func (Topics) AllRadioSets() string {
	return fmt.Sprintf("%s/+/set", TopicPrefixRadio)
}

// AllTopics returns a pattern matching all station topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: log4ym/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// DeviceFromSet extracts the device id from a wildcard-expanded
// command intake topic. Returns false for topics outside the
// log4ym/radio/<id>/set shape.
func (Topics) DeviceFromSet(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "radio" || parts[3] != "set" {
		return "", false
	}
	if parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
