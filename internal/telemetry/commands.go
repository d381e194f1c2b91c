package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// commandTimeout bounds one intake command end to end. Polled rigs
// serialize writes behind reads, so allow a few poll cycles.
const commandTimeout = 5 * time.Second

// setCommand is the payload accepted on log4ym/radio/<id>/set. Fields
// are pointers so "absent" and "zero" stay distinguishable; a message
// may carry several fields and they apply in declaration order.
type setCommand struct {
	FrequencyHz *int64  `json:"frequency_hz,omitempty"`
	Mode        *string `json:"mode,omitempty"`
	PTT         *bool   `json:"ptt,omitempty"`
}

// handleSet routes one set-topic message to the supervisor manager.
// The returned error surfaces through the MQTT client's handler
// logging; intake never replies on the wire.
func (e *Exporter) handleSet(topic string, payload []byte) error {
	deviceID, ok := e.topics.DeviceFromSet(topic)
	if !ok {
		e.commandsRejected.Add(1)
		return fmt.Errorf("not a set topic: %s", topic)
	}

	var cmd setCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		e.commandsRejected.Add(1)
		return fmt.Errorf("parse set command for %s: %w", deviceID, err)
	}
	if cmd.FrequencyHz == nil && cmd.Mode == nil && cmd.PTT == nil {
		e.commandsRejected.Add(1)
		return fmt.Errorf("set command for %s carries no fields", deviceID)
	}

	// Derive from the exporter context so shutdown aborts in-flight
	// commands.
	ctx, cancel := context.WithTimeout(e.ctx, commandTimeout)
	defer cancel()

	if cmd.FrequencyHz != nil {
		if err := e.sink.SetFrequency(ctx, deviceID, *cmd.FrequencyHz); err != nil {
			e.commandsRejected.Add(1)
			return fmt.Errorf("set frequency on %s: %w", deviceID, err)
		}
		e.logger.Debug("Intake set frequency", "device_id", deviceID, "frequency_hz", *cmd.FrequencyHz)
	}
	if cmd.Mode != nil {
		if err := e.sink.SetMode(ctx, deviceID, *cmd.Mode); err != nil {
			e.commandsRejected.Add(1)
			return fmt.Errorf("set mode on %s: %w", deviceID, err)
		}
		e.logger.Debug("Intake set mode", "device_id", deviceID, "mode", *cmd.Mode)
	}
	if cmd.PTT != nil {
		if err := e.sink.SetPTT(ctx, deviceID, *cmd.PTT); err != nil {
			e.commandsRejected.Add(1)
			return fmt.Errorf("set ptt on %s: %w", deviceID, err)
		}
		e.logger.Debug("Intake set ptt", "device_id", deviceID, "ptt", *cmd.PTT)
	}

	e.commandsApplied.Add(1)
	return nil
}
