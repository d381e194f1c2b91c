// Package telemetry mirrors the event hub onto external sinks.
//
// The exporter attaches to the hub as an ordinary subscriber and
// forwards every event it sees:
//
//   - MQTT: connection and state events are published retained on
//     per-device topics so late joiners get the current picture,
//     discovery and digital-mode events on the shared topics. The
//     payload is the hub event JSON, so MQTT consumers and WebSocket
//     clients read the same wire shape.
//   - InfluxDB: state snapshots, digital-mode decodes and logged
//     contacts become points in the radio_state, digimode_decode and
//     qso_logged measurements.
//
// It also runs the MQTT command intake: messages on
// log4ym/radio/<id>/set carrying {"frequency_hz":...}, {"mode":"..."}
// or {"ptt":...} are routed to the supervisor manager, giving wall
// panels and automations the same tuning surface as the REST API.
//
// Either sink may be absent. A nil broker turns the exporter into an
// InfluxDB-only recorder; a nil metrics writer leaves pure MQTT
// mirroring. Export is best effort: a failed publish is counted and
// logged, never retried, because the hub's retained topics and the
// WebSocket rehydrate path already recover state for late consumers.
package telemetry
