// Package mqtt provides MQTT client connectivity for the station core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the station's integration surface: the telemetry exporter
// mirrors radio connection/state and digital-mode traffic onto
// log4ym/... topics, and external clients drive radios by publishing
// to the per-radio command intake.
//
//	station core → MQTT Broker ← loggers / panels / scripts
//	station core ← log4ym/radio/+/set ← external clients
//
// Retained state topics mean a client attaching mid-session sees the
// current picture immediately, the same guarantee the WebSocket
// surface gives through rehydration.
//
// # Security Considerations
//
//   - TLS is recommended off the shack LAN (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Mirror a radio's state for anyone listening
//	topic := mqtt.Topics{}.RadioState("socketrig-a1b2")
//	client.PublishRetained(topic, stateJSON)
//
//	// Accept frequency/mode/ptt commands from external clients
//	client.Subscribe(mqtt.Topics{}.AllRadioSets(), 1,
//	    func(topic string, payload []byte) error {
//	        deviceID, _ := mqtt.Topics{}.DeviceFromSet(topic)
//	        return applyCommand(deviceID, payload)
//	    })
package mqtt
