// Package api implements the HTTP REST API and WebSocket server for
// the station core.
//
// This package provides:
//   - REST endpoints for radio registration, connection control, rig
//     commands (frequency, mode, PTT), and CW keying
//   - A WebSocket event stream backed by a hub subscriber, rehydrated
//     on attach so clients start from the full current picture
//   - Middleware stack (request ID, logging, recovery, CORS, body
//     size limit, optional bearer-token auth)
//   - TLS support for exposed deployments
//
// # Architecture
//
// The API server sits between user interfaces (logging programs, web
// dashboards, remote heads) and the supervisor manager + event hub.
// Commands flow through the supervisor to the per-radio adapters and
// confirmed results flow back as hub events, which the WebSocket
// stream relays as JSON.
//
// # Security
//
// Authentication is an optional static bearer token compared in
// constant time. An empty configured token disables auth; WebSocket
// clients may pass the token as a query parameter since browsers
// cannot set headers on WebSocket dials.
//
// # Graceful Degradation
//
// The server operates without MQTT, InfluxDB, discovery, or the
// digital-mode bridge — those components only enrich /metrics when
// present. Radio control requires only the supervisor manager.
package api
