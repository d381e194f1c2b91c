// Package radio provides the device model for the station control plane.
//
// It is the vocabulary every other component speaks: descriptors and
// discovery records for identity, connection and operating state for
// telemetry, plus the pure frequency arithmetic (band plan, CW/sideband
// compensation) that normalizes vendor behaviour.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                        Device Registry                        │
//	│                                                               │
//	│  ┌───────────────┐   ┌────────────────┐   ┌────────────────┐  │
//	│  │   Registry    │   │     Types      │   │  Compensator   │  │
//	│  │ (registry.go) │   │  (types.go)    │   │ (compensate.go)│  │
//	│  │               │   │                │   │                │  │
//	│  │ • Upsert/Get  │   │ • Descriptor   │   │ • CW offset    │  │
//	│  │ • ExpireStale │   │ • State        │   │ • Band plan    │  │
//	│  │ • Thread safe │   │ • Record       │   │   (band.go)    │  │
//	│  └───────────────┘   └────────────────┘   └────────────────┘  │
//	└───────────────────────────────────────────────────────────────┘
//	        ▲                                          ▲
//	        │ upserts from discovery listeners         │ pure calls from
//	        │ and manual configuration                 │ supervisors
//
// # Key Types
//
//   - Descriptor: stable identity of a radio or accessory (immutable)
//   - DiscoveryRecord: descriptor + liveness from periodic broadcasts
//   - ConnectionState: lifecycle of the command connection
//   - State: canonical last-known operating state (frequency/mode/PTT)
//
// # Invariants
//
// A descriptor has at most one live connection state and one live
// adapter at any time; the supervisor layer enforces this. State fields
// hold only values observed on the wire — the compensator's output is a
// documented correction applied to outgoing commands, never invented
// telemetry. Manual devices are exempt from discovery-silence expiry.
//
// # Thread Safety
//
// The Registry is safe for concurrent use from multiple listener
// goroutines. Everything else in the package is immutable or pure.
package radio
