// Package hub is the event fan-out for the station core. Every state
// change in the system (discovery, connection transitions, radio state
// deltas, digital-mode traffic) flows through one Hub, which caches the
// latest per-device view and distributes events to subscribers over
// bounded queues.
//
// Architecture:
//
//	┌────────────┐  ┌────────────┐  ┌────────────┐
//	│ discovery  │  │ supervisor │  │ digimode   │   publishers
//	└─────┬──────┘  └─────┬──────┘  └─────┬──────┘
//	      │               │               │
//	      ▼               ▼               ▼
//	┌─────────────────────────────────────────────┐
//	│                    Hub                      │
//	│  latest descriptor / connection / state     │
//	│  per device, guarded by one mutex           │
//	└─────┬───────────────┬───────────────┬───────┘
//	      │               │               │
//	      ▼               ▼               ▼
//	┌────────────┐  ┌────────────┐  ┌────────────┐
//	│ websocket  │  │ telemetry  │  │ anything   │   subscribers
//	└────────────┘  └────────────┘  └────────────┘
//
// Delivery rules:
//
//   - Publishing never blocks. A subscriber whose queue is full loses
//     the event; the loss is counted on both sides.
//   - Events for a single device are queued in publish order.
//   - When a device leaves the live connection states, its cached radio
//     state is marked stale and queued state deltas for it are removed
//     in the same critical section, so no subscriber observes a
//     disconnect followed by a frozen "live" reading.
//   - Rehydrate replays the full current snapshot (descriptor, then
//     connection state, then radio state, per device in ID order) into
//     a subscriber's queue, replacing whatever was pending.
//
// Subscribers consume with Next, which blocks until an event arrives,
// the context ends, or the subscriber is closed.
package hub
