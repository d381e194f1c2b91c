// Package adapter implements the per-family device protocols behind
// one capability interface.
//
// Three families are supported:
//
//	┌───────────────┬──────────────────────────────────────────────┐
//	│ SocketRig     │ persistent duplex TCP, newline-delimited     │
//	│               │ text, seq-correlated commands, pushed state  │
//	├───────────────┼──────────────────────────────────────────────┤
//	│ PolledRig     │ synchronous rig library (rigctld backend),   │
//	│               │ all calls serialized on one worker, state    │
//	│               │ read by a poll ticker                        │
//	├───────────────┼──────────────────────────────────────────────┤
//	│ LineAccessory │ C<seq>|cmd → R<seq>|status|payload text      │
//	│               │ protocol with multi-row responses and seq-0  │
//	│               │ asynchronous pushes                          │
//	└───────────────┴──────────────────────────────────────────────┘
//
// All families share the same lifecycle: Connect (dial, handshake,
// auth), Subscribe (establish the state feed), then Deltas carries
// observed changes and Send carries commands until Disconnect or a
// transport failure.
//
// Adapters never retry. A dead transport fails pending commands,
// closes the delta channel, and delivers exactly one error on Fatal();
// the connection supervisor decides whether and when to build a new
// adapter. Every value emitted as a Delta was read from the wire.
package adapter
