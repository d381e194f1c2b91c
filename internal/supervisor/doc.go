// Package supervisor drives device connections through their
// lifecycle. One Supervisor per device owns the state machine
// (disconnected → connecting → connected → monitoring, any state →
// error) and the retry policy; adapters stay dumb pipes and never
// retry on their own.
//
// Retry policy: failed connect attempts back off exponentially with
// jitter up to a cap, bounded by a per-campaign attempt limit.
// Credential and protocol errors stop the campaign at once, since
// retrying cannot fix them. A manual disconnect is honored
// immediately, interrupting backoff waits and in-flight attempts, and
// teardown is bounded: an adapter that will not die within the budget
// is abandoned rather than letting shutdown hang.
//
// The Manager is the single registry of supervisors. It enforces the
// at-most-one invariant per device id and is the command surface
// (frequency, mode with offset correction, PTT) used by the API, the
// telemetry exporter, and the CW keyer.
package supervisor
