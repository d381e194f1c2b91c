// Package wirelog captures raw adapter traffic to a rotated CBOR file.
//
// Each line an adapter sends or receives becomes one Event with a
// nanosecond timestamp, the canonical device id, and the raw bytes.
// Integer CBOR keys keep long captures small. The digital-mode bridge
// also records frames it drops, tagged with the drop reason, so a bad
// peer can be diagnosed from the capture alone.
//
// Capture is strictly diagnostic: the recorder writes inline on the
// adapter I/O path and stays disabled unless a capture path is
// configured. Reader streams a capture back, optionally filtered by
// device, direction, or time window.
package wirelog
