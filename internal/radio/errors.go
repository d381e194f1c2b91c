package radio

import "errors"

// Domain errors shared across the control plane. Adapters return these
// (wrapped with transport context) and the supervisor translates them
// into connection state transitions; nothing below the supervisor
// decides retry policy.
var (
	// ErrConnectFailed is returned when the transport refuses or times
	// out before a session is established. Retried with backoff.
	ErrConnectFailed = errors.New("radio: connect failed")

	// ErrAuthRequired is returned when the remote rejects a missing or
	// incorrect credential. Surfaced distinctly so the UI can prompt
	// instead of retrying silently.
	ErrAuthRequired = errors.New("radio: authentication required")

	// ErrProtocolError is returned when the transport is healthy but a
	// response is semantically invalid. Not retried automatically.
	ErrProtocolError = errors.New("radio: protocol error")

	// ErrMalformedFrame is returned when a discovery or digital-mode
	// datagram cannot be parsed. Dropped and counted, never fatal.
	ErrMalformedFrame = errors.New("radio: malformed frame")

	// ErrNotFound is returned when a device id is not in the registry.
	ErrNotFound = errors.New("radio: device not found")

	// ErrDeviceExists is returned when adding a manual device whose id
	// is already registered.
	ErrDeviceExists = errors.New("radio: device already registered")

	// ErrUnknownFamily is returned when a stored family value cannot be
	// normalized to a known adapter family.
	ErrUnknownFamily = errors.New("radio: unknown device family")
)
