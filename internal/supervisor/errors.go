package supervisor

import "errors"

var (
	// ErrNotMonitoring is returned when a command is issued for a
	// device that is not in the monitoring state.
	ErrNotMonitoring = errors.New("supervisor: device not monitoring")

	// ErrNotStarted is returned for operations on a supervisor whose
	// run loop is not running.
	ErrNotStarted = errors.New("supervisor: not started")

	// ErrUnknownDevice is returned by the manager when no supervisor
	// exists for the device id.
	ErrUnknownDevice = errors.New("supervisor: unknown device")

	// ErrManagerClosed is returned once the manager has shut down.
	ErrManagerClosed = errors.New("supervisor: manager closed")
)
