package adapter

import "errors"

var (
	// ErrNotConnected is returned when a command is sent before Connect
	// succeeded or after the connection died.
	ErrNotConnected = errors.New("adapter: not connected")

	// ErrAlreadyConnected is returned by Connect on a live adapter.
	ErrAlreadyConnected = errors.New("adapter: already connected")

	// ErrCommandRejected is returned when the device answered a command
	// with an error status.
	ErrCommandRejected = errors.New("adapter: command rejected by device")

	// ErrCommandTimeout is returned when the device did not answer a
	// command within the command timeout.
	ErrCommandTimeout = errors.New("adapter: command timed out")

	// ErrUnsupportedOp is returned for an Op the adapter family cannot
	// express on its wire protocol.
	ErrUnsupportedOp = errors.New("adapter: unsupported operation")

	// ErrClosed is returned for operations on an adapter that has been
	// torn down.
	ErrClosed = errors.New("adapter: closed")
)
