package keyer

import "errors"

var (
	// ErrKeyerBusy is returned when a send is already in flight for
	// the radio. The caller decides whether to retry after stopping.
	ErrKeyerBusy = errors.New("keyer: send already in flight")

	// ErrEmptyText is returned for a send with nothing to key.
	ErrEmptyText = errors.New("keyer: empty text")

	// ErrInvalidSpeed is returned when the requested speed is outside
	// the keyable range.
	ErrInvalidSpeed = errors.New("keyer: speed out of range")

	// ErrClosed is returned once the coordinator has shut down.
	ErrClosed = errors.New("keyer: coordinator closed")
)
