package hub

import "errors"

var (
	// ErrSubscriberClosed is returned by Next once a closed
	// subscriber's queue has been drained.
	ErrSubscriberClosed = errors.New("hub: subscriber closed")

	// ErrUnknownSubscriber is returned when an operation references a
	// subscriber ID the hub is not tracking.
	ErrUnknownSubscriber = errors.New("hub: unknown subscriber")
)
