package wirelog

import (
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects capture events. Zero/nil fields match everything.
type Filter struct {
	// DeviceID matches the canonical device id exactly.
	DeviceID string

	// Direction matches the traffic direction.
	Direction *Direction

	// Since matches events at or after this time.
	Since *time.Time

	// Until matches events before this time.
	Until *time.Time
}

// matches reports whether the event passes every set criterion.
func (f *Filter) matches(ev Event) bool {
	if f.DeviceID != "" && ev.DeviceID != f.DeviceID {
		return false
	}
	if f.Direction != nil && ev.Direction != *f.Direction {
		return false
	}
	if f.Since != nil && ev.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !ev.Timestamp.Before(*f.Until) {
		return false
	}
	return true
}

// Reader streams events back out of a capture file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens a capture file for reading all events.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture file, returning only events that
// match the filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:    f,
		decoder: NewDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching event, or io.EOF when the capture is
// exhausted.
func (r *Reader) Next() (Event, error) {
	for {
		var ev Event
		if err := r.decoder.Decode(&ev); err != nil {
			if err == io.EOF {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.matches(ev) {
			return ev, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
