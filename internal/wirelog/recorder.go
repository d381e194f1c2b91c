package wirelog

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/log4ym/station-core/internal/adapter"
)

// defaultMaxDataBytes caps the raw bytes kept per event. Lines longer
// than the cap keep their full Size but truncated Data.
const defaultMaxDataBytes = 512

// Config controls the capture file and rotation.
type Config struct {
	// Path is the capture file. Rotated siblings live next to it.
	Path string `yaml:"path"`

	// MaxSize is the rotation threshold in megabytes.
	MaxSize int `yaml:"max_size"`

	// MaxBackups is how many rotated captures to keep.
	MaxBackups int `yaml:"max_backups"`

	// MaxAge is how many days to keep rotated captures.
	MaxAge int `yaml:"max_age"`

	// Compress gzips rotated captures.
	Compress bool `yaml:"compress"`

	// MaxDataBytes caps the raw bytes stored per event.
	MaxDataBytes int `yaml:"max_data_bytes"`
}

// Stats holds capture counters.
type Stats struct {
	Events    uint64 `json:"events"`
	Rx        uint64 `json:"rx"`
	Tx        uint64 `json:"tx"`
	Truncated uint64 `json:"truncated"`
}

// Recorder appends capture events to a rotated CBOR file.
// A capture write must never disrupt the adapter it observes, so
// encode errors are swallowed and Record never blocks on anything
// but the file write itself.
//
// Thread Safety: all methods are safe for concurrent use.
type Recorder struct {
	sink    io.WriteCloser
	encoder *cbor.Encoder
	maxData int

	mu     sync.Mutex
	closed bool

	events    atomic.Uint64
	rx        atomic.Uint64
	tx        atomic.Uint64
	truncated atomic.Uint64
}

// NewRecorder creates a recorder writing to cfg.Path. The file is
// created lazily on the first event, so construction cannot fail.
func NewRecorder(cfg Config) *Recorder {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 14
	}
	if cfg.MaxDataBytes <= 0 {
		cfg.MaxDataBytes = defaultMaxDataBytes
	}

	sink := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return &Recorder{
		sink:    sink,
		encoder: NewEncoder(sink),
		maxData: cfg.MaxDataBytes,
	}
}

// TapFor returns an adapter tap that records the device's raw lines.
// The write happens inline on the adapter's I/O path.
func (r *Recorder) TapFor(deviceID string) adapter.Tap {
	return func(dir adapter.Direction, line []byte) {
		d := DirectionRx
		if dir == adapter.DirTX {
			d = DirectionTx
		}
		r.Record(Event{DeviceID: deviceID, Direction: d, Data: line})
	}
}

// RecordDropped captures a frame rejected before decoding, tagged with
// the reason it was dropped.
func (r *Recorder) RecordDropped(source string, frame []byte, reason string) {
	r.Record(Event{DeviceID: source, Direction: DirectionRx, Data: frame, Note: reason})
}

// Record writes one event to the capture file. A zero Timestamp is
// stamped with the current time; Size always reflects the full line
// even when Data is cut at the capture limit. Events after Close are
// silently discarded.
func (r *Recorder) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Size = len(ev.Data)
	if len(ev.Data) > r.maxData {
		ev.Data = ev.Data[:r.maxData]
		ev.Truncated = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if err := r.encoder.Encode(ev); err != nil {
		return
	}

	r.events.Add(1)
	switch ev.Direction {
	case DirectionRx:
		r.rx.Add(1)
	case DirectionTx:
		r.tx.Add(1)
	}
	if ev.Truncated {
		r.truncated.Add(1)
	}
}

// GetStats returns the capture counters.
func (r *Recorder) GetStats() Stats {
	return Stats{
		Events:    r.events.Load(),
		Rx:        r.rx.Load(),
		Tx:        r.tx.Load(),
		Truncated: r.truncated.Load(),
	}
}

// Close stops the capture and closes the file. Safe to call twice;
// later Record calls are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.sink.Close()
}
