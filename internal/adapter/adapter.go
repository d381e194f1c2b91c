package adapter

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/log4ym/station-core/internal/radio"
)

// Default timeouts shared by the adapter families.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 30 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultCommandTimeout = 5 * time.Second

	// deltaBufferSize bounds the state-delta channel. The supervisor
	// drains it continuously; overflow drops the delta and counts it.
	deltaBufferSize = 64

	// maxLineBytes bounds a single protocol line on the wire.
	maxLineBytes = 4096
)

// Op identifies a command an adapter can carry to its device.
type Op string

const (
	OpSetFrequency Op = "set_frequency"
	OpSetMode      Op = "set_mode"
	OpSetPTT       Op = "set_ptt"
	OpSetPower     Op = "set_power"
	OpSendCW       Op = "send_cw"
	OpStopCW       Op = "stop_cw"
	OpSetCWSpeed   Op = "set_cw_speed"
)

// Command is one request to a device. Only the fields relevant to Op
// are read.
type Command struct {
	Op          Op
	FrequencyHz int64
	Mode        string
	PTT         bool
	PowerWatts  int
	Text        string
	WPM         int
}

// Ack is the device's acknowledgement of a command. Data carries the
// single-line response payload when the protocol returns one; Rows
// carries multi-row payloads.
type Ack struct {
	Data string
	Rows []string
}

// Delta is one observed change of radio state. Nil fields were not
// reported in the underlying frame; values present were read from the
// wire, never invented.
type Delta struct {
	FrequencyHz  *int64
	Mode         *string
	Transmitting *bool
	Slice        *string
}

// Empty reports whether the delta carries no fields.
func (d Delta) Empty() bool {
	return d.FrequencyHz == nil && d.Mode == nil && d.Transmitting == nil && d.Slice == nil
}

// Direction tags raw wire traffic for the diagnostic tap.
type Direction string

const (
	DirTX Direction = "tx"
	DirRX Direction = "rx"
)

// Tap observes raw wire lines for diagnostics. Called inline on the
// adapter's I/O path, so implementations must be fast and non-blocking.
type Tap func(direction Direction, line []byte)

// Stats holds per-adapter transport counters.
type Stats struct {
	LinesTx       uint64    `json:"lines_tx"`
	LinesRx       uint64    `json:"lines_rx"`
	DeltasDropped uint64    `json:"deltas_dropped"`
	ErrorsTotal   uint64    `json:"errors_total"`
	LastActivity  time.Time `json:"last_activity"`
	Connected     bool      `json:"connected"`
}

// Logger is the minimal logging interface adapters need.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Adapter is the common capability interface over one device
// connection. Connect dials and completes the protocol handshake;
// Subscribe establishes the state feed, after which Deltas carries
// observed changes until the connection dies or Disconnect is called.
//
// Adapters never retry: a dead transport surfaces exactly once on
// Fatal() and the adapter is finished. Retry policy belongs to the
// connection supervisor.
type Adapter interface {
	Family() radio.Family
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, cmd Command) (Ack, error)
	Deltas() <-chan Delta
	Fatal() <-chan error
	Stats() Stats
}

// closeOnce wraps a channel with sync.Once to prevent double-close
// panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// parseDeltaFields maps space-separated key=value tokens onto a Delta.
// Unknown keys and unparseable values are skipped; the second return
// reports whether any field was recognized.
func parseDeltaFields(s string) (Delta, bool) {
	var d Delta
	for _, tok := range strings.Fields(s) {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		switch key {
		case "freq":
			hz, err := strconv.ParseInt(value, 10, 64)
			if err != nil || hz < 0 {
				continue
			}
			d.FrequencyHz = &hz
		case "mode":
			if value == "" {
				continue
			}
			mode := strings.ToUpper(value)
			d.Mode = &mode
		case "ptt":
			on := value == "on" || value == "1" || value == "true"
			d.Transmitting = &on
		case "slice":
			if value == "" {
				continue
			}
			slice := value
			d.Slice = &slice
		}
	}
	return d, !d.Empty()
}

// waitGroupDone waits for wg bounded by ctx. Returns ctx.Err() when the
// wait did not finish in time.
func waitGroupDone(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
