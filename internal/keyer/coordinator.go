// Package keyer serializes CW keying per radio: one send in flight at
// a time, a stop that always wins immediately, and speed changes that
// leave an in-flight send running.
package keyer

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/log4ym/station-core/internal/adapter"
)

// Speed limits and defaults, in words per minute.
const (
	MinWPM     = 5
	MaxWPM     = 60
	DefaultWPM = 20

	// stopTimeout bounds the key-up command issued while unwinding a
	// cancelled send.
	stopTimeout = 2 * time.Second
)

// Pacing in PARIS units: a dot is one unit, 1200/wpm milliseconds.
// An average character spans about thirteen units including its
// inter-character gap; seven more separate words.
const (
	charUnits    = 13
	wordGapUnits = 7
)

// Sender routes commands to a monitored radio. Satisfied by the
// supervisor manager.
type Sender interface {
	Send(ctx context.Context, deviceID string, cmd adapter.Command) (adapter.Ack, error)
}

// Limits bounds accepted keying speeds for one coordinator. Zero
// fields fall back to the package defaults.
type Limits struct {
	MinWPM     int
	MaxWPM     int
	DefaultWPM int
}

func (l *Limits) applyDefaults() {
	if l.MinWPM <= 0 {
		l.MinWPM = MinWPM
	}
	if l.MaxWPM <= 0 {
		l.MaxWPM = MaxWPM
	}
	if l.DefaultWPM <= 0 {
		l.DefaultWPM = DefaultWPM
	}
}

// Logger is the minimal logging interface the keyer needs.
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

// Stats holds keying counters.
type Stats struct {
	Started   uint64 `json:"started"`
	Completed uint64 `json:"completed"`
	Stopped   uint64 `json:"stopped"`
	Errors    uint64 `json:"errors"`
	Active    int    `json:"active"`
}

// session is one in-flight send for one radio.
type session struct {
	cancel context.CancelFunc
	done   chan struct{}
	wpm    atomic.Int32
}

// Coordinator owns the per-radio keying slots.
type Coordinator struct {
	sender Sender
	logger Logger
	limits Limits

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]*session
	closed bool

	started   atomic.Uint64
	completed atomic.Uint64
	stopped   atomic.Uint64
	errors    atomic.Uint64
}

// New creates a keying coordinator. ctx bounds every send it starts.
func New(ctx context.Context, sender Sender, logger Logger) *Coordinator {
	if logger == nil {
		logger = noopLogger{}
	}
	var limits Limits
	limits.applyDefaults()
	runCtx, cancel := context.WithCancel(ctx)
	return &Coordinator{
		sender: sender,
		logger: logger,
		limits: limits,
		ctx:    runCtx,
		cancel: cancel,
		active: make(map[string]*session),
	}
}

// SetLimits replaces the speed bounds. Call before the first Send.
func (c *Coordinator) SetLimits(l Limits) {
	l.applyDefaults()
	c.limits = l
}

// Send keys text on the radio, word by word, paced to the keying
// speed. It claims the radio's slot and returns immediately; the
// transmission continues in the background until it completes, fails,
// or a stop wins. A second send while one is in flight returns
// ErrKeyerBusy.
//
// ctx covers only the synchronous speed-set handshake; the
// transmission itself is bounded by the coordinator's lifetime.
func (c *Coordinator) Send(ctx context.Context, radioID, text string, wpm int) error {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ErrEmptyText
	}
	if wpm == 0 {
		wpm = c.limits.DefaultWPM
	}
	if wpm < c.limits.MinWPM || wpm > c.limits.MaxWPM {
		return ErrInvalidSpeed
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, busy := c.active[radioID]; busy {
		c.mu.Unlock()
		return ErrKeyerBusy
	}
	sessCtx, cancel := context.WithCancel(c.ctx)
	sess := &session{cancel: cancel, done: make(chan struct{})}
	sess.wpm.Store(int32(wpm))
	c.active[radioID] = sess
	c.mu.Unlock()

	// Set the radio's keying speed before the first word; a rejected
	// speed releases the slot with nothing sent.
	if _, err := c.sender.Send(ctx, radioID, adapter.Command{Op: adapter.OpSetCWSpeed, WPM: wpm}); err != nil {
		c.release(radioID, sess)
		cancel()
		close(sess.done)
		return err
	}

	c.started.Add(1)
	c.logger.Info("CW send started", "radio_id", radioID, "words", len(words), "wpm", wpm)

	c.wg.Add(1)
	go c.run(sessCtx, radioID, sess, words)
	return nil
}

// run transmits words until done or cancelled. Cancellation between
// words is immediate; a key-up command chases whatever the radio has
// buffered.
func (c *Coordinator) run(ctx context.Context, radioID string, sess *session, words []string) {
	defer c.wg.Done()
	defer close(sess.done)
	defer c.release(radioID, sess)

	for i, word := range words {
		if ctx.Err() != nil {
			c.keyUp(radioID)
			c.stopped.Add(1)
			return
		}

		wpm := int(sess.wpm.Load())
		cmd := adapter.Command{Op: adapter.OpSendCW, Text: word, WPM: wpm}
		if _, err := c.sender.Send(ctx, radioID, cmd); err != nil {
			if ctx.Err() != nil {
				c.keyUp(radioID)
				c.stopped.Add(1)
				return
			}
			c.errors.Add(1)
			c.logger.Warn("CW send failed", "radio_id", radioID, "word", i, "error", err)
			return
		}

		if !sleepCtx(ctx, wordDuration(word, wpm)) {
			c.keyUp(radioID)
			c.stopped.Add(1)
			return
		}
	}

	c.completed.Add(1)
	c.logger.Info("CW send completed", "radio_id", radioID, "words", len(words))
}

// Stop cancels any in-flight send for the radio and waits for its
// key-up. Stopping an idle radio still sends the key-up command: the
// radio may be keying from a source this plane did not start.
func (c *Coordinator) Stop(ctx context.Context, radioID string) error {
	c.mu.Lock()
	sess := c.active[radioID]
	c.mu.Unlock()

	if sess == nil {
		_, err := c.sender.Send(ctx, radioID, adapter.Command{Op: adapter.OpStopCW})
		return err
	}

	sess.cancel()
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetSpeed changes the radio's keying speed. An in-flight send keeps
// running and paces its remaining words at the new speed.
func (c *Coordinator) SetSpeed(ctx context.Context, radioID string, wpm int) error {
	if wpm < c.limits.MinWPM || wpm > c.limits.MaxWPM {
		return ErrInvalidSpeed
	}

	if _, err := c.sender.Send(ctx, radioID, adapter.Command{Op: adapter.OpSetCWSpeed, WPM: wpm}); err != nil {
		return err
	}

	c.mu.Lock()
	if sess := c.active[radioID]; sess != nil {
		sess.wpm.Store(int32(wpm))
	}
	c.mu.Unlock()
	return nil
}

// Active reports whether a send is in flight for the radio.
func (c *Coordinator) Active(radioID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.active[radioID]
	return busy
}

// GetStats returns the keying counters.
func (c *Coordinator) GetStats() Stats {
	c.mu.Lock()
	active := len(c.active)
	c.mu.Unlock()

	return Stats{
		Started:   c.started.Load(),
		Completed: c.completed.Load(),
		Stopped:   c.stopped.Load(),
		Errors:    c.errors.Load(),
		Active:    active,
	}
}

// Close cancels every in-flight send and waits for their key-ups.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// release frees the radio's slot if sess still owns it.
func (c *Coordinator) release(radioID string, sess *session) {
	c.mu.Lock()
	if c.active[radioID] == sess {
		delete(c.active, radioID)
	}
	c.mu.Unlock()
}

// keyUp sends the stop command outside the session context, which is
// usually already cancelled by the time a key-up is needed.
func (c *Coordinator) keyUp(radioID string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if _, err := c.sender.Send(ctx, radioID, adapter.Command{Op: adapter.OpStopCW}); err != nil {
		c.logger.Warn("CW key-up failed", "radio_id", radioID, "error", err)
	}
}

// wordDuration estimates on-air time for one word at the given speed
// using the PARIS convention: a dot lasts 1200/wpm milliseconds.
func wordDuration(word string, wpm int) time.Duration {
	if wpm <= 0 {
		wpm = DefaultWPM
	}
	unit := 1200 * time.Millisecond / time.Duration(wpm)
	units := len(word)*charUnits + wordGapUnits
	return time.Duration(units) * unit
}

// sleepCtx waits for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
