package adapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/log4ym/station-core/internal/radio"
)

// RigLibrary is the synchronous control surface of a natively-linked
// rig backend. Implementations are not required to be safe for
// concurrent use: PolledRig serializes every call through one worker
// goroutine.
type RigLibrary interface {
	Open(ctx context.Context) error
	Close() error

	Frequency() (int64, error)
	SetFrequency(hz int64) error
	Mode() (string, error)
	SetMode(mode string) error
	PTT() (bool, error)
	SetPTT(on bool) error

	SendMorse(text string) error
	StopMorse() error
	SetKeySpeed(wpm int) error
}

// PolledRigConfig holds settings for a polled rig.
type PolledRigConfig struct {
	// PollInterval is the period of the state snapshot loop.
	PollInterval time.Duration

	// CommandTimeout bounds the wait for the worker to run one call.
	CommandTimeout time.Duration
}

func (c *PolledRigConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
}

// maxConsecutivePollFailures is how many back-to-back poll errors are
// tolerated before the backend is declared dead.
const maxConsecutivePollFailures = 3

type rigJob struct {
	fn   func() error
	done chan error
}

// PolledRig adapts a synchronous rig library to the adapter interface.
// The library is called only from one dedicated worker goroutine; a
// poll ticker snapshots frequency, mode, and PTT, and emits a Delta
// whenever an observed value changes.
type PolledRig struct {
	cfg PolledRigConfig
	lib RigLibrary

	jobs chan rigJob

	stateMu   sync.RWMutex
	connected bool
	polling   bool

	lastMu   sync.Mutex
	lastFreq int64
	lastMode string
	lastPTT  bool
	primed   bool

	deltas chan Delta
	fatal  chan error

	done     *closeOnce
	pollStop *closeOnce
	wg       sync.WaitGroup

	logger Logger

	pollsTotal    atomic.Uint64
	pollFailures  atomic.Uint64
	deltasDropped atomic.Uint64
	errorsTotal   atomic.Uint64
	lastActivity  atomic.Int64
}

// NewPolledRig creates an unconnected polled-rig adapter around lib.
func NewPolledRig(cfg PolledRigConfig, lib RigLibrary) *PolledRig {
	cfg.applyDefaults()
	return &PolledRig{
		cfg:      cfg,
		lib:      lib,
		jobs:     make(chan rigJob),
		deltas:   make(chan Delta, deltaBufferSize),
		fatal:    make(chan error, 1),
		done:     newCloseOnce(),
		pollStop: newCloseOnce(),
		logger:   noopLogger{},
	}
}

// SetLogger installs a logger. Call before Connect.
func (a *PolledRig) SetLogger(l Logger) {
	if l != nil {
		a.logger = l
	}
}

// Family reports the adapter family.
func (a *PolledRig) Family() radio.Family {
	return radio.FamilyPolledRig
}

// Connect starts the worker and opens the backend through it.
func (a *PolledRig) Connect(ctx context.Context) error {
	select {
	case <-a.done.Done():
		return ErrClosed
	default:
	}

	a.stateMu.Lock()
	if a.connected {
		a.stateMu.Unlock()
		return ErrAlreadyConnected
	}
	a.stateMu.Unlock()

	a.wg.Add(1)
	go a.worker()

	if err := a.submit(ctx, func() error { return a.lib.Open(ctx) }); err != nil {
		a.done.Close()
		return fmt.Errorf("%w: open backend: %w", radio.ErrConnectFailed, err)
	}

	a.stateMu.Lock()
	a.connected = true
	a.stateMu.Unlock()
	a.lastActivity.Store(time.Now().Unix())

	a.logger.Info("Polled rig backend opened", "poll_interval", a.cfg.PollInterval.String())
	return nil
}

// Subscribe starts the poll loop. The first snapshot emits the full
// current state as a delta.
func (a *PolledRig) Subscribe(_ context.Context) error {
	a.stateMu.Lock()
	if !a.connected {
		a.stateMu.Unlock()
		return ErrNotConnected
	}
	if a.polling {
		a.stateMu.Unlock()
		return nil
	}
	a.polling = true
	a.stateMu.Unlock()

	a.wg.Add(1)
	go a.pollLoop()
	return nil
}

// Send runs one setter on the worker.
func (a *PolledRig) Send(ctx context.Context, cmd Command) (Ack, error) {
	if !a.isConnected() {
		return Ack{}, ErrNotConnected
	}

	var fn func() error
	switch cmd.Op {
	case OpSetFrequency:
		hz := cmd.FrequencyHz
		fn = func() error { return a.lib.SetFrequency(hz) }
	case OpSetMode:
		mode := cmd.Mode
		fn = func() error { return a.lib.SetMode(mode) }
	case OpSetPTT:
		on := cmd.PTT
		fn = func() error { return a.lib.SetPTT(on) }
	case OpSendCW:
		text := cmd.Text
		fn = func() error { return a.lib.SendMorse(text) }
	case OpStopCW:
		fn = func() error { return a.lib.StopMorse() }
	case OpSetCWSpeed:
		wpm := cmd.WPM
		fn = func() error { return a.lib.SetKeySpeed(wpm) }
	default:
		return Ack{}, fmt.Errorf("%w: %s", ErrUnsupportedOp, cmd.Op)
	}

	if err := a.submit(ctx, fn); err != nil {
		a.errorsTotal.Add(1)
		return Ack{}, err
	}
	return Ack{}, nil
}

// submit queues fn on the worker and waits for its result.
func (a *PolledRig) submit(ctx context.Context, fn func() error) error {
	job := rigJob{fn: fn, done: make(chan error, 1)}

	timer := time.NewTimer(a.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case a.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done.Done():
		return ErrClosed
	case <-timer.C:
		return fmt.Errorf("%w: worker busy", ErrCommandTimeout)
	}

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done.Done():
		return ErrClosed
	}
}

// worker owns every call into the rig library.
func (a *PolledRig) worker() {
	defer a.wg.Done()

	for {
		select {
		case <-a.done.Done():
			return
		case job := <-a.jobs:
			job.done <- job.fn()
		}
	}
}

// pollLoop snapshots the rig state once per interval.
func (a *PolledRig) pollLoop() {
	defer a.wg.Done()
	defer close(a.deltas)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case <-a.done.Done():
			return
		case <-a.pollStop.Done():
			return
		case <-ticker.C:
			if err := a.pollOnce(); err != nil {
				consecutiveFailures++
				a.pollFailures.Add(1)
				a.errorsTotal.Add(1)
				a.logger.Warn("Poll failed", "consecutive", consecutiveFailures, "error", err)
				if consecutiveFailures >= maxConsecutivePollFailures {
					a.markDisconnected()
					a.emitFatal(fmt.Errorf("backend unresponsive after %d polls: %w",
						consecutiveFailures, err))
					return
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

// pollOnce reads frequency, mode, and PTT through the worker and emits
// a delta for whatever changed since the previous snapshot.
func (a *PolledRig) pollOnce() error {
	var (
		freq int64
		mode string
		ptt  bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CommandTimeout)
	defer cancel()

	err := a.submit(ctx, func() error {
		var err error
		if freq, err = a.lib.Frequency(); err != nil {
			return fmt.Errorf("frequency: %w", err)
		}
		if mode, err = a.lib.Mode(); err != nil {
			return fmt.Errorf("mode: %w", err)
		}
		if ptt, err = a.lib.PTT(); err != nil {
			return fmt.Errorf("ptt: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.pollsTotal.Add(1)
	a.lastActivity.Store(time.Now().Unix())

	var delta Delta
	a.lastMu.Lock()
	if !a.primed || freq != a.lastFreq {
		f := freq
		delta.FrequencyHz = &f
		a.lastFreq = freq
	}
	if !a.primed || mode != a.lastMode {
		m := mode
		delta.Mode = &m
		a.lastMode = mode
	}
	if !a.primed || ptt != a.lastPTT {
		p := ptt
		delta.Transmitting = &p
		a.lastPTT = ptt
	}
	a.primed = true
	a.lastMu.Unlock()

	if !delta.Empty() {
		a.emitDelta(delta)
	}
	return nil
}

func (a *PolledRig) emitDelta(d Delta) {
	select {
	case a.deltas <- d:
	default:
		a.deltasDropped.Add(1)
		a.logger.Warn("Delta channel full, dropping poll update")
	}
}

func (a *PolledRig) emitFatal(err error) {
	select {
	case a.fatal <- err:
	default:
	}
}

// Deltas returns the state-delta channel. Closed when polling stops.
func (a *PolledRig) Deltas() <-chan Delta {
	return a.deltas
}

// Fatal returns the terminal-error channel.
func (a *PolledRig) Fatal() <-chan error {
	return a.fatal
}

// Disconnect stops polling, closes the backend, and waits for the
// worker within the context's deadline.
func (a *PolledRig) Disconnect(ctx context.Context) error {
	a.pollStop.Close()

	// Best-effort close of the backend before the worker stops.
	if a.isConnected() {
		closeCtx, cancel := context.WithTimeout(ctx, a.cfg.CommandTimeout)
		if err := a.submit(closeCtx, func() error { return a.lib.Close() }); err != nil {
			a.logger.Warn("Backend close failed", "error", err)
		}
		cancel()
	}

	a.done.Close()
	a.markDisconnected()

	err := waitGroupDone(ctx, &a.wg)
	a.logger.Info("Polled rig disconnected")
	return err
}

// Stats returns adapter counters. LinesTx/LinesRx count worker calls
// rather than wire lines, since the backend owns its own transport.
func (a *PolledRig) Stats() Stats {
	return Stats{
		LinesTx:       a.pollsTotal.Load(),
		LinesRx:       a.pollsTotal.Load(),
		DeltasDropped: a.deltasDropped.Load(),
		ErrorsTotal:   a.errorsTotal.Load(),
		LastActivity:  time.Unix(a.lastActivity.Load(), 0),
		Connected:     a.isConnected(),
	}
}

func (a *PolledRig) isConnected() bool {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.connected
}

func (a *PolledRig) markDisconnected() {
	a.stateMu.Lock()
	a.connected = false
	a.stateMu.Unlock()
}
