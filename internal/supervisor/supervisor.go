package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/log4ym/station-core/internal/adapter"
	"github.com/log4ym/station-core/internal/hub"
	"github.com/log4ym/station-core/internal/radio"
)

// Logger is the minimal logging interface the supervisor needs.
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

// AdapterFactory builds a fresh adapter for one connection attempt.
// Called once per attempt; a failed adapter is never reused.
type AdapterFactory func() (adapter.Adapter, error)

// Config holds supervisor timing and retry policy.
type Config struct {
	ConnectTimeout  time.Duration
	TeardownTimeout time.Duration

	// MaxAttempts bounds one connect campaign. 0 means retry forever.
	MaxAttempts int

	Backoff BackoffConfig
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = 5 * time.Second
	}
	c.Backoff.applyDefaults()
}

// Supervisor owns the connection lifecycle of one device: it drives an
// adapter through connect/subscribe, applies observed deltas to the
// canonical radio state, and retries failed connections with capped
// exponential backoff. At most one adapter is live at any time.
//
// State machine:
//
//	disconnected → connecting → connected → monitoring
//	     ▲              │           │           │
//	     │              ▼           ▼           ▼
//	     └─────────── error ◄───────────────────┘
//
// Monitoring is entered only from connected; leaving monitoring marks
// the canonical state stale before the connection event is published.
type Supervisor struct {
	deviceID string
	factory  AdapterFactory
	cfg      Config
	hub      *hub.Hub
	logger   Logger

	mu         sync.Mutex
	state      radio.ConnectionState
	errMsg     string
	ad         adapter.Adapter
	current    radio.State
	manual     bool
	campCancel context.CancelFunc

	connectReq chan struct{}
	stopCancel context.CancelFunc
	started    bool
	wg         sync.WaitGroup
}

// NewSupervisor creates a supervisor for deviceID in the disconnected
// state.
func NewSupervisor(deviceID string, factory AdapterFactory, cfg Config, h *hub.Hub, logger Logger) *Supervisor {
	cfg.applyDefaults()
	if logger == nil {
		logger = noopLogger{}
	}
	return &Supervisor{
		deviceID:   deviceID,
		factory:    factory,
		cfg:        cfg,
		hub:        h,
		logger:     logger,
		state:      radio.ConnectionDisconnected,
		connectReq: make(chan struct{}, 1),
	}
}

// Start launches the run loop. The supervisor stops when ctx ends or
// Stop is called.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.stopCancel = cancel
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx)
}

// Stop shuts the supervisor down, tearing down any live connection.
// Waits for the run loop within ctx's deadline.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop := s.stopCancel
	camp := s.campCancel
	s.manual = true
	s.mu.Unlock()

	if camp != nil {
		camp()
	}
	if stop != nil {
		stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect requests a connection. Accepted in disconnected and error;
// a no-op while a campaign is already running.
func (s *Supervisor) Connect() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	state := s.state
	s.mu.Unlock()

	switch state {
	case radio.ConnectionConnecting, radio.ConnectionConnected, radio.ConnectionMonitoring:
		return nil
	default:
	}

	select {
	case s.connectReq <- struct{}{}:
	default:
	}
	return nil
}

// Disconnect requests a manual disconnect. Always honored immediately:
// it interrupts backoff waits and cancels an in-flight attempt.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.manual = true
	camp := s.campCancel
	idle := camp == nil
	state := s.state
	s.mu.Unlock()

	if camp != nil {
		camp()
	}
	if idle && state == radio.ConnectionError {
		// Clear a resting error state without a campaign to cancel.
		s.transition(radio.ConnectionDisconnected, "")
	}
	return nil
}

// State returns the current connection state and error message.
func (s *Supervisor) State() (radio.ConnectionState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.errMsg
}

// CurrentState returns a copy of the canonical radio state.
func (s *Supervisor) CurrentState() radio.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Send routes a command to the live adapter. Only valid in monitoring.
func (s *Supervisor) Send(ctx context.Context, cmd adapter.Command) (adapter.Ack, error) {
	s.mu.Lock()
	if s.state != radio.ConnectionMonitoring || s.ad == nil {
		s.mu.Unlock()
		return adapter.Ack{}, ErrNotMonitoring
	}
	ad := s.ad
	s.mu.Unlock()

	return ad.Send(ctx, cmd)
}

// SetFrequency tunes the device.
func (s *Supervisor) SetFrequency(ctx context.Context, hz int64) error {
	_, err := s.Send(ctx, adapter.Command{Op: adapter.OpSetFrequency, FrequencyHz: hz})
	return err
}

// SetMode switches the operating mode, applying the carrier-offset
// correction: when the corrected frequency differs from the current
// one, a frequency command follows the mode command so the signal
// stays put across the CW/sideband boundary.
func (s *Supervisor) SetMode(ctx context.Context, mode string) error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	if _, err := s.Send(ctx, adapter.Command{Op: adapter.OpSetMode, Mode: mode}); err != nil {
		return err
	}

	if cur.FrequencyHz > 0 {
		corrected := radio.Compensate(cur.FrequencyHz, cur.Mode, mode)
		if corrected != cur.FrequencyHz {
			if _, err := s.Send(ctx, adapter.Command{Op: adapter.OpSetFrequency, FrequencyHz: corrected}); err != nil {
				return fmt.Errorf("offset correction: %w", err)
			}
		}
	}
	return nil
}

// SetPTT keys or unkeys the transmitter.
func (s *Supervisor) SetPTT(ctx context.Context, on bool) error {
	_, err := s.Send(ctx, adapter.Command{Op: adapter.OpSetPTT, PTT: on})
	return err
}

// run waits for connect requests and drives campaigns.
func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.connectReq:
			s.campaign(ctx)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// campaign is one connect-retry-monitor cycle. It ends on manual
// disconnect, supervisor stop, a non-retryable error, or attempt
// exhaustion.
func (s *Supervisor) campaign(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.mu.Lock()
	s.campCancel = cancel
	s.manual = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.campCancel = nil
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		if ctx.Err() != nil {
			s.endCampaign()
			return
		}

		attempt++
		ad, err := s.attempt(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.endCampaign()
				return
			}
			if errors.Is(err, radio.ErrAuthRequired) || errors.Is(err, radio.ErrProtocolError) {
				// Retrying cannot fix a credential or protocol problem.
				s.transition(radio.ConnectionError, err.Error())
				return
			}
			if s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts {
				s.transition(radio.ConnectionError,
					fmt.Sprintf("giving up after %d attempts: %v", attempt, err))
				return
			}

			delay := s.cfg.Backoff.Next(attempt)
			s.logger.Info("Connect attempt failed, backing off",
				"device_id", s.deviceID, "attempt", attempt, "delay", delay.String(), "error", err)
			if !sleepCtx(ctx, delay) {
				s.endCampaign()
				return
			}
			continue
		}

		// Connection established and subscribed; a fresh campaign
		// starts from attempt zero if it drops.
		attempt = 0

		fatalErr := s.monitor(ctx, ad)
		s.detachAdapter()
		s.teardown(ad)

		if fatalErr == nil {
			// Manual disconnect or shutdown.
			s.endCampaign()
			return
		}

		s.transition(radio.ConnectionError, fatalErr.Error())
		s.logger.Warn("Connection lost, will reconnect",
			"device_id", s.deviceID, "error", fatalErr)
	}
}

// endCampaign settles the resting state after a cancelled campaign.
// Manual disconnects and shutdowns both land in disconnected.
func (s *Supervisor) endCampaign() {
	s.transition(radio.ConnectionDisconnected, "")
}

// attempt performs one connect + subscribe. On success the adapter is
// installed and the state is monitoring.
func (s *Supervisor) attempt(ctx context.Context) (adapter.Adapter, error) {
	s.transition(radio.ConnectionConnecting, "")

	ad, err := s.factory()
	if err != nil {
		return nil, fmt.Errorf("build adapter: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	err = ad.Connect(connectCtx)
	cancel()
	if err != nil {
		return nil, err
	}

	s.transition(radio.ConnectionConnected, "")

	subCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	err = ad.Subscribe(subCtx)
	cancel()
	if err != nil {
		s.teardown(ad)
		return nil, fmt.Errorf("establish subscriptions: %w", err)
	}

	s.mu.Lock()
	s.ad = ad
	s.mu.Unlock()

	s.transition(radio.ConnectionMonitoring, "")
	return ad, nil
}

// monitor applies deltas until the connection dies or the campaign is
// cancelled. Returns the fatal error, or nil for a deliberate exit.
func (s *Supervisor) monitor(ctx context.Context, ad adapter.Adapter) error {
	deltas := ad.Deltas()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-ad.Fatal():
			return err
		case d, ok := <-deltas:
			if !ok {
				// Channel closed means the transport died; the fatal
				// error follows on its channel.
				deltas = nil
				continue
			}
			s.applyDelta(d)
		}
	}
}

// applyDelta folds one observed change into the canonical state and
// publishes it.
func (s *Supervisor) applyDelta(d adapter.Delta) {
	if d.Empty() {
		return
	}

	s.mu.Lock()
	if d.FrequencyHz != nil {
		s.current.FrequencyHz = *d.FrequencyHz
		s.current.Band = radio.BandFor(*d.FrequencyHz)
	}
	if d.Mode != nil {
		s.current.Mode = *d.Mode
	}
	if d.Transmitting != nil {
		s.current.Transmitting = *d.Transmitting
	}
	if d.Slice != nil {
		s.current.Slice = *d.Slice
	}
	s.current.Stale = false
	s.current.UpdatedAt = time.Now()
	snapshot := s.current
	s.mu.Unlock()

	s.hub.PublishState(s.deviceID, snapshot)
}

// detachAdapter removes the live adapter reference so commands fail
// fast while teardown runs.
func (s *Supervisor) detachAdapter() {
	s.mu.Lock()
	s.ad = nil
	s.mu.Unlock()
}

// teardown disconnects an adapter within the teardown budget. The
// context deliberately does not derive from the campaign: teardown
// must run even when the campaign was cancelled. On timeout the
// adapter is abandoned; its goroutines exit once the socket closes.
func (s *Supervisor) teardown(ad adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TeardownTimeout)
	defer cancel()

	if err := ad.Disconnect(ctx); err != nil {
		s.logger.Warn("Teardown exceeded budget, force releasing",
			"device_id", s.deviceID, "error", err)
	}
}

// transition updates the connection state, marks the canonical state
// stale when leaving monitoring, and publishes the change.
func (s *Supervisor) transition(state radio.ConnectionState, errMsg string) {
	s.mu.Lock()
	prev := s.state
	if prev == state && s.errMsg == errMsg {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.errMsg = errMsg
	if prev == radio.ConnectionMonitoring && state != radio.ConnectionMonitoring {
		s.current.Stale = true
	}
	s.mu.Unlock()

	s.hub.PublishConnectionState(s.deviceID, state, errMsg)
	s.logger.Info("Connection state changed",
		"device_id", s.deviceID, "from", string(prev), "to", string(state))
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
