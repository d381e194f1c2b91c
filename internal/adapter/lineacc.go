package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/log4ym/station-core/internal/radio"
)

// LineAccessoryConfig holds connection settings for a line-protocol
// accessory.
type LineAccessoryConfig struct {
	Address string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CommandTimeout time.Duration
}

func (c *LineAccessoryConfig) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
}

type lineaccResult struct {
	rows []string
	err  error
}

type lineaccPending struct {
	rows []string
	ch   chan lineaccResult
}

// LineAccessory drives a station accessory (switch, amplifier, tuner)
// over its text command/response protocol.
//
// Wire protocol:
//
//	client → C<seq>|<verb> [args...]
//	device → R<seq>|<hex-status>|<payload>
//
// A successful response is one or more payload rows at the request's
// seq followed by an empty-payload terminator row at the same seq. A
// non-zero status completes the request immediately as an error.
// Unsolicited pushes use seq 0 and are parsed into Deltas; rows for a
// seq with no outstanding request are dropped, so duplicate or late
// rows never wedge the adapter.
//
// Multiple commands may be outstanding at once; each waits only on its
// own seq, so a streaming multi-row response never blocks another
// Send.
type LineAccessory struct {
	cfg LineAccessoryConfig

	connMu    sync.RWMutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool

	seq       atomic.Uint32
	pendingMu sync.Mutex
	pending   map[uint32]*lineaccPending

	deltas chan Delta
	fatal  chan error

	done *closeOnce
	wg   sync.WaitGroup

	logger Logger
	tap    Tap

	linesTx       atomic.Uint64
	linesRx       atomic.Uint64
	deltasDropped atomic.Uint64
	errorsTotal   atomic.Uint64
	lastActivity  atomic.Int64
}

// NewLineAccessory creates an unconnected accessory adapter.
func NewLineAccessory(cfg LineAccessoryConfig) *LineAccessory {
	cfg.applyDefaults()
	return &LineAccessory{
		cfg:     cfg,
		pending: make(map[uint32]*lineaccPending),
		deltas:  make(chan Delta, deltaBufferSize),
		fatal:   make(chan error, 1),
		done:    newCloseOnce(),
		logger:  noopLogger{},
	}
}

// SetLogger installs a logger. Call before Connect.
func (a *LineAccessory) SetLogger(l Logger) {
	if l != nil {
		a.logger = l
	}
}

// SetTap installs a raw-traffic observer. Call before Connect.
func (a *LineAccessory) SetTap(tap Tap) {
	a.tap = tap
}

// Family reports the adapter family.
func (a *LineAccessory) Family() radio.Family {
	return radio.FamilyLineAcc
}

// Connect dials the accessory and verifies the protocol with a hello
// exchange.
func (a *LineAccessory) Connect(ctx context.Context) error {
	select {
	case <-a.done.Done():
		return ErrClosed
	default:
	}

	a.connMu.Lock()
	if a.connected {
		a.connMu.Unlock()
		return ErrAlreadyConnected
	}
	a.connMu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", a.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", radio.ErrConnectFailed, a.cfg.Address, err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.reader = bufio.NewReaderSize(conn, maxLineBytes)
	a.connected = true
	a.connMu.Unlock()
	a.lastActivity.Store(time.Now().Unix())

	a.wg.Add(1)
	go a.receiveLoop()

	if _, err := a.roundTrip(ctx, "hello"); err != nil {
		a.done.Close()
		a.teardown()
		return fmt.Errorf("%w: hello: %w", radio.ErrConnectFailed, err)
	}

	a.logger.Info("Accessory connected", "address", a.cfg.Address)
	return nil
}

// Subscribe enables unsolicited pushes and replays the accessory's
// current status onto the delta channel.
func (a *LineAccessory) Subscribe(ctx context.Context) error {
	if _, err := a.roundTrip(ctx, "push on"); err != nil {
		return fmt.Errorf("enable push: %w", err)
	}

	rows, err := a.roundTrip(ctx, "get status")
	if err != nil {
		return fmt.Errorf("initial status: %w", err)
	}
	for _, row := range rows {
		if delta, ok := parseDeltaFields(row); ok {
			a.emitDelta(delta)
		}
	}
	return nil
}

// Send carries one command to the accessory and waits for the complete
// response.
func (a *LineAccessory) Send(ctx context.Context, cmd Command) (Ack, error) {
	verb, err := lineaccVerb(cmd)
	if err != nil {
		return Ack{}, err
	}
	rows, err := a.roundTrip(ctx, verb)
	if err != nil {
		return Ack{}, err
	}
	ack := Ack{Rows: rows}
	if len(rows) == 1 {
		ack.Data = rows[0]
	}
	return ack, nil
}

// lineaccVerb maps a Command onto the accessory verb set. Accessories
// track frequency and keying but have no mode or CW text capability.
func lineaccVerb(cmd Command) (string, error) {
	switch cmd.Op {
	case OpSetFrequency:
		return fmt.Sprintf("set freq %d", cmd.FrequencyHz), nil
	case OpSetPTT:
		if cmd.PTT {
			return "set ptt on", nil
		}
		return "set ptt off", nil
	case OpSetPower:
		return fmt.Sprintf("set power %d", cmd.PowerWatts), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOp, cmd.Op)
	}
}

// roundTrip writes "C<seq>|<verb>" and collects rows until the
// terminator or an error status arrives.
func (a *LineAccessory) roundTrip(ctx context.Context, verb string) ([]string, error) {
	a.connMu.RLock()
	conn := a.conn
	live := a.connected
	a.connMu.RUnlock()
	if !live || conn == nil {
		return nil, ErrNotConnected
	}

	seq := a.seq.Add(1)
	req := &lineaccPending{ch: make(chan lineaccResult, 1)}

	a.pendingMu.Lock()
	a.pending[seq] = req
	a.pendingMu.Unlock()
	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, seq)
		a.pendingMu.Unlock()
	}()

	if err := a.writeLine(conn, fmt.Sprintf("C%d|%s", seq, verb)); err != nil {
		a.errorsTotal.Add(1)
		return nil, fmt.Errorf("write: %w", err)
	}

	timer := time.NewTimer(a.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done.Done():
		return nil, ErrClosed
	case <-timer.C:
		a.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: seq %d", ErrCommandTimeout, seq)
	case res := <-req.ch:
		return res.rows, res.err
	}
}

// receiveLoop reads response rows until the connection dies. Transport
// failure is terminal; the supervisor owns any retry.
func (a *LineAccessory) receiveLoop() {
	defer a.wg.Done()
	defer close(a.deltas)

	for {
		select {
		case <-a.done.Done():
			return
		default:
		}

		a.connMu.RLock()
		conn, reader := a.conn, a.reader
		a.connMu.RUnlock()
		if conn == nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout)); err != nil {
			a.emitFatal(fmt.Errorf("set read deadline: %w", err))
			return
		}
		raw, err := reader.ReadString('\n')
		if err != nil {
			if a.isClosed() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			a.errorsTotal.Add(1)
			a.failPending(ErrNotConnected)
			a.markDisconnected()
			a.emitFatal(fmt.Errorf("read: %w", err))
			return
		}

		line := strings.TrimRight(raw, "\r\n")
		a.linesRx.Add(1)
		a.lastActivity.Store(time.Now().Unix())
		if a.tap != nil {
			a.tap(DirRX, []byte(line))
		}

		a.dispatchRow(line)
	}
}

// dispatchRow routes one R-row to its pending request or, for seq 0
// and unknown seqs, treats it as an asynchronous push.
func (a *LineAccessory) dispatchRow(line string) {
	seq, status, payload, err := parseAccessoryRow(line)
	if err != nil {
		a.errorsTotal.Add(1)
		a.logger.Debug("Malformed accessory row", "line", line, "error", err)
		return
	}

	if seq == 0 {
		if delta, ok := parseDeltaFields(payload); ok {
			a.emitDelta(delta)
		}
		return
	}

	a.pendingMu.Lock()
	req, ok := a.pending[seq]
	if !ok {
		a.pendingMu.Unlock()
		// Late, duplicate, or never-issued seq.
		a.logger.Debug("Row for unknown seq", "seq", seq, "payload", payload)
		return
	}

	if status != 0 {
		delete(a.pending, seq)
		a.pendingMu.Unlock()
		req.ch <- lineaccResult{err: fmt.Errorf("%w: status 0x%X: %s", ErrCommandRejected, status, payload)}
		return
	}

	if payload == "" {
		rows := req.rows
		delete(a.pending, seq)
		a.pendingMu.Unlock()
		req.ch <- lineaccResult{rows: rows}
		return
	}

	req.rows = append(req.rows, payload)
	a.pendingMu.Unlock()
}

// parseAccessoryRow splits "R<seq>|<hex-status>|<payload>".
func parseAccessoryRow(line string) (seq uint32, status uint32, payload string, err error) {
	if !strings.HasPrefix(line, "R") {
		return 0, 0, "", fmt.Errorf("missing R prefix")
	}
	parts := strings.SplitN(line[1:], "|", 3)
	if len(parts) != 3 {
		return 0, 0, "", fmt.Errorf("want 3 fields, got %d", len(parts))
	}

	seq64, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, "", fmt.Errorf("bad seq %q", parts[0])
	}
	status64, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, 0, "", fmt.Errorf("bad status %q", parts[1])
	}
	return uint32(seq64), uint32(status64), parts[2], nil
}

func (a *LineAccessory) failPending(err error) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	for seq, req := range a.pending {
		delete(a.pending, seq)
		select {
		case req.ch <- lineaccResult{err: err}:
		default:
		}
	}
}

func (a *LineAccessory) emitDelta(d Delta) {
	select {
	case a.deltas <- d:
	default:
		a.deltasDropped.Add(1)
		a.logger.Warn("Delta channel full, dropping accessory update")
	}
}

func (a *LineAccessory) emitFatal(err error) {
	select {
	case a.fatal <- err:
	default:
	}
}

// Deltas returns the state-delta channel. Closed when the connection
// dies or the adapter is torn down.
func (a *LineAccessory) Deltas() <-chan Delta {
	return a.deltas
}

// Fatal returns the terminal-error channel.
func (a *LineAccessory) Fatal() <-chan error {
	return a.fatal
}

// Disconnect tears the connection down and waits for the receive loop
// within the context's deadline.
func (a *LineAccessory) Disconnect(ctx context.Context) error {
	a.done.Close()
	a.failPending(ErrClosed)
	a.teardown()

	err := waitGroupDone(ctx, &a.wg)
	a.logger.Info("Accessory disconnected", "address", a.cfg.Address)
	return err
}

func (a *LineAccessory) teardown() {
	a.connMu.Lock()
	if a.conn != nil {
		a.conn.Close()
	}
	a.connected = false
	a.connMu.Unlock()
}

// Stats returns transport counters.
func (a *LineAccessory) Stats() Stats {
	a.connMu.RLock()
	connected := a.connected
	a.connMu.RUnlock()
	return Stats{
		LinesTx:       a.linesTx.Load(),
		LinesRx:       a.linesRx.Load(),
		DeltasDropped: a.deltasDropped.Load(),
		ErrorsTotal:   a.errorsTotal.Load(),
		LastActivity:  time.Unix(a.lastActivity.Load(), 0),
		Connected:     connected,
	}
}

func (a *LineAccessory) isClosed() bool {
	select {
	case <-a.done.Done():
		return true
	default:
		return false
	}
}

func (a *LineAccessory) markDisconnected() {
	a.connMu.Lock()
	a.connected = false
	a.connMu.Unlock()
}

func (a *LineAccessory) writeLine(conn net.Conn, line string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return err
	}
	a.linesTx.Add(1)
	a.lastActivity.Store(time.Now().Unix())
	if a.tap != nil {
		a.tap(DirTX, []byte(line))
	}
	return nil
}
