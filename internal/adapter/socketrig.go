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

// SocketRigConfig holds connection settings for a socket transceiver.
type SocketRigConfig struct {
	// Address is the host:port of the radio's TCP control socket.
	Address string

	// AuthToken is sent when the radio's hello banner demands
	// authentication. Empty means no token available.
	AuthToken string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CommandTimeout time.Duration
}

func (c *SocketRigConfig) applyDefaults() {
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

type socketResponse struct {
	data string
	err  error
}

// SocketRig drives a transceiver over one persistent duplex TCP
// connection carrying newline-delimited text.
//
// Wire protocol:
//
//	server → hello version=<v> auth=<required|none> [serial=<sn>]
//	client → <seq> <verb> [args...]
//	server → ok <seq> [data]
//	server → err <seq> <code> [message]
//	server → state key=value [key=value ...]        (unsolicited)
//
// Commands are correlated to responses by sequence number; state lines
// are pushed by the radio after a "sub state" subscription and become
// Deltas.
//
// Thread safety: all methods are safe for concurrent use. A dead
// connection surfaces once on Fatal(); the adapter never reconnects.
type SocketRig struct {
	cfg SocketRigConfig

	connMu    sync.RWMutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool

	seq       atomic.Uint32
	pendingMu sync.Mutex
	pending   map[uint32]chan socketResponse

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

// NewSocketRig creates an unconnected socket transceiver adapter.
func NewSocketRig(cfg SocketRigConfig) *SocketRig {
	cfg.applyDefaults()
	return &SocketRig{
		cfg:     cfg,
		pending: make(map[uint32]chan socketResponse),
		deltas:  make(chan Delta, deltaBufferSize),
		fatal:   make(chan error, 1),
		done:    newCloseOnce(),
		logger:  noopLogger{},
	}
}

// SetLogger installs a logger. Call before Connect.
func (a *SocketRig) SetLogger(l Logger) {
	if l != nil {
		a.logger = l
	}
}

// SetTap installs a raw-traffic observer. Call before Connect.
func (a *SocketRig) SetTap(tap Tap) {
	a.tap = tap
}

// Family reports the adapter family.
func (a *SocketRig) Family() radio.Family {
	return radio.FamilySocketRig
}

// Connect dials the radio, reads the hello banner, and authenticates
// when the banner demands it. On success the receive loop is running
// and commands may be sent.
func (a *SocketRig) Connect(ctx context.Context) error {
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

	reader := bufio.NewReaderSize(conn, maxLineBytes)

	banner, err := a.readLineDirect(conn, reader)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: hello: %w", radio.ErrConnectFailed, err)
	}
	needAuth, err := parseHelloBanner(banner)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %w", radio.ErrProtocolError, err)
	}

	if needAuth {
		if err := a.authenticate(conn, reader); err != nil {
			conn.Close()
			return err
		}
	}

	a.connMu.Lock()
	a.conn = conn
	a.reader = reader
	a.connected = true
	a.connMu.Unlock()
	a.lastActivity.Store(time.Now().Unix())

	a.wg.Add(1)
	go a.receiveLoop()

	a.logger.Info("Socket rig connected", "address", a.cfg.Address, "auth", needAuth)
	return nil
}

// parseHelloBanner checks the greeting line and reports whether the
// radio requires authentication.
func parseHelloBanner(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "hello" {
		return false, fmt.Errorf("unexpected banner %q", line)
	}
	for _, tok := range fields[1:] {
		if key, value, ok := strings.Cut(tok, "="); ok && key == "auth" {
			return value == "required", nil
		}
	}
	return false, nil
}

// authenticate performs the synchronous auth exchange before the
// receive loop starts.
func (a *SocketRig) authenticate(conn net.Conn, reader *bufio.Reader) error {
	if a.cfg.AuthToken == "" {
		return fmt.Errorf("%w: radio requires a token and none is configured", radio.ErrAuthRequired)
	}

	seq := a.seq.Add(1)
	if err := a.writeLineTo(conn, fmt.Sprintf("%d auth %s", seq, a.cfg.AuthToken)); err != nil {
		return fmt.Errorf("%w: auth write: %w", radio.ErrConnectFailed, err)
	}

	line, err := a.readLineDirect(conn, reader)
	if err != nil {
		return fmt.Errorf("%w: auth response: %w", radio.ErrConnectFailed, err)
	}
	fields := strings.Fields(line)
	if len(fields) >= 2 && fields[0] == "ok" && fields[1] == strconv.FormatUint(uint64(seq), 10) {
		return nil
	}
	return fmt.Errorf("%w: token rejected: %q", radio.ErrAuthRequired, line)
}

// Subscribe asks the radio to push state lines. The first state line
// typically carries the full current state.
func (a *SocketRig) Subscribe(ctx context.Context) error {
	_, err := a.roundTrip(ctx, "sub state")
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Send carries one command to the radio and waits for its response.
func (a *SocketRig) Send(ctx context.Context, cmd Command) (Ack, error) {
	payload, err := socketRigVerb(cmd)
	if err != nil {
		return Ack{}, err
	}
	data, err := a.roundTrip(ctx, payload)
	if err != nil {
		return Ack{}, err
	}
	return Ack{Data: data}, nil
}

// socketRigVerb maps a Command onto the wire verb.
func socketRigVerb(cmd Command) (string, error) {
	switch cmd.Op {
	case OpSetFrequency:
		return fmt.Sprintf("set freq %d", cmd.FrequencyHz), nil
	case OpSetMode:
		return "set mode " + strings.ToUpper(cmd.Mode), nil
	case OpSetPTT:
		if cmd.PTT {
			return "set ptt on", nil
		}
		return "set ptt off", nil
	case OpSetPower:
		return fmt.Sprintf("set power %d", cmd.PowerWatts), nil
	case OpSendCW:
		return "cw send " + cmd.Text, nil
	case OpStopCW:
		return "cw stop", nil
	case OpSetCWSpeed:
		return fmt.Sprintf("cw speed %d", cmd.WPM), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOp, cmd.Op)
	}
}

// roundTrip writes "<seq> <payload>" and waits for the matching ok/err
// response.
func (a *SocketRig) roundTrip(ctx context.Context, payload string) (string, error) {
	a.connMu.RLock()
	conn := a.conn
	live := a.connected
	a.connMu.RUnlock()
	if !live || conn == nil {
		return "", ErrNotConnected
	}

	seq := a.seq.Add(1)
	ch := make(chan socketResponse, 1)

	a.pendingMu.Lock()
	a.pending[seq] = ch
	a.pendingMu.Unlock()
	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, seq)
		a.pendingMu.Unlock()
	}()

	if err := a.writeLineTo(conn, fmt.Sprintf("%d %s", seq, payload)); err != nil {
		a.errorsTotal.Add(1)
		return "", fmt.Errorf("write: %w", err)
	}

	timer := time.NewTimer(a.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-a.done.Done():
		return "", ErrClosed
	case <-timer.C:
		a.errorsTotal.Add(1)
		return "", fmt.Errorf("%w: seq %d", ErrCommandTimeout, seq)
	case resp := <-ch:
		return resp.data, resp.err
	}
}

// receiveLoop reads lines until the connection dies. A read failure is
// terminal: pending commands fail, Fatal() fires, and the loop exits.
// Reconnecting is the supervisor's decision, never the adapter's.
func (a *SocketRig) receiveLoop() {
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

		line, err := a.readLineDirect(conn, reader)
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

		a.dispatchLine(line)
	}
}

// dispatchLine routes one inbound line to a pending command or the
// delta channel.
func (a *SocketRig) dispatchLine(line string) {
	switch {
	case strings.HasPrefix(line, "ok "):
		rest := strings.TrimPrefix(line, "ok ")
		seqStr, data, _ := strings.Cut(rest, " ")
		a.resolve(seqStr, socketResponse{data: data})

	case strings.HasPrefix(line, "err "):
		rest := strings.TrimPrefix(line, "err ")
		fields := strings.SplitN(rest, " ", 3)
		if len(fields) < 2 {
			a.errorsTotal.Add(1)
			a.logger.Debug("Malformed error line", "line", line)
			return
		}
		code := fields[1]
		message := code
		if len(fields) == 3 {
			message = fields[2]
		}
		respErr := fmt.Errorf("%w: %s (%s)", ErrCommandRejected, message, code)
		if code == "auth_required" {
			respErr = fmt.Errorf("%w: %s", radio.ErrAuthRequired, message)
		}
		a.resolve(fields[0], socketResponse{err: respErr})

	case strings.HasPrefix(line, "state "):
		if delta, ok := parseDeltaFields(strings.TrimPrefix(line, "state ")); ok {
			a.emitDelta(delta)
		}

	case strings.HasPrefix(line, "hello"):
		// Some firmware repeats the banner; ignore.

	default:
		a.errorsTotal.Add(1)
		a.logger.Debug("Unrecognized line from radio", "line", line)
	}
}

// resolve completes a pending command. Responses for unknown or
// already-resolved sequence numbers are dropped.
func (a *SocketRig) resolve(seqStr string, resp socketResponse) {
	seq64, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		a.errorsTotal.Add(1)
		a.logger.Debug("Bad sequence number in response", "seq", seqStr)
		return
	}

	a.pendingMu.Lock()
	ch, ok := a.pending[uint32(seq64)]
	if ok {
		delete(a.pending, uint32(seq64))
	}
	a.pendingMu.Unlock()

	if ok {
		ch <- resp
	}
}

// failPending errors out every outstanding command.
func (a *SocketRig) failPending(err error) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	for seq, ch := range a.pending {
		delete(a.pending, seq)
		select {
		case ch <- socketResponse{err: err}:
		default:
		}
	}
}

func (a *SocketRig) emitDelta(d Delta) {
	select {
	case a.deltas <- d:
	default:
		a.deltasDropped.Add(1)
		a.logger.Warn("Delta channel full, dropping state update")
	}
}

func (a *SocketRig) emitFatal(err error) {
	select {
	case a.fatal <- err:
	default:
	}
}

// Deltas returns the state-delta channel. Closed when the connection
// dies or the adapter is torn down.
func (a *SocketRig) Deltas() <-chan Delta {
	return a.deltas
}

// Fatal returns the terminal-error channel. At most one error is ever
// delivered.
func (a *SocketRig) Fatal() <-chan error {
	return a.fatal
}

// Disconnect tears the connection down and waits for the receive loop
// within the context's deadline.
func (a *SocketRig) Disconnect(ctx context.Context) error {
	a.done.Close()
	a.failPending(ErrClosed)

	a.connMu.Lock()
	if a.conn != nil {
		a.conn.Close()
	}
	a.connected = false
	a.connMu.Unlock()

	err := waitGroupDone(ctx, &a.wg)
	a.logger.Info("Socket rig disconnected", "address", a.cfg.Address)
	return err
}

// Stats returns transport counters.
func (a *SocketRig) Stats() Stats {
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

func (a *SocketRig) isClosed() bool {
	select {
	case <-a.done.Done():
		return true
	default:
		return false
	}
}

func (a *SocketRig) markDisconnected() {
	a.connMu.Lock()
	a.connected = false
	a.connMu.Unlock()
}

// readLineDirect reads one newline-terminated line with the read
// deadline applied.
func (a *SocketRig) readLineDirect(conn net.Conn, reader *bufio.Reader) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout)); err != nil {
		return "", fmt.Errorf("set read deadline: %w", err)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	a.linesRx.Add(1)
	a.lastActivity.Store(time.Now().Unix())
	if a.tap != nil {
		a.tap(DirRX, []byte(line))
	}
	return line, nil
}

// writeLineTo writes one line with the write deadline applied.
func (a *SocketRig) writeLineTo(conn net.Conn, line string) error {
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
