package adapter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/log4ym/station-core/internal/radio"
)

// RigctlConfig holds connection settings for a rigctld daemon.
type RigctlConfig struct {
	// Address is the host:port of rigctld. Default port is 4532.
	Address string

	DialTimeout time.Duration
	IOTimeout   time.Duration
}

func (c *RigctlConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = "127.0.0.1:4532"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultConnectTimeout
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = defaultCommandTimeout
	}
}

// RigctlLibrary implements RigLibrary over the hamlib rigctld text
// protocol. Set commands answer "RPRT <code>"; get commands answer one
// or two value lines.
//
// Not safe for concurrent use. PolledRig serializes all calls through
// its worker, which is the only supported way to drive this type.
type RigctlLibrary struct {
	cfg    RigctlConfig
	conn   net.Conn
	reader *bufio.Reader
	tap    Tap
}

var _ RigLibrary = (*RigctlLibrary)(nil)

// NewRigctlLibrary creates an unopened rigctld client.
func NewRigctlLibrary(cfg RigctlConfig) *RigctlLibrary {
	cfg.applyDefaults()
	return &RigctlLibrary{cfg: cfg}
}

// SetTap installs a wire tap. Call before Open.
func (r *RigctlLibrary) SetTap(tap Tap) {
	r.tap = tap
}

// Open dials rigctld.
func (r *RigctlLibrary) Open(ctx context.Context) error {
	if r.conn != nil {
		return ErrAlreadyConnected
	}

	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", r.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: dial rigctld %s: %w", radio.ErrConnectFailed, r.cfg.Address, err)
	}
	r.conn = conn
	r.reader = bufio.NewReaderSize(conn, maxLineBytes)
	return nil
}

// Close shuts the connection down.
func (r *RigctlLibrary) Close() error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.reader = nil
	return err
}

// Frequency reads the current VFO frequency.
func (r *RigctlLibrary) Frequency() (int64, error) {
	lines, err := r.query("f", 1)
	if err != nil {
		return 0, err
	}
	hz, err := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad frequency %q", radio.ErrProtocolError, lines[0])
	}
	return hz, nil
}

// SetFrequency tunes the current VFO.
func (r *RigctlLibrary) SetFrequency(hz int64) error {
	return r.set(fmt.Sprintf("F %d", hz))
}

// Mode reads the current mode, discarding the passband line.
func (r *RigctlLibrary) Mode() (string, error) {
	lines, err := r.query("m", 2)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(lines[0]), nil
}

// SetMode selects a mode with the rig's default passband.
func (r *RigctlLibrary) SetMode(mode string) error {
	return r.set(fmt.Sprintf("M %s 0", strings.ToUpper(mode)))
}

// PTT reads the transmit state.
func (r *RigctlLibrary) PTT() (bool, error) {
	lines, err := r.query("t", 1)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(lines[0]) != "0", nil
}

// SetPTT keys or unkeys the transmitter.
func (r *RigctlLibrary) SetPTT(on bool) error {
	if on {
		return r.set("T 1")
	}
	return r.set("T 0")
}

// SendMorse queues CW text in the rig's keyer.
func (r *RigctlLibrary) SendMorse(text string) error {
	return r.set("b " + text)
}

// StopMorse aborts the rig keyer's queue.
func (r *RigctlLibrary) StopMorse() error {
	return r.set(`\stop_morse`)
}

// SetKeySpeed sets the keyer speed in words per minute.
func (r *RigctlLibrary) SetKeySpeed(wpm int) error {
	return r.set(fmt.Sprintf("L KEYSPD %d", wpm))
}

// set sends a command that answers with an RPRT status line.
func (r *RigctlLibrary) set(cmd string) error {
	if err := r.write(cmd); err != nil {
		return err
	}
	line, err := r.readLine()
	if err != nil {
		return err
	}
	return parseRPRT(line)
}

// query sends a command and reads the expected number of value lines.
// An RPRT line in place of the first value signals an error.
func (r *RigctlLibrary) query(cmd string, lines int) ([]string, error) {
	if err := r.write(cmd); err != nil {
		return nil, err
	}

	out := make([]string, 0, lines)
	for i := 0; i < lines; i++ {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if i == 0 && strings.HasPrefix(line, "RPRT ") {
			return nil, parseRPRT(line)
		}
		out = append(out, line)
	}
	return out, nil
}

// parseRPRT maps a hamlib status line to an error. "RPRT 0" is
// success; negative codes are hamlib error numbers.
func parseRPRT(line string) error {
	code, ok := strings.CutPrefix(line, "RPRT ")
	if !ok {
		return fmt.Errorf("%w: unexpected response %q", radio.ErrProtocolError, line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("%w: bad status %q", radio.ErrProtocolError, line)
	}
	if n != 0 {
		return fmt.Errorf("%w: rigctld status %d", ErrCommandRejected, n)
	}
	return nil
}

func (r *RigctlLibrary) write(cmd string) error {
	if r.conn == nil {
		return ErrNotConnected
	}
	if err := r.conn.SetWriteDeadline(time.Now().Add(r.cfg.IOTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := r.conn.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if r.tap != nil {
		r.tap(DirTX, []byte(cmd))
	}
	return nil
}

func (r *RigctlLibrary) readLine() (string, error) {
	if r.conn == nil {
		return "", ErrNotConnected
	}
	if err := r.conn.SetReadDeadline(time.Now().Add(r.cfg.IOTimeout)); err != nil {
		return "", fmt.Errorf("set read deadline: %w", err)
	}
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	trimmed := strings.TrimRight(line, "\r\n")
	if r.tap != nil {
		r.tap(DirRX, []byte(trimmed))
	}
	return trimmed, nil
}
