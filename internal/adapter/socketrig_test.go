package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/log4ym/station-core/internal/radio"
)

// fakeRigServer simulates a socket transceiver for testing.
type fakeRigServer struct {
	t        *testing.T
	listener net.Listener

	banner   string
	token    string // expected auth token; empty means auth=none
	failVerb string // verb answered with an err line

	mu       sync.Mutex
	conn     net.Conn
	received []string
	done     chan struct{}
}

func newFakeRigServer(t *testing.T, banner, token string) *fakeRigServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeRigServer{
		t:        t,
		listener: listener,
		banner:   banner,
		token:    token,
		done:     make(chan struct{}),
	}
	go s.acceptLoop()
	return s
}

func (s *fakeRigServer) acceptLoop() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	fmt.Fprintf(conn, "%s\n", s.banner)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-s.done:
			return
		default:
		}
		line := scanner.Text()

		s.mu.Lock()
		s.received = append(s.received, line)
		s.mu.Unlock()

		seq, rest, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(rest, "auth "):
			if strings.TrimPrefix(rest, "auth ") == s.token {
				fmt.Fprintf(conn, "ok %s\n", seq)
			} else {
				fmt.Fprintf(conn, "err %s auth_required bad token\n", seq)
			}
		case rest == "sub state":
			fmt.Fprintf(conn, "ok %s\n", seq)
			fmt.Fprintf(conn, "state freq=14250000 mode=USB ptt=off slice=A\n")
		case rest == s.failVerb:
			fmt.Fprintf(conn, "err %s internal command failed\n", seq)
		default:
			fmt.Fprintf(conn, "ok %s\n", seq)
		}
	}
}

// push writes a raw line to the connected client.
func (s *fakeRigServer) push(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		fmt.Fprintf(s.conn, "%s\n", line)
	}
}

func (s *fakeRigServer) dropClient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *fakeRigServer) receivedLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	copy(out, s.received)
	return out
}

func (s *fakeRigServer) addr() string {
	return s.listener.Addr().String()
}

func (s *fakeRigServer) close() {
	close(s.done)
	s.listener.Close()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
}

func connectSocketRig(t *testing.T, server *fakeRigServer, token string) *SocketRig {
	t.Helper()
	a := NewSocketRig(SocketRigConfig{
		Address:        server.addr(),
		AuthToken:      token,
		CommandTimeout: 2 * time.Second,
	})
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return a
}

func readDelta(t *testing.T, deltas <-chan Delta) Delta {
	t.Helper()
	select {
	case d, ok := <-deltas:
		if !ok {
			t.Fatal("delta channel closed")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delta")
	}
	return Delta{}
}

func TestSocketRig_ConnectNoAuth(t *testing.T) {
	server := newFakeRigServer(t, "hello version=3.2.1 auth=none", "")
	defer server.close()

	a := connectSocketRig(t, server, "")
	defer a.Disconnect(context.Background())

	if !a.Stats().Connected {
		t.Error("Stats().Connected = false after Connect")
	}
	if a.Family() != radio.FamilySocketRig {
		t.Errorf("Family() = %q", a.Family())
	}
}

func TestSocketRig_ConnectWithAuth(t *testing.T) {
	server := newFakeRigServer(t, "hello version=3.2.1 auth=required", "sekrit")
	defer server.close()

	a := connectSocketRig(t, server, "sekrit")
	defer a.Disconnect(context.Background())

	lines := server.receivedLines()
	if len(lines) == 0 || !strings.Contains(lines[0], "auth sekrit") {
		t.Errorf("auth exchange missing, received %v", lines)
	}
}

func TestSocketRig_ConnectAuthNoToken(t *testing.T) {
	server := newFakeRigServer(t, "hello version=3.2.1 auth=required", "sekrit")
	defer server.close()

	a := NewSocketRig(SocketRigConfig{Address: server.addr()})
	err := a.Connect(context.Background())
	if !errors.Is(err, radio.ErrAuthRequired) {
		t.Errorf("Connect() error = %v, want ErrAuthRequired", err)
	}
}

func TestSocketRig_ConnectAuthRejected(t *testing.T) {
	server := newFakeRigServer(t, "hello version=3.2.1 auth=required", "sekrit")
	defer server.close()

	a := NewSocketRig(SocketRigConfig{Address: server.addr(), AuthToken: "wrong"})
	err := a.Connect(context.Background())
	if !errors.Is(err, radio.ErrAuthRequired) {
		t.Errorf("Connect() error = %v, want ErrAuthRequired", err)
	}
}

func TestSocketRig_ConnectRefused(t *testing.T) {
	// Grab a port and close it so nothing listens there.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	a := NewSocketRig(SocketRigConfig{Address: addr, ConnectTimeout: time.Second})
	if err := a.Connect(context.Background()); !errors.Is(err, radio.ErrConnectFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectFailed", err)
	}
}

func TestSocketRig_SubscribeDeliversState(t *testing.T) {
	server := newFakeRigServer(t, "hello version=3.2.1 auth=none", "")
	defer server.close()

	a := connectSocketRig(t, server, "")
	defer a.Disconnect(context.Background())

	if err := a.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	d := readDelta(t, a.Deltas())
	if d.FrequencyHz == nil || *d.FrequencyHz != 14_250_000 {
		t.Errorf("delta frequency = %v, want 14250000", d.FrequencyHz)
	}
	if d.Mode == nil || *d.Mode != "USB" {
		t.Errorf("delta mode = %v, want USB", d.Mode)
	}
	if d.Transmitting == nil || *d.Transmitting {
		t.Errorf("delta transmitting = %v, want false", d.Transmitting)
	}
	if d.Slice == nil || *d.Slice != "A" {
		t.Errorf("delta slice = %v, want A", d.Slice)
	}
}

func TestSocketRig_SendSetFrequency(t *testing.T) {
	server := newFakeRigServer(t, "hello version=3.2.1 auth=none", "")
	defer server.close()

	a := connectSocketRig(t, server, "")
	defer a.Disconnect(context.Background())

	if _, err := a.Send(context.Background(), Command{Op: OpSetFrequency, FrequencyHz: 7_030_000}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	found := false
	for _, line := range server.receivedLines() {
		if strings.HasSuffix(line, "set freq 7030000") {
			found = true
		}
	}
	if !found {
		t.Errorf("set freq command not on the wire, received %v", server.receivedLines())
	}
}

func TestSocketRig_SendRejected(t *testing.T) {
	server := newFakeRigServer(t, "hello version=3.2.1 auth=none", "")
	server.failVerb = "set power 100"
	defer server.close()

	a := connectSocketRig(t, server, "")
	defer a.Disconnect(context.Background())

	_, err := a.Send(context.Background(), Command{Op: OpSetPower, PowerWatts: 100})
	if !errors.Is(err, ErrCommandRejected) {
		t.Errorf("Send() error = %v, want ErrCommandRejected", err)
	}
}

func TestSocketRig_SendNotConnected(t *testing.T) {
	a := NewSocketRig(SocketRigConfig{Address: "127.0.0.1:1"})
	if _, err := a.Send(context.Background(), Command{Op: OpStopCW}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestSocketRig_UnsolicitedStateLine(t *testing.T) {
	server := newFakeRigServer(t, "hello version=3.2.1 auth=none", "")
	defer server.close()

	a := connectSocketRig(t, server, "")
	defer a.Disconnect(context.Background())

	server.push("state freq=3573000 mode=DIGU")

	d := readDelta(t, a.Deltas())
	if d.FrequencyHz == nil || *d.FrequencyHz != 3_573_000 {
		t.Errorf("delta frequency = %v, want 3573000", d.FrequencyHz)
	}
	if d.Mode == nil || *d.Mode != "DIGU" {
		t.Errorf("delta mode = %v, want DIGU", d.Mode)
	}
}

func TestSocketRig_ServerDropSignalsFatal(t *testing.T) {
	server := newFakeRigServer(t, "hello version=3.2.1 auth=none", "")
	defer server.close()

	a := connectSocketRig(t, server, "")
	defer a.Disconnect(context.Background())

	server.dropClient()

	select {
	case err := <-a.Fatal():
		if err == nil {
			t.Error("Fatal() delivered nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error after server dropped the connection")
	}

	if a.Stats().Connected {
		t.Error("Stats().Connected = true after connection died")
	}
	if _, err := a.Send(context.Background(), Command{Op: OpStopCW}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() after drop error = %v, want ErrNotConnected", err)
	}

	// The delta channel drains and closes.
	for {
		if _, ok := <-a.Deltas(); !ok {
			break
		}
	}
}

func TestSocketRig_DisconnectIdempotent(t *testing.T) {
	server := newFakeRigServer(t, "hello version=3.2.1 auth=none", "")
	defer server.close()

	a := connectSocketRig(t, server, "")

	if err := a.Disconnect(context.Background()); err != nil {
		t.Errorf("first Disconnect() error = %v", err)
	}
	if err := a.Disconnect(context.Background()); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}

	if err := a.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Disconnect error = %v, want ErrClosed", err)
	}
}

func TestParseHelloBanner(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantAuth bool
		wantErr  bool
	}{
		{name: "auth required", line: "hello version=3.2.1 auth=required", wantAuth: true},
		{name: "auth none", line: "hello version=3.2.1 auth=none", wantAuth: false},
		{name: "no auth field", line: "hello version=1.0", wantAuth: false},
		{name: "bare hello", line: "hello", wantAuth: false},
		{name: "not a banner", line: "garbage line", wantErr: true},
		{name: "empty", line: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotAuth, err := parseHelloBanner(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Error("parseHelloBanner() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseHelloBanner() unexpected error: %v", err)
			}
			if gotAuth != tt.wantAuth {
				t.Errorf("auth = %v, want %v", gotAuth, tt.wantAuth)
			}
		})
	}
}

func TestSocketRigVerb(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		want    string
		wantErr bool
	}{
		{name: "set frequency", cmd: Command{Op: OpSetFrequency, FrequencyHz: 14_250_000}, want: "set freq 14250000"},
		{name: "set mode uppercases", cmd: Command{Op: OpSetMode, Mode: "usb"}, want: "set mode USB"},
		{name: "ptt on", cmd: Command{Op: OpSetPTT, PTT: true}, want: "set ptt on"},
		{name: "ptt off", cmd: Command{Op: OpSetPTT, PTT: false}, want: "set ptt off"},
		{name: "set power", cmd: Command{Op: OpSetPower, PowerWatts: 100}, want: "set power 100"},
		{name: "cw send", cmd: Command{Op: OpSendCW, Text: "CQ CQ DE W1AW"}, want: "cw send CQ CQ DE W1AW"},
		{name: "cw stop", cmd: Command{Op: OpStopCW}, want: "cw stop"},
		{name: "cw speed", cmd: Command{Op: OpSetCWSpeed, WPM: 28}, want: "cw speed 28"},
		{name: "unknown op", cmd: Command{Op: Op("reboot")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := socketRigVerb(tt.cmd)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedOp) {
					t.Errorf("error = %v, want ErrUnsupportedOp", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("verb = %q, want %q", got, tt.want)
			}
		})
	}
}
