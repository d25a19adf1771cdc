package nt

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/frc-grafana/nt-bridge/internal/entry"
	apperrors "github.com/frc-grafana/nt-bridge/internal/pkg/errors"
)

// fakeServer speaks the server half of the NT3 handshake.
type fakeServer struct {
	t           *testing.T
	ln          net.Listener
	conns       chan net.Conn
	assignments [][]byte
	unsupported bool
}

func newFakeServer(t *testing.T, assignments ...[]byte) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{
		t:           t,
		ln:          ln,
		conns:       make(chan net.Conn, 8),
		assignments: assignments,
	}
	t.Cleanup(func() { _ = ln.Close() })

	go s.acceptLoop()
	return s
}

func (s *fakeServer) addr() string {
	return s.ln.Addr().String()
}

func (s *fakeServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *fakeServer) serve(conn net.Conn) {
	dec := newDecoder(conn)
	m, err := dec.readMessage()
	if err != nil || m.typ != msgClientHello {
		_ = conn.Close()
		return
	}

	if s.unsupported {
		_, _ = conn.Write(appendUint16([]byte{msgProtoUnsupported}, 0x0200))
		_ = conn.Close()
		return
	}

	out := []byte{msgServerHello, 0}
	out = appendString(out, "fake-robot")
	for _, a := range s.assignments {
		out = append(out, a...)
	}
	out = append(out, msgServerHelloComplete)
	if _, err := conn.Write(out); err != nil {
		_ = conn.Close()
		return
	}

	m, err = dec.readMessage()
	if err != nil || m.typ != msgClientHelloComplete {
		_ = conn.Close()
		return
	}
	s.conns <- conn

	// Drain keep-alives until the client goes away.
	for {
		if _, err := dec.readMessage(); err != nil {
			return
		}
	}
}

func (s *fakeServer) nextConn() net.Conn {
	s.t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		s.t.Fatal("no client session")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dialFake(t *testing.T, srv *fakeServer) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := DialConfig(ctx, Config{
		Address:   srv.addr(),
		ClientID:  "grafana-mqtt",
		KeepAlive: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("DialConfig() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDial_ReceivesInitialEntries(t *testing.T) {
	srv := newFakeServer(t,
		assignmentMsg("Angle", 1, entry.Double(42.5)),
		assignmentMsg("Enabled", 2, entry.Boolean(true)),
	)
	c := dialFake(t, srv)
	srv.nextConn()

	if !c.Connected() {
		t.Fatal("Connected() = false after Dial")
	}

	entries := c.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(Entries()) = %d, want 2", len(entries))
	}
	if got := entries["Angle"]; got.Value != entry.Double(42.5) || got.Change != entry.Added || got.ID != 1 {
		t.Errorf("Angle = %+v", got)
	}
	if got := entries["Enabled"]; got.Value != entry.Boolean(true) {
		t.Errorf("Enabled = %+v", got)
	}
}

func TestClient_AppliesUpdates(t *testing.T) {
	srv := newFakeServer(t, assignmentMsg("Angle", 1, entry.Double(1)))
	c := dialFake(t, srv)
	conn := srv.nextConn()

	var updates atomic.Int32
	c.AddEntryCallback(entry.Updated, func(e entry.Entry) {
		if e.Name == "Angle" {
			updates.Add(1)
		}
	})

	if _, err := conn.Write(updateMsg(1, 2, entry.String("now a string"))); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "update", func() bool {
		return c.Entries()["Angle"].Value == entry.String("now a string")
	})
	if got := c.Entries()["Angle"]; got.Change != entry.Updated || got.Seq != 2 {
		t.Errorf("Angle = %+v", got)
	}
	waitFor(t, "update callback", func() bool { return updates.Load() == 1 })

	if _, err := conn.Write([]byte{msgEntryDelete, 0, 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "delete", func() bool { return len(c.Entries()) == 0 })
}

func TestClient_DisconnectCallback(t *testing.T) {
	srv := newFakeServer(t)
	c := dialFake(t, srv)
	conn := srv.nextConn()

	var mu sync.Mutex
	var addrs []string
	c.AddConnectionCallback(OnDisconnected, func(addr string) {
		mu.Lock()
		addrs = append(addrs, addr)
		mu.Unlock()
	})

	_ = conn.Close()

	waitFor(t, "disconnect", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(addrs) == 1
	})
	if c.Connected() {
		t.Error("Connected() = true after server closed")
	}
	mu.Lock()
	if addrs[0] != srv.addr() {
		t.Errorf("callback addr = %q, want %q", addrs[0], srv.addr())
	}
	mu.Unlock()
}

func TestClient_ReconnectDropsConnectionCallbacks(t *testing.T) {
	srv := newFakeServer(t, assignmentMsg("Angle", 1, entry.Double(1)))
	c := dialFake(t, srv)
	first := srv.nextConn()

	var disconnects atomic.Int32
	c.AddConnectionCallback(OnDisconnected, func(string) { disconnects.Add(1) })
	c.AddEntryCallback(entry.Added, func(entry.Entry) {})

	_ = first.Close()
	waitFor(t, "disconnect", func() bool { return !c.Connected() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	srv.nextConn()

	if !c.Connected() {
		t.Error("Connected() = false after Reconnect")
	}
	if n := c.ConnectionCallbacks(); n != 0 {
		t.Errorf("ConnectionCallbacks() = %d after Reconnect, want 0", n)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("table not repopulated: %v", c.Entries())
	}
	if got := disconnects.Load(); got != 1 {
		t.Errorf("disconnect callback fired %d times, want 1", got)
	}
}

func TestClient_ReconnectReplacesLiveSessionSilently(t *testing.T) {
	srv := newFakeServer(t)
	c := dialFake(t, srv)
	srv.nextConn()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	srv.nextConn()

	var disconnects atomic.Int32
	c.AddConnectionCallback(OnDisconnected, func(string) { disconnects.Add(1) })

	time.Sleep(50 * time.Millisecond)
	if got := disconnects.Load(); got != 0 {
		t.Errorf("stale session fired %d disconnects", got)
	}
	if !c.Connected() {
		t.Error("Connected() = false")
	}
}

func TestDial_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, addr, "grafana-mqtt"); err == nil {
		t.Fatal("Dial() to closed port succeeded")
	}
}

func TestDial_ProtocolUnsupported(t *testing.T) {
	srv := newFakeServer(t)
	srv.unsupported = true

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, srv.addr(), "grafana-mqtt")
	if !apperrors.HasCode(err, apperrors.CodeProtocol) {
		t.Errorf("Dial() error = %v, want protocol error", err)
	}
}

func TestClient_CloseSuppressesCallbacks(t *testing.T) {
	srv := newFakeServer(t)
	c := dialFake(t, srv)
	srv.nextConn()

	var disconnects atomic.Int32
	c.AddConnectionCallback(OnDisconnected, func(string) { disconnects.Add(1) })

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if disconnects.Load() != 0 {
		t.Error("Close() fired disconnect callback")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Reconnect(ctx); err == nil {
		t.Error("Reconnect() after Close() succeeded")
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"10.20.79.2", "10.20.79.2:1735"},
		{"roborio-2079-frc.local:1735", "roborio-2079-frc.local:1735"},
		{"localhost:5810", "localhost:5810"},
		{"::1", "[::1]:1735"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeAddress(tt.in); got != tt.want {
				t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
