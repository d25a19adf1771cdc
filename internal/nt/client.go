// Package nt is a NetworkTables 3.0 client: it mirrors the server's entry
// table and reports connectivity through callbacks.
package nt

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frc-grafana/nt-bridge/internal/entry"
	apperrors "github.com/frc-grafana/nt-bridge/internal/pkg/errors"
	"github.com/frc-grafana/nt-bridge/internal/pkg/logger"
)

// DefaultPort is the NetworkTables 3 server port.
const DefaultPort = "1735"

// CallbackKind selects which connectivity edge a callback observes.
type CallbackKind uint8

const (
	// OnConnected fires after a handshake completes.
	OnConnected CallbackKind = iota
	// OnDisconnected fires once when an established session is lost.
	OnDisconnected
)

// CallbackID identifies a registered callback for removal.
type CallbackID uint64

// Config holds client settings.
type Config struct {
	Address     string
	ClientID    string
	DialTimeout time.Duration
	KeepAlive   time.Duration
	Logger      *logger.Logger
}

func (c *Config) setDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = time.Second
	}
	if c.Logger == nil {
		c.Logger = logger.Discard()
	}
	c.Address = NormalizeAddress(c.Address)
}

type connCallback struct {
	kind CallbackKind
	fn   func(addr string)
}

type entryCallback struct {
	kind entry.ChangeKind
	fn   func(entry.Entry)
}

// Client is a NetworkTables client. Connection callbacks are dropped on
// Reconnect and must be registered again; entry callbacks are kept.
// Callbacks run on the client's reader goroutine.
type Client struct {
	cfg Config
	log *logger.Logger

	mu        sync.Mutex
	sess      *session
	entries   map[uint16]entry.Entry
	connCbs   map[CallbackID]connCallback
	entryCbs  map[CallbackID]entryCallback
	nextID    CallbackID
	closed    bool
	connected atomic.Bool
}

type session struct {
	conn net.Conn
	wmu  sync.Mutex
	w    *bufio.Writer
	done chan struct{}
	once sync.Once
}

func (s *session) write(b []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Dial connects to the server at address and completes the handshake.
func Dial(ctx context.Context, address, clientID string) (*Client, error) {
	return DialConfig(ctx, Config{Address: address, ClientID: clientID})
}

// DialConfig is Dial with full configuration.
func DialConfig(ctx context.Context, cfg Config) (*Client, error) {
	cfg.setDefaults()

	c := &Client{
		cfg:      cfg,
		log:      cfg.Logger.WithComponent("nt").WithAddress(cfg.Address),
		entries:  make(map[uint16]entry.Entry),
		connCbs:  make(map[CallbackID]connCallback),
		entryCbs: make(map[CallbackID]entryCallback),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connected reports whether a session is currently established.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Entries returns a copy of the current table keyed by entry name.
func (c *Client) Entries() map[string]entry.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]entry.Entry, len(c.entries))
	for _, e := range c.entries {
		out[e.Name] = e
	}
	return out
}

// AddConnectionCallback registers fn for the given connectivity edge.
func (c *Client) AddConnectionCallback(kind CallbackKind, fn func(addr string)) CallbackID {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	c.connCbs[c.nextID] = connCallback{kind: kind, fn: fn}
	return c.nextID
}

// RemoveConnectionCallback unregisters a connection callback. Unknown ids are ignored.
func (c *Client) RemoveConnectionCallback(id CallbackID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.connCbs, id)
}

// AddEntryCallback registers fn for entry additions or updates.
func (c *Client) AddEntryCallback(kind entry.ChangeKind, fn func(entry.Entry)) CallbackID {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	c.entryCbs[c.nextID] = entryCallback{kind: kind, fn: fn}
	return c.nextID
}

// ConnectionCallbacks returns how many connection callbacks are registered.
func (c *Client) ConnectionCallbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connCbs)
}

// Reconnect drops the current session and connection callbacks, then dials
// again. A nil return means the handshake completed.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.New(apperrors.CodeUnavailable, "client closed")
	}
	old := c.sess
	c.sess = nil
	c.connCbs = make(map[CallbackID]connCallback)
	c.mu.Unlock()

	if old != nil {
		old.close()
	}
	c.connected.Store(false)

	return c.connect(ctx)
}

// Close ends the session without firing disconnect callbacks.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	c.connected.Store(false)
	if s != nil {
		s.close()
	}
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s := &session{
		conn: conn,
		w:    bufio.NewWriter(conn),
		done: make(chan struct{}),
	}
	dec := newDecoder(conn)

	// Bound the handshake by the dial timeout and by ctx.
	_ = conn.SetDeadline(time.Now().Add(c.cfg.DialTimeout))
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	err = c.handshake(s, dec)
	stop()
	if err != nil {
		_ = conn.Close()
		return err
	}
	_ = conn.SetDeadline(time.Time{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return apperrors.New(apperrors.CodeUnavailable, "client closed")
	}
	c.sess = s
	c.mu.Unlock()
	c.connected.Store(true)

	c.log.Info("NT Connected")
	c.fireConnection(OnConnected)

	go c.readLoop(s, dec)
	go c.keepAlive(s)
	return nil
}

func (c *Client) handshake(s *session, dec *decoder) error {
	if err := s.write(clientHello(c.cfg.ClientID)); err != nil {
		return fmt.Errorf("send client hello: %w", err)
	}

	c.mu.Lock()
	c.entries = make(map[uint16]entry.Entry)
	c.mu.Unlock()

	for {
		m, err := dec.readMessage()
		if err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		switch m.typ {
		case msgProtoUnsupported:
			return apperrors.ProtocolError(fmt.Sprintf("server does not support revision 0x%04x (wants 0x%04x)", ProtocolRevision, m.revision))
		case msgServerHello:
			c.log.Debug("server hello", "identity", m.identity, "flags", uint8(m.flags))
		case msgServerHelloComplete:
			if err := s.write([]byte{msgClientHelloComplete}); err != nil {
				return fmt.Errorf("send client hello complete: %w", err)
			}
			return nil
		default:
			c.apply(m)
		}
	}
}

func (c *Client) readLoop(s *session, dec *decoder) {
	defer c.endSession(s)

	for {
		m, err := dec.readMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				c.log.Warn("read failed", "error", err)
			}
			return
		}
		c.apply(m)
	}
}

func (c *Client) keepAlive(s *session) {
	ticker := time.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write([]byte{msgKeepAlive}); err != nil {
				c.log.Debug("keep-alive failed", "error", err)
				s.close()
				return
			}
		}
	}
}

// endSession fires disconnect callbacks if s is still the live session.
func (c *Client) endSession(s *session) {
	s.close()

	c.mu.Lock()
	current := c.sess == s
	if current {
		c.sess = nil
	}
	c.mu.Unlock()

	if !current {
		return
	}
	c.connected.Store(false)
	c.log.Info("NT Disconnected")
	c.fireConnection(OnDisconnected)
}

func (c *Client) apply(m message) {
	var (
		fire    bool
		changed entry.Entry
	)

	c.mu.Lock()
	switch m.typ {
	case msgEntryAssignment:
		changed = entry.Entry{
			Name:   m.name,
			Value:  m.value,
			Change: entry.Added,
			ID:     m.id,
			Seq:    m.seq,
			Flags:  m.flags,
		}
		c.entries[m.id] = changed
		fire = true
	case msgEntryUpdate:
		e, ok := c.entries[m.id]
		if ok {
			e.Value = m.value
			e.Seq = m.seq
			e.Change = entry.Updated
			c.entries[m.id] = e
			changed, fire = e, true
		}
	case msgFlagsUpdate:
		if e, ok := c.entries[m.id]; ok {
			e.Flags = m.flags
			c.entries[m.id] = e
		}
	case msgEntryDelete:
		delete(c.entries, m.id)
	case msgClearAll:
		if m.magic == clearAllMagic {
			c.entries = make(map[uint16]entry.Entry)
		}
	}
	var fns []func(entry.Entry)
	if fire {
		for _, cb := range c.entryCbs {
			if cb.kind == changed.Change {
				fns = append(fns, cb.fn)
			}
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(changed)
	}
}

func (c *Client) fireConnection(kind CallbackKind) {
	c.mu.Lock()
	var fns []func(string)
	for _, cb := range c.connCbs {
		if cb.kind == kind {
			fns = append(fns, cb.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(c.cfg.Address)
	}
}

// NormalizeAddress appends DefaultPort when addr has no port.
func NormalizeAddress(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, DefaultPort)
}
