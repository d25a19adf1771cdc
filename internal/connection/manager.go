// Package connection owns the telemetry source session and drives
// reconnection after it is lost.
package connection

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frc-grafana/nt-bridge/internal/connectivity"
	"github.com/frc-grafana/nt-bridge/internal/entry"
	"github.com/frc-grafana/nt-bridge/internal/nt"
	apperrors "github.com/frc-grafana/nt-bridge/internal/pkg/errors"
	"github.com/frc-grafana/nt-bridge/internal/pkg/logger"
)

// Source is the telemetry source session the manager drives.
// *nt.Client satisfies it.
type Source interface {
	Entries() map[string]entry.Entry
	AddConnectionCallback(kind nt.CallbackKind, fn func(addr string)) nt.CallbackID
	RemoveConnectionCallback(id nt.CallbackID)
	Reconnect(ctx context.Context) error
	Connected() bool
	Close() error
}

// Dialer opens the initial source session.
type Dialer func(ctx context.Context, address, clientID string) (Source, error)

// State is the manager's lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DefaultBackoffMax caps the reconnect delay when backoff is enabled
// without an explicit Max.
const DefaultBackoffMax = time.Minute

// Backoff spaces out reconnect attempts. A zero Initial disables it.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// Config holds manager settings.
type Config struct {
	Address  string
	ClientID string

	// ReconnectTimeout bounds how long a reconnect may wait for the source
	// to confirm the session before it counts as failed.
	ReconnectTimeout time.Duration

	Backoff Backoff
}

// Manager tracks connectivity to the source. Callbacks from the source
// update the status atomically; the publish loop reads it through Status
// and calls Reconnect while NeedsReconnect is true.
type Manager struct {
	cfg    Config
	log    *logger.Logger
	events *connectivity.Mailbox
	now    func() time.Time

	// link holds state and status together so a disconnect can never be
	// half-overwritten by a concurrent transition to Connected.
	link atomic.Pointer[link]

	// mu serialises Reconnect and guards the fields below.
	mu          sync.Mutex
	source      Source
	callbacks   []nt.CallbackID
	pendingFrom time.Time
	attempts    int
	nextAttempt time.Time
}

type link struct {
	state  State
	status connectivity.Status
}

// Connect dials the source and returns a manager in the Connected state.
// A failure here is fatal to the caller; the manager does not retry it.
func Connect(ctx context.Context, dial Dialer, cfg Config, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.ReconnectTimeout <= 0 {
		cfg.ReconnectTimeout = 2 * time.Second
	}
	if cfg.Backoff.Initial > 0 && cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = max(DefaultBackoffMax, cfg.Backoff.Initial)
	}
	cfg.Address = nt.NormalizeAddress(cfg.Address)

	source, err := dial(ctx, cfg.Address, cfg.ClientID)
	if err != nil {
		return nil, apperrors.ConnectError(cfg.Address, err)
	}

	m := &Manager{
		cfg:    cfg,
		log:    log.WithComponent("connection").WithAddress(cfg.Address),
		events: connectivity.NewMailbox(),
		now:    time.Now,
		source: source,
	}
	m.setStatus(StateConnected, connectivity.ConnectedTo(cfg.Address))

	m.mu.Lock()
	m.subscribe()
	m.mu.Unlock()

	// The session may have dropped between the handshake and subscribing.
	if !source.Connected() {
		m.OnDisconnect(cfg.Address)
	}
	return m, nil
}

// Events returns the mailbox connectivity notifications are posted to.
func (m *Manager) Events() *connectivity.Mailbox {
	return m.events
}

// Status returns the latest connectivity status without blocking.
func (m *Manager) Status() connectivity.Status {
	return m.link.Load().status
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	return m.link.Load().state
}

// NeedsReconnect reports whether the loop should call Reconnect now. It is
// false inside a backoff window. A pending attempt that has not been
// confirmed within ReconnectTimeout reverts to Disconnected here.
func (m *Manager) NeedsReconnect() bool {
	cur := m.link.Load()
	switch cur.state {
	case StateDisconnected:
		m.mu.Lock()
		defer m.mu.Unlock()
		return !m.now().Before(m.nextAttempt)
	case StateConnecting:
		m.mu.Lock()
		expired := !m.pendingFrom.IsZero() && m.now().Sub(m.pendingFrom) > m.cfg.ReconnectTimeout
		m.mu.Unlock()
		if expired && m.link.CompareAndSwap(cur, &link{state: StateDisconnected}) {
			m.log.Warn("reconnect not confirmed", "timeout", m.cfg.ReconnectTimeout)
			return true
		}
		return false
	default:
		return false
	}
}

// Entries returns the source's current table.
func (m *Manager) Entries() map[string]entry.Entry {
	m.mu.Lock()
	source := m.source
	m.mu.Unlock()
	return source.Entries()
}

// OnDisconnect records that the session to addr was lost. It never blocks.
func (m *Manager) OnDisconnect(addr string) {
	m.setStatus(StateDisconnected, connectivity.NotConnected)
	m.events.Send(connectivity.Event{Kind: connectivity.Disconnected, Address: addr})
}

// Reconnect asks the source to re-establish the session, then registers
// fresh connectivity callbacks. On error the manager stays Disconnected.
// A nil return does not mean Connected: the state moves there once the
// source confirms.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == StateConnected {
		return nil
	}
	if now := m.now(); now.Before(m.nextAttempt) {
		return nil
	}

	pending := &link{state: StateConnecting}
	m.link.Store(pending)
	m.pendingFrom = m.now()

	if err := m.source.Reconnect(ctx); err != nil {
		m.attempts++
		m.scheduleNext()
		m.pendingFrom = time.Time{}
		m.setStatus(StateDisconnected, connectivity.NotConnected)
		return apperrors.ReconnectError(m.cfg.Address, err)
	}

	m.attempts = 0
	m.nextAttempt = time.Time{}
	m.subscribe()

	// A disconnect or confirm callback may have replaced pending meanwhile;
	// only an untouched pending attempt moves to Connected here.
	if m.source.Connected() && m.link.CompareAndSwap(pending, &link{
		state:  StateConnected,
		status: connectivity.ConnectedTo(m.cfg.Address),
	}) {
		m.pendingFrom = time.Time{}
		m.events.Send(connectivity.Event{Kind: connectivity.Connected, Address: m.cfg.Address})
	}
	return nil
}

// Close releases the source session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.callbacks {
		m.source.RemoveConnectionCallback(id)
	}
	m.callbacks = nil
	return m.source.Close()
}

// subscribe replaces the manager's callbacks with exactly one connected and
// one disconnected callback. Caller holds mu.
func (m *Manager) subscribe() {
	for _, id := range m.callbacks {
		m.source.RemoveConnectionCallback(id)
	}
	m.callbacks = []nt.CallbackID{
		m.source.AddConnectionCallback(nt.OnConnected, func(addr string) {
			m.log.Info("NT Connected", "peer", addr)
			m.confirm(addr)
		}),
		m.source.AddConnectionCallback(nt.OnDisconnected, func(addr string) {
			m.log.Warn("NT Disconnected", "peer", addr)
			m.OnDisconnect(addr)
		}),
	}
}

// confirm handles a Connected callback. It may run while Reconnect holds mu
// on another goroutine, so it must not take the lock.
func (m *Manager) confirm(addr string) {
	m.setStatus(StateConnected, connectivity.ConnectedTo(addr))
	m.events.Send(connectivity.Event{Kind: connectivity.Connected, Address: addr})
}

func (m *Manager) setStatus(state State, status connectivity.Status) {
	m.link.Store(&link{state: state, status: status})
}

// scheduleNext computes the earliest time of the next attempt. Caller holds mu.
func (m *Manager) scheduleNext() {
	b := m.cfg.Backoff
	if b.Initial <= 0 {
		m.nextAttempt = time.Time{}
		return
	}

	delay := b.Initial
	for i := 1; i < m.attempts && delay < b.Max; i++ {
		if delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	delay = min(delay, b.Max)
	if b.Jitter > 0 {
		delay += time.Duration(rand.Float64() * b.Jitter * float64(delay))
	}
	m.nextAttempt = m.now().Add(delay)
}
