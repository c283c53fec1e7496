// Package registry tracks live authenticated sessions keyed by identity and
// performs directed and broadcast fan-out. It is pure process state: nothing
// is persisted, and reconnecting clients re-admit themselves after a restart.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cipherchat/dm-app/internal/auth"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the write side of a live connection handle. The WebSocket layer's
// connection type satisfies it.
type Conn interface {
	WriteEvent(data []byte) error
	Close() error
}

// Session is one authenticated live connection bound to an identity. It is
// owned by the registry for its lifetime and never shared between entries.
type Session struct {
	ID        uint64        // monotonically assigned by the registry
	ConnID    string        // transport-level connection id (UUID)
	Identity  auth.Identity // immutable once admitted
	Conn      Conn
	CreatedAt time.Time

	state int32
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// setState transitions the session. CLOSED is terminal; transitions out of
// it are ignored.
func (s *Session) setState(next State) {
	for {
		cur := atomic.LoadInt32(&s.state)
		if State(cur) == StateClosed {
			return
		}
		if atomic.CompareAndSwapInt32(&s.state, cur, int32(next)) {
			return
		}
	}
}

// MarkClosing flags the session as draining during graceful shutdown. The
// transition to CLOSED happens when the registry removes it.
func (s *Session) MarkClosing() {
	s.setState(StateClosing)
}

// Send writes an event to the session unless it has already closed. Write
// errors are returned for the caller to log; a failed write does not remove
// the session here — the read loop observes the dead connection and
// deregisters it.
func (s *Session) Send(data []byte) error {
	if s.State() == StateClosed {
		return nil
	}
	return s.Conn.WriteEvent(data)
}

// Registry is the authoritative set of live sessions. All mutation and
// iteration is serialized through its internal lock; fan-out snapshots the
// target set before writing so concurrent admits and removes never produce
// a torn view.
type Registry struct {
	mu         sync.RWMutex
	nextID     uint64
	byID       map[uint64]*Session
	byIdentity map[int64]map[uint64]*Session // identity id -> session id -> session
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byID:       make(map[uint64]*Session),
		byIdentity: make(map[int64]map[uint64]*Session),
	}
}

// Admit registers a connection under the given identity and returns the new
// OPEN session. A user connected from several devices holds several
// simultaneous sessions under the same identity.
func (r *Registry) Admit(identity auth.Identity, conn Conn, connID string) *Session {
	s := &Session{
		ID:        atomic.AddUint64(&r.nextID, 1),
		ConnID:    connID,
		Identity:  identity,
		Conn:      conn,
		CreatedAt: time.Now(),
		state:     int32(StateConnecting),
	}

	r.mu.Lock()
	r.byID[s.ID] = s
	sessions, ok := r.byIdentity[identity.ID]
	if !ok {
		sessions = make(map[uint64]*Session)
		r.byIdentity[identity.ID] = sessions
	}
	sessions[s.ID] = s
	r.mu.Unlock()

	s.setState(StateOpen)
	return s
}

// Remove deregisters a session, marks it CLOSED, and closes the underlying
// connection. It returns false if the session was already gone, which lets
// racing removers (read error vs. heartbeat eviction) avoid double cleanup.
func (r *Registry) Remove(sessionID uint64) bool {
	r.mu.Lock()
	s, ok := r.byID[sessionID]
	if ok {
		delete(r.byID, sessionID)
		if sessions, found := r.byIdentity[s.Identity.ID]; found {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(r.byIdentity, s.Identity.ID)
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	s.setState(StateClosed)
	_ = s.Conn.Close()
	return true
}

// SendTo delivers an event to every live session bound to the target
// identity. It reports whether at least one target session was live; false
// means the event reached nobody and exists only in the store. Individual
// write failures are dropped silently — the dead peer reconciles through a
// history fetch after reconnecting.
func (r *Registry) SendTo(identityID int64, data []byte) bool {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.byIdentity[identityID]))
	for _, s := range r.byIdentity[identityID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return false
	}
	for _, s := range targets {
		_ = s.Send(data)
	}
	return true
}

// Broadcast delivers an event to every session matching the predicate. A nil
// predicate matches all sessions. The session set is snapshotted under the
// read lock before any write happens.
func (r *Registry) Broadcast(data []byte, predicate func(*Session) bool) {
	for _, s := range r.snapshot() {
		if predicate == nil || predicate(s) {
			_ = s.Send(data)
		}
	}
}

// SessionsOf returns a snapshot of the sessions currently bound to the
// identity. The slice is safe to iterate without holding any lock.
func (r *Registry) SessionsOf(identityID int64) []*Session {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byIdentity[identityID]))
	for _, s := range r.byIdentity[identityID] {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	return sessions
}

// IsOnline reports whether the identity has at least one live session.
func (r *Registry) IsOnline(identityID int64) bool {
	r.mu.RLock()
	n := len(r.byIdentity[identityID])
	r.mu.RUnlock()
	return n > 0
}

// Count returns the current number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of every live session.
func (r *Registry) All() []*Session {
	return r.snapshot()
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	return sessions
}
