package mqtt

import (
	"sync"
	"time"

	"github.com/golang-io/mqtt/packet"
)

// SessionManager is the client-identifier-keyed session registry
// (§4.4): it implements the takeover semantics of §3.1.2.4 (a second
// CONNECT for the same client ID evicts the first connection) and runs
// the MQTT 5 session-expiry timers (§3.1.2.11), re-keyed from the
// teacher's topic-keyed MemorySubscribed map/RWMutex shape.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dispatch *Dispatcher
	router   *Router

	maxInflight int
	maxQueue    int
	expiryCap   time.Duration
}

func NewSessionManager(maxInflight, maxQueue int, expiryCap time.Duration, dispatch *Dispatcher) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*Session),
		dispatch:    dispatch,
		maxInflight: maxInflight,
		maxQueue:    maxQueue,
		expiryCap:   expiryCap,
	}
}

// SetRouter wires the router used to unwind a session's subscriptions
// once it is actually destroyed. Router and SessionManager construct
// each other circularly (Router needs SessionManager.Get, SessionManager
// needs Router.UnsubscribeAll), so NewServer wires this after both
// exist rather than threading it through either constructor.
func (m *SessionManager) SetRouter(r *Router) {
	m.router = r
}

// Open binds c to the session for clientID, creating one if cleanStart
// requests a fresh start or none yet exists. present reports whether a
// prior session (with queued state) is being resumed.
func (m *SessionManager) Open(clientID string, cleanStart bool, c *conn) (sess *Session, present bool) {
	m.mu.Lock()
	existing, ok := m.sessions[clientID]
	var evicted *Session
	if ok && cleanStart {
		delete(m.sessions, clientID)
		evicted, ok = existing, false
	}
	if !ok {
		existing = newSession(clientID, m.maxInflight, m.maxQueue)
		m.sessions[clientID] = existing
		stat.SessionCount.Inc()
	}
	m.mu.Unlock()

	if evicted != nil {
		// Clean-start discards the prior session's state entirely
		// [MQTT-3.1.2-4], including its subscriptions, and evicts the
		// connection still bound to it.
		stat.SessionCount.Dec()
		m.dispatch.Drop(clientID)
		if m.router != nil {
			m.router.UnsubscribeAll(evicted)
		}
		if old := evicted.swapConn(nil); old != nil && old != c {
			old.disconnectWithReason(packet.ErrSessionTakenOver)
		}
	}

	if old := existing.swapConn(c); old != nil && old != c {
		old.disconnectWithReason(packet.ErrSessionTakenOver)
	}
	return existing, ok
}

func (m *SessionManager) Get(clientID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[clientID]
	return s, ok
}

// Release unbinds clientID's connection. With expiry<=0 the session is
// dropped immediately (§3.1.2.11.2, clean end of session); otherwise a
// timer, capped at expiryCap, deletes it once the interval elapses
// without a new connection claiming it. Subscriptions and the offline
// queue are left untouched here either way: they survive until the
// session is actually destroyed (drop/expire), per §3's "subscription
// set survives disconnection iff session-expiry-interval > 0" rule —
// the zero-expiry case is destruction, not a separate teardown step.
func (m *SessionManager) Release(clientID string, expiry time.Duration) {
	m.mu.RLock()
	sess, ok := m.sessions[clientID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	sess.unbind()

	if expiry <= 0 {
		m.drop(clientID)
		return
	}
	if m.expiryCap > 0 && expiry > m.expiryCap {
		expiry = m.expiryCap
	}
	sess.mu.Lock()
	sess.expireTimer = time.AfterFunc(expiry, func() { m.expire(clientID) })
	sess.mu.Unlock()
}

func (m *SessionManager) expire(clientID string) {
	m.mu.Lock()
	sess, ok := m.sessions[clientID]
	if ok && !sess.online() {
		delete(m.sessions, clientID)
	} else {
		ok = false
	}
	m.mu.Unlock()
	if ok {
		stat.SessionCount.Dec()
		m.dispatch.Drop(clientID)
		if m.router != nil {
			m.router.UnsubscribeAll(sess)
		}
	}
}

func (m *SessionManager) drop(clientID string) {
	m.mu.Lock()
	sess, ok := m.sessions[clientID]
	if ok {
		delete(m.sessions, clientID)
	}
	m.mu.Unlock()
	if ok {
		stat.SessionCount.Dec()
		m.dispatch.Drop(clientID)
		if m.router != nil {
			m.router.UnsubscribeAll(sess)
		}
	}
}

func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
