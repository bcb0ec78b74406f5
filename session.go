package mqtt

import (
	"sync"
	"time"

	"github.com/golang-io/mqtt/packet"
	"github.com/golang-io/mqtt/topic"
)

// Session holds the per-client state that survives a single network
// connection: its subscriptions, its queued QoS 1 messages while
// offline, and its packet-identifier bookkeeping (§4.4). A Session is
// created on first CONNECT for a client ID and reattached to a new
// conn on every later one.
type Session struct {
	mu sync.Mutex

	ClientID string
	conn     *conn

	subscriptions map[string]packet.Subscription

	queue    []queuedMessage
	maxQueue int

	nextPacketID uint16
	inflight     map[uint16]struct{}
	maxInflight  int

	expireTimer *time.Timer
}

type queuedMessage struct {
	message *packet.Message
	props   *packet.Properties
}

func newSession(clientID string, maxInflight, maxQueue int) *Session {
	return &Session{
		ClientID:      clientID,
		subscriptions: make(map[string]packet.Subscription),
		inflight:      make(map[uint16]struct{}),
		maxInflight:   maxInflight,
		maxQueue:      maxQueue,
	}
}

// swapConn binds c as the session's live connection, canceling any
// pending expiry timer, and returns whatever connection previously held
// the binding (non-nil only on takeover, §3.1.2.4).
func (s *Session) swapConn(c *conn) (old *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expireTimer != nil {
		s.expireTimer.Stop()
		s.expireTimer = nil
	}
	old, s.conn = s.conn, c
	return old
}

func (s *Session) unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = nil
}

func (s *Session) connection() *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) online() bool {
	return s.connection() != nil
}

func (s *Session) addSubscription(sub packet.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.TopicFilter] = sub
}

// removeSubscription deletes filter from the session's subscription
// set and reports whether it was present, so the caller can distinguish
// success from "no subscription existed" (§3.10.4, reason 0x11).
func (s *Session) removeSubscription(filter string) (existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed = s.subscriptions[filter]
	delete(s.subscriptions, filter)
	return existed
}

// maxQoSFor returns the highest maximum-QoS granted among this
// session's subscriptions whose filter matches topicName, used to cap
// a fanned-out PUBLISH's delivered QoS.
func (s *Session) maxQoSFor(topicName string) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best byte
	for filter, sub := range s.subscriptions {
		if sub.MaximumQoS > best && topic.FilterMatches(filter, topicName) {
			best = sub.MaximumQoS
		}
	}
	return best
}

// nextID allocates the next free packet identifier, skipping any ID
// still marked in-flight and wrapping past zero (packet ID 0 is
// invalid, §2.2.1). Returns ok=false once maxInflight outstanding IDs
// are already in use.
func (s *Session) nextID() (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inflight) >= s.maxInflight {
		return 0, false
	}
	for i := 0; i < 0xFFFF; i++ {
		s.nextPacketID++
		if s.nextPacketID == 0 {
			s.nextPacketID = 1
		}
		if _, busy := s.inflight[s.nextPacketID]; !busy {
			s.inflight[s.nextPacketID] = struct{}{}
			return s.nextPacketID, true
		}
	}
	return 0, false
}

func (s *Session) releaseID(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// enqueue appends a QoS 1 message for delivery once the client
// reconnects, dropping the oldest queued entry when maxQueue is
// already full.
func (s *Session) enqueue(message *packet.Message, props *packet.Properties) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= s.maxQueue {
		s.queue = s.queue[1:]
		dropped = true
	} else {
		stat.OfflineQueueDepth.Inc()
	}
	s.queue = append(s.queue, queuedMessage{message: message, props: props})
	if dropped {
		stat.DroppedOnOverflow.Inc()
	}
	return dropped
}

// drain removes and returns every queued message, for replay once the
// session's connection comes back online.
func (s *Session) drain() []queuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	if n := len(q); n > 0 {
		stat.OfflineQueueDepth.Sub(float64(n))
	}
	return q
}
