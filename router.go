package mqtt

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/golang-io/mqtt/packet"
	"github.com/golang-io/mqtt/topic"
	"golang.org/x/sync/errgroup"
)

// Router indexes live subscriptions by topic filter and fans PUBLISH
// packets out to every matching session (§4.5). It is the re-keyed,
// trie-backed successor to the teacher's flat per-topic subscriber map:
// subscriptions are indexed by filter as they're made instead of being
// rediscovered by scanning every active connection on first publish to
// a topic.
type Router struct {
	trie     *topic.Trie
	sessions *SessionManager
	dispatch *Dispatcher

	mu      sync.Mutex
	shareRR map[string]int // "<group>\x00<topic>" -> next round-robin index
}

func NewRouter(sessions *SessionManager, dispatch *Dispatcher) *Router {
	return &Router{
		trie:     topic.NewMemoryTrie(),
		sessions: sessions,
		dispatch: dispatch,
		shareRR:  make(map[string]int),
	}
}

func (r *Router) Subscribe(sess *Session, sub packet.Subscription) error {
	if err := r.trie.Subscribe(sub.TopicFilter, sess.ClientID); err != nil {
		return err
	}
	sess.addSubscription(sub)
	return nil
}

// Unsubscribe removes topicFilter from sess, reporting whether a
// subscription for it existed (§3.10.4, reason 0x00 vs. 0x11).
func (r *Router) Unsubscribe(sess *Session, topicFilter string) bool {
	r.trie.Unsubscribe(topicFilter, sess.ClientID)
	return sess.removeSubscription(topicFilter)
}

func (r *Router) UnsubscribeAll(sess *Session) {
	r.trie.UnsubscribeAll(sess.ClientID)
}

// Publish fans message out to every session with a matching
// subscription, picking one member per matching shared-subscription
// group by round robin (§4.8.2, Open Question Decision), each delivery
// running concurrently through the dispatcher's per-session mailbox.
// Fan-out concurrency follows the teacher's TopicSubscribed.Exchange use
// of errgroup.
func (r *Router) Publish(message *packet.Message, props *packet.Properties) error {
	direct, shared := r.trie.Match(message.TopicName)

	recipients := append([]string(nil), direct...)
	for group, members := range shared {
		if len(members) == 0 {
			continue
		}
		recipients = append(recipients, r.pickShareMember(message.TopicName, group, members))
	}

	group, _ := errgroup.WithContext(context.Background())
	for _, clientID := range recipients {
		clientID := clientID
		sess, ok := r.sessions.Get(clientID)
		if !ok {
			continue
		}
		group.Go(func() error {
			return r.deliver(sess, message, props)
		})
	}
	return group.Wait()
}

func (r *Router) pickShareMember(topicName, group string, members []string) string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted) // stable rotation order across publishes

	key := group + "\x00" + topicName
	r.mu.Lock()
	idx := r.shareRR[key] % len(sorted)
	r.shareRR[key] = idx + 1
	r.mu.Unlock()
	return sorted[idx]
}

func (r *Router) deliver(sess *Session, message *packet.Message, props *packet.Properties) error {
	qos := sess.maxQoSFor(message.TopicName)
	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Kind: PUBLISH, QoS: qos},
		Message:     message,
		Props:       props,
	}
	if sess.online() {
		if qos > 0 {
			id, ok := sess.nextID()
			if !ok {
				log.Printf("router: session %s has no free packet identifiers, dropping publish", sess.ClientID)
				return nil
			}
			pub.PacketID = id
		}
		pub.Version = sess.connection().version
		return r.dispatch.Send(sess, pub)
	}
	if qos == 0 {
		return nil // QoS 0 messages are not queued for offline delivery.
	}
	sess.enqueue(message, props)
	return nil
}
