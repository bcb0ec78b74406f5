package mqtt

import (
	"context"
	"log"
	"sync"

	"github.com/golang-io/mqtt/packet"
	"golang.org/x/sync/semaphore"
)

// mailboxCapacity bounds how many pending deliveries a single session's
// mailbox can hold before Dispatcher.Send starts shedding.
const mailboxCapacity = 64

// Dispatcher serializes PUBLISH delivery to each session behind a small
// mailbox (§4.6), so a slow or backpressured client never blocks
// Router.Publish's fan-out to other sessions, while guaranteeing
// in-order delivery to any single client even though a session can be
// targeted concurrently by several connections' router calls. The
// teacher never needed this: one connection, one goroutine, one
// serialization point. A shared semaphore.Weighted bounds the number of
// mailbox workers actively draining at once to roughly GOMAXPROCS, so a
// burst of newly active sessions can't spawn unbounded concurrent
// writers.
type Dispatcher struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	mailbox map[string]*actorMailbox
}

type actorMailbox struct {
	ch   chan *packet.PUBLISH
	once sync.Once
}

func NewDispatcher(maxConcurrent int64) *Dispatcher {
	return &Dispatcher{
		sem:     semaphore.NewWeighted(maxConcurrent),
		mailbox: make(map[string]*actorMailbox),
	}
}

// Send enqueues pkt for delivery to sess's current connection, starting
// the session's single worker goroutine on first use. If the mailbox is
// full the publish is dropped for that session rather than blocking the
// caller's fan-out.
func (d *Dispatcher) Send(sess *Session, pkt *packet.PUBLISH) error {
	box := d.boxFor(sess.ClientID)
	box.once.Do(func() { go d.run(sess, box) })
	select {
	case box.ch <- pkt:
		return nil
	default:
		log.Printf("dispatch: mailbox full for session %s, dropping publish", sess.ClientID)
		stat.DroppedOnOverflow.Inc()
		return nil
	}
}

// Drop removes clientID's mailbox so its worker goroutine exits once
// drained; used when a session is permanently retired (expiry, clean
// session end).
func (d *Dispatcher) Drop(clientID string) {
	d.mu.Lock()
	box, ok := d.mailbox[clientID]
	if ok {
		delete(d.mailbox, clientID)
	}
	d.mu.Unlock()
	if ok {
		close(box.ch)
	}
}

func (d *Dispatcher) boxFor(clientID string) *actorMailbox {
	d.mu.Lock()
	defer d.mu.Unlock()
	box, ok := d.mailbox[clientID]
	if !ok {
		box = &actorMailbox{ch: make(chan *packet.PUBLISH, mailboxCapacity)}
		d.mailbox[clientID] = box
	}
	return box
}

func (d *Dispatcher) run(sess *Session, box *actorMailbox) {
	ctx := context.Background()
	for pkt := range box.ch {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			continue
		}
		if c := sess.connection(); c != nil {
			if err := (&response{conn: c}).OnSend(pkt); err != nil {
				log.Printf("dispatch: send to %s failed: %v", sess.ClientID, err)
			}
		}
		d.sem.Release(1)
	}
}
