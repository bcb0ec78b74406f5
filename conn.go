package mqtt

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-io/mqtt/packet"
	"golang.org/x/net/websocket"
)

// outboxCapacity bounds how many pending write frames a connection will
// buffer before marking itself not-writable (§4.3).
const outboxCapacity = 256

// conn represents the server side of one client connection.
type conn struct {
	// server is the server on which the connection arrived. Immutable; never nil.
	server *Server

	// cancelCtx cancels the connection-level context.
	cancelCtx context.CancelFunc

	// rwc is the underlying network connection. Usually *net.TCPConn,
	// *tls.Conn, or *websocket.Conn.
	rwc net.Conn

	// remoteAddr is rwc.RemoteAddr().String(), populated inside serve.
	remoteAddr string

	// tlsState is the TLS connection state when using TLS. nil means not TLS.
	tlsState *tls.ConnectionState

	curState atomic.Uint64 // packed (unix time<<8|uint8(ConnState))

	csm     *csm
	decoder *packet.Decoder
	session *Session
	ID      string
	version byte

	willTopic   string
	willPayload []byte
	willQoS     byte
	willRetain  bool

	keepAlive      time.Duration
	keepAliveTimer *time.Timer

	// sessionExpiry is the interval (§3.1.2.11) this connection's CONNECT
	// negotiated, capped by config.SessionExpiryCap; used at disconnect
	// instead of the broker-wide default so a client that explicitly
	// requested 0 still expires immediately even if the broker default
	// is nonzero, and vice versa.
	sessionExpiry time.Duration

	// notWritable is set once a write to rwc has failed or the outbox
	// has overflowed; further Write calls are rejected immediately
	// instead of blocking or growing the buffer without bound.
	notWritable atomic.Bool
	outbox      chan []byte

	mu sync.Mutex
}

func (c *conn) setState(nc net.Conn, state ConnState, runHook bool) {
	srv := c.server
	switch state {
	case StateNew:
		srv.trackConn(c, true)
	case StateHijacked, StateClosed:
		srv.trackConn(c, false)
	default:
	}
	if state > 0xFF || state < 0 {
		panic("invalid conn state")
	}
	packedState := uint64(time.Now().Unix()<<8) | uint64(state)
	c.curState.Store(packedState)
	if !runHook {
		return
	}
	if hook := srv.ConnState; hook != nil {
		hook(nc, state)
	}
}

// startOutbox spins up the connection's single writer goroutine. All
// packet.Pack calls write into the conn's Write method, which queues
// frames here instead of touching rwc directly, so a stalled client
// backpressures only its own mailbox (dispatch.go) and never blocks the
// router's fan-out to other sessions.
func (c *conn) startOutbox() {
	c.outbox = make(chan []byte, outboxCapacity)
	go func() {
		for frame := range c.outbox {
			if _, err := c.rwc.Write(frame); err != nil {
				log.Printf("conn: write error, marking not writable: clientId=%s, err=%v", c.ID, err)
				c.notWritable.Store(true)
				return
			}
		}
	}()
}

// Write satisfies io.Writer for packet.Pack. It queues a copy of b onto
// the connection's outbox rather than writing rwc synchronously.
func (c *conn) Write(b []byte) (int, error) {
	if c.notWritable.Load() {
		return 0, fmt.Errorf("conn: not writable: clientId=%s", c.ID)
	}
	frame := append([]byte(nil), b...)
	select {
	case c.outbox <- frame:
		return len(b), nil
	default:
		c.notWritable.Store(true)
		return 0, fmt.Errorf("conn: outbox full, marking not writable: clientId=%s", c.ID)
	}
}

func (c *conn) getState() (state ConnState, unixSec int64) {
	packedState := c.curState.Load()
	return ConnState(packedState & 0xFF), int64(packedState >> 8)
}

// close tears down the connection's network socket and outbox writer.
func (c *conn) close() {
	_ = c.rwc.Close()
	if c.outbox != nil {
		close(c.outbox)
		c.outbox = nil
	}
	if c.keepAliveTimer != nil {
		c.keepAliveTimer.Stop()
	}
}

// resetKeepAlive arms or re-arms the keep-alive timer using
// time.AfterFunc, matching the teacher's Timer/Ticker idiom elsewhere
// (Server.Shutdown's poll timer, MemorySubscribed.CleanEmptyTopic's
// ticker). A client that goes silent for 1.5x its declared keep-alive
// interval is considered lost [MQTT-3.1.2-22].
func (c *conn) resetKeepAlive() {
	if c.keepAlive <= 0 {
		return
	}
	if c.keepAliveTimer == nil {
		c.keepAliveTimer = time.AfterFunc(c.keepAlive, c.keepAliveExpired)
		return
	}
	c.keepAliveTimer.Reset(c.keepAlive)
}

func (c *conn) keepAliveExpired() {
	log.Printf("conn: keep-alive timeout: clientId=%s, remote=%s", c.ID, c.remoteAddr)
	c.close()
}

// disconnectWithReason writes a best-effort DISCONNECT carrying reason
// then closes the connection; used to evict a connection displaced by
// session takeover (§3.1.2.4 / Open Question: SessionTakenOver) rather
// than closing the socket silently. Writes directly to rwc instead of
// through the outbox: the immediate close() that follows would race the
// outbox's writer goroutine and could drop the frame before it's sent.
func (c *conn) disconnectWithReason(reason packet.ReasonCode) {
	pkt := &packet.DISCONNECT{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: DISCONNECT}, ReasonCode: reason}
	var buf bytes.Buffer
	c.mu.Lock()
	err := pkt.Pack(&buf)
	c.mu.Unlock()
	if err == nil {
		_, _ = c.rwc.Write(buf.Bytes())
	}
	c.close()
}

// Serve a new connection.
func (c *conn) serve(ctx context.Context) {
	if ws, ok := c.rwc.(*websocket.Conn); ok {
		if req := ws.Request(); req != nil {
			c.remoteAddr = req.RemoteAddr
		}
	} else if ra := c.rwc.RemoteAddr(); ra != nil {
		c.remoteAddr = ra.String()
	}

	log.Printf("conn: connected: remote=%s", c.remoteAddr)
	c.startOutbox()

	defer func() {
		if err := recover(); err != nil && err != ErrAbortHandler {
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			log.Printf("mqtt: panic serving %v: %v", c.remoteAddr, err)
			log.Printf("%s", buf)
		}

		log.Printf("conn: disconnected: clientId=%s, remote=%s", c.ID, c.remoteAddr)
		c.csm.disconnected()

		if c.session != nil && c.session.connection() == c {
			// A connection displaced by takeover is no longer bound to
			// the session and leaves it to its successor.
			// Subscriptions are NOT torn down here: §3's session
			// invariant is that the subscription set survives
			// disconnection whenever session-expiry > 0, so the router's
			// index must keep routing to this (now offline) session.
			// SessionManager only unwinds them once the session is
			// actually destroyed (clean takeover or expiry), via its
			// router reference.
			c.server.sessions.Release(c.ID, c.sessionExpiry)
		}
		c.close()
		c.setState(c.rwc, StateClosed, true)

		if c.willTopic != "" {
			_ = c.server.router.Publish(&packet.Message{TopicName: c.willTopic, Content: c.willPayload}, nil)
		}
	}()

	if tlsConn, ok := c.rwc.(*tls.Conn); ok {
		tlsTO := 10 * time.Second
		dl := time.Now().Add(tlsTO)
		_ = c.rwc.SetReadDeadline(dl)
		_ = c.rwc.SetWriteDeadline(dl)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			var reason string
			if re, ok := err.(tls.RecordHeaderError); ok && re.Conn != nil {
				_, _ = io.WriteString(re.Conn, "HTTP/1.0 400 Bad Request\r\n\r\nClient sent an HTTP request to an HTTPS server.\n")
				_ = re.Conn.Close()
				reason = "client sent an HTTP request to an HTTPS server"
			} else {
				reason = err.Error()
			}
			log.Printf("mqtt: TLS handshake error from %s: %v", c.rwc.RemoteAddr(), reason)
			return
		}
		_ = c.rwc.SetReadDeadline(time.Time{})
		_ = c.rwc.SetWriteDeadline(time.Time{})
		c.tlsState = new(tls.ConnectionState)
		*c.tlsState = tlsConn.ConnectionState()
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancelCtx = cancel
	defer cancel()

	c.csm = newCSM(c)
	c.decoder = packet.NewDecoder(c.version, c.server.options.MaximumPacketSize)

	readBuf := make([]byte, 4096)
	for {
		pkt, err := c.nextPacket()
		if err != nil {
			log.Printf("conn: decode error: clientId=%s, err=%v", c.ID, err)
			return
		}
		if pkt == nil {
			n, err := c.rwc.Read(readBuf)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Printf("conn: read error: clientId=%s, remote=%s, err=%v", c.ID, c.remoteAddr, err)
				}
				return
			}
			c.decoder.Feed(readBuf[:n])
			continue
		}
		stat.PacketReceived.Inc()
		c.resetKeepAlive()
		serverHandler{c.server}.ServeMQTT(&response{conn: c, packet: pkt}, pkt)
		c.setState(c.rwc, StateIdle, true)
	}
}

// nextPacket drains at most one fully-assembled packet out of the
// decoder's buffered bytes (§4.1: restartable across partial reads).
// It keeps the decoder's protocol version in sync with c.version, which
// only becomes known once CONNECT is processed.
func (c *conn) nextPacket() (packet.Packet, error) {
	c.decoder.Version = c.version
	return c.decoder.Next()
}

type defaultHandler struct{}

// ServeMQTT drives the connection's channel state machine and sends
// back whatever response it produces, translating a returned
// ErrAbortHandler into the same panic/recover-based shutdown path the
// teacher used for DISCONNECT.
func (defaultHandler) ServeMQTT(w ResponseWriter, req packet.Packet) {
	c := w.(*response).conn
	spkt, err := c.csm.handle(req)
	if spkt != nil {
		if sendErr := w.OnSend(spkt); sendErr != nil {
			log.Printf("mqtt-onSend: err=%v", sendErr)
		}
	}
	if err != nil {
		if errors.Is(err, ErrAbortHandler) {
			panic(ErrAbortHandler)
		}
		log.Printf("csm: clientId=%s, err=%v", c.ID, err)
		panic(ErrAbortHandler)
	}
}

// handleConnect processes a CONNECT packet (§3.1), authenticating the
// client, opening or resuming its session, and replaying any messages
// queued while it was offline.
func (c *conn) handleConnect(rpkt *packet.CONNECT) (packet.Packet, error) {
	c.version, c.ID = rpkt.Version, rpkt.ClientID
	connack := &packet.CONNACK{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: CONNACK}}

	// §4.2 validates protocol-level as part of the CONNECT handshake;
	// this broker serves MQTT 5 only [MQTT-3.1.2-1].
	if c.version != packet.VERSION500 {
		connack.ConnectReturnCode = packet.ErrUnsupportedProtocolVersion
		log.Printf("conn: unsupported protocol version: clientId=%s, version=0x%02X, remote=%s", c.ID, c.version, c.remoteAddr)
		return connack, ErrAbortHandler
	}

	password, ok := c.server.options.GetAuth(rpkt.Username)
	if !ok || password != rpkt.Password {
		connack.ConnectReturnCode = packet.ErrBadUsernameOrPassword
		log.Printf("conn: auth failed: clientId=%s, username=%s, remote=%s", c.ID, rpkt.Username, c.remoteAddr)
		// A non-zero CONNACK reason code means the network connection
		// must be closed without entering ConnectionEstablished
		// [MQTT-3.2.2-6]; ErrAbortHandler sends the CONNACK already
		// built above, then tears the connection down the same way a
		// client-initiated DISCONNECT does.
		return connack, ErrAbortHandler
	}

	c.willTopic, c.willPayload, c.willQoS, c.willRetain = rpkt.WillTopic, rpkt.WillPayload, rpkt.ConnectFlags.WillQoS(), rpkt.ConnectFlags.WillRetain()

	// Keep-alive negotiation (§4.2, §6): a client's raw seconds value is
	// used as-is unless it exceeds the configured cap, in which case the
	// broker overrides it and must echo the effective value back via the
	// CONNACK server-keep-alive property [MQTT-3.1.2-22]. 0 disables the
	// timer entirely regardless of the cap.
	negotiatedKeepAlive := rpkt.KeepAlive
	connack.Props = &packet.Properties{}
	if capSeconds := uint16(c.server.options.MaximumKeepAlive / time.Second); capSeconds > 0 && negotiatedKeepAlive > capSeconds {
		negotiatedKeepAlive = capSeconds
		connack.Props.ServerKeepAlive = &negotiatedKeepAlive
	}
	if negotiatedKeepAlive > 0 {
		c.keepAlive = time.Duration(negotiatedKeepAlive) * time.Second * 3 / 2
	}

	// Session-expiry-interval (§3.1.2.11): defaults to the broker's
	// configured default when the client's CONNECT omits the property,
	// capped the same way a client-requested value is capped on
	// Release.
	c.sessionExpiry = c.server.options.SessionExpiry
	if rpkt.Props != nil && rpkt.Props.SessionExpiryInterval != nil {
		c.sessionExpiry = time.Duration(*rpkt.Props.SessionExpiryInterval) * time.Second
	}

	sess, present := c.server.sessions.Open(c.ID, rpkt.ConnectFlags.CleanStart(), c)
	c.session = sess
	if present {
		connack.SessionPresent = 1
		// §4.4: drained messages go straight to the reactivated session,
		// not back through the router - Publish would re-match the topic
		// and fan out to every other current subscriber (and consume a
		// shared-subscription rotation slot) as if this were a brand new
		// publish, duplicating delivery to anyone else already
		// subscribed.
		for _, qm := range sess.drain() {
			id, ok := sess.nextID()
			if !ok {
				log.Printf("conn: no free packet identifiers to redeliver queued publish: clientId=%s", c.ID)
				continue
			}
			pub := &packet.PUBLISH{
				FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBLISH, QoS: 1},
				PacketID:    id,
				Message:     qm.message,
				Props:       qm.props,
			}
			if err := c.server.dispatch.Send(sess, pub); err != nil {
				log.Printf("conn: redeliver queued publish failed: clientId=%s, err=%v", c.ID, err)
			}
		}
	}

	log.Printf("conn: auth ok: clientId=%s, username=%s, remote=%s", c.ID, rpkt.Username, c.remoteAddr)
	return connack, nil
}

// handlePublish applies a received PUBLISH (§3.3): QoS 0 is delivered
// best-effort, QoS 1 is acknowledged once routed. QoS 2 is out of scope.
func (c *conn) handlePublish(rpkt *packet.PUBLISH) (packet.Packet, error) {
	if err := c.server.router.Publish(rpkt.Message, rpkt.Props); err != nil {
		log.Printf("conn: publish err: clientId=%s, err=%v", c.ID, err)
	}
	if rpkt.QoS == 0 {
		return nil, nil
	}
	return &packet.PUBACK{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBACK}, PacketID: rpkt.PacketID}, nil
}

// handleSubscribe applies a SUBSCRIBE (§3.8), registering each filter
// with the router and replying with one reason code per filter.
func (c *conn) handleSubscribe(rpkt *packet.SUBSCRIBE) (packet.Packet, error) {
	reasons := make([]packet.ReasonCode, 0, len(rpkt.Subscriptions))
	var subscribed, failed []string

	for _, sub := range rpkt.Subscriptions {
		// The broker only supports QoS 0/1 (non-goal: QoS 2), so a
		// requested QoS 2 is granted at QoS 1 rather than rejected
		// [MQTT-3.8.4-6].
		if sub.MaximumQoS > 1 {
			sub.MaximumQoS = 1
		}
		if err := c.server.router.Subscribe(c.session, sub); err != nil {
			log.Printf("conn: subscribe err: clientId=%s, filter=%s, err=%v", c.ID, sub.TopicFilter, err)
			reasons = append(reasons, packet.ErrTopicFilterInvalid)
			failed = append(failed, sub.TopicFilter)
			continue
		}
		reasons = append(reasons, packet.ReasonCode{Code: sub.MaximumQoS})
		subscribed = append(subscribed, sub.TopicFilter)
	}

	if len(subscribed) > 0 {
		log.Printf("conn: subscribed: clientId=%s, remote=%s, topics=%v", c.ID, c.remoteAddr, subscribed)
	}
	if len(failed) > 0 {
		log.Printf("conn: subscription failed: clientId=%s, remote=%s, topics=%v", c.ID, c.remoteAddr, failed)
	}

	return &packet.SUBACK{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: SUBACK}, PacketID: rpkt.PacketID, ReasonCode: reasons}, nil
}

// handleUnsubscribe applies an UNSUBSCRIBE (§3.10).
func (c *conn) handleUnsubscribe(rpkt *packet.UNSUBSCRIBE) (packet.Packet, error) {
	reasons := make([]packet.ReasonCode, 0, len(rpkt.Subscriptions))
	var unsubscribed []string
	for _, sub := range rpkt.Subscriptions {
		if c.server.router.Unsubscribe(c.session, sub.TopicFilter) {
			reasons = append(reasons, packet.CodeSuccess)
		} else {
			reasons = append(reasons, packet.ErrNoSubscriptionExisted)
		}
		unsubscribed = append(unsubscribed, sub.TopicFilter)
	}
	if len(unsubscribed) > 0 {
		log.Printf("conn: unsubscribed: clientId=%s, remote=%s, topics=%v", c.ID, c.remoteAddr, unsubscribed)
	}
	return &packet.UNSUBACK{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: UNSUBACK}, PacketID: rpkt.PacketID, ReasonCode: reasons}, nil
}

// handleDisconnect applies a client-initiated DISCONNECT (§3.14): the
// broker must discard any Will message associated with the connection
// [MQTT-3.14.4-3] and close the network connection.
func (c *conn) handleDisconnect(rpkt *packet.DISCONNECT) error {
	log.Printf("conn: client requested disconnect: clientId=%s, remote=%s", c.ID, c.remoteAddr)
	c.willTopic, c.willPayload = "", nil
	return ErrAbortHandler
}
