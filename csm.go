package mqtt

import (
	"fmt"
	"log"

	"github.com/golang-io/mqtt/packet"
)

// csmState names one stage of a connection's channel state machine
// (§4.2).
type csmState int

const (
	// csmInit is the state before the client's first packet: only a
	// CONNECT is legal here [MQTT-3.1.0-1].
	csmInit csmState = iota
	// csmEstablished is normal operation after a successful CONNECT/
	// CONNACK exchange.
	csmEstablished
	// csmDisconnected is terminal: the channel has been torn down and
	// no further packets are processed.
	csmDisconnected
)

// csm is the explicit state machine driving one connection's protocol
// behavior, replacing what used to be a single large type switch
// (`defaultHandler.ServeMQTT`) with named Init/ConnectionEstablished/
// Disconnected stages and a transition table between them.
type csm struct {
	c     *conn
	state csmState
}

func newCSM(c *conn) *csm {
	return &csm{c: c, state: csmInit}
}

// handle dispatches req according to the current state and returns the
// packet (if any) the connection should send back. An error return
// means the channel must close; ErrAbortHandler marks a clean
// disconnect, anything else an abnormal one.
func (m *csm) handle(req packet.Packet) (packet.Packet, error) {
	switch m.state {
	case csmInit:
		return m.handleInit(req)
	case csmEstablished:
		return m.handleEstablished(req)
	default:
		return nil, fmt.Errorf("csm: packet received after channel closed: %T", req)
	}
}

func (m *csm) handleInit(req packet.Packet) (packet.Packet, error) {
	connect, ok := req.(*packet.CONNECT)
	if !ok {
		return nil, fmt.Errorf("csm: first packet on a channel must be CONNECT, got %T [MQTT-3.1.0-1]", req)
	}
	spkt, err := m.c.handleConnect(connect)
	if err != nil {
		return spkt, err
	}
	m.state = csmEstablished
	return spkt, nil
}

func (m *csm) handleEstablished(req packet.Packet) (packet.Packet, error) {
	switch rpkt := req.(type) {
	case *packet.CONNECT:
		// §4.2: a second CONNECT is a protocol violation answered with
		// DISCONNECT reason 0x82 before closing, not a silent close.
		dc := &packet.DISCONNECT{
			FixedHeader: &packet.FixedHeader{Version: m.c.version, Kind: DISCONNECT},
			ReasonCode:  packet.ErrProtocolViolationSecondConnect,
		}
		return dc, fmt.Errorf("csm: CONNECT received on an already-established channel [MQTT-3.1.0-2]")
	case *packet.PUBLISH:
		return m.c.handlePublish(rpkt)
	case *packet.PUBACK:
		m.c.session.releaseID(rpkt.PacketID)
		return nil, nil
	case *packet.SUBSCRIBE:
		return m.c.handleSubscribe(rpkt)
	case *packet.UNSUBSCRIBE:
		return m.c.handleUnsubscribe(rpkt)
	case *packet.PINGREQ:
		return &packet.PINGRESP{FixedHeader: &packet.FixedHeader{Version: m.c.version, Kind: PINGRESP}}, nil
	case *packet.DISCONNECT:
		return nil, m.c.handleDisconnect(rpkt)
	case *packet.AUTH:
		log.Printf("csm: AUTH received post-CONNECT, no re-authentication flow implemented: clientId=%s", m.c.ID)
		return nil, nil
	default:
		return nil, fmt.Errorf("csm: unexpected packet type on established channel: %T", rpkt)
	}
}

func (m *csm) disconnected() {
	m.state = csmDisconnected
}
