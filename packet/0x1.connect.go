package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang-io/requests"
)

// NAME is the fixed MQTT protocol name: 0x00 0x04 'M' 'Q' 'T' 'T' (§3.1.2.1).
var NAME = []byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}

// CONNECT is the first packet a client sends on a new network
// connection (§3.1). A second CONNECT on the same connection is a
// protocol violation, enforced by the channel state machine rather
// than here.
type CONNECT struct {
	*FixedHeader

	ConnectFlags ConnectFlags
	KeepAlive    uint16
	Props        *Properties

	ClientID       string
	WillProps      *Properties
	WillTopic      string
	WillPayload    []byte
	Username       string
	Password       string
}

func (pkt *CONNECT) Kind() byte { return 0x1 }

func (pkt *CONNECT) String() string { return "[0x1]CONNECT" }

func (pkt *CONNECT) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(NAME)
	buf.WriteByte(pkt.FixedHeader.Version)

	var uf, pf, wr, wq, wf, cs uint8
	if pkt.Username != "" {
		uf = 1
	}
	if pkt.Password != "" {
		pf = 1
	}
	if pkt.WillTopic != "" {
		wf = 1
		wq = 1
	}
	cs = 1
	buf.WriteByte(uf<<7 | pf<<6 | wr<<5 | wq<<3 | wf<<2 | cs<<1)
	buf.Write(i2b(pkt.KeepAlive))

	if pkt.Version == VERSION500 {
		if pkt.Props == nil {
			pkt.Props = &Properties{}
		}
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
	}

	if len(pkt.ClientID) > 23 {
		return fmt.Errorf("client ID too long: %d characters, maximum allowed is 23", len(pkt.ClientID))
	}
	buf.Write(s2b(pkt.ClientID))

	if wf == 1 {
		if pkt.Version == VERSION500 {
			if pkt.WillProps == nil {
				pkt.WillProps = &Properties{}
			}
			if err := pkt.WillProps.Encode(buf); err != nil {
				return err
			}
		}
		buf.Write(s2b(pkt.WillTopic))
		buf.Write(s2b(pkt.WillPayload))
	}
	if pkt.Username != "" {
		buf.Write(s2b(pkt.Username))
	}
	if pkt.Password != "" {
		buf.Write(s2b(pkt.Password))
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *CONNECT) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 6 {
		return ErrMalformedProtocolName
	}
	name := buf.Next(6)
	if !bytes.Equal(name, NAME) {
		return fmt.Errorf("%w: got %v", ErrMalformedProtocolName, name)
	}
	if buf.Len() < 2 {
		return ErrMalformedProtocolVersion
	}
	pkt.Version, pkt.ConnectFlags = buf.Next(1)[0], ConnectFlags(buf.Next(1)[0])

	// The reserved flag must be zero [MQTT-3.1.2-3].
	if pkt.ConnectFlags.Reserved() != 0 {
		return ErrMalformedPacket
	}
	if pkt.ConnectFlags.WillQoS() > 2 {
		return ErrProtocolViolationQosOutOfRange
	}
	if !pkt.ConnectFlags.WillFlag() {
		if pkt.ConnectFlags.WillRetain() || pkt.ConnectFlags.WillQoS() != 0 {
			return ErrProtocolError
		}
	}

	if buf.Len() < 2 {
		return ErrMalformedPacket
	}
	pkt.KeepAlive = binary.BigEndian.Uint16(buf.Next(2))

	switch pkt.Version {
	case VERSION500:
		pkt.Props = &Properties{}
		if err := pkt.Props.Decode(buf, pkt.Kind()); err != nil {
			return err
		}
	case VERSION311:
	case VERSION310:
		return ErrUnsupportedProtocolVersion
	default:
		return ErrMalformedProtocolVersion
	}

	clientID, err := decodeUTF8[string](buf)
	if err != nil {
		return err
	}
	pkt.ClientID = clientID
	if pkt.ClientID == "" {
		// An empty client ID is replaced by a broker-assigned one from
		// requests.GenId() whatever CleanStart says; an empty ID with
		// CleanStart=0 is not rejected here or in handleConnect.
		pkt.ClientID = requests.GenId()
	}

	if pkt.ConnectFlags.WillFlag() {
		if pkt.Version == VERSION500 {
			pkt.WillProps = &Properties{}
			if err := pkt.WillProps.Decode(buf, pkt.Kind()); err != nil {
				return err
			}
		}
		topic, err := decodeUTF8[string](buf)
		if err != nil {
			return err
		}
		pkt.WillTopic = topic
		payload, err := decodeUTF8[[]byte](buf)
		if err != nil {
			return err
		}
		pkt.WillPayload = payload
		if pkt.WillTopic == "" {
			return ErrProtocolError
		}
	}

	if pkt.ConnectFlags.UserNameFlag() {
		username, err := decodeUTF8[string](buf)
		if err != nil {
			return err
		}
		pkt.Username = username
	} else if pkt.ConnectFlags.PasswordFlag() {
		// Password without a username [MQTT-3.1.2-22].
		return ErrMalformedPassword
	}

	if pkt.ConnectFlags.PasswordFlag() {
		password, err := decodeUTF8[string](buf)
		if err != nil {
			return err
		}
		pkt.Password = password
	}

	return nil
}

// ConnectFlags is the connect-flags byte of the CONNECT variable
// header (§3.1.2.2).
type ConnectFlags uint8

func (f ConnectFlags) Reserved() uint8    { return uint8(f) & 0x01 }
func (f ConnectFlags) CleanStart() bool   { return uint8(f)&0x02 == 0x02 }
func (f ConnectFlags) WillFlag() bool     { return uint8(f)&0x04 == 0x04 }
func (f ConnectFlags) WillQoS() uint8     { return (uint8(f) & 0x18) >> 3 }
func (f ConnectFlags) WillRetain() bool   { return uint8(f)&0x20 == 0x20 }
func (f ConnectFlags) UserNameFlag() bool { return uint8(f)&0x80 == 0x80 }
func (f ConnectFlags) PasswordFlag() bool { return uint8(f)&0x40 == 0x40 }
