package packet

import (
	"bytes"
	"io"
)

// AUTH carries an extended authentication exchange; it exists only in
// MQTT 5.0 (§3.15). Unlike DISCONNECT, the reason code is never
// implicit — 0x00 (Success), 0x18 (Continue authentication) and 0x19
// (Re-authenticate) are the only values a peer may send.
type AUTH struct {
	*FixedHeader

	ReasonCode ReasonCode
	Props      *Properties
}

func (pkt *AUTH) Kind() byte { return 0xF }

func (pkt *AUTH) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.WriteByte(pkt.ReasonCode.Code)
	if pkt.Props == nil {
		pkt.Props = &Properties{}
	}
	if err := pkt.Props.Encode(buf); err != nil {
		return err
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *AUTH) Unpack(buf *bytes.Buffer) error {
	if pkt.Version != VERSION500 {
		return ErrUnsupportedProtocolVersion
	}
	if buf.Len() < 1 {
		return ErrMalformedPacket
	}
	pkt.ReasonCode.Code = buf.Next(1)[0]
	pkt.Props = &Properties{}
	if buf.Len() > 0 {
		if err := pkt.Props.Decode(buf, pkt.Kind()); err != nil {
			return err
		}
	}
	return nil
}
