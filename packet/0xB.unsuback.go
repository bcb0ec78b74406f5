package packet

import (
	"bytes"
	"io"
)

// UNSUBACK acknowledges an UNSUBSCRIBE, one reason code per topic
// filter that was requested for removal (§3.11).
type UNSUBACK struct {
	*FixedHeader

	PacketID   uint16
	Props      *Properties
	ReasonCode []ReasonCode
}

func (pkt *UNSUBACK) Kind() byte { return 0xB }

func (pkt *UNSUBACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(i2b(pkt.PacketID))

	if pkt.Version == VERSION500 {
		if pkt.Props == nil {
			pkt.Props = &Properties{}
		}
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
		for _, reason := range pkt.ReasonCode {
			buf.WriteByte(reason.Code)
		}
	}
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())

	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *UNSUBACK) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return ErrMalformedPacket
	}
	pid, err := readUint16(buf)
	if err != nil {
		return err
	}
	pkt.PacketID = pid

	switch pkt.Version {
	case VERSION500:
		pkt.Props = &Properties{}
		if err := pkt.Props.Decode(buf, pkt.Kind()); err != nil {
			return err
		}
		for buf.Len() != 0 {
			pkt.ReasonCode = append(pkt.ReasonCode, ReasonCode{Code: buf.Next(1)[0]})
		}
	case VERSION311:
	case VERSION310:
		return ErrUnsupportedProtocolVersion
	default:
		return ErrMalformedProtocolVersion
	}
	return nil
}
