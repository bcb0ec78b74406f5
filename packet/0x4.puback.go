package packet

import (
	"bytes"
	"io"
)

// PUBACK acknowledges a QoS 1 PUBLISH (§3.4).
type PUBACK struct {
	*FixedHeader

	PacketID   uint16
	ReasonCode ReasonCode
	Props      *Properties
}

func (pkt *PUBACK) Kind() byte { return 0x4 }

func (pkt *PUBACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(i2b(pkt.PacketID))
	if pkt.Version == VERSION500 && pkt.ReasonCode.Code != 0 {
		buf.WriteByte(pkt.ReasonCode.Code)
		if pkt.Props == nil {
			pkt.Props = &Properties{}
		}
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *PUBACK) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return ErrMalformedPacket
	}
	pid, err := readUint16(buf)
	if err != nil {
		return err
	}
	pkt.PacketID = pid

	// §3.4.2.1: when the remaining length is exactly 2, the reason
	// code is implicitly Success and no properties follow.
	if pkt.Version == VERSION500 && buf.Len() > 0 {
		pkt.ReasonCode.Code = buf.Next(1)[0]
		if buf.Len() > 0 {
			pkt.Props = &Properties{}
			if err := pkt.Props.Decode(buf, pkt.Kind()); err != nil {
				return err
			}
		}
	}
	return nil
}
