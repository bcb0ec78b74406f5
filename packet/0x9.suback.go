package packet

import (
	"bytes"
	"io"
)

// SUBACK carries one reason code per topic filter requested by the
// matching SUBSCRIBE (§3.9).
type SUBACK struct {
	*FixedHeader

	PacketID   uint16
	Props      *Properties
	ReasonCode []ReasonCode
}

func (pkt *SUBACK) Kind() byte { return 0x9 }

func (pkt *SUBACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if len(pkt.ReasonCode) == 0 {
		return ErrMalformedPacket
	}
	buf.Write(i2b(pkt.PacketID))

	if pkt.Version == VERSION500 {
		if pkt.Props == nil {
			pkt.Props = &Properties{}
		}
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
	}

	for _, reason := range pkt.ReasonCode {
		buf.WriteByte(reason.Code)
	}
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *SUBACK) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return ErrMalformedPacket
	}
	pid, err := readUint16(buf)
	if err != nil {
		return err
	}
	pkt.PacketID = pid

	if pkt.Version == VERSION500 {
		pkt.Props = &Properties{}
		if err := pkt.Props.Decode(buf, pkt.Kind()); err != nil {
			return err
		}
	}

	for buf.Len() != 0 {
		reason := ReasonCode{Code: buf.Next(1)[0]}
		// §3.9.3: 0x00-0x02 are granted-QoS codes, 0x80+ are failures.
		if reason.Code > 0x02 && reason.Code < 0x80 {
			return ErrMalformedPacket
		}
		pkt.ReasonCode = append(pkt.ReasonCode, reason)
	}
	return nil
}
