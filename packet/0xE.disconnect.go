package packet

import (
	"bytes"
	"io"
)

// DISCONNECT signals a clean or abrupt end to the network connection
// and, in MQTT 5.0, carries a reason code explaining why (§3.14). The
// reserved flag bits must all be 0.
type DISCONNECT struct {
	*FixedHeader

	ReasonCode ReasonCode
	Props      *Properties
}

func (pkt *DISCONNECT) Kind() byte { return 0xE }

func (pkt *DISCONNECT) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	// §3.14.2.1: a Normal disconnection with no properties can omit
	// both the reason code and the rest of the variable header.
	if pkt.Version == VERSION500 && (pkt.ReasonCode.Code != 0 || pkt.Props != nil) {
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

func (pkt *DISCONNECT) Unpack(buf *bytes.Buffer) error {
	switch pkt.Version {
	case VERSION500:
		// §3.14.2.1: if the remaining length is less than 1, the
		// reason code is implicitly Normal disconnection (0x00).
		if buf.Len() == 0 {
			pkt.ReasonCode = CodeNormalDisconn
			return nil
		}
		pkt.ReasonCode.Code = buf.Next(1)[0]
		if buf.Len() > 0 {
			pkt.Props = &Properties{}
			if err := pkt.Props.Decode(buf, pkt.Kind()); err != nil {
				return err
			}
		}
	case VERSION311, VERSION310:
	default:
		return ErrMalformedProtocolVersion
	}
	return nil
}
