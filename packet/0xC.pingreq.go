package packet

import (
	"bytes"
	"io"
)

// PINGREQ carries no payload; it exists purely to keep the network
// connection alive and let the client verify the broker is responsive
// (§3.12).
type PINGREQ struct {
	*FixedHeader
}

func (pkt *PINGREQ) Kind() byte { return 0xC }

func (pkt *PINGREQ) Pack(w io.Writer) error {
	pkt.FixedHeader.RemainingLength = 0
	return pkt.FixedHeader.Pack(w)
}

func (pkt *PINGREQ) Unpack(_ *bytes.Buffer) error {
	return nil
}
