package packet

import (
	"bytes"
	"io"
)

// PINGRESP is the broker's reply to PINGREQ (§3.13).
type PINGRESP struct {
	*FixedHeader
}

func (pkt *PINGRESP) Kind() byte { return 0xD }

func (pkt *PINGRESP) Pack(w io.Writer) error {
	pkt.FixedHeader.RemainingLength = 0
	return pkt.FixedHeader.Pack(w)
}

func (pkt *PINGRESP) Unpack(_ *bytes.Buffer) error {
	return nil
}
