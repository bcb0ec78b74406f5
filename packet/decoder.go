package packet

import "bytes"

// Decoder assembles control packets out of a byte stream that may arrive
// in arbitrarily small pieces. It is restartable across partial reads per
// §4.1: Feed appends whatever the socket handed the connection, and
// Next either returns one fully-assembled packet or (nil, nil) to mean
// "come back with more bytes." It never allocates RemainingLength bytes
// before confirming the declared size is within MaxPacketSize.
type Decoder struct {
	Version       byte
	MaxPacketSize uint32

	buf bytes.Buffer
}

// NewDecoder returns a Decoder for the given protocol version. A
// maxPacketSize of 0 means unbounded.
func NewDecoder(version byte, maxPacketSize uint32) *Decoder {
	return &Decoder{Version: version, MaxPacketSize: maxPacketSize}
}

// Feed appends newly-read bytes to the decoder's pending buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf.Write(b)
}

// Buffered reports how many unconsumed bytes are currently held.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// Next attempts to decode one packet from the buffered bytes. It
// returns (nil, nil) when more data is required before it can make
// progress.
func (d *Decoder) Next() (Packet, error) {
	data := d.buf.Bytes()
	if len(data) < 1 {
		return nil, nil
	}
	b0 := data[0]
	kind := b0 >> 4
	dup := b0 & 0b00001000 >> 3
	qos := b0 & 0b00000110 >> 1
	retain := b0 & 0b00000001

	remLen, vbiLen, err := peekLength(data[1:])
	if err == errShortBuffer {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d.MaxPacketSize > 0 && remLen > d.MaxPacketSize {
		// Reject without waiting for (or allocating) the declared size.
		d.buf.Reset()
		return nil, ErrPacketTooLarge
	}
	total := 1 + vbiLen + int(remLen)
	if len(data) < total {
		return nil, nil
	}
	if err := validateFlags(kind, dup, qos, retain); err != nil {
		d.buf.Next(total)
		return nil, err
	}

	body := append([]byte(nil), data[1+vbiLen:total]...)
	d.buf.Next(total)

	fixed := &FixedHeader{
		Version:         d.Version,
		Kind:            kind,
		Dup:             dup,
		QoS:             qos,
		Retain:          retain,
		RemainingLength: remLen,
	}
	pkt, err := newPacket(fixed)
	if err != nil {
		return nil, err
	}
	return pkt, pkt.Unpack(bytes.NewBuffer(body))
}
