package packet

import (
	"bytes"
	"fmt"
	"io"
)

// SUBSCRIBE requests one or more topic subscriptions (§3.8).
type SUBSCRIBE struct {
	*FixedHeader

	PacketID      uint16
	Props         *Properties
	Subscriptions []Subscription
}

func (pkt *SUBSCRIBE) Kind() byte { return 0x8 }

func (pkt *SUBSCRIBE) Pack(w io.Writer) error {
	if len(pkt.Subscriptions) == 0 {
		return ErrProtocolViolationNoFilters
	}

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
	}

	for _, subscription := range pkt.Subscriptions {
		if subscription.TopicFilter == "" {
			return ErrProtocolViolationNoFilters
		}
		buf.Write(s2b(subscription.TopicFilter))
		options := subscription.MaximumQoS&0b11 |
			subscription.NoLocal<<2 |
			subscription.RetainAsPublished<<3 |
			subscription.RetainHandling<<4
		buf.WriteByte(options)
	}
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *SUBSCRIBE) Unpack(buf *bytes.Buffer) error {
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
			return fmt.Errorf("pkt.RemainingLength=%v err=%w", pkt.RemainingLength, err)
		}
	}
	for buf.Len() != 0 {
		topic, err := decodeUTF8[string](buf)
		if err != nil {
			return err
		}
		if buf.Len() < 1 {
			return ErrMalformedPacket
		}
		options := buf.Next(1)[0]
		subscription := Subscription{
			TopicFilter:       topic,
			MaximumQoS:        options & 0b00000011,
			NoLocal:           options & 0b00000100 >> 2,
			RetainAsPublished: options & 0b00001000 >> 3,
			RetainHandling:    options & 0b00110000 >> 4,
		}
		if subscription.MaximumQoS > 0x02 {
			return ErrProtocolViolationQosOutOfRange
		}
		if options&0b11000000 != 0 {
			return ErrMalformedFlags
		}
		pkt.Subscriptions = append(pkt.Subscriptions, subscription)
	}
	if len(pkt.Subscriptions) == 0 {
		return ErrProtocolViolationNoFilters
	}
	return nil
}

// Subscription is one topic-filter/options pair from a SUBSCRIBE
// payload (§3.8.3). TopicFilter may carry a "$share/<name>/" prefix
// to request a shared subscription (§4.8.2).
type Subscription struct {
	TopicFilter       string
	MaximumQoS        uint8
	NoLocal           uint8
	RetainAsPublished uint8
	RetainHandling    uint8
}

func (s *Subscription) String() string {
	return fmt.Sprintf("%s@%d", s.TopicFilter, s.MaximumQoS)
}
