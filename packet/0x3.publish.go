package packet

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// PUBLISH transports one application message (§3.3). Flags DUP/QoS/
// RETAIN live on the fixed header; the rest of this struct is the
// variable header and payload.
type PUBLISH struct {
	*FixedHeader

	// PacketID is present only when QoS > 0 [MQTT-2.3.1-5].
	PacketID uint16
	Message  *Message
	Props    *Properties
}

func (pkt *PUBLISH) Kind() byte { return 0x3 }

func (pkt *PUBLISH) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if pkt.Message == nil || pkt.Message.TopicName == "" {
		return fmt.Errorf("topic name cannot be empty [MQTT-3.3.2-1]")
	}
	if strings.ContainsAny(pkt.Message.TopicName, "+#") {
		return fmt.Errorf("topic name cannot contain wildcard characters [MQTT-3.3.2-2]")
	}

	buf.Write(s2b(pkt.Message.TopicName))
	if pkt.FixedHeader.QoS > 0 {
		if pkt.PacketID == 0 {
			return fmt.Errorf("packet identifier must be greater than 0 for QoS > 0 [MQTT-2.3.1-1]")
		}
		buf.Write(i2b(pkt.PacketID))
	}
	if pkt.Version == VERSION500 {
		if pkt.Props == nil {
			pkt.Props = &Properties{}
		}
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
	}
	buf.Write(pkt.Message.Content)

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *PUBLISH) Unpack(buf *bytes.Buffer) error {
	topic, err := decodeUTF8[string](buf)
	if err != nil {
		return err
	}
	if topic == "" {
		return ErrTopicNameInvalid
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrTopicNameInvalid
	}
	pkt.Message = &Message{TopicName: topic}

	if pkt.FixedHeader.QoS > 0 {
		if buf.Len() < 2 {
			return ErrMalformedPacket
		}
		pid, err := readUint16(buf)
		if err != nil {
			return err
		}
		pkt.PacketID = pid
		if pkt.PacketID == 0 {
			return fmt.Errorf("packet identifier must be greater than 0 for QoS > 0 [MQTT-2.3.1-1]")
		}
	}

	if pkt.Version == VERSION500 {
		pkt.Props = &Properties{}
		if err := pkt.Props.Decode(buf, pkt.Kind()); err != nil {
			return err
		}
	}

	// The remaining bytes in buf are the application payload; copy
	// them out since buf's backing array is pool-owned.
	pkt.Message.Content = append([]byte(nil), buf.Bytes()...)
	return nil
}

// Message is the application-level content of a PUBLISH (§3.3.3).
type Message struct {
	TopicName string
	Content   []byte
}

func (m *Message) String() string {
	return fmt.Sprintf("%s # %s", m.TopicName, m.Content)
}
