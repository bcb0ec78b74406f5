package packet

import (
	"bytes"
	"encoding/binary"
)

// Property identifies one MQTT 5.0 property by its one-byte wire
// identifier (§2.2.2.2). The catalog is shared by every packet type;
// legality of a given identifier in a given packet is enforced by
// legalIn, not by the type system.
type Property byte

const (
	PropPayloadFormatIndicator          Property = 0x01
	PropMessageExpiryInterval           Property = 0x02
	PropContentType                     Property = 0x03
	PropResponseTopic                   Property = 0x08
	PropCorrelationData                 Property = 0x09
	PropSubscriptionIdentifier          Property = 0x0B
	PropSessionExpiryInterval           Property = 0x11
	PropAssignedClientIdentifier        Property = 0x12
	PropServerKeepAlive                 Property = 0x13
	PropAuthenticationMethod            Property = 0x15
	PropAuthenticationData              Property = 0x16
	PropRequestProblemInformation       Property = 0x17
	PropWillDelayInterval               Property = 0x18
	PropRequestResponseInformation      Property = 0x19
	PropResponseInformation             Property = 0x1A
	PropServerReference                 Property = 0x1C
	PropReasonString                    Property = 0x1F
	PropReceiveMaximum                  Property = 0x21
	PropTopicAliasMaximum               Property = 0x22
	PropTopicAlias                      Property = 0x23
	PropMaximumQoS                      Property = 0x24
	PropRetainAvailable                 Property = 0x25
	PropUserProperty                    Property = 0x26
	PropMaximumPacketSize                Property = 0x27
	PropWildcardSubscriptionAvailable    Property = 0x28
	PropSubscriptionIdentifierAvailable  Property = 0x29
	PropSharedSubscriptionAvailable      Property = 0x2A
)

// UserProperty is a repeatable name/value pair (§2.2.2.2, id 0x26).
type UserProperty struct {
	Key   string
	Value string
}

// Properties holds the decoded value of every property this broker
// recognizes, across every packet type. A packet's Unpack/Pack reads
// only the subset §3.x of the wire spec assigns to that packet;
// Decode itself enforces that no property illegal for kind, unknown,
// or duplicated-when-singleton made it onto the wire.
type Properties struct {
	PayloadFormatIndicator     *byte
	MessageExpiryInterval      *uint32
	ContentType                *string
	ResponseTopic              *string
	CorrelationData            []byte
	SubscriptionIdentifier     []uint32 // repeatable, §3.8.2.1.2
	SessionExpiryInterval      *uint32
	AssignedClientIdentifier   *string
	ServerKeepAlive            *uint16
	AuthenticationMethod       *string
	AuthenticationData         []byte
	RequestProblemInformation *byte
	WillDelayInterval          *uint32
	RequestResponseInformation *byte
	ResponseInformation        *string
	ServerReference            *string
	ReasonString                *string
	ReceiveMaximum               *uint16
	TopicAliasMaximum            *uint16
	TopicAlias                   *uint16
	MaximumQoS                   *byte
	RetainAvailable               *byte
	UserProperties                 []UserProperty
	MaximumPacketSize               *uint32
	WildcardSubscriptionAvailable   *byte
	SubscriptionIdentifierAvailable *byte
	SharedSubscriptionAvailable     *byte
}

// legalIn reports whether id may appear in a packet of the given
// kind, per the per-packet property tables scattered across §3.1-§3.15.
func legalIn(kind byte, id Property) bool {
	switch id {
	case PropPayloadFormatIndicator, PropMessageExpiryInterval, PropContentType,
		PropResponseTopic, PropCorrelationData:
		return kind == 0x1 || kind == 0x3 // CONNECT (will props) / PUBLISH
	case PropSubscriptionIdentifier:
		return kind == 0x3 || kind == 0x8 // PUBLISH / SUBSCRIBE
	case PropSessionExpiryInterval:
		return kind == 0x1 || kind == 0x2 || kind == 0xE
	case PropAssignedClientIdentifier, PropServerKeepAlive, PropWildcardSubscriptionAvailable,
		PropSubscriptionIdentifierAvailable, PropSharedSubscriptionAvailable, PropMaximumQoS,
		PropRetainAvailable, PropResponseInformation:
		return kind == 0x2 // CONNACK
	case PropAuthenticationMethod, PropAuthenticationData:
		return kind == 0x1 || kind == 0x2 || kind == 0xF
	case PropRequestProblemInformation, PropRequestResponseInformation, PropReceiveMaximum,
		PropTopicAliasMaximum, PropMaximumPacketSize:
		return kind == 0x1 || kind == 0x2
	case PropWillDelayInterval:
		return kind == 0x1
	case PropTopicAlias:
		return kind == 0x3
	case PropServerReference:
		return kind == 0x2 || kind == 0xE
	case PropReasonString:
		return kind == 0x2 || kind == 0x4 || kind == 0x9 || kind == 0xB || kind == 0xE || kind == 0xF
	case PropUserProperty:
		return true // legal everywhere a Properties block exists
	default:
		return false
	}
}

// Decode parses a properties block: a leading VBI length followed by
// that many bytes of tag/value pairs. buf must hold at least the
// length prefix; bytes beyond the declared length are left in buf for
// the caller's payload.
func (p *Properties) Decode(buf *bytes.Buffer, kind byte) error {
	n, err := decodeLength(buf)
	if err != nil {
		return err
	}
	if buf.Len() < int(n) {
		return ErrMalformedProperties
	}
	body := bytes.NewBuffer(buf.Next(int(n)))
	seen := make(map[Property]bool)
	for body.Len() > 0 {
		idByte, err := body.ReadByte()
		if err != nil {
			return ErrMalformedProperties
		}
		id := Property(idByte)
		if !legalIn(kind, id) {
			for k := byte(0x1); k <= 0xF; k++ {
				if legalIn(k, id) {
					return ErrProtocolViolationPropertyScope
				}
			}
			return ErrMalformedUnknownProperty
		}
		singleton := id != PropUserProperty && id != PropSubscriptionIdentifier
		if singleton && seen[id] {
			return ErrMalformedDuplicateProperty
		}
		seen[id] = true

		switch id {
		case PropPayloadFormatIndicator:
			b, err := body.ReadByte()
			if err != nil {
				return ErrMalformedProperties
			}
			p.PayloadFormatIndicator = &b
		case PropRequestProblemInformation:
			b, err := body.ReadByte()
			if err != nil {
				return ErrMalformedProperties
			}
			p.RequestProblemInformation = &b
		case PropRequestResponseInformation:
			b, err := body.ReadByte()
			if err != nil {
				return ErrMalformedProperties
			}
			p.RequestResponseInformation = &b
		case PropMaximumQoS:
			b, err := body.ReadByte()
			if err != nil {
				return ErrMalformedProperties
			}
			p.MaximumQoS = &b
		case PropRetainAvailable:
			b, err := body.ReadByte()
			if err != nil {
				return ErrMalformedProperties
			}
			p.RetainAvailable = &b
		case PropWildcardSubscriptionAvailable:
			b, err := body.ReadByte()
			if err != nil {
				return ErrMalformedProperties
			}
			p.WildcardSubscriptionAvailable = &b
		case PropSubscriptionIdentifierAvailable:
			b, err := body.ReadByte()
			if err != nil {
				return ErrMalformedProperties
			}
			p.SubscriptionIdentifierAvailable = &b
		case PropSharedSubscriptionAvailable:
			b, err := body.ReadByte()
			if err != nil {
				return ErrMalformedProperties
			}
			p.SharedSubscriptionAvailable = &b
		case PropMessageExpiryInterval:
			v, err := readUint32(body)
			if err != nil {
				return err
			}
			p.MessageExpiryInterval = &v
		case PropSessionExpiryInterval:
			v, err := readUint32(body)
			if err != nil {
				return err
			}
			p.SessionExpiryInterval = &v
		case PropWillDelayInterval:
			v, err := readUint32(body)
			if err != nil {
				return err
			}
			p.WillDelayInterval = &v
		case PropMaximumPacketSize:
			v, err := readUint32(body)
			if err != nil {
				return err
			}
			p.MaximumPacketSize = &v
		case PropServerKeepAlive:
			v, err := readUint16(body)
			if err != nil {
				return err
			}
			p.ServerKeepAlive = &v
		case PropReceiveMaximum:
			v, err := readUint16(body)
			if err != nil {
				return err
			}
			p.ReceiveMaximum = &v
		case PropTopicAliasMaximum:
			v, err := readUint16(body)
			if err != nil {
				return err
			}
			p.TopicAliasMaximum = &v
		case PropTopicAlias:
			v, err := readUint16(body)
			if err != nil {
				return err
			}
			p.TopicAlias = &v
		case PropContentType:
			s, err := decodeUTF8[string](body)
			if err != nil {
				return err
			}
			p.ContentType = &s
		case PropResponseTopic:
			s, err := decodeUTF8[string](body)
			if err != nil {
				return err
			}
			p.ResponseTopic = &s
		case PropAssignedClientIdentifier:
			s, err := decodeUTF8[string](body)
			if err != nil {
				return err
			}
			p.AssignedClientIdentifier = &s
		case PropAuthenticationMethod:
			s, err := decodeUTF8[string](body)
			if err != nil {
				return err
			}
			p.AuthenticationMethod = &s
		case PropResponseInformation:
			s, err := decodeUTF8[string](body)
			if err != nil {
				return err
			}
			p.ResponseInformation = &s
		case PropServerReference:
			s, err := decodeUTF8[string](body)
			if err != nil {
				return err
			}
			p.ServerReference = &s
		case PropReasonString:
			s, err := decodeUTF8[string](body)
			if err != nil {
				return err
			}
			p.ReasonString = &s
		case PropCorrelationData:
			b, err := decodeUTF8[[]byte](body)
			if err != nil {
				return err
			}
			p.CorrelationData = b
		case PropAuthenticationData:
			b, err := decodeUTF8[[]byte](body)
			if err != nil {
				return err
			}
			p.AuthenticationData = b
		case PropUserProperty:
			k, err := decodeUTF8[string](body)
			if err != nil {
				return err
			}
			v, err := decodeUTF8[string](body)
			if err != nil {
				return err
			}
			p.UserProperties = append(p.UserProperties, UserProperty{Key: k, Value: v})
		case PropSubscriptionIdentifier:
			v, n, err := peekLength(body.Bytes())
			if err != nil {
				return ErrMalformedProperties
			}
			if v == 0 {
				return ErrProtocolError
			}
			body.Next(n)
			p.SubscriptionIdentifier = append(p.SubscriptionIdentifier, v)
		default:
			return ErrMalformedUnknownProperty
		}
	}
	return nil
}

// Encode serializes p's populated fields as a properties block: a VBI
// length prefix followed by the tag/value pairs themselves.
func (p *Properties) Encode(buf *bytes.Buffer) error {
	var body bytes.Buffer

	writeByteProp := func(id Property, v *byte) {
		if v == nil {
			return
		}
		body.WriteByte(byte(id))
		body.WriteByte(*v)
	}
	writeU16Prop := func(id Property, v *uint16) {
		if v == nil {
			return
		}
		body.WriteByte(byte(id))
		body.Write(i2b(*v))
	}
	writeU32Prop := func(id Property, v *uint32) {
		if v == nil {
			return
		}
		body.WriteByte(byte(id))
		body.Write(i4b(*v))
	}
	writeStrProp := func(id Property, v *string) {
		if v == nil {
			return
		}
		body.WriteByte(byte(id))
		body.Write(s2b(*v))
	}
	writeBinProp := func(id Property, v []byte) {
		if v == nil {
			return
		}
		body.WriteByte(byte(id))
		body.Write(s2b(v))
	}

	writeByteProp(PropPayloadFormatIndicator, p.PayloadFormatIndicator)
	writeU32Prop(PropMessageExpiryInterval, p.MessageExpiryInterval)
	writeStrProp(PropContentType, p.ContentType)
	writeStrProp(PropResponseTopic, p.ResponseTopic)
	writeBinProp(PropCorrelationData, p.CorrelationData)
	for _, v := range p.SubscriptionIdentifier {
		enc, err := encodeLength(v)
		if err != nil {
			return err
		}
		body.WriteByte(byte(PropSubscriptionIdentifier))
		body.Write(enc)
	}
	writeU32Prop(PropSessionExpiryInterval, p.SessionExpiryInterval)
	writeStrProp(PropAssignedClientIdentifier, p.AssignedClientIdentifier)
	writeU16Prop(PropServerKeepAlive, p.ServerKeepAlive)
	writeStrProp(PropAuthenticationMethod, p.AuthenticationMethod)
	writeBinProp(PropAuthenticationData, p.AuthenticationData)
	writeByteProp(PropRequestProblemInformation, p.RequestProblemInformation)
	writeU32Prop(PropWillDelayInterval, p.WillDelayInterval)
	writeByteProp(PropRequestResponseInformation, p.RequestResponseInformation)
	writeStrProp(PropResponseInformation, p.ResponseInformation)
	writeStrProp(PropServerReference, p.ServerReference)
	writeStrProp(PropReasonString, p.ReasonString)
	writeU16Prop(PropReceiveMaximum, p.ReceiveMaximum)
	writeU16Prop(PropTopicAliasMaximum, p.TopicAliasMaximum)
	writeU16Prop(PropTopicAlias, p.TopicAlias)
	writeByteProp(PropMaximumQoS, p.MaximumQoS)
	writeByteProp(PropRetainAvailable, p.RetainAvailable)
	for _, up := range p.UserProperties {
		body.WriteByte(byte(PropUserProperty))
		body.Write(s2b(up.Key))
		body.Write(s2b(up.Value))
	}
	writeU32Prop(PropMaximumPacketSize, p.MaximumPacketSize)
	writeByteProp(PropWildcardSubscriptionAvailable, p.WildcardSubscriptionAvailable)
	writeByteProp(PropSubscriptionIdentifierAvailable, p.SubscriptionIdentifierAvailable)
	writeByteProp(PropSharedSubscriptionAvailable, p.SharedSubscriptionAvailable)

	enc, err := encodeLength(body.Len())
	if err != nil {
		return err
	}
	buf.Write(enc)
	buf.Write(body.Bytes())
	return nil
}

func readUint32(buf *bytes.Buffer) (uint32, error) {
	if buf.Len() < 4 {
		return 0, ErrMalformedProperties
	}
	return binary.BigEndian.Uint32(buf.Next(4)), nil
}

func readUint16(buf *bytes.Buffer) (uint16, error) {
	if buf.Len() < 2 {
		return 0, ErrMalformedProperties
	}
	return binary.BigEndian.Uint16(buf.Next(2)), nil
}
