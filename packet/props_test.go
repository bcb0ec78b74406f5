package packet

import (
	"bytes"
	"testing"
)

func TestProperties_EncodeDecodeRoundTrip(t *testing.T) {
	contentType := "application/json"
	p := &Properties{
		ContentType:            &contentType,
		CorrelationData:        []byte{0xAA, 0xBB},
		SubscriptionIdentifier: []uint32{1, 128, 268435455},
		UserProperties:         []UserProperty{{Key: "k1", Value: "v1"}, {Key: "k1", Value: "v2"}},
	}

	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got := &Properties{}
	if err := got.Decode(&buf, 0x3); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ContentType == nil || *got.ContentType != contentType {
		t.Errorf("ContentType = %v, want %q", got.ContentType, contentType)
	}
	if !bytes.Equal(got.CorrelationData, p.CorrelationData) {
		t.Errorf("CorrelationData = %v, want %v", got.CorrelationData, p.CorrelationData)
	}
	if len(got.SubscriptionIdentifier) != 3 || got.SubscriptionIdentifier[2] != 268435455 {
		t.Errorf("SubscriptionIdentifier = %v, want [1 128 268435455]", got.SubscriptionIdentifier)
	}
	if len(got.UserProperties) != 2 {
		t.Errorf("got %d user properties, want 2", len(got.UserProperties))
	}
}

func TestProperties_EmptyBlock(t *testing.T) {
	p := &Properties{}
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.Len() != 1 || buf.Bytes()[0] != 0x00 {
		t.Fatalf("empty properties block = %v, want single 0x00 byte", buf.Bytes())
	}
}

func TestProperties_IllegalForPacketKind(t *testing.T) {
	// Topic Alias (0x23) is legal only in PUBLISH (kind 0x3).
	var buf bytes.Buffer
	body := []byte{byte(PropTopicAlias), 0x00, 0x01}
	enc, _ := encodeLength(len(body))
	buf.Write(enc)
	buf.Write(body)

	p := &Properties{}
	if err := p.Decode(&buf, 0x2); err != ErrProtocolViolationPropertyScope {
		t.Fatalf("Decode err = %v, want ErrProtocolViolationPropertyScope", err)
	}
}

func TestProperties_DuplicateSingletonRejected(t *testing.T) {
	var buf bytes.Buffer
	body := []byte{
		byte(PropSessionExpiryInterval), 0x00, 0x00, 0x00, 0x0A,
		byte(PropSessionExpiryInterval), 0x00, 0x00, 0x00, 0x0B,
	}
	enc, _ := encodeLength(len(body))
	buf.Write(enc)
	buf.Write(body)

	p := &Properties{}
	if err := p.Decode(&buf, 0x1); err != ErrMalformedDuplicateProperty {
		t.Fatalf("Decode err = %v, want ErrMalformedDuplicateProperty", err)
	}
}

func TestProperties_UnknownIdentifierRejected(t *testing.T) {
	var buf bytes.Buffer
	body := []byte{0x7E, 0x01}
	enc, _ := encodeLength(len(body))
	buf.Write(enc)
	buf.Write(body)

	p := &Properties{}
	if err := p.Decode(&buf, 0x1); err != ErrMalformedUnknownProperty {
		t.Fatalf("Decode err = %v, want ErrMalformedUnknownProperty", err)
	}
}

func TestProperties_SubscriptionIdentifierZeroRejected(t *testing.T) {
	var buf bytes.Buffer
	body := []byte{byte(PropSubscriptionIdentifier), 0x00}
	enc, _ := encodeLength(len(body))
	buf.Write(enc)
	buf.Write(body)

	p := &Properties{}
	if err := p.Decode(&buf, 0x8); err != ErrProtocolError {
		t.Fatalf("Decode err = %v, want ErrProtocolError", err)
	}
}

func TestProperties_RepeatableSubscriptionIdentifierNotFlaggedDuplicate(t *testing.T) {
	var buf bytes.Buffer
	body := []byte{
		byte(PropSubscriptionIdentifier), 0x01,
		byte(PropSubscriptionIdentifier), 0x02,
	}
	enc, _ := encodeLength(len(body))
	buf.Write(enc)
	buf.Write(body)

	p := &Properties{}
	if err := p.Decode(&buf, 0x8); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(p.SubscriptionIdentifier) != 2 {
		t.Fatalf("SubscriptionIdentifier = %v, want 2 entries", p.SubscriptionIdentifier)
	}
}
