package packet

import (
	"bytes"
	"testing"
)

func TestCONNECT_Kind(t *testing.T) {
	pkt := &CONNECT{FixedHeader: &FixedHeader{Kind: 0x1}}
	if pkt.Kind() != 0x1 {
		t.Fatalf("Kind() = %#x, want 0x1", pkt.Kind())
	}
}

func TestCONNECT_PackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pkt  *CONNECT
	}{
		{
			name: "minimal",
			pkt: &CONNECT{
				FixedHeader: &FixedHeader{Kind: 0x1, Version: VERSION500},
				ClientID:    "client-1",
				KeepAlive:   60,
			},
		},
		{
			name: "with will and credentials",
			pkt: &CONNECT{
				FixedHeader: &FixedHeader{Kind: 0x1, Version: VERSION500},
				ClientID:    "client-2",
				KeepAlive:   30,
				WillTopic:   "last/will",
				WillPayload: []byte("bye"),
				Username:    "alice",
				Password:    "s3cret",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tc.pkt.Pack(&buf); err != nil {
				t.Fatalf("Pack: %v", err)
			}

			fh := &FixedHeader{}
			if err := fh.Unpack(&buf); err != nil {
				t.Fatalf("FixedHeader.Unpack: %v", err)
			}
			body := bytes.NewBuffer(buf.Next(int(fh.RemainingLength)))

			got := &CONNECT{FixedHeader: fh}
			got.Version = tc.pkt.Version
			if err := got.Unpack(body); err != nil {
				t.Fatalf("Unpack: %v", err)
			}

			if got.ClientID != tc.pkt.ClientID {
				t.Errorf("ClientID = %q, want %q", got.ClientID, tc.pkt.ClientID)
			}
			if got.KeepAlive != tc.pkt.KeepAlive {
				t.Errorf("KeepAlive = %d, want %d", got.KeepAlive, tc.pkt.KeepAlive)
			}
			if got.WillTopic != tc.pkt.WillTopic {
				t.Errorf("WillTopic = %q, want %q", got.WillTopic, tc.pkt.WillTopic)
			}
			if got.Username != tc.pkt.Username {
				t.Errorf("Username = %q, want %q", got.Username, tc.pkt.Username)
			}
		})
	}
}

func TestCONNECT_EmptyClientIDGetsAssigned(t *testing.T) {
	pkt := &CONNECT{
		FixedHeader: &FixedHeader{Kind: 0x1, Version: VERSION500},
		KeepAlive:   10,
	}
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	fh := &FixedHeader{}
	if err := fh.Unpack(&buf); err != nil {
		t.Fatalf("FixedHeader.Unpack: %v", err)
	}
	body := bytes.NewBuffer(buf.Next(int(fh.RemainingLength)))

	got := &CONNECT{FixedHeader: fh}
	got.Version = VERSION500
	if err := got.Unpack(body); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if got.ClientID == "" {
		t.Fatal("expected a server-assigned client ID, got empty string")
	}
}

func TestCONNECT_MalformedProtocolName(t *testing.T) {
	body := bytes.NewBuffer([]byte{0x00, 0x04, 'X', 'X', 'X', 'X', VERSION500, 0x02, 0x00, 0x00})
	pkt := &CONNECT{FixedHeader: &FixedHeader{Kind: 0x1}}
	if err := pkt.Unpack(body); err == nil {
		t.Fatal("expected error for bad protocol name, got nil")
	}
}

func TestCONNECT_ReservedFlagMustBeZero(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(NAME)
	buf.WriteByte(VERSION500)
	buf.WriteByte(0x03) // CleanStart=1, reserved=1
	buf.Write([]byte{0x00, 0x3C})
	buf.WriteByte(0x00) // empty properties
	buf.Write([]byte{0x00, 0x00})

	pkt := &CONNECT{FixedHeader: &FixedHeader{Kind: 0x1}}
	if err := pkt.Unpack(&buf); err == nil {
		t.Fatal("expected error for reserved flag set, got nil")
	}
}

func TestConnectFlags(t *testing.T) {
	f := ConnectFlags(0b1110_1110)
	if f.Reserved() != 0 {
		t.Errorf("Reserved() = %d, want 0", f.Reserved())
	}
	if !f.CleanStart() {
		t.Error("CleanStart() = false, want true")
	}
	if !f.WillFlag() {
		t.Error("WillFlag() = false, want true")
	}
	if f.WillQoS() != 1 {
		t.Errorf("WillQoS() = %d, want 1", f.WillQoS())
	}
	if !f.WillRetain() {
		t.Error("WillRetain() = false, want true")
	}
	if !f.UserNameFlag() {
		t.Error("UserNameFlag() = false, want true")
	}
	if !f.PasswordFlag() {
		t.Error("PasswordFlag() = false, want true")
	}
}
