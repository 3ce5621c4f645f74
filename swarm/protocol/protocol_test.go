package protocol

import (
	"errors"
	"net/netip"
	"reflect"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	messages := []Message{
		KeepAlive{},
		RequestPeerList{},
		NewNode{Address: netip.MustParseAddrPort("10.0.0.7:7331")},
		NewNode{Address: netip.MustParseAddrPort("[2001:db8::1]:9000")},
		PeerList{},
		PeerList{Addresses: []netip.AddrPort{
			netip.MustParseAddrPort("127.0.0.1:1"),
			netip.MustParseAddrPort("192.168.1.20:7331"),
			netip.MustParseAddrPort("[::1]:7332"),
		}},
	}

	for _, m := range messages {
		enc, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%#v): %v", m, err)
		}

		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%#v): %v", m, err)
		}

		if !reflect.DeepEqual(m, dec) {
			t.Fatalf("Round trip mismatch: %#v != %#v", m, dec)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	unknown, err := cbor.Marshal(&envelope{Kind: 99})
	if err != nil {
		t.Fatal(err)
	}
	noBody, err := cbor.Marshal(&envelope{Kind: KindNewNode})
	if err != nil {
		t.Fatal(err)
	}
	valid, err := Encode(KeepAlive{})
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string][]byte{
		"empty":        {},
		"garbage":      []byte("definitely not cbor"),
		"wrong type":   {0x01},
		"unknown kind": unknown,
		"missing body": noBody,
		"trailing":     append(append([]byte{}, valid...), 0x00),
		"truncated":    valid[:len(valid)-1],
	}

	for name, data := range cases {
		msg, err := Decode(data)
		if err == nil {
			t.Fatalf("%s: expected an error, got %#v", name, msg)
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("%s: expected *DecodeError, got %T: %v", name, err, err)
		}
		if msg != nil {
			t.Fatalf("%s: expected no message, got %#v", name, msg)
		}
	}

	_, err = Decode(unknown)
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("Expected ErrUnknownKind, got %v", err)
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Fatal("Expected an error encoding a nil message")
	}
}

func TestKindString(t *testing.T) {
	if KindPeerList.String() != "PeerList" {
		t.Fatalf("Unexpected kind name %q", KindPeerList.String())
	}
	if Kind(42).String() != "Kind(42)" {
		t.Fatalf("Unexpected kind name %q", Kind(42).String())
	}
}

func ipv6Addrs(n int) []netip.AddrPort {
	out := make([]netip.AddrPort, n)
	for i := range out {
		a := [16]byte{0x20, 0x01, 0x0d, 0xb8, 14: byte(i >> 8), 15: byte(i)}
		out[i] = netip.AddrPortFrom(netip.AddrFrom16(a), 7331)
	}
	return out
}

func TestEncodePayloadLimit(t *testing.T) {
	// Each IPv6 address encodes to 19 bytes
	b, err := Encode(PeerList{Addresses: ipv6Addrs(3000)})
	if err != nil {
		t.Fatalf("Expected 3000 addresses to fit, got %v", err)
	}
	if len(b) > MaxPayloadSize {
		t.Fatalf("Encoded %d bytes, limit is %d", len(b), MaxPayloadSize)
	}

	_, err = Encode(PeerList{Addresses: ipv6Addrs(4000)})
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("Expected ErrMessageTooLarge, got %v", err)
	}
}
