package messages_test

import (
	"errors"
	"net/netip"
	"reflect"
	"testing"

	"github.com/blockcast/go-amt/messages"
)

func TestEncodeRelayAdvertisementMessageIPv4(t *testing.T) {
	message := messages.RelayAdvertisementMessage{
		Nonce:     1,
		RelayAddr: netip.MustParseAddr("192.168.1.1"),
	}
	encoded, err := message.MarshalBinary()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x2, 0, 0, 0, 0, 0, 0, 1, 192, 168, 1, 1}
	if !reflect.DeepEqual(encoded, want) {
		t.Errorf("unexpected encoding: got %x, want %x", encoded, want)
	}
}

func TestEncodeRelayAdvertisementMessageIPv6(t *testing.T) {
	message := messages.RelayAdvertisementMessage{
		Nonce:     1,
		RelayAddr: netip.MustParseAddr("2001:db8::1"),
	}
	encoded, err := message.MarshalBinary()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{
		0x2, 0, 0, 0, 0, 0, 0, 1,
		0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01,
	}
	if !reflect.DeepEqual(encoded, want) {
		t.Errorf("unexpected encoding: got %x, want %x", encoded, want)
	}
}

func TestEncodeRelayAdvertisementMessageNoAddress(t *testing.T) {
	var message messages.RelayAdvertisementMessage
	if _, err := message.MarshalBinary(); !errors.Is(err, messages.ErrAmbiguousAddressFamily) {
		t.Errorf("expected ErrAmbiguousAddressFamily, got %v", err)
	}
}

func TestDecodeRelayAdvertisementMessageIPv4(t *testing.T) {
	expected := messages.RelayAdvertisementMessage{
		Nonce:     1,
		RelayAddr: netip.MustParseAddr("192.168.1.1"),
	}
	data := []byte{0x2, 0, 0, 0, 0, 0, 0, 1, 192, 168, 1, 1}
	var message messages.RelayAdvertisementMessage
	if err := message.UnmarshalBinary(data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if message != expected {
		t.Errorf("decoded message does not match expected: got %+v, want %+v", message, expected)
	}
}

func TestDecodeRelayAdvertisementMessageIPv6(t *testing.T) {
	addr := netip.MustParseAddr("2001:db8::1")
	expected := messages.RelayAdvertisementMessage{
		Nonce:     1,
		RelayAddr: addr,
	}
	raw := addr.As16()
	data := append([]byte{0x2, 0, 0, 0, 0, 0, 0, 1}, raw[:]...)
	var message messages.RelayAdvertisementMessage
	if err := message.UnmarshalBinary(data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if message != expected {
		t.Errorf("decoded message does not match expected: got %+v, want %+v", message, expected)
	}
}

func TestRelayAdvertisementLengthSelectsFamily(t *testing.T) {
	for _, s := range []string{"162.250.137.254", "2001:db8::1", "::ffff:10.1.2.3"} {
		in := messages.RelayAdvertisementMessage{Nonce: 0xCAFEBABE, RelayAddr: netip.MustParseAddr(s)}
		b, err := in.MarshalBinary()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", s, err)
		}
		wantLen := messages.AdvertisementIPv6Len
		if in.RelayAddr.Is4() {
			wantLen = messages.AdvertisementIPv4Len
		}
		if len(b) != wantLen {
			t.Errorf("%s: encoded length %d, want %d", s, len(b), wantLen)
		}
		var out messages.RelayAdvertisementMessage
		if err := out.UnmarshalBinary(b); err != nil {
			t.Fatalf("%s: unexpected error: %v", s, err)
		}
		if out != in {
			t.Errorf("%s: round trip got %+v", s, out)
		}
	}
}

func TestDecodeRelayAdvertisementMessageErrorHandling(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"insufficient data", []byte{0x02}, messages.ErrTruncatedBuffer},
		{"short header", []byte{0x02, 0, 0, 0, 0}, messages.ErrAmbiguousAddressFamily},
		{"short header truncated", []byte{0x02, 0, 0, 0, 0}, messages.ErrTruncatedBuffer},
		{"no address", []byte{0x2, 0, 0, 0, 0, 0, 0, 1}, messages.ErrAmbiguousAddressFamily},
		{"partial address", []byte{0x2, 0, 0, 0, 0, 0, 0, 1, 10, 0}, messages.ErrAmbiguousAddressFamily},
		{"between families", advertisementOfLen(15), messages.ErrAmbiguousAddressFamily},
		{"ipv6 address cut short", advertisementOfLen(20), messages.ErrAmbiguousAddressFamily},
		{"too long", advertisementOfLen(25), messages.ErrAmbiguousAddressFamily},
		{"wrong type", []byte{0x1, 0, 0, 0, 0, 0, 0, 1, 10, 0, 0, 1}, messages.ErrMessageTypeMismatch},
		{"wrong version", []byte{0x12, 0, 0, 0, 0, 0, 0, 1, 10, 0, 0, 1}, messages.ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var message messages.RelayAdvertisementMessage
			if err := message.UnmarshalBinary(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("got error %v, want %v", err, tt.want)
			}
		})
	}
}

func advertisementOfLen(n int) []byte {
	b := make([]byte, n)
	b[0] = byte(messages.RelayAdvertisementType)
	return b
}

func TestDecodeRelayAdvertisementOddLengths(t *testing.T) {
	for n := 1; n <= 32; n++ {
		msg, err := messages.Decode(advertisementOfLen(n))
		switch n {
		case messages.AdvertisementIPv4Len, messages.AdvertisementIPv6Len:
			if err != nil {
				t.Errorf("length %d: unexpected error: %v", n, err)
			}
		default:
			if !errors.Is(err, messages.ErrAmbiguousAddressFamily) || msg != nil {
				t.Errorf("length %d: got %v, %v, want ErrAmbiguousAddressFamily", n, msg, err)
			}
		}
	}
}
