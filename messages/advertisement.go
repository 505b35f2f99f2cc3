package messages

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

/*
0                   1                   2                   3
0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1

+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|  V=0  |Type=2 |                   Reserved                    |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                        Discovery Nonce                        |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                                                               |
~                  Relay Address (IPv4 or IPv6)                 ~
|                                                               |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

	RFC7450 Figure 12: Relay Advertisement Message Format

There is no address family field: a 12 byte message carries an IPv4
address and a 24 byte message an IPv6 one.
*/
type RelayAdvertisementMessage struct {
	Nonce     uint32
	RelayAddr netip.Addr
}

func (*RelayAdvertisementMessage) Type() MessageType { return RelayAdvertisementType }

func (ram *RelayAdvertisementMessage) MarshalBinary() (data []byte, err error) {
	var b []byte
	switch {
	case ram.RelayAddr.Is4():
		b = make([]byte, AdvertisementIPv4Len)
		a := ram.RelayAddr.As4()
		copy(b[advertisementFixedLen:], a[:])
	case ram.RelayAddr.Is6():
		b = make([]byte, AdvertisementIPv6Len)
		a := ram.RelayAddr.As16()
		copy(b[advertisementFixedLen:], a[:])
	default:
		return nil, fmt.Errorf("%w: invalid relay address %v", ErrAmbiguousAddressFamily, ram.RelayAddr)
	}
	putHeader(b, RelayAdvertisementType)
	putNonce(b[4:], ram.Nonce)
	return b, nil
}

func (ram *RelayAdvertisementMessage) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, RelayAdvertisementType, 1); err != nil {
		return err
	}
	switch n := len(data); {
	case n == AdvertisementIPv4Len:
		ram.RelayAddr = netip.AddrFrom4([4]byte(data[advertisementFixedLen:]))
	case n == AdvertisementIPv6Len:
		ram.RelayAddr = netip.AddrFrom16([16]byte(data[advertisementFixedLen:]))
	case n < advertisementFixedLen:
		return fmt.Errorf("%w: %w: message length %d", ErrAmbiguousAddressFamily, ErrTruncatedBuffer, n)
	default:
		return fmt.Errorf("%w: message length %d", ErrAmbiguousAddressFamily, n)
	}
	ram.Nonce = binary.BigEndian.Uint32(data[4:8])
	return nil
}
