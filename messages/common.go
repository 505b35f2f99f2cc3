package messages

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
)

// message types
type MessageType uint8

const (
	_ MessageType = iota
	RelayDiscoveryType
	RelayAdvertisementType
	RequestType
	MembershipQueryType
	MembershipUpdateType
	MulticastDataType
	TeardownType
)

func (t MessageType) String() string {
	switch t {
	case RelayDiscoveryType:
		return "RelayDiscovery"
	case RelayAdvertisementType:
		return "RelayAdvertisement"
	case RequestType:
		return "Request"
	case MembershipQueryType:
		return "MembershipQuery"
	case MembershipUpdateType:
		return "MembershipUpdate"
	case MulticastDataType:
		return "MulticastData"
	case TeardownType:
		return "Teardown"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// Default port
const DefaultPort = 2268

// Current version
const Version = 0

const (
	MACLen   = 6 // Response MAC
	NonceLen = 4

	// MaxPayloadLen is the largest AMT message that fits a 1500 byte MTU
	// without fragmentation (IPv4 header 20, UDP header 8).
	MaxPayloadLen = 1500 - (20 + 8)

	DiscoveryMsgLen       = 8
	AdvertisementIPv4Len  = 12
	AdvertisementIPv6Len  = advertisementFixedLen + 16
	RequestMsgLen         = 8
	QueryMsgHdrLen        = 14
	UpdateMsgHdrLen       = 12
	DataMsgHdrLen         = 2
	advertisementFixedLen = 8
)

var (
	// AllRelaysAddr is the destination of Relay Discovery sent to a multicast relay.
	AllRelaysAddr = netip.AddrFrom4([4]byte{224, 0, 0, 22})
	// AnycastAddr is the placeholder for the relay anycast address.
	AnycastAddr = netip.IPv4Unspecified()
)

// ResponseMAC is the opaque 48-bit authenticator relays put in Membership
// Query messages and gateways echo back. It is never computed here.
type ResponseMAC [MACLen]byte

func (mac ResponseMAC) String() string {
	return net.HardwareAddr(mac[:]).String()
}

// Header is the first byte of every AMT message.
type Header struct {
	Version uint8
	Type    MessageType
}

// MarshalBinary encodes the Header into a single byte.
func (h Header) MarshalBinary() (data []byte, err error) {
	if h.Type < RelayDiscoveryType || h.Type > TeardownType {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMessageType, h.Type)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return []byte{h.Version<<4 | byte(h.Type)}, nil
}

// UnmarshalBinary decodes the first byte of b into a Header. Any type value
// in the 4-bit range is accepted; callers decide which ones they handle.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < 1 {
		return fmt.Errorf("%w: empty message", ErrTruncatedBuffer)
	}
	h.Version = b[0] >> 4
	h.Type = MessageType(b[0] & 0x0F)
	if h.Version != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return nil
}

// ParseHeader reads the version and type nibbles of an AMT message.
func ParseHeader(b []byte) (Header, error) {
	var h Header
	err := h.UnmarshalBinary(b)
	return h, err
}

func putHeader(b []byte, t MessageType) {
	b[0] = Version<<4 | byte(t)
}

// checkHeader validates the first byte of data against the expected type
// and the minimum fixed length of that message.
func checkHeader(data []byte, want MessageType, minLen int) error {
	h, err := ParseHeader(data)
	if err != nil {
		return err
	}
	if h.Type != want {
		return fmt.Errorf("%w: got %s, want %s", ErrMessageTypeMismatch, h.Type, want)
	}
	if len(data) < minLen {
		return fmt.Errorf("%w: %s needs %d bytes, have %d", ErrTruncatedBuffer, want, minLen, len(data))
	}
	return nil
}

func putNonce(b []byte, nonce uint32) {
	binary.BigEndian.PutUint32(b, nonce)
}
