package messages

import (
	"encoding"
	"errors"
	"fmt"
)

// Message is an AMT message this package can encode.
type Message interface {
	Type() MessageType
	encoding.BinaryMarshaler
}

type decodable interface {
	Message
	encoding.BinaryUnmarshaler
}

// Encode serializes m into a freshly allocated buffer.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("amt: nil message")
	}
	return m.MarshalBinary()
}

// Decode reads the type nibble of data and decodes the control message it
// names. Multicast Data, Teardown and unassigned types are rejected with
// ErrUnsupportedMessageType; callers are expected to log and drop those.
//
// When the embedded group record fails checksum verification, the decoded
// message is returned together with the ErrChecksumMismatch error.
func Decode(data []byte) (Message, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	var m decodable
	switch h.Type {
	case RelayDiscoveryType:
		m = &RelayDiscoveryMessage{}
	case RelayAdvertisementType:
		m = &RelayAdvertisementMessage{}
	case RequestType:
		m = &RequestMessage{}
	case MembershipQueryType:
		m = &MembershipQueryMessage{}
	case MembershipUpdateType:
		m = &MembershipUpdateMessage{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessageType, h.Type)
	}
	if err := m.UnmarshalBinary(data); err != nil {
		if errors.Is(err, ErrChecksumMismatch) {
			return m, err
		}
		return nil, err
	}
	return m, nil
}
