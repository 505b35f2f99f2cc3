package messages

import "encoding/binary"

/*
0                   1                   2                   3
0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1

+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|  V=0  |Type=3 |   Reserved  |P|            Reserved           |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                         Request Nonce                         |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

	RFC7450 Figure 13: Request Message Format
*/

// If the P flag in the Request message is 0, the relay MUST return an
// IPv4-encapsulated IGMPv3 General Query in the Membership Query
// message.  If the P flag is 1, the relay MUST return an
// IPv6-encapsulated MLDv2 General Query in the Membership Query
// message.

type RequestMessage struct {
	Protocol MembershipProtocolFlag
	Nonce    uint32
}

type MembershipProtocolFlag bool

const (
	IGMPv3 MembershipProtocolFlag = false // IPv4 packet carrying an IGMPv3 General Query
	MLDv2  MembershipProtocolFlag = true  // IPv6 packet carrying an MLDv2 General Query
)

func (*RequestMessage) Type() MessageType { return RequestType }

func (rm *RequestMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, RequestMsgLen)
	putHeader(b, RequestType)
	if rm.Protocol == MLDv2 {
		b[1] = 0x01
	}
	putNonce(b[4:], rm.Nonce)
	return b, nil
}

func (rm *RequestMessage) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, RequestType, RequestMsgLen); err != nil {
		return err
	}
	rm.Protocol = MembershipProtocolFlag(data[1]&0x01 != 0)
	rm.Nonce = binary.BigEndian.Uint32(data[4:8])
	return nil
}
