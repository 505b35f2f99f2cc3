package messages

import (
	"encoding/binary"
	"fmt"
)

/*
0                   1                   2                   3
0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1

+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|  V=0  |Type=4 | Reserved  |L|G|           Reserved            |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                         Response MAC                          |
+                               +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                               |        Request Nonce          ~
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
~                               |                               |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+                               +
|                                                               |
~         Group Record (IGMP Membership Query, type 0x11        ~
|                 or MLD Listener Query, type 130)              |
|                                                               |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

	Membership Query, after RFC7450 Figure 14
*/
type MembershipQueryMessage struct {
	LimitedMembership bool // L flag
	HasGatewayAddress bool // G flag
	ResponseMAC       ResponseMAC
	Nonce             uint32
	Record            GroupRecord
}

func (*MembershipQueryMessage) Type() MessageType { return MembershipQueryType }

func (mqm *MembershipQueryMessage) MarshalBinary() ([]byte, error) {
	if !mqm.Record.Type.IsQuery() {
		return nil, fmt.Errorf("membership query: %w: %s", ErrInvalidRecordType, mqm.Record.Type)
	}
	if err := mqm.Record.validate(); err != nil {
		return nil, fmt.Errorf("membership query: %w", err)
	}
	b := make([]byte, QueryMsgHdrLen+mqm.Record.Len())
	putHeader(b, MembershipQueryType)
	if mqm.LimitedMembership {
		b[1] |= 0x02
	}
	if mqm.HasGatewayAddress {
		b[1] |= 0x01
	}
	copy(b[4:10], mqm.ResponseMAC[:])
	putNonce(b[10:], mqm.Nonce)
	mqm.Record.put(b[QueryMsgHdrLen:])
	return b, nil
}

// UnmarshalBinary decodes a Membership Query. A checksum mismatch in the
// group record leaves mqm fully populated and is reported with
// ErrChecksumMismatch.
func (mqm *MembershipQueryMessage) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, MembershipQueryType, QueryMsgHdrLen); err != nil {
		return err
	}
	mqm.LimitedMembership = data[1]&0x02 != 0
	mqm.HasGatewayAddress = data[1]&0x01 != 0
	copy(mqm.ResponseMAC[:], data[4:10])
	mqm.Nonce = binary.BigEndian.Uint32(data[10:14])

	rec := data[QueryMsgHdrLen:]
	if len(rec) > 0 && RecordType(rec[0]).IsReport() {
		return fmt.Errorf("membership query: %w: %s is not a query", ErrUnknownRecordType, RecordType(rec[0]))
	}
	if err := mqm.Record.UnmarshalBinary(rec); err != nil {
		return fmt.Errorf("membership query: %w", err)
	}
	return nil
}
