package messages

import (
	"encoding/binary"
	"fmt"
)

/*
0                   1                   2                   3
0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1

+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|  V=0  |Type=5 |  Reserved     |        Response MAC           |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+                               +
|                                                               |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                         Request Nonce                         |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                                                               |
|         Group Record (report form)                            |
~           IPv4: IGMP Membership Report | Leave Group          ~
|           IPv6: MLD Listener Report | Listener Done           |
|                                                               |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

RFC7450 Figure 15: Membership Update Message Format
*/
type MembershipUpdateMessage struct {
	ResponseMAC ResponseMAC
	Nonce       uint32
	Record      GroupRecord
}

func (*MembershipUpdateMessage) Type() MessageType { return MembershipUpdateType }

func (mum *MembershipUpdateMessage) MarshalBinary() ([]byte, error) {
	if !mum.Record.Type.IsReport() {
		return nil, fmt.Errorf("membership update: %w: %s", ErrInvalidRecordType, mum.Record.Type)
	}
	if err := mum.Record.validate(); err != nil {
		return nil, fmt.Errorf("membership update: %w", err)
	}
	b := make([]byte, UpdateMsgHdrLen+mum.Record.Len())
	putHeader(b, MembershipUpdateType)
	copy(b[2:8], mum.ResponseMAC[:])
	putNonce(b[8:], mum.Nonce)
	mum.Record.put(b[UpdateMsgHdrLen:])
	return b, nil
}

// UnmarshalBinary decodes a Membership Update. As with queries, a checksum
// mismatch still populates mum.
func (mum *MembershipUpdateMessage) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, MembershipUpdateType, UpdateMsgHdrLen); err != nil {
		return err
	}
	copy(mum.ResponseMAC[:], data[2:8])
	mum.Nonce = binary.BigEndian.Uint32(data[8:12])

	rec := data[UpdateMsgHdrLen:]
	if len(rec) > 0 && RecordType(rec[0]).IsQuery() {
		return fmt.Errorf("membership update: %w: %s is not a report", ErrUnknownRecordType, RecordType(rec[0]))
	}
	if err := mum.Record.UnmarshalBinary(rec); err != nil {
		return fmt.Errorf("membership update: %w", err)
	}
	return nil
}
