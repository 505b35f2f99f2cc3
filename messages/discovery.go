package messages

import "encoding/binary"

/*
0                   1                   2                   3
0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1

+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|  V=0  |Type=1 |     Reserved                                  |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                        Discovery Nonce                        |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

	RFC7450 Figure 11: Relay Discovery Message Format
*/
type RelayDiscoveryMessage struct {
	Nonce uint32
}

func (*RelayDiscoveryMessage) Type() MessageType { return RelayDiscoveryType }

func (d *RelayDiscoveryMessage) MarshalBinary() (data []byte, err error) {
	b := make([]byte, DiscoveryMsgLen)
	putHeader(b, RelayDiscoveryType)
	putNonce(b[4:], d.Nonce)
	return b, nil
}

func (d *RelayDiscoveryMessage) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, RelayDiscoveryType, DiscoveryMsgLen); err != nil {
		return err
	}
	d.Nonce = binary.BigEndian.Uint32(data[4:8])
	return nil
}
