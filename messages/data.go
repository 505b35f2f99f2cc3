package messages

import "fmt"

/*
	0                   1                   2                   3
	0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1

+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|  V=0  |Type=6 |    Reserved   |                               |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+                               +
|                                                               |
~                     IP Multicast Packet                       ~
|                                                               |
+                - - - - - - - - - - - - - - - - - - - - - - - -+
|               :               :               :               :
+-+-+-+-+-+-+-+-+- - - - - - - - - - - - - - - - - - - - - - - -

	RFC7450 Figure 16: Multicast Data Message Format

Only the header is handled here; the IP packet is opaque.
*/
type MulticastDataMessage struct {
	Packet []byte
}

func (*MulticastDataMessage) Type() MessageType { return MulticastDataType }

func (m *MulticastDataMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, DataMsgHdrLen+len(m.Packet))
	putHeader(b, MulticastDataType)
	copy(b[DataMsgHdrLen:], m.Packet)
	return b, nil
}

// DecodeMulticastData checks the Multicast Data header and returns the
// encapsulated IP packet. The result aliases data.
func DecodeMulticastData(data []byte) ([]byte, error) {
	if err := checkHeader(data, MulticastDataType, DataMsgHdrLen); err != nil {
		return nil, err
	}
	if len(data) == DataMsgHdrLen {
		return nil, fmt.Errorf("%w: multicast data without a packet", ErrTruncatedBuffer)
	}
	return data[DataMsgHdrLen:], nil
}
