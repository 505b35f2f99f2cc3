package messages

// Checksum computes the RFC 1071 Internet checksum of data: the one's
// complement of the one's complement sum of its big endian 16-bit words.
// An odd trailing byte is padded with zero.
func Checksum(data []byte) uint16 {
	return ^fold(sumSkipping(data, -checksumSize))
}

// VerifyChecksum recomputes the checksum of data as if the two bytes at off
// were zero and compares the result with the value stored there. data is
// not modified. off need not be word aligned.
func VerifyChecksum(data []byte, off int) bool {
	if off < 0 || off+checksumSize > len(data) {
		return false
	}
	stored := uint16(data[off])<<8 | uint16(data[off+1])
	return ^fold(sumSkipping(data, off)) == stored
}

const checksumSize = 2

// sumSkipping adds up the 16-bit words of data, reading the two bytes at
// skip as zero.
func sumSkipping(data []byte, skip int) uint64 {
	var s uint64
	for i, b := range data {
		if i == skip || i == skip+1 {
			continue
		}
		if i%2 == 0 {
			s += uint64(b) << 8
		} else {
			s += uint64(b)
		}
	}
	return s
}

func fold(s uint64) uint16 {
	for s > 0xFFFF {
		s = (s >> 16) + (s & 0xFFFF)
	}
	return uint16(s)
}
