package messages

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"time"
)

/*
IGMP (IPv4) group record, record types 0x11, 0x12, 0x16, 0x17:

0                   1                   2                   3
0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1

+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|     Type      | Max Resp Code |           Checksum            |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                         Group Address                         |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
| Resv  |S| QRV |     QQIC      |     Number of Sources (N)     ~
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
~                               |                               ~
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+                               +
~                   Source Address [1..N] (32 bits each)        ~
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

MLD (IPv6) group record, record types 130, 131, 132, 143. There is no code
byte: the checksum directly follows the type.

+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|     Type      |           Checksum            |   Reserved    ~
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
~               |                                               ~
+-+-+-+-+-+-+-+-+                                               +
~                 Multicast Address (128 bits)                  ~
+               +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
~               | Resv  |S| QRV |     QQIC      | Number of ... ~
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
~  ... Sources (N)              |                               ~
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+                               +
~                  Source Address [1..N] (128 bits each)        ~
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

The checksum covers the whole record, sources included.
*/

// RecordType is the IGMP or MLD message type that opens a group record. It
// also selects the address family of the record.
type RecordType uint8

const (
	IGMPMembershipQuery    RecordType = 0x11
	IGMPv1MembershipReport RecordType = 0x12
	IGMPv2MembershipReport RecordType = 0x16
	IGMPv2LeaveGroup       RecordType = 0x17
	MLDListenerQuery       RecordType = 130
	MLDv1ListenerReport    RecordType = 131
	MLDv1ListenerDone      RecordType = 132
	MLDv2ListenerReport    RecordType = 143
)

var recordTypeNames = map[RecordType]string{
	IGMPMembershipQuery:    "IGMP: Group Membership Query",
	IGMPv1MembershipReport: "IGMP: Version 1 - Membership Report",
	IGMPv2MembershipReport: "IGMP: Version 2 - Membership Report",
	IGMPv2LeaveGroup:       "IGMP: Leave Group",
	MLDListenerQuery:       "MLD: Multicast Listener Query",
	MLDv1ListenerReport:    "MLD: Version 1 Multicast Listener Report",
	MLDv1ListenerDone:      "MLD: Version 1 Multicast Listener Done",
	MLDv2ListenerReport:    "MLD: Version 2 Multicast Listener Report",
}

func (t RecordType) String() string {
	if name, ok := recordTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RecordType(%d)", uint8(t))
}

// IsIGMP reports whether t is one of the IPv4 record types.
func (t RecordType) IsIGMP() bool {
	switch t {
	case IGMPMembershipQuery, IGMPv1MembershipReport, IGMPv2MembershipReport, IGMPv2LeaveGroup:
		return true
	}
	return false
}

// IsMLD reports whether t is one of the IPv6 record types.
func (t RecordType) IsMLD() bool {
	switch t {
	case MLDListenerQuery, MLDv1ListenerReport, MLDv1ListenerDone, MLDv2ListenerReport:
		return true
	}
	return false
}

func (t RecordType) Valid() bool { return t.IsIGMP() || t.IsMLD() }

// IsQuery reports whether t may be carried by a Membership Query.
func (t RecordType) IsQuery() bool {
	return t == IGMPMembershipQuery || t == MLDListenerQuery
}

// IsReport reports whether t may be carried by a Membership Update.
func (t RecordType) IsReport() bool {
	return t.Valid() && !t.IsQuery()
}

func (t RecordType) addrLen() int {
	if t.IsMLD() {
		return 16
	}
	return 4
}

const (
	igmpRecordFixedLen = 14
	mldRecordFixedLen  = 27
)

func (t RecordType) fixedLen() int {
	if t.IsMLD() {
		return mldRecordFixedLen
	}
	return igmpRecordFixedLen
}

func (t RecordType) checksumOffset() int {
	if t.IsMLD() {
		return 1
	}
	return 2
}

// GroupRecord is the IGMPv3 or MLDv2 message embedded in Membership Query
// (query form) and Membership Update (report form) messages.
type GroupRecord struct {
	Type RecordType
	// MaxRespCode exists on the wire only for IGMP records and must be zero
	// for MLD ones.
	MaxRespCode uint8
	Group       netip.Addr
	SFlag       bool
	QRV         uint8 // 3 bits
	QQIC        uint8
	NumSources  uint32
	// Sources is nil when the record lists no sources. Decoding and
	// NewGroupRecord never produce an empty non-nil slice, so compare
	// records built by hand with that in mind.
	Sources []netip.Addr
}

// NewGroupRecord returns a record of type t whose source count matches
// the given sources.
func NewGroupRecord(t RecordType, group netip.Addr, sources ...netip.Addr) GroupRecord {
	r := GroupRecord{Type: t, Group: group, NumSources: uint32(len(sources))}
	if len(sources) > 0 {
		r.Sources = append([]netip.Addr(nil), sources...)
	}
	return r
}

// Len returns the encoded size of r.
func (r *GroupRecord) Len() int {
	return r.Type.fixedLen() + len(r.Sources)*r.Type.addrLen()
}

// QueryInterval decodes QQIC (RFC 3376 section 4.1.7).
func (r *GroupRecord) QueryInterval() time.Duration {
	return time.Duration(decodeFloatCode(r.QQIC)) * time.Second
}

// MaxResponseTime decodes the IGMP max response code. MLD records have none.
func (r *GroupRecord) MaxResponseTime() time.Duration {
	if !r.Type.IsIGMP() {
		return 0
	}
	return time.Duration(decodeFloatCode(r.MaxRespCode)) * 100 * time.Millisecond
}

func decodeFloatCode(c uint8) uint32 {
	if c < 0x80 {
		return uint32(c)
	}
	exp := uint32(c>>4) & 0x07
	mant := uint32(c) & 0x0F
	return (mant | 0x10) << (exp + 3)
}

func (r *GroupRecord) validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRecordType, uint8(r.Type))
	}
	if int64(r.NumSources) != int64(len(r.Sources)) {
		return fmt.Errorf("%w: declared %d, have %d", ErrInvalidSourceCount, r.NumSources, len(r.Sources))
	}
	if r.Type.IsMLD() && r.MaxRespCode != 0 {
		return fmt.Errorf("%w: MLD record carries no max response code (%d)", ErrFieldRange, r.MaxRespCode)
	}
	if r.QRV > 7 {
		return fmt.Errorf("%w: QRV %d does not fit 3 bits", ErrFieldRange, r.QRV)
	}
	if !r.fits(r.Group) {
		return fmt.Errorf("%w: group %s in %s record", ErrAddressFamilyMismatch, r.Group, r.Type)
	}
	for i, src := range r.Sources {
		if !r.fits(src) {
			return fmt.Errorf("%w: source %d (%s) in %s record", ErrAddressFamilyMismatch, i, src, r.Type)
		}
	}
	return nil
}

func (r *GroupRecord) fits(a netip.Addr) bool {
	if a.Zone() != "" {
		return false
	}
	if r.Type.IsMLD() {
		return a.Is6()
	}
	return a.Is4()
}

// MarshalBinary validates r and encodes it with its checksum filled in.
func (r *GroupRecord) MarshalBinary() ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	b := make([]byte, r.Len())
	r.put(b)
	return b, nil
}

// put encodes a validated record into b, which must be r.Len() bytes.
func (r *GroupRecord) put(b []byte) {
	b[0] = byte(r.Type)
	var off int
	if r.Type.IsMLD() {
		// b[1:3] checksum, b[3:5] reserved
		g := r.Group.As16()
		off = 5 + copy(b[5:], g[:])
	} else {
		b[1] = r.MaxRespCode
		g := r.Group.As4()
		off = 4 + copy(b[4:], g[:])
	}
	var flags byte
	if r.SFlag {
		flags |= 0x08
	}
	b[off] = flags | r.QRV&0x07
	b[off+1] = r.QQIC
	binary.BigEndian.PutUint32(b[off+2:], r.NumSources)
	off += 6
	for _, src := range r.Sources {
		if r.Type.IsMLD() {
			a := src.As16()
			off += copy(b[off:], a[:])
		} else {
			a := src.As4()
			off += copy(b[off:], a[:])
		}
	}
	cs := r.Type.checksumOffset()
	binary.BigEndian.PutUint16(b[cs:], Checksum(b))
}

// UnmarshalBinary decodes a group record from the start of data. Trailing
// bytes are ignored. When the checksum does not verify, r is still filled
// and the returned error wraps ErrChecksumMismatch.
func (r *GroupRecord) UnmarshalBinary(data []byte) error {
	rec, _, err := DecodeGroupRecord(data)
	if err != nil && !errors.Is(err, ErrChecksumMismatch) {
		return err
	}
	*r = rec
	return err
}

// DecodeGroupRecord decodes the group record at the start of data and
// returns it with the number of bytes it occupies. The record is returned
// along with an ErrChecksumMismatch error; for any other error it is zero.
func DecodeGroupRecord(data []byte) (GroupRecord, int, error) {
	if len(data) < 1 {
		return GroupRecord{}, 0, fmt.Errorf("%w: empty group record", ErrTruncatedBuffer)
	}
	t := RecordType(data[0])
	if !t.Valid() {
		return GroupRecord{}, 0, fmt.Errorf("%w: %d", ErrUnknownRecordType, data[0])
	}
	fixed := t.fixedLen()
	if len(data) < fixed {
		return GroupRecord{}, 0, fmt.Errorf("%w: %s record needs %d bytes, have %d", ErrTruncatedBuffer, t, fixed, len(data))
	}

	r := GroupRecord{Type: t}
	var off int
	if t.IsMLD() {
		r.Group = netip.AddrFrom16([16]byte(data[5:21]))
		off = 21
	} else {
		r.MaxRespCode = data[1]
		r.Group = netip.AddrFrom4([4]byte(data[4:8]))
		off = 8
	}
	r.SFlag = data[off]&0x08 != 0
	r.QRV = data[off] & 0x07
	r.QQIC = data[off+1]
	r.NumSources = binary.BigEndian.Uint32(data[off+2:])
	off += 6

	alen := t.addrLen()
	need := uint64(r.NumSources) * uint64(alen)
	if have := uint64(len(data) - off); need > have {
		return GroupRecord{}, 0, fmt.Errorf("%w: %w: %d sources need %d bytes, have %d",
			ErrInvalidSourceCount, ErrTruncatedBuffer, r.NumSources, need, have)
	}
	if r.NumSources > 0 {
		r.Sources = make([]netip.Addr, r.NumSources)
		for i := range r.Sources {
			if t.IsMLD() {
				r.Sources[i] = netip.AddrFrom16([16]byte(data[off : off+16]))
			} else {
				r.Sources[i] = netip.AddrFrom4([4]byte(data[off : off+4]))
			}
			off += alen
		}
	}

	if !VerifyChecksum(data[:off], t.checksumOffset()) {
		got := binary.BigEndian.Uint16(data[t.checksumOffset():])
		return r, off, fmt.Errorf("%w: %s record checksum %#04x", ErrChecksumMismatch, t, got)
	}
	return r, off, nil
}
