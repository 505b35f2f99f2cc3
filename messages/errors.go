package messages

import "errors"

// Decoding and encoding failures. Returned errors wrap one (or, for a
// source count that overruns the buffer, two) of these and are meant to be
// matched with errors.Is.
var (
	ErrTruncatedBuffer        = errors.New("amt: truncated buffer")
	ErrUnsupportedMessageType = errors.New("amt: unsupported message type")
	ErrUnsupportedVersion     = errors.New("amt: unsupported version")
	ErrMessageTypeMismatch    = errors.New("amt: message type mismatch")
	ErrAmbiguousAddressFamily = errors.New("amt: ambiguous relay address family")
	ErrUnknownRecordType      = errors.New("amt: unknown group record type")
	ErrInvalidRecordType      = errors.New("amt: invalid group record type")
	ErrInvalidSourceCount     = errors.New("amt: invalid source count")
	ErrAddressFamilyMismatch  = errors.New("amt: address family does not match record type")
	ErrFieldRange             = errors.New("amt: field value out of range")

	// ErrChecksumMismatch is returned together with a fully decoded value.
	ErrChecksumMismatch = errors.New("amt: checksum mismatch")
)
