package message

import (
	"encoding/binary"
)

// Header is the fixed 16-byte frame header.
type Header struct {
	Prefix  uint32
	Seq     uint32
	Command Command

	// Length counts everything after the header: return code (if any),
	// payload, checksum and suffix.
	Length uint32
}

// FrameSize returns the number of bytes the whole frame occupies on the wire.
func (h Header) FrameSize() int {
	return HeaderSize + int(h.Length)
}

// EncodeTo writes the header into buf, which must be at least HeaderSize bytes.
func (h Header) EncodeTo(buf []byte) int {
	binary.BigEndian.PutUint32(buf[0:], Prefix)
	binary.BigEndian.PutUint32(buf[4:], h.Seq)
	binary.BigEndian.PutUint32(buf[8:], uint32(h.Command))
	binary.BigEndian.PutUint32(buf[12:], h.Length)
	return HeaderSize
}

// ParseHeader decodes and validates the header at the start of data.
// Only the header bytes need to be present; the dispatcher uses this to
// learn how many bytes it has to buffer before a frame is complete.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, frameErrorf(ErrMessageTooShort, "need %d, have %d", HeaderSize, len(data))
	}

	h := Header{
		Prefix:  binary.BigEndian.Uint32(data[0:]),
		Seq:     binary.BigEndian.Uint32(data[4:]),
		Command: Command(binary.BigEndian.Uint32(data[8:])),
		Length:  binary.BigEndian.Uint32(data[12:]),
	}

	if h.Prefix != Prefix {
		return Header{}, frameErrorf(ErrInvalidPrefix, "%08X != %08X", h.Prefix, Prefix)
	}

	if h.Length > MaxPayloadLength {
		return Header{}, frameErrorf(ErrPayloadTooLong, "claimed size %d bytes", h.Length)
	}

	return h, nil
}
