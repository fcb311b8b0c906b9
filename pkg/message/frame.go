package message

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/backkem/tuyalan/pkg/crypto"
)

// Frame is a decoded Tuya frame.
type Frame struct {
	Seq        uint32
	Command    Command
	ReturnCode uint32
	Payload    []byte

	// Checksum is the trailer as received (4 bytes for CRC32, 32 for HMAC).
	Checksum []byte

	// ChecksumValid reports whether Checksum matched the computed value.
	// Mismatching frames are still returned; callers decide what to do.
	ChecksumValid bool

	// SuffixValid reports whether the trailing magic was 0x0000AA55.
	SuffixValid bool
}

// Encode builds a frame ready to be written to a device.
// The length field covers payload plus trailer; no return code is written.
func Encode(seq uint32, cmd Command, payload []byte, mode ChecksumMode) []byte {
	trailer := mode.TrailerSize()
	buf := make([]byte, HeaderSize+len(payload)+trailer)

	offset := Header{
		Seq:     seq,
		Command: cmd,
		Length:  uint32(len(payload) + trailer),
	}.EncodeTo(buf)
	offset += copy(buf[offset:], payload)

	offset += copy(buf[offset:], checksum(buf[:offset], mode))
	binary.BigEndian.PutUint32(buf[offset:], Suffix)

	return buf
}

// EncodeWithReturnCode builds a frame the way a device sends it, with a
// return code between header and payload.
func EncodeWithReturnCode(seq uint32, cmd Command, retcode uint32, payload []byte, mode ChecksumMode) []byte {
	body := make([]byte, ReturnCodeSize+len(payload))
	binary.BigEndian.PutUint32(body, retcode)
	copy(body[ReturnCodeSize:], payload)
	return Encode(seq, cmd, body, mode)
}

// Decode parses the frame at the start of data.
//
// omitReturnCode must be true for frames that carry no return code (frames
// sent to a device). Framing problems are returned as *FrameError; a
// checksum or suffix mismatch is not an error and is reported through
// ChecksumValid and SuffixValid.
func Decode(data []byte, mode ChecksumMode, omitReturnCode bool) (*Frame, error) {
	retcodeLen := ReturnCodeSize
	if omitReturnCode {
		retcodeLen = 0
	}
	trailerLen := mode.TrailerSize()

	if len(data) < HeaderSize+retcodeLen+trailerLen {
		return nil, frameErrorf(ErrMessageTooShort, "need %d, have %d", HeaderSize+retcodeLen+trailerLen, len(data))
	}

	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	if int(h.Length) < retcodeLen+trailerLen {
		return nil, frameErrorf(ErrLengthTooShort, "length %d, trailer %d", h.Length, retcodeLen+trailerLen)
	}

	end := h.FrameSize()
	if len(data) < end {
		return nil, frameErrorf(ErrPayloadIncomplete, "need %d, have %d", end, len(data))
	}

	f := &Frame{
		Seq:     h.Seq,
		Command: h.Command,
	}

	if !omitReturnCode {
		f.ReturnCode = binary.BigEndian.Uint32(data[HeaderSize:])
	}

	checksumStart := end - trailerLen
	payloadStart := HeaderSize + retcodeLen

	f.Payload = make([]byte, checksumStart-payloadStart)
	copy(f.Payload, data[payloadStart:checksumStart])

	f.Checksum = make([]byte, mode.Size())
	copy(f.Checksum, data[checksumStart:checksumStart+mode.Size()])

	expected := checksum(data[:checksumStart], mode)
	if mode.Type == ChecksumHMAC {
		f.ChecksumValid = crypto.HMACEqual(expected, f.Checksum)
	} else {
		f.ChecksumValid = bytes.Equal(expected, f.Checksum)
	}

	f.SuffixValid = binary.BigEndian.Uint32(data[end-SuffixSize:]) == Suffix

	return f, nil
}

// checksum computes the trailer checksum over span.
func checksum(span []byte, mode ChecksumMode) []byte {
	if mode.Type == ChecksumHMAC {
		return crypto.HMACSHA256Slice(mode.Key, span)
	}
	var buf [CRCSize]byte
	binary.BigEndian.PutUint32(buf[:], crc32.ChecksumIEEE(span))
	return buf[:]
}
