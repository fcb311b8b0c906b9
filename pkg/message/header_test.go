package message

import (
	"errors"
	"testing"
)

func TestParseHeader(t *testing.T) {
	frame := Encode(0x01020304, CommandDPQuery, []byte("{}"), CRC32())

	h, err := ParseHeader(frame[:HeaderSize])
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}

	if h.Prefix != Prefix {
		t.Errorf("Prefix = %08X, want %08X", h.Prefix, Prefix)
	}
	if h.Seq != 0x01020304 {
		t.Errorf("Seq = %08X, want 01020304", h.Seq)
	}
	if h.Command != CommandDPQuery {
		t.Errorf("Command = %s, want %s", h.Command, CommandDPQuery)
	}
	if h.Length != 2+CRCSize+SuffixSize {
		t.Errorf("Length = %d, want %d", h.Length, 2+CRCSize+SuffixSize)
	}
	if h.FrameSize() != len(frame) {
		t.Errorf("FrameSize() = %d, want %d", h.FrameSize(), len(frame))
	}
}

func TestParseHeaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{
			name:    "short",
			data:    []byte{0x00, 0x00, 0x55, 0xAA, 0x00},
			wantErr: ErrMessageTooShort,
		},
		{
			name: "wrong magic",
			data: []byte{
				0x00, 0x00, 0xAA, 0x55,
				0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x0A,
				0x00, 0x00, 0x00, 0x10,
			},
			wantErr: ErrInvalidPrefix,
		},
		{
			name: "length 1001",
			data: []byte{
				0x00, 0x00, 0x55, 0xAA,
				0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x0A,
				0x00, 0x00, 0x03, 0xE9,
			},
			wantErr: ErrPayloadTooLong,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseHeader(tc.data)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ParseHeader() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseHeaderLengthAtCeiling(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x55, 0xAA,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x0A,
		0x00, 0x00, 0x03, 0xE8, // 1000
	}
	if _, err := ParseHeader(data); err != nil {
		t.Errorf("ParseHeader() error = %v, want nil at the ceiling", err)
	}
}

func TestCommandHasProtocolHeader(t *testing.T) {
	without := []Command{
		CommandDPQuery, CommandDPQueryNew, CommandUpdateDPS, CommandHeartbeat,
		CommandSessKeyNegStart, CommandSessKeyNegResp, CommandSessKeyNegFinish,
	}
	for _, c := range without {
		if c.HasProtocolHeader() {
			t.Errorf("%s.HasProtocolHeader() = true, want false", c)
		}
	}

	for _, c := range []Command{CommandControl, CommandControlNew, CommandStatus} {
		if !c.HasProtocolHeader() {
			t.Errorf("%s.HasProtocolHeader() = false, want true", c)
		}
	}
}

func TestCommandString(t *testing.T) {
	if got := CommandControlNew.String(); got != "ControlNew" {
		t.Errorf("String() = %q, want ControlNew", got)
	}
	if got := Command(0x99).String(); got != "Command(0x99)" {
		t.Errorf("String() = %q, want Command(0x99)", got)
	}
}
