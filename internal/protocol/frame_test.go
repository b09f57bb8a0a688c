package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestBuildFrameBytes(t *testing.T) {
	f, err := BuildFrame(1, CmdFindDevice, nil)
	if err != nil {
		t.Fatalf("BuildFrame() error = %v", err)
	}
	b := f.Bytes()

	wantPrefix := []byte{0xAA, 0x55, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x26}
	if !bytes.Equal(b[:10], wantPrefix) {
		t.Errorf("prefix = % x, want % x", b[:10], wantPrefix)
	}
	if len(b) != FrameOverhead {
		t.Errorf("length = %d, want %d", len(b), FrameOverhead)
	}
	if got := binary.BigEndian.Uint16(b[10:12]); got != CRC16(wantPrefix) {
		t.Errorf("checksum = 0x%04x, want 0x%04x", got, CRC16(wantPrefix))
	}
	if !bytes.Equal(b[12:], []byte{0x0D, 0x0A}) {
		t.Errorf("terminator = % x, want 0d 0a", b[12:])
	}
}

func TestBuildFrameErrors(t *testing.T) {
	if _, err := BuildFrame(1, Command(0x7777), nil); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command error = %v, want ErrUnknownCommand", err)
	}
	if _, err := BuildFrame(1, CmdFirmwareChunk, make([]byte, MaxPayloadSize+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversize error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0x00},
		{0x00, 0x00, 0x00, 0x07, 0x00},
		bytes.Repeat([]byte{0x5A}, 600),
	}

	for _, p := range payloads {
		f, err := BuildFrame(0xDEADBEEF, CmdFirmwareChunk, p)
		if err != nil {
			t.Fatalf("BuildFrame() error = %v", err)
		}
		parsed, err := ParseFrame(f.Bytes())
		if err != nil {
			t.Fatalf("ParseFrame(%d-byte payload) error = %v", len(p), err)
		}
		if parsed.Serial != 0xDEADBEEF {
			t.Errorf("serial = 0x%08x", parsed.Serial)
		}
		if parsed.Command != CmdFirmwareChunk {
			t.Errorf("command = %s", parsed.Command)
		}
		if !bytes.Equal(parsed.Payload, p) && !(len(p) == 0 && len(parsed.Payload) == 0) {
			t.Errorf("payload mismatch for %d-byte payload", len(p))
		}
	}
}

func TestParseFrame(t *testing.T) {
	valid := func() []byte {
		f, _ := BuildFrame(42, CmdSetWorkMode, []byte{0x01})
		return f.Bytes()
	}

	tests := []struct {
		name    string
		frame   func() []byte
		wantErr error
	}{
		{
			name:    "valid",
			frame:   valid,
			wantErr: nil,
		},
		{
			name:    "too short",
			frame:   func() []byte { return valid()[:13] },
			wantErr: ErrMalformedFrame,
		},
		{
			name: "bad header",
			frame: func() []byte {
				b := valid()
				b[0] = 0xAB
				return b
			},
			wantErr: ErrMalformedFrame,
		},
		{
			name: "length field larger than payload",
			frame: func() []byte {
				b := valid()
				binary.BigEndian.PutUint16(b[6:8], 2)
				return b
			},
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "trailing byte",
			frame:   func() []byte { return append(valid(), 0x00) },
			wantErr: ErrMalformedFrame,
		},
		{
			name: "unknown command",
			frame: func() []byte {
				b := valid()
				binary.BigEndian.PutUint16(b[8:10], 0x0999)
				return b
			},
			wantErr: ErrUnknownCommand,
		},
		{
			name: "bad terminator",
			frame: func() []byte {
				b := valid()
				b[len(b)-1] = 0x00
				return b
			},
			wantErr: ErrMalformedFrame,
		},
		{
			name: "one-bit checksum flip",
			frame: func() []byte {
				b := valid()
				b[len(b)-4] ^= 0x01
				return b
			},
			wantErr: ErrChecksumMismatch,
		},
		{
			name: "corrupted payload",
			frame: func() []byte {
				b := valid()
				b[10] ^= 0x80
				return b
			},
			wantErr: ErrChecksumMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame(tt.frame())
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ParseFrame() error = %v", err)
				}
				if f.Serial != 42 || f.Command != CmdSetWorkMode {
					t.Errorf("parsed %s", f)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseFrame() error = %v, want %v", err, tt.wantErr)
			}
			if f != nil {
				t.Errorf("ParseFrame() returned a frame alongside an error")
			}
		})
	}
}

func TestChecksumMismatchDistinct(t *testing.T) {
	f, _ := BuildFrame(7, CmdBind, []byte{1, 2, 3, 4, 5, 6})
	b := f.Bytes()
	b[len(b)-3] ^= 0x10

	_, err := ParseFrame(b)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("error = %v, want ErrChecksumMismatch", err)
	}
	if errors.Is(err, ErrMalformedFrame) {
		t.Errorf("checksum mismatch must not match ErrMalformedFrame")
	}
}

func TestCommandClassification(t *testing.T) {
	tests := []struct {
		cmd       Command
		known     bool
		wantReply bool
	}{
		{CmdDeviceInfo, true, false},
		{CmdPositionReport, true, false},
		{CmdQueryStatus, true, false},
		{CmdBind, true, true},
		{CmdFindDevice, true, true},
		{CmdFirmwareStart, true, true},
		{CmdFirmwareEnd, true, true},
		{Command(0x0027), false, false},
		{Command(0xFFFF), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			if got := tt.cmd.IsKnown(); got != tt.known {
				t.Errorf("IsKnown() = %v, want %v", got, tt.known)
			}
			if got := tt.cmd.ExpectsReply(); got != tt.wantReply {
				t.Errorf("ExpectsReply() = %v, want %v", got, tt.wantReply)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	if c, err := ParseCommand("FindDevice"); err != nil || c != CmdFindDevice {
		t.Errorf("ParseCommand(FindDevice) = %s, %v", c, err)
	}
	if c, err := ParseCommand("0x0031"); err != nil || c != CmdFirmwareChunk {
		t.Errorf("ParseCommand(0x0031) = %s, %v", c, err)
	}
	if _, err := ParseCommand("Reboot"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("ParseCommand(Reboot) error = %v, want ErrUnknownCommand", err)
	}
}

func TestAsResponse(t *testing.T) {
	raw, err := EncodeResponse(9, CmdFirmwareChunk, 1234, StatusCRCError)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	f, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	resp, ok := f.AsResponse()
	if !ok {
		t.Fatal("AsResponse() = false for 5-byte payload")
	}
	if resp.RespondedSerial != 1234 || resp.Status != StatusCRCError || resp.Serial != 9 {
		t.Errorf("AsResponse() = %s", resp)
	}

	other, _ := BuildFrame(1, CmdStatusReport, make([]byte, 43))
	if _, ok := other.AsResponse(); ok {
		t.Error("AsResponse() = true for 43-byte payload")
	}
}

func TestPeekSerial(t *testing.T) {
	f, _ := BuildFrame(77, CmdUnbind, nil)
	if s, ok := PeekSerial(f.Bytes()); !ok || s != 77 {
		t.Errorf("PeekSerial() = %d, %v", s, ok)
	}
	if _, ok := PeekSerial([]byte{0xFA, 0xF5, 0, 0, 0, 0}); ok {
		t.Error("PeekSerial() accepted a sub-packet header")
	}
}

func TestPeekCommand(t *testing.T) {
	f, _ := BuildFrame(78, CmdFirmwareChunk, []byte{1})
	raw := f.Bytes()
	raw[len(raw)-3] ^= 0xFF

	if c, ok := PeekCommand(raw); !ok || c != CmdFirmwareChunk {
		t.Errorf("PeekCommand() = %s, %v on a frame with a bad checksum", c, ok)
	}
	if _, ok := PeekCommand(raw[:9]); ok {
		t.Error("PeekCommand() accepted a frame cut before its command")
	}
}
