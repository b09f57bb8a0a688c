package protocol

import (
	"encoding/binary"
	"fmt"
)

// Frame layout constants
const (
	FrameHeader     = 0xAA55
	FrameTerminator = 0x0D0A
	// FrameOverhead is header(2) + serial(4) + length(2) + command(2) +
	// checksum(2) + terminator(2)
	FrameOverhead = 14
	// frameChecksumStart is the offset of the checksum field for an empty payload
	frameChecksumStart = 10
	MaxPayloadSize     = 0xFFFF
)

// Command is a frame command code
type Command uint16

// Device reports
const (
	CmdDeviceInfo     Command = 0x0001
	CmdStatusReport   Command = 0x0002
	CmdAlarmReport    Command = 0x0003
	CmdPositionReport Command = 0x0004
)

// Queries, answered by a report frame rather than a response
const (
	CmdQueryDeviceInfo Command = 0x0010
	CmdQueryStatus     Command = 0x0011
)

// Reply-bearing commands, acknowledged by a 5-byte response frame carrying
// the same command code
const (
	CmdBind              Command = 0x0020
	CmdUnbind            Command = 0x0021
	CmdSetSOSNumber      Command = 0x0022
	CmdSetWorkMode       Command = 0x0023
	CmdSetReportInterval Command = 0x0024
	CmdSyncTime          Command = 0x0025
	CmdFindDevice        Command = 0x0026
	CmdFirmwareStart     Command = 0x0030
	CmdFirmwareChunk     Command = 0x0031
	CmdFirmwareEnd       Command = 0x0032
)

var commandNames = map[Command]string{
	CmdDeviceInfo:        "DeviceInfo",
	CmdStatusReport:      "StatusReport",
	CmdAlarmReport:       "AlarmReport",
	CmdPositionReport:    "PositionReport",
	CmdQueryDeviceInfo:   "QueryDeviceInfo",
	CmdQueryStatus:       "QueryStatus",
	CmdBind:              "Bind",
	CmdUnbind:            "Unbind",
	CmdSetSOSNumber:      "SetSOSNumber",
	CmdSetWorkMode:       "SetWorkMode",
	CmdSetReportInterval: "SetReportInterval",
	CmdSyncTime:          "SyncTime",
	CmdFindDevice:        "FindDevice",
	CmdFirmwareStart:     "FirmwareStart",
	CmdFirmwareChunk:     "FirmwareChunk",
	CmdFirmwareEnd:       "FirmwareEnd",
}

// String returns the command name, or its hex code when unknown
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%04x)", uint16(c))
}

// IsKnown reports whether c belongs to the closed command set
func (c Command) IsKnown() bool {
	_, ok := commandNames[c]
	return ok
}

// ExpectsReply reports whether the device acknowledges c with a response frame
func (c Command) ExpectsReply() bool {
	return c >= CmdBind && c <= CmdFindDevice ||
		c >= CmdFirmwareStart && c <= CmdFirmwareEnd
}

// ParseCommand resolves a command by name (case-sensitive) or numeric code
func ParseCommand(s string) (Command, error) {
	for c, name := range commandNames {
		if name == s {
			return c, nil
		}
	}
	var code uint16
	if _, err := fmt.Sscanf(s, "0x%x", &code); err == nil && Command(code).IsKnown() {
		return Command(code), nil
	}
	return 0, newError(KindUnknownCommand, "unknown command %q", s)
}

// Frame is one complete AA55 command/report unit
type Frame struct {
	Serial   uint32
	Command  Command
	Payload  []byte
	Checksum uint16 // Set by ParseFrame and Bytes
	Raw      []byte // Original frame bytes (parsed frames only)
}

// BuildFrame assembles a frame for command with the given serial
func BuildFrame(serial uint32, command Command, payload []byte) (*Frame, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%s frame with %d bytes: %w", command, len(payload), ErrPayloadTooLarge)
	}
	if !command.IsKnown() {
		return nil, newError(KindUnknownCommand, "cannot build frame for %s", command)
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Frame{Serial: serial, Command: command, Payload: p}, nil
}

// Bytes serializes the frame, computing its checksum
func (f *Frame) Bytes() []byte {
	w := NewWriter(FrameOverhead + len(f.Payload))
	w.PutU16(FrameHeader).
		PutU32(f.Serial).
		PutU16(uint16(len(f.Payload))).
		PutU16(uint16(f.Command)).
		PutBytes(f.Payload)
	f.Checksum = CRC16(w.Bytes())
	w.PutU16(f.Checksum).PutU16(FrameTerminator)
	return w.Bytes()
}

// String returns a short description for logging
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{serial=%d, command=%s, length=%d}", f.Serial, f.Command, len(f.Payload))
}

// ParseFrame validates and decodes a complete frame. Checks run in order:
// minimum size, header, exact length, known command, terminator, checksum.
// Any failure rejects the whole frame.
func ParseFrame(b []byte) (*Frame, error) {
	if len(b) < FrameOverhead {
		return nil, newError(KindMalformedFrame, "frame too short: %d bytes (minimum %d)", len(b), FrameOverhead)
	}

	if h := binary.BigEndian.Uint16(b[0:2]); h != FrameHeader {
		return nil, newError(KindMalformedFrame, "invalid header: 0x%04x (expected 0x%04x)", h, FrameHeader)
	}

	length := int(binary.BigEndian.Uint16(b[6:8]))
	if want := FrameOverhead + length; len(b) != want {
		return nil, newError(KindMalformedFrame, "length mismatch: have %d bytes, length field implies %d", len(b), want)
	}

	command := Command(binary.BigEndian.Uint16(b[8:10]))
	if !command.IsKnown() {
		return nil, newError(KindUnknownCommand, "unrecognized command 0x%04x", uint16(command))
	}

	end := frameChecksumStart + length
	if t := binary.BigEndian.Uint16(b[end+2 : end+4]); t != FrameTerminator {
		return nil, newError(KindMalformedFrame, "invalid terminator: 0x%04x (expected 0x%04x)", t, FrameTerminator)
	}

	embedded := binary.BigEndian.Uint16(b[end : end+2])
	if computed := CRC16(b[:end]); computed != embedded {
		return nil, newError(KindChecksumMismatch, "checksum 0x%04x, computed 0x%04x", embedded, computed)
	}

	raw := make([]byte, len(b))
	copy(raw, b)
	return &Frame{
		Serial:   binary.BigEndian.Uint32(b[2:6]),
		Command:  command,
		Payload:  raw[frameChecksumStart:end],
		Checksum: embedded,
		Raw:      raw,
	}, nil
}

// PeekSerial returns the serial field of b when at least a header is present.
// Used to attribute frames that fail validation.
func PeekSerial(b []byte) (uint32, bool) {
	if len(b) < 6 || binary.BigEndian.Uint16(b[0:2]) != FrameHeader {
		return 0, false
	}
	return binary.BigEndian.Uint32(b[2:6]), true
}

// PeekCommand returns the command field of b without validating the frame
func PeekCommand(b []byte) (Command, bool) {
	if len(b) < frameChecksumStart || binary.BigEndian.Uint16(b[0:2]) != FrameHeader {
		return 0, false
	}
	return Command(binary.BigEndian.Uint16(b[8:10])), true
}
