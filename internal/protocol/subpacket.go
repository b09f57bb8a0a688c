package protocol

import (
	"encoding/binary"
	"fmt"
)

// Sub-packet layout constants
const (
	SubPacketHeader = 0xFAF5
	// SubPacketOverhead is header(2) + status(1) + packetId(4) + length(2)
	SubPacketOverhead = 9
)

// PacketStatus tags a sub-packet's position within a fragmented frame
type PacketStatus uint8

const (
	PacketNone   PacketStatus = 0x00 // Whole frame in a single sub-packet
	PacketStart  PacketStatus = 0x01
	PacketMiddle PacketStatus = 0x02
	PacketEnd    PacketStatus = 0x03
)

func (s PacketStatus) String() string {
	switch s {
	case PacketNone:
		return "none"
	case PacketStart:
		return "start"
	case PacketMiddle:
		return "middle"
	case PacketEnd:
		return "end"
	default:
		return fmt.Sprintf("PacketStatus(0x%02x)", uint8(s))
	}
}

// SubPacket is one transport-sized fragment
type SubPacket struct {
	Status   PacketStatus
	PacketID uint32
	Data     []byte
}

// Bytes serializes the sub-packet
func (sp SubPacket) Bytes() []byte {
	return NewWriter(SubPacketOverhead+len(sp.Data)).
		PutU16(SubPacketHeader).
		PutU8(uint8(sp.Status)).
		PutU32(sp.PacketID).
		PutU16(uint16(len(sp.Data))).
		PutBytes(sp.Data).
		Bytes()
}

func (sp SubPacket) String() string {
	return fmt.Sprintf("SubPacket{status=%s, id=%d, length=%d}", sp.Status, sp.PacketID, len(sp.Data))
}

// Fragment splits b into sub-packets no larger than mtu bytes each.
// Input that fits in one chunk of mtu-9 bytes yields a single sub-packet
// with status none; otherwise the first is tagged start, the last end and
// the rest middle. Packet ids count up from baseID.
func Fragment(b []byte, mtu int, baseID uint32) ([]SubPacket, error) {
	chunkSize := mtu - SubPacketOverhead
	if chunkSize <= 0 {
		return nil, fmt.Errorf("mtu %d: %w", mtu, ErrInvalidMTU)
	}

	if len(b) <= chunkSize {
		return []SubPacket{{Status: PacketNone, PacketID: baseID, Data: b}}, nil
	}

	count := (len(b) + chunkSize - 1) / chunkSize
	packets := make([]SubPacket, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(b))

		status := PacketMiddle
		switch i {
		case 0:
			status = PacketStart
		case count - 1:
			status = PacketEnd
		}

		packets = append(packets, SubPacket{
			Status:   status,
			PacketID: baseID + uint32(i),
			Data:     b[start:end],
		})
	}
	return packets, nil
}

// ParseSubPacket decodes one sub-packet. The length field must match the
// remaining bytes exactly.
func ParseSubPacket(b []byte) (SubPacket, error) {
	if len(b) < SubPacketOverhead {
		return SubPacket{}, newError(KindMalformedFrame, "sub-packet too short: %d bytes", len(b))
	}
	if h := binary.BigEndian.Uint16(b[0:2]); h != SubPacketHeader {
		return SubPacket{}, newError(KindMalformedFrame, "invalid sub-packet header: 0x%04x", h)
	}
	status := PacketStatus(b[2])
	if status > PacketEnd {
		return SubPacket{}, newError(KindMalformedFrame, "invalid sub-packet status: 0x%02x", b[2])
	}
	length := int(binary.BigEndian.Uint16(b[7:9]))
	if len(b) != SubPacketOverhead+length {
		return SubPacket{}, newError(KindMalformedFrame, "sub-packet length mismatch: field %d, have %d", length, len(b)-SubPacketOverhead)
	}

	data := make([]byte, length)
	copy(data, b[SubPacketOverhead:])
	return SubPacket{
		Status:   status,
		PacketID: binary.BigEndian.Uint32(b[3:7]),
		Data:     data,
	}, nil
}

// IsSubPacket reports whether b starts with the sub-packet header
func IsSubPacket(b []byte) bool {
	return len(b) >= 2 && binary.BigEndian.Uint16(b[0:2]) == SubPacketHeader
}

// IsFrame reports whether b starts with the frame header
func IsFrame(b []byte) bool {
	return len(b) >= 2 && binary.BigEndian.Uint16(b[0:2]) == FrameHeader
}
