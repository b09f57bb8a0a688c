package protocol

import (
	"bufio"
	"encoding/binary"
)

// SplitPackets is a bufio.SplitFunc that cuts a byte stream into whole
// sub-packets or raw frames. Bytes preceding a FAF5/AA55 marker are
// skipped.
//
// A marker is trusted only once the unit behind it checks out: a frame must
// carry a known command, its terminator and a matching CRC, and a sub-packet
// must have a valid status and be followed by another marker or the end of
// data. Otherwise the splitter resynchronizes one byte past the marker, so
// marker bytes in line noise cannot swallow the units that follow.
func SplitPackets(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := findMarker(data)
	if start < 0 {
		// Keep a trailing byte that may be the first half of a marker.
		if atEOF {
			return len(data), nil, nil
		}
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	unit := data[start:]
	var total int
	switch binary.BigEndian.Uint16(unit[0:2]) {
	case SubPacketHeader:
		if len(unit) > 2 && PacketStatus(unit[2]) > PacketEnd {
			return start + 1, nil, nil
		}
		if len(unit) < SubPacketOverhead {
			break
		}
		total = SubPacketOverhead + int(binary.BigEndian.Uint16(unit[7:9]))
		if len(unit) >= total && !followedByMarker(unit[total:]) {
			return start + 1, nil, nil
		}
	case FrameHeader:
		if len(unit) >= frameChecksumStart && !Command(binary.BigEndian.Uint16(unit[8:10])).IsKnown() {
			return start + 1, nil, nil
		}
		if len(unit) < 8 {
			break
		}
		total = FrameOverhead + int(binary.BigEndian.Uint16(unit[6:8]))
		if len(unit) >= total {
			if _, err := ParseFrame(unit[:total]); err != nil {
				return start + 1, nil, nil
			}
		}
	}

	if total == 0 || len(unit) < total {
		if atEOF {
			// Nothing more is coming; look for a real unit inside the claimed span.
			return start + 1, nil, nil
		}
		if start > 0 {
			return start, nil, nil
		}
		return 0, nil, nil
	}
	return start + total, unit[:total], nil
}

var _ bufio.SplitFunc = SplitPackets

func findMarker(data []byte) int {
	for i := 0; i+1 < len(data); i++ {
		m := uint16(data[i])<<8 | uint16(data[i+1])
		if m == SubPacketHeader || m == FrameHeader {
			return i
		}
	}
	return -1
}

// followedByMarker reports whether rest is empty or begins with (the first
// byte of) a FAF5/AA55 marker.
func followedByMarker(rest []byte) bool {
	switch len(rest) {
	case 0:
		return true
	case 1:
		return rest[0] == byte(SubPacketHeader>>8) || rest[0] == byte(FrameHeader>>8)
	}
	m := binary.BigEndian.Uint16(rest[0:2])
	return m == SubPacketHeader || m == FrameHeader
}
