package protocol

import (
	"bufio"
	"bytes"
	"testing"
)

func TestSplitPackets(t *testing.T) {
	frame, _ := BuildFrame(3, CmdQueryStatus, nil)
	frameBytes := frame.Bytes()

	sp1 := SubPacket{Status: PacketStart, PacketID: 1, Data: []byte{1, 2, 3}}.Bytes()
	sp2 := SubPacket{Status: PacketEnd, PacketID: 2, Data: []byte{4}}.Bytes()

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x13, 0x37}) // line noise
	stream.Write(sp1)
	stream.Write(frameBytes)
	stream.Write([]byte{0xFA}) // noise that looks like half a marker
	stream.Write(sp2)
	stream.Write(sp1[:5]) // truncated trailer

	scanner := bufio.NewScanner(&stream)
	scanner.Split(SplitPackets)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error = %v", err)
	}

	want := [][]byte{sp1, frameBytes, sp2}
	if len(got) != len(want) {
		t.Fatalf("got %d units, want %d: % x", len(got), len(want), got)
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("unit %d = % x, want % x", i, got[i], want[i])
		}
	}
}

func TestSplitPacketsIncremental(t *testing.T) {
	sp := SubPacket{Status: PacketNone, PacketID: 9, Data: []byte("hello")}.Bytes()

	for cut := 1; cut < len(sp); cut++ {
		advance, token, err := SplitPackets(sp[:cut], false)
		if err != nil {
			t.Fatalf("cut %d: error = %v", cut, err)
		}
		if token != nil {
			t.Fatalf("cut %d: emitted token from partial input", cut)
		}
		if advance != 0 {
			t.Fatalf("cut %d: advanced %d over a partial unit", cut, advance)
		}
	}

	advance, token, err := SplitPackets(sp, false)
	if err != nil || advance != len(sp) || !bytes.Equal(token, sp) {
		t.Errorf("full input: advance=%d token=% x err=%v", advance, token, err)
	}
}

func TestSplitPacketsResync(t *testing.T) {
	var valid [][]byte
	for i := 0; i < 5; i++ {
		sp := SubPacket{Status: PacketNone, PacketID: uint32(i + 1), Data: []byte{0x10, byte(i)}}
		valid = append(valid, sp.Bytes())
	}

	frame, _ := BuildFrame(7, CmdQueryStatus, nil)
	badCRC := frame.Bytes()
	badCRC[len(badCRC)-3] ^= 0xff
	badTerminator := frame.Bytes()
	badTerminator[len(badTerminator)-1] = 0x00

	tests := []struct {
		name  string
		noise []byte
	}{
		{
			name:  "frame marker with large length",
			noise: []byte{0xAA, 0x55, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00},
		},
		{
			name:  "sub-packet marker with bad status",
			noise: []byte{0xFA, 0xF5, 0x09, 0x00, 0x00, 0x00, 0x01, 0x00, 0x40},
		},
		{
			name:  "sub-packet marker not followed by a marker",
			noise: []byte{0xFA, 0xF5, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02},
		},
		{
			name:  "frame with corrupted crc",
			noise: badCRC,
		},
		{
			name:  "frame with corrupted terminator",
			noise: badTerminator,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stream bytes.Buffer
			stream.Write(tt.noise)
			for _, sp := range valid {
				stream.Write(sp)
			}

			scanner := bufio.NewScanner(&stream)
			scanner.Buffer(make([]byte, 0, 4096), MaxAssembledSize)
			scanner.Split(SplitPackets)

			var got [][]byte
			for scanner.Scan() {
				got = append(got, append([]byte(nil), scanner.Bytes()...))
			}
			if err := scanner.Err(); err != nil {
				t.Fatalf("scanner error = %v", err)
			}
			if len(got) != len(valid) {
				t.Fatalf("recovered %d units, want %d: % x", len(got), len(valid), got)
			}
			for i := range valid {
				if !bytes.Equal(got[i], valid[i]) {
					t.Errorf("unit %d = % x, want % x", i, got[i], valid[i])
				}
			}
		})
	}
}

func TestSplitPacketsRejectsEarly(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "bad sub-packet status", data: []byte{0xFA, 0xF5, 0x04}},
		{name: "unknown frame command", data: []byte{0xAA, 0x55, 0, 0, 0, 1, 0x10, 0x00, 0xFA, 0xF5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advance, token, err := SplitPackets(tt.data, false)
			if err != nil || token != nil {
				t.Fatalf("SplitPackets() token=% x err=%v, want neither", token, err)
			}
			if advance != 1 {
				t.Errorf("advance = %d, want 1", advance)
			}
		})
	}
}
