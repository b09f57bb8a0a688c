package firmware

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/muurk/minilink/internal/protocol"
)

// Payload sizes
const (
	StartPayloadSize = 40 // version(4) + total(4) + md5 hex(32)
	chunkHeaderSize  = 6  // index(4) + length(2)
	endStatusCommit  = 0x00
)

// session is the state of one upgrade attempt. It is owned by the
// goroutine running the upgrade and discarded when the attempt ends.
type session struct {
	version    [4]byte
	image      []byte
	totalBytes uint32
	md5        string
	chunkSize  int
	chunks     int
}

func newSession(version [4]byte, image []byte, chunkSize int) *session {
	sum := md5.Sum(image)
	return &session{
		version:    version,
		image:      image,
		totalBytes: uint32(len(image)),
		md5:        hex.EncodeToString(sum[:]),
		chunkSize:  chunkSize,
		chunks:     ChunkCount(len(image), chunkSize),
	}
}

func (s *session) startPayload() []byte {
	return protocol.NewWriter(StartPayloadSize).
		PutBytes(s.version[:]).
		PutU32(s.totalBytes).
		PutBytes([]byte(s.md5)).
		Bytes()
}

func (s *session) chunk(index int) []byte {
	start := index * s.chunkSize
	end := min(start+s.chunkSize, len(s.image))
	return s.image[start:end]
}

func (s *session) chunkPayload(index int) []byte {
	data := s.chunk(index)
	return protocol.NewWriter(chunkHeaderSize + len(data)).
		PutU32(uint32(index)).
		PutU16(uint16(len(data))).
		PutBytes(data).
		Bytes()
}

func endPayload() []byte {
	return []byte{endStatusCommit}
}

// progress maps completed chunks onto 10..99; 100 is reserved for a
// committed image
func (s *session) progress(done int) int {
	p := 10 + 90*done/s.chunks
	if p > 99 {
		p = 99
	}
	return p
}

// ChunkCount returns how many chunks an image of size bytes splits into
func ChunkCount(size, chunkSize int) int {
	if chunkSize <= 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// ParseVersion parses a dotted four-part version such as "1.2.3.4"
func ParseVersion(s string) ([4]byte, error) {
	var v [4]byte
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) != 4 {
		return v, fmt.Errorf("%w: %q (want a.b.c.d)", ErrInvalidVersion, s)
	}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return v, fmt.Errorf("%w: %q part %d: %v", ErrInvalidVersion, s, i+1, err)
		}
		v[i] = byte(n)
	}
	return v, nil
}

// ParseStartPayload decodes a start payload, for the device side
func ParseStartPayload(b []byte) (version [4]byte, total uint32, md5hex string, err error) {
	if len(b) != StartPayloadSize {
		return version, 0, "", fmt.Errorf("start payload is %d bytes, want %d", len(b), StartPayloadSize)
	}
	r := protocol.NewReader(b)
	copy(version[:], r.Bytes(4))
	total = r.U32()
	md5hex = string(r.Bytes(32))
	return version, total, md5hex, r.Err()
}

// ParseChunkPayload decodes a chunk payload, for the device side
func ParseChunkPayload(b []byte) (index uint32, data []byte, err error) {
	if len(b) < chunkHeaderSize {
		return 0, nil, fmt.Errorf("chunk payload is %d bytes, want at least %d", len(b), chunkHeaderSize)
	}
	r := protocol.NewReader(b)
	index = r.U32()
	length := int(r.U16())
	if r.Remaining() != length {
		return 0, nil, fmt.Errorf("chunk %d declares %d bytes, carries %d", index, length, r.Remaining())
	}
	return index, r.Bytes(length), r.Err()
}
