package protocol

import (
	"encoding/binary"
	"errors"
	"strings"
)

// ErrShortBuffer is recorded by a Reader that runs past the end of its input
var ErrShortBuffer = errors.New("read past end of buffer")

// PhoneBCDLength is the size of a packed phone number block
const PhoneBCDLength = 6

// Writer appends fixed-width big-endian values to a growing buffer
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with room for capacity bytes
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// PutU8 appends one byte
func (w *Writer) PutU8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// PutU16 appends a big-endian uint16
func (w *Writer) PutU16(v uint16) *Writer {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
	return w
}

// PutU32 appends a big-endian uint32
func (w *Writer) PutU32(v uint32) *Writer {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
	return w
}

// PutU64 appends a big-endian uint64
func (w *Writer) PutU64(v uint64) *Writer {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
	return w
}

// PutI16 appends a two's-complement big-endian int16
func (w *Writer) PutI16(v int16) *Writer {
	return w.PutU16(uint16(v))
}

// PutI32 appends a two's-complement big-endian int32
func (w *Writer) PutI32(v int32) *Writer {
	return w.PutU32(uint32(v))
}

// PutBytes appends b unchanged
func (w *Writer) PutBytes(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// Len returns the number of bytes written so far
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the written bytes
func (w *Writer) Bytes() []byte { return w.buf }

// Reader decodes fixed-width big-endian values from a byte slice.
//
// A read past the end returns zero and records ErrShortBuffer; all later
// reads also return zero. Check Err once after a sequence of reads.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader positioned at the start of b
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// U8 reads one byte
func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// U16 reads a big-endian uint16
func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// U32 reads a big-endian uint32
func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// U64 reads a big-endian uint64
func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// I16 reads a two's-complement big-endian int16
func (r *Reader) I16() int16 { return int16(r.U16()) }

// I32 reads a two's-complement big-endian int32
func (r *Reader) I32() int32 { return int32(r.U32()) }

// Bytes returns a copy of the next n bytes
func (r *Reader) Bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Skip advances the cursor by n bytes
func (r *Reader) Skip(n int) { r.take(n) }

// Offset returns the current cursor position
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Err returns ErrShortBuffer if any read overran the input
func (r *Reader) Err() error { return r.err }

// EncodePhoneBCD packs a phone number into a 6-byte BCD block, two digits
// per byte with the high nibble first. Non-digit characters are stripped and
// an 11-digit number gets one leading zero. Any other digit count yields an
// all-zero block together with an encoding failure.
func EncodePhoneBCD(phone string) ([PhoneBCDLength]byte, error) {
	var out [PhoneBCDLength]byte

	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 11 {
		d = "0" + d
	}
	if len(d) != 2*PhoneBCDLength {
		return [PhoneBCDLength]byte{}, newError(KindEncodingFailure,
			"phone number %q has %d digits, need 11 or 12", phone, len(digits.String()))
	}

	for i := 0; i < PhoneBCDLength; i++ {
		out[i] = (d[2*i]-'0')<<4 | (d[2*i+1] - '0')
	}
	return out, nil
}

// DecodePhoneBCD unpacks a BCD block into its decimal digits. Nibbles above
// 9 are rejected.
func DecodePhoneBCD(b []byte) (string, error) {
	var sb strings.Builder
	for _, v := range b {
		hi, lo := v>>4, v&0x0F
		if hi > 9 || lo > 9 {
			return "", newError(KindEncodingFailure, "invalid BCD byte 0x%02x", v)
		}
		sb.WriteByte('0' + hi)
		sb.WriteByte('0' + lo)
	}
	return sb.String(), nil
}
