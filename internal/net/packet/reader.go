package packet

import (
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrShortBuffer is reported by Reader.Err when a read ran past the payload.
var ErrShortBuffer = errors.New("packet: payload too short")

// ErrInvalidString is reported when a string field is not valid UTF-8.
var ErrInvalidString = errors.New("packet: invalid utf-8 string")

// Reader reads payload fields. All multi-byte values are big-endian, the
// DataView default on the browser side.
//
// Reads past the end return zero values and latch ErrShortBuffer; decoders
// check Err once at the end instead of after every field.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.fail(ErrShortBuffer)
		r.off = len(r.data)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// ReadC reads 1 unsigned byte.
func (r *Reader) ReadC() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadBool reads 1 byte; any non-zero value is true.
func (r *Reader) ReadBool() bool {
	return r.ReadC() != 0
}

// ReadH reads 2 bytes as uint16.
func (r *Reader) ReadH() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// ReadD reads 4 bytes as int32.
func (r *Reader) ReadD() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

// ReadQ reads 8 bytes as int64.
func (r *Reader) ReadQ() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// ReadF reads an IEEE 754 float64.
func (r *Reader) ReadF() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// ReadS reads a uint16 length-prefixed UTF-8 string and returns it in NFC so
// equal text from different clients compares equal.
func (r *Reader) ReadS() string {
	n := int(r.ReadH())
	raw := r.take(n)
	if raw == nil {
		return ""
	}
	if !utf8.Valid(raw) {
		r.fail(ErrInvalidString)
		return ""
	}
	return norm.NFC.String(string(raw))
}

// ReadBytes reads n raw bytes.
func (r *Reader) ReadBytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Err returns the first error encountered while reading.
func (r *Reader) Err() error {
	return r.err
}
