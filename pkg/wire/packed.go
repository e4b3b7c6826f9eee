// Package wire implements the byte encodings of the watcher protocol: packed lengths, typed
// value frames, children frames, v1 string records and the request/reply packet header.
// All multi-byte integers are little-endian.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/morezero/process-watchers/pkg/watcher"
)

// MaxPackedLength is the largest length a packed length can carry.
const MaxPackedLength = 1<<24 - 1

const packedEscape = 0xFF

func decodeErr(format string, args ...any) *watcher.Error {
	return watcher.NewError(watcher.CodeDecodeError, fmt.Sprintf(format, args...))
}

// PackedLengthSize returns the number of bytes AppendPackedLength writes for n.
func PackedLengthSize(n int) int {
	if n < packedEscape {
		return 1
	}
	return 4
}

// AppendPackedLength appends n as one byte for 0..254, otherwise as 0xFF followed by a
// 3-byte length.
func AppendPackedLength(dst []byte, n int) ([]byte, error) {
	switch {
	case n < 0 || n > MaxPackedLength:
		return dst, decodeErr("length %d out of range", n)
	case n < packedEscape:
		return append(dst, byte(n)), nil
	default:
		return append(dst, packedEscape, byte(n), byte(n>>8), byte(n>>16)), nil
	}
}

// Reader consumes a byte slice front to back. Every short read is a DecodeError.
type Reader struct {
	b   []byte
	off int
}

// NewReader creates a reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.b) - r.off }

// Byte reads one byte.
func (r *Reader) Byte() (byte, error) {
	if r.Len() < 1 {
		return 0, decodeErr("truncated frame at offset %d", r.off)
	}
	c := r.b[r.off]
	r.off++
	return c, nil
}

// Bytes reads exactly n bytes. The result aliases the underlying slice.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, decodeErr("need %d bytes at offset %d, have %d", n, r.off, r.Len())
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, nil
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// PackedLength reads a packed length.
func (r *Reader) PackedLength() (int, error) {
	c, err := r.Byte()
	if err != nil {
		return 0, err
	}
	if c != packedEscape {
		return int(c), nil
	}
	b, err := r.Bytes(3)
	if err != nil {
		return 0, err
	}
	return int(b[0]) | int(b[1])<<8 | int(b[2])<<16, nil
}

// String reads a packed-length prefixed string.
func (r *Reader) String() (string, error) {
	n, err := r.PackedLength()
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CString reads up to and including the next NUL byte and returns the bytes before it.
func (r *Reader) CString() (string, error) {
	for i := r.off; i < len(r.b); i++ {
		if r.b[i] == 0 {
			s := string(r.b[r.off:i])
			r.off = i + 1
			return s, nil
		}
	}
	return "", decodeErr("unterminated string at offset %d", r.off)
}

// AppendString appends s with a packed length prefix.
func AppendString(dst []byte, s string) ([]byte, error) {
	dst, err := AppendPackedLength(dst, len(s))
	if err != nil {
		return dst, err
	}
	return append(dst, s...), nil
}

// AppendCString appends s followed by a NUL byte.
func AppendCString(dst []byte, s string) []byte {
	return append(append(dst, s...), 0)
}
