package binary

import (
	"encoding/binary"

	"github.com/wippyai/dxbc-bridge/errors"
)

// Reader decodes fixed-width little-endian values from a byte slice with
// position tracking. All DXBC and PE structures are little-endian.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a new Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Position returns the current byte position.
func (r *Reader) Position() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Seek moves the read position to an absolute offset.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.data) {
		return errors.OutOfBounds(errors.PhaseParse, int64(pos), "seek past end of input (%d bytes)", len(r.data))
	}
	r.pos = pos
	return nil
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, errors.Truncated(errors.PhaseParse, int64(r.pos), "need %d bytes, have %d", n, r.Remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadU8 reads a single byte.
func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a little-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 reads a little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads a little-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadCString reads a NUL-terminated string starting at the given absolute
// offset without moving the read position. String tables in DXBC chunks and
// PE directories are reached by offset, not sequentially.
func (r *Reader) ReadCString(off int) (string, error) {
	if off < 0 || off >= len(r.data) {
		return "", errors.OutOfBounds(errors.PhaseParse, int64(off), "string offset past end of input")
	}
	end := off
	for end < len(r.data) && r.data[end] != 0 {
		end++
	}
	if end == len(r.data) {
		return "", errors.Truncated(errors.PhaseParse, int64(off), "unterminated string")
	}
	return string(r.data[off:end]), nil
}
