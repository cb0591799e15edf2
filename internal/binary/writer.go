package binary

import (
	"bytes"
	"encoding/binary"
)

// Writer provides buffered writing utilities for little-endian encoding.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{buf: &bytes.Buffer{}}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteU8 writes a single byte.
func (w *Writer) WriteU8(b uint8) {
	w.buf.WriteByte(b)
}

// WriteU16 writes a little-endian uint16.
func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// WriteU32 writes a little-endian uint32.
func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// WriteU64 writes a little-endian uint64.
func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// Patch overwrites 4 bytes at an absolute offset with a little-endian
// uint32. Used to back-fill sizes known only after the payload is written.
func (w *Writer) Patch(off int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf.Bytes()[off:off+4], v)
}
