package dxbc

import (
	"bytes"

	"github.com/wippyai/dxbc-bridge/errors"
	"github.com/wippyai/dxbc-bridge/internal/binary"
)

// Magic is the container signature.
const Magic = "DXBC"

// headerSize is magic + digest + version + total size + chunk count.
const headerSize = 4 + 16 + 4 + 4 + 4

// containerVersion is the only version the foreign compiler emits.
const containerVersion = 1

// Chunk is one tagged record in a container.
type Chunk struct {
	Tag  Tag
	Data []byte
}

// Container is the decoded form of a chunked shader binary: an ordered
// chunk sequence plus the digest declared by the producer. The digest is
// recomputed on Encode; Digest holds whatever the input declared so
// callers can verify it against VerifyDigest.
type Container struct {
	Chunks []Chunk
	Digest [16]byte
}

// Decode parses container bytes. It fails with a bad_magic error if the
// signature does not match and a truncated error if declared sizes exceed
// the input.
func Decode(data []byte) (*Container, error) {
	if len(data) < 4 || string(data[:4]) != Magic {
		got := data
		if len(got) > 4 {
			got = got[:4]
		}
		return nil, errors.BadMagic(errors.PhaseParse, string(got), Magic)
	}
	if len(data) < headerSize {
		return nil, errors.Truncated(errors.PhaseParse, int64(len(data)), "header needs %d bytes", headerSize)
	}

	r := binary.NewReader(data)
	if err := r.Seek(4); err != nil {
		return nil, err
	}

	c := &Container{}
	digest, err := r.ReadBytes(16)
	if err != nil {
		return nil, err
	}
	copy(c.Digest[:], digest)

	version, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if version != containerVersion {
		return nil, errors.ImageFormat("unsupported container version %d", version)
	}

	totalSize, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(totalSize) > len(data) {
		return nil, errors.Truncated(errors.PhaseParse, int64(len(data)),
			"header declares %d bytes, input has %d", totalSize, len(data))
	}

	chunkCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if headerSize+int(chunkCount)*4 > int(totalSize) {
		return nil, errors.Truncated(errors.PhaseParse, int64(r.Position()),
			"directory of %d chunks does not fit in %d bytes", chunkCount, totalSize)
	}

	offsets := make([]uint32, chunkCount)
	for i := range offsets {
		offsets[i], err = r.ReadU32()
		if err != nil {
			return nil, err
		}
	}

	c.Chunks = make([]Chunk, 0, chunkCount)
	for i, off := range offsets {
		if err := r.Seek(int(off)); err != nil {
			return nil, errors.Truncated(errors.PhaseParse, int64(off), "chunk %d offset past end of input", i)
		}
		tagBytes, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if int(off)+8+int(size) > int(totalSize) {
			return nil, errors.Truncated(errors.PhaseParse, int64(r.Position()),
				"chunk %d declares %d bytes past container end", i, size)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}
		var tag Tag
		copy(tag[:], tagBytes)
		c.Chunks = append(c.Chunks, Chunk{Tag: tag, Data: append([]byte(nil), payload...)})
	}

	return c, nil
}

// Encode serializes the container: header, chunk offset directory, then
// chunks aligned to 4 bytes. The total size and digest are recomputed from
// the chunk sequence, so encoding is deterministic.
func (c *Container) Encode() []byte {
	w := binary.NewWriter()
	w.WriteBytes([]byte(Magic))
	w.WriteBytes(make([]byte, 16)) // digest, patched below
	w.WriteU32(containerVersion)
	w.WriteU32(0) // total size, patched below
	w.WriteU32(uint32(len(c.Chunks)))

	dirOff := w.Len()
	for range c.Chunks {
		w.WriteU32(0)
	}

	for i, ch := range c.Chunks {
		for w.Len()%4 != 0 {
			w.WriteU8(0)
		}
		w.Patch(dirOff+i*4, uint32(w.Len()))
		w.WriteBytes(ch.Tag[:])
		w.WriteU32(uint32(len(ch.Data)))
		w.WriteBytes(ch.Data)
	}

	out := w.Bytes()
	w.Patch(4+16+4, uint32(len(out)))

	sum := Checksum(out[4+16:])
	copy(out[4:4+16], sum[:])
	return out
}

// VerifyDigest recomputes the digest from the chunk sequence and compares
// it against the digest the input declared.
func (c *Container) VerifyDigest() bool {
	enc := c.Encode()
	return bytes.Equal(enc[4:4+16], c.Digest[:])
}

// Chunk returns the first chunk with the given tag.
func (c *Container) Chunk(tag Tag) (Chunk, bool) {
	for _, ch := range c.Chunks {
		if ch.Tag == tag {
			return ch, true
		}
	}
	return Chunk{}, false
}

// HasChunk reports whether a chunk with the given tag is present.
func (c *Container) HasChunk(tag Tag) bool {
	_, ok := c.Chunk(tag)
	return ok
}

// Tags returns the chunk tags in container order.
func (c *Container) Tags() []Tag {
	tags := make([]Tag, len(c.Chunks))
	for i, ch := range c.Chunks {
		tags[i] = ch.Tag
	}
	return tags
}
