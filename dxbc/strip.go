package dxbc

// StripFlags selects categories of chunks to remove. Values match the
// foreign compiler's strip flags.
type StripFlags uint32

const (
	StripDebugInfo      StripFlags = 1 << 0
	StripReflectionData StripFlags = 1 << 1
	StripTestBlobs      StripFlags = 1 << 2
	StripPrivateData    StripFlags = 1 << 3
	StripRootSignature  StripFlags = 1 << 4
)

func (f StripFlags) tags() []Tag {
	var tags []Tag
	if f&StripDebugInfo != 0 {
		tags = append(tags, TagSDBG, TagSPDB, TagILDN)
	}
	if f&StripReflectionData != 0 {
		tags = append(tags, TagRDEF, TagSTAT)
	}
	if f&StripPrivateData != 0 {
		tags = append(tags, TagPRIV)
	}
	if f&StripRootSignature != 0 {
		tags = append(tags, TagRTS0)
	}
	return tags
}

// Strip returns a new container holding only chunks whose tag is in keep,
// in the original order, with size and digest recomputed. Stripping is
// idempotent and never mutates the receiver.
func (c *Container) Strip(keep ...Tag) *Container {
	keepSet := make(map[Tag]bool, len(keep))
	for _, t := range keep {
		keepSet[t] = true
	}

	out := &Container{}
	for _, ch := range c.Chunks {
		if keepSet[ch.Tag] {
			out.Chunks = append(out.Chunks, Chunk{Tag: ch.Tag, Data: append([]byte(nil), ch.Data...)})
		}
	}
	return canonical(out)
}

// StripWithFlags removes the chunk categories selected by flags,
// mirroring the foreign strip entry point.
func (c *Container) StripWithFlags(flags StripFlags) *Container {
	drop := make(map[Tag]bool)
	for _, t := range flags.tags() {
		drop[t] = true
	}

	out := &Container{}
	for _, ch := range c.Chunks {
		if !drop[ch.Tag] {
			out.Chunks = append(out.Chunks, Chunk{Tag: ch.Tag, Data: append([]byte(nil), ch.Data...)})
		}
	}
	return canonical(out)
}

// canonical re-encodes and re-decodes so the declared digest matches the
// chunk sequence. Decode cannot fail on bytes Encode just produced.
func canonical(c *Container) *Container {
	out, err := Decode(c.Encode())
	if err != nil {
		panic("dxbc: canonical round-trip failed: " + err.Error())
	}
	return out
}

// PartKind identifies an extractable container part, mirroring the foreign
// blob-part entry points.
type PartKind int

const (
	PartInputSignature PartKind = iota
	PartOutputSignature
	PartPatchConstantSignature
	PartDebugInfo
	PartPrivateData
	PartRootSignature
	PartDebugName
	PartBytecode
)

func (p PartKind) tags() []Tag {
	switch p {
	case PartInputSignature:
		return []Tag{TagISG1, TagISGN}
	case PartOutputSignature:
		return []Tag{TagOSG1, TagOSG5, TagOSGN}
	case PartPatchConstantSignature:
		return []Tag{TagPSG1, TagPCSG}
	case PartDebugInfo:
		return []Tag{TagSDBG, TagSPDB}
	case PartPrivateData:
		return []Tag{TagPRIV}
	case PartRootSignature:
		return []Tag{TagRTS0}
	case PartDebugName:
		return []Tag{TagILDN}
	case PartBytecode:
		return []Tag{TagSHEX, TagSHDR}
	}
	return nil
}

// Part returns the raw payload of the first chunk matching the part kind.
func (c *Container) Part(kind PartKind) ([]byte, bool) {
	for _, tag := range kind.tags() {
		if ch, ok := c.Chunk(tag); ok {
			return append([]byte(nil), ch.Data...), true
		}
	}
	return nil, false
}

// SetPart returns a new container with the part's chunk payload replaced,
// or appended when absent. Only single-tag parts (private data, root
// signature, debug name) can be set.
func (c *Container) SetPart(kind PartKind, data []byte) (*Container, bool) {
	tags := kind.tags()
	if len(tags) != 1 {
		return nil, false
	}
	tag := tags[0]

	out := &Container{Chunks: make([]Chunk, 0, len(c.Chunks)+1)}
	replaced := false
	for _, ch := range c.Chunks {
		if ch.Tag == tag && !replaced {
			out.Chunks = append(out.Chunks, Chunk{Tag: tag, Data: append([]byte(nil), data...)})
			replaced = true
			continue
		}
		out.Chunks = append(out.Chunks, Chunk{Tag: ch.Tag, Data: append([]byte(nil), ch.Data...)})
	}
	if !replaced {
		out.Chunks = append(out.Chunks, Chunk{Tag: tag, Data: append([]byte(nil), data...)})
	}
	return canonical(out), true
}
