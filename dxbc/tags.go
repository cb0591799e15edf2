package dxbc

// Tag is a four-character chunk code.
type Tag [4]byte

// TagFromString builds a Tag from a string such as "RDEF". Short strings
// are padded with spaces, matching how the format encodes three-letter tags.
func TagFromString(s string) Tag {
	var t Tag
	for i := 0; i < 4; i++ {
		if i < len(s) {
			t[i] = s[i]
		} else {
			t[i] = ' '
		}
	}
	return t
}

func (t Tag) String() string {
	return string(t[:])
}

// Chunk tags emitted by the foreign compiler.
var (
	TagRDEF = TagFromString("RDEF") // resource definitions (reflection)
	TagISGN = TagFromString("ISGN") // input signature
	TagOSGN = TagFromString("OSGN") // output signature
	TagOSG5 = TagFromString("OSG5") // output signature with streams (SM5)
	TagISG1 = TagFromString("ISG1") // input signature with min-precision
	TagOSG1 = TagFromString("OSG1") // output signature with min-precision
	TagPCSG = TagFromString("PCSG") // patch constant signature
	TagPSG1 = TagFromString("PSG1") // patch constant signature (SM5.1)
	TagSHDR = TagFromString("SHDR") // bytecode (SM4)
	TagSHEX = TagFromString("SHEX") // bytecode (SM5)
	TagSTAT = TagFromString("STAT") // statistics
	TagSDBG = TagFromString("SDBG") // debug info
	TagSPDB = TagFromString("SPDB") // PDB debug info
	TagILDN = TagFromString("ILDN") // debug name
	TagPRIV = TagFromString("PRIV") // private data
	TagRTS0 = TagFromString("RTS0") // root signature
	TagSFI0 = TagFromString("SFI0") // subtarget feature info
	TagIFCE = TagFromString("IFCE") // interface data
	TagAon9 = TagFromString("Aon9") // SM2/3 fallback bytecode
)

// IsBytecode reports whether the tag holds executable shader code.
func (t Tag) IsBytecode() bool {
	return t == TagSHDR || t == TagSHEX
}

// IsSignature reports whether the tag holds a parameter signature.
func (t Tag) IsSignature() bool {
	switch t {
	case TagISGN, TagOSGN, TagOSG5, TagISG1, TagOSG1, TagPCSG, TagPSG1:
		return true
	}
	return false
}
