// Package dxbc decodes, inspects, and re-serializes the chunked shader
// container format produced by the foreign compiler.
//
// The codec is independent of the execution bridge: inspection and
// transformation tools built on this package work without the foreign
// library being present at all.
//
//	c, err := dxbc.Decode(raw)
//	if err != nil { ... }
//
//	if sig, ok, err := c.InputSignature(); ok && err == nil {
//	    for _, p := range sig.Parameters { ... }
//	}
//
//	stripped := c.Strip(dxbc.TagSHEX, dxbc.TagISGN, dxbc.TagOSGN)
//	out := stripped.Encode()
//
// Typed accessors return a comma-ok second result: an absent optional
// chunk (the normal state for stripped containers) is not an error.
//
// Encode recomputes the total size and digest from the chunk sequence, so
// Decode(Encode(c)) preserves every field and Encode is deterministic.
package dxbc
