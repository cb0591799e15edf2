package dxbc

import (
	"fmt"
	"strings"

	"github.com/wippyai/dxbc-bridge/errors"
)

// Disassemble renders the bytecode chunk as text: the shader model header
// followed by the raw instruction words. The output is a function of the
// bytecode chunk alone, so stripping unrelated chunks never changes it.
// A full instruction decoder is out of scope; the word dump is what the
// round-trip tools need.
func Disassemble(c *Container) (string, error) {
	bc, ok, err := c.Bytecode()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.InvalidInput(errors.PhaseParse, "container has no bytecode chunk")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "//\n// %s shader, model %d.%d\n// %d instruction dwords\n//\n",
		programPrefix(bc.ProgramType), bc.VersionMajor, bc.VersionMinor, len(bc.Words))
	fmt.Fprintf(&b, "%s\n", bc.Profile())

	for i := 0; i < len(bc.Words); i += 4 {
		fmt.Fprintf(&b, "0x%04x:", i*4)
		for j := i; j < i+4 && j < len(bc.Words); j++ {
			fmt.Fprintf(&b, " 0x%08x", bc.Words[j])
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// Describe renders a container summary: chunk directory with tags and
// sizes, digest status, and the shader profile when bytecode is present.
// Unlike Disassemble this depends on every chunk, so it is a separate
// projection.
func Describe(c *Container) string {
	var b strings.Builder
	fmt.Fprintf(&b, "container: %d chunks, digest %x", len(c.Chunks), c.Digest)
	if c.VerifyDigest() {
		b.WriteString(" (valid)\n")
	} else {
		b.WriteString(" (MISMATCH)\n")
	}
	for i, ch := range c.Chunks {
		fmt.Fprintf(&b, "  [%d] %s  %d bytes\n", i, ch.Tag, len(ch.Data))
	}
	if bc, ok, err := c.Bytecode(); err == nil && ok {
		fmt.Fprintf(&b, "profile: %s\n", bc.Profile())
	}
	return b.String()
}
