package dxbc

import (
	"fmt"
	"strings"
)

// Reflect renders the reflection metadata as text: creator, constant
// buffers with variable layouts, resource bindings, signatures, and
// statistics. Sections whose chunks are absent are omitted. The input
// container is never mutated.
func Reflect(c *Container) (string, error) {
	var b strings.Builder

	info, ok, err := c.Reflection()
	if err != nil {
		return "", err
	}
	if ok {
		fmt.Fprintf(&b, "// %s\n", info.Creator)
		fmt.Fprintf(&b, "// shader model %d.%d\n\n", info.VersionMajor, info.VersionMinor)

		for _, cb := range info.ConstantBuffers {
			fmt.Fprintf(&b, "cbuffer %s  // %d bytes\n", cb.Name, cb.Size)
			for _, v := range cb.Variables {
				fmt.Fprintf(&b, "  %-24s // offset %4d, size %4d", v.Name, v.StartOffset, v.Size)
				if v.Rows > 0 || v.Columns > 0 {
					fmt.Fprintf(&b, ", %dx%d", v.Rows, v.Columns)
				}
				b.WriteByte('\n')
			}
		}
		if len(info.Bindings) > 0 {
			b.WriteString("\n// Resource bindings:\n")
			for _, bind := range info.Bindings {
				fmt.Fprintf(&b, "// %-8s %-24s slot %d count %d\n",
					bindTypeName(bind.Type), bind.Name, bind.BindPoint, bind.BindCount)
			}
		}
	}

	writeSignature := func(title string, sig *SignatureInfo) {
		fmt.Fprintf(&b, "\n// %s:\n// %-16s %-6s %-10s %-6s %s\n", title, "Name", "Index", "SysValue", "Format", "Register")
		for _, p := range sig.Parameters {
			fmt.Fprintf(&b, "// %-16s %-6d %-10s %-6s %d\n",
				p.SemanticName, p.SemanticIndex, systemValueName(p.SystemValue),
				componentTypeName(p.ComponentType), p.Register)
		}
	}

	if sig, ok, err := c.InputSignature(); err == nil && ok {
		writeSignature("Input signature", sig)
	}
	if sig, ok, err := c.OutputSignature(); err == nil && ok {
		writeSignature("Output signature", sig)
	}
	if sig, ok, err := c.PatchConstantSignature(); err == nil && ok {
		writeSignature("Patch constant signature", sig)
	}

	if stat, ok, err := c.Statistics(); err == nil && ok {
		fmt.Fprintf(&b, "\n// %d instructions, %d temp registers, %d texture loads\n",
			stat.InstructionCount, stat.TempRegisterCount, stat.TextureLoadCount)
	}

	if b.Len() == 0 {
		return "// no reflection data present\n", nil
	}
	return b.String(), nil
}
