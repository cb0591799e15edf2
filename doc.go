// Package dxbcbridge hosts the Microsoft shader compiler library in a
// Linux process and provides an independent codec for the shader
// binaries it produces.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	dxbc-bridge/         Root package, documentation only
//	├── compiler/        High-level compile API over the foreign library
//	├── bridge/          Calling-convention translation and foreign-call serialization
//	├── loader/          PE32+ image mapping, relocation, and import binding
//	├── pe/              PE32+ binary parsing (headers, imports, exports, relocations)
//	├── winabi/          Emulated Windows runtime imports backed by host resources
//	├── dxbc/            Chunked shader container codec, disassembly, reflection
//	└── errors/          Structured error types shared across packages
//
// # Quick Start
//
// Compile a pixel shader:
//
//	c := compiler.New("d3dcompiler_47.dll", nil)
//	defer c.Close()
//
//	code, diagnostics, err := c.Compile(source, "main", "ps_5_0", compiler.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	_ = diagnostics // warning text, if any
//
// Inspect the result without the library:
//
//	container, err := dxbc.Decode(code.Bytes())
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, tag := range container.Tags() {
//		fmt.Println(tag)
//	}
//
// The compiler library loads lazily on the first Compile or Preprocess
// call. The dxbc package never touches the library and works on any
// platform; the bridge, loader, and winabi packages require linux/amd64.
package dxbcbridge
