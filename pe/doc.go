// Package pe decodes 64-bit PE images: headers, section table, import
// and export directories, and base relocations. It is a pure parser over
// the file bytes; mapping, patching, and protection changes live in the
// loader package.
package pe
