// Package errors provides structured error types for the dxbc-bridge library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes rich context: byte offset, the
// unresolved (module, symbol) pair, the foreign HRESULT, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseParse, errors.KindTruncated).
//		Offset(0x40).
//		Detail("chunk 2 extends past end of input").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnresolvedImport("kernel32.dll", "HeapAlloc")
//	err := errors.Truncated(errors.PhaseParse, off, "need %d bytes", n)
//
// All errors implement the standard error interface and support errors.Is/As.
// The exported Err* sentinels match on Kind alone:
//
//	if errors.Is(err, errors.ErrTruncated) { ... }
package errors
