package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseParse   Phase = "parse"   // container or image decoding
	PhaseEncode  Phase = "encode"  // container serialization
	PhaseLoad    Phase = "load"    // image mapping and relocation
	PhaseResolve Phase = "resolve" // import binding
	PhaseInvoke  Phase = "invoke"  // foreign call marshalling
	PhaseCompile Phase = "compile" // compiler facade
	PhaseRuntime Phase = "runtime" // emulated runtime services
)

// Kind categorizes the error
type Kind string

const (
	KindBadMagic         Kind = "bad_magic"
	KindTruncated        Kind = "truncated"
	KindImageFormat      Kind = "image_format"
	KindUnresolvedImport Kind = "unresolved_import"
	KindRelocation       Kind = "relocation"
	KindForeignCall      Kind = "foreign_call"
	KindCompileFailed    Kind = "compile_failed"
	KindBridgeClosed     Kind = "bridge_closed"
	KindLibraryNotFound  Kind = "library_not_found"
	KindInvalidInput     Kind = "invalid_input"
	KindOutOfBounds      Kind = "out_of_bounds"
)

// Error is the structured error type used throughout the bridge.
//
// Offset is the byte offset within the input where the problem was
// detected, or -1 when unknown. Module/Symbol name the unresolved
// import pair for KindUnresolvedImport. HResult carries the foreign
// status code for KindForeignCall and KindCompileFailed.
type Error struct {
	Cause       error
	Phase       Phase
	Kind        Kind
	Detail      string
	Module      string
	Symbol      string
	Diagnostics string
	Offset      int64
	HResult     int32
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Module != "" || e.Symbol != "" {
		b.WriteString(": ")
		b.WriteString(e.Module)
		b.WriteByte('!')
		b.WriteString(e.Symbol)
	}

	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at offset 0x%x", e.Offset)
	}

	if e.HResult != 0 {
		fmt.Fprintf(&b, " (hresult 0x%08x)", uint32(e.HResult))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Diagnostics != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(e.Diagnostics, "\n"))
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target with an empty
// Phase matches on Kind alone, so callers can test against the exported
// Err* sentinels without caring where the error was produced.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Sentinel targets for errors.Is. These match on Kind regardless of Phase.
var (
	ErrBadMagic         = &Error{Kind: KindBadMagic, Offset: -1}
	ErrTruncated        = &Error{Kind: KindTruncated, Offset: -1}
	ErrImageFormat      = &Error{Kind: KindImageFormat, Offset: -1}
	ErrUnresolvedImport = &Error{Kind: KindUnresolvedImport, Offset: -1}
	ErrRelocation       = &Error{Kind: KindRelocation, Offset: -1}
	ErrForeignCall      = &Error{Kind: KindForeignCall, Offset: -1}
	ErrCompileFailed    = &Error{Kind: KindCompileFailed, Offset: -1}
	ErrBridgeClosed     = &Error{Kind: KindBridgeClosed, Offset: -1}
	ErrLibraryNotFound  = &Error{Kind: KindLibraryNotFound, Offset: -1}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput, Offset: -1}
	ErrOutOfBounds      = &Error{Kind: KindOutOfBounds, Offset: -1}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase:  phase,
			Kind:   kind,
			Offset: -1,
		},
	}
}

// Offset sets the byte offset where the problem was detected
func (b *Builder) Offset(off int64) *Builder {
	b.err.Offset = off
	return b
}

// Import sets the (module, symbol) pair that failed to resolve
func (b *Builder) Import(module, symbol string) *Builder {
	b.err.Module = module
	b.err.Symbol = symbol
	return b
}

// HResult sets the foreign status code
func (b *Builder) HResult(hr int32) *Builder {
	b.err.HResult = hr
	return b
}

// Diagnostics sets the diagnostics text returned by the foreign compiler
func (b *Builder) Diagnostics(text string) *Builder {
	b.err.Diagnostics = text
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common patterns.

// BadMagic reports an input whose leading signature does not match.
func BadMagic(phase Phase, got, want string) *Error {
	return New(phase, KindBadMagic).
		Offset(0).
		Detail("signature %q, want %q", got, want).
		Build()
}

// Truncated reports declared lengths exceeding the remaining input.
func Truncated(phase Phase, offset int64, msg string, args ...any) *Error {
	return New(phase, KindTruncated).Offset(offset).Detail(msg, args...).Build()
}

// ImageFormat reports an unsupported or malformed foreign image.
func ImageFormat(msg string, args ...any) *Error {
	return New(PhaseParse, KindImageFormat).Detail(msg, args...).Build()
}

// UnresolvedImport reports an import that no resolver could bind.
func UnresolvedImport(module, symbol string) *Error {
	return New(PhaseResolve, KindUnresolvedImport).Import(module, symbol).Build()
}

// Relocation reports a relocation target outside the mapped image.
func Relocation(offset int64, msg string, args ...any) *Error {
	return New(PhaseLoad, KindRelocation).Offset(offset).Detail(msg, args...).Build()
}

// ForeignCall reports a failing foreign status code.
func ForeignCall(hr int32, msg string, args ...any) *Error {
	return New(PhaseInvoke, KindForeignCall).HResult(hr).Detail(msg, args...).Build()
}

// Compile reports a foreign compile failure with its diagnostics text.
func Compile(hr int32, diagnostics string) *Error {
	return New(PhaseCompile, KindCompileFailed).HResult(hr).Diagnostics(diagnostics).Build()
}

// BridgeClosed reports a call after bridge shutdown.
func BridgeClosed() *Error {
	return New(PhaseInvoke, KindBridgeClosed).Detail("bridge is closed").Build()
}

// LibraryNotFound reports a missing foreign library file.
func LibraryNotFound(path string, cause error) *Error {
	return New(PhaseLoad, KindLibraryNotFound).Detail("%s", path).Cause(cause).Build()
}

// InvalidInput reports invalid caller-supplied input.
func InvalidInput(phase Phase, msg string, args ...any) *Error {
	return New(phase, KindInvalidInput).Detail(msg, args...).Build()
}

// OutOfBounds reports an offset or index outside the valid range.
func OutOfBounds(phase Phase, offset int64, msg string, args ...any) *Error {
	return New(phase, KindOutOfBounds).Offset(offset).Detail(msg, args...).Build()
}
