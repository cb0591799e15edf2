// Package winabi emulates the small slice of the Windows runtime the
// shader compiler library needs: a heap, thread-local storage slots,
// last-error state, C runtime entry points, and assorted process query
// stubs. Each entry point is deliberately partial, it implements only
// the behavior the compiler is known to depend on.
//
// Entry points are plain Go functions over *State. Machine-callable
// addresses for them are minted by the bridge package, which owns the
// calling-convention translation.
package winabi
