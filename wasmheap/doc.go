// Package wasmheap implements objlink.Runtime over a WebAssembly linear
// memory instantiated through wazero.
//
// Native objects live inside the guest memory of a minimal
// memory-exporting module: each allocation carries an 8-byte header
// holding its reference count and payload size, and the handle is the
// object's guest address. Retain and Release mutate the refcount word in
// guest memory; the host keeps only the allocator free lists and the
// deallocation observers.
//
// The package exists to demonstrate that the bridge cache is agnostic to
// where the native world stores its objects: the same cache code runs
// against native.LocalRuntime and against a sandboxed wasm heap.
package wasmheap
