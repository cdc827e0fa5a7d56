// Package objlink bridges Go and a retain/release-managed native object
// runtime while preserving a single wrapper identity per native object.
//
// Two independently reclaimed worlds meet here: the native side counts
// references explicitly (retain/release), the Go side relies on the
// garbage collector. The bridge keeps exactly one live wrapper per native
// object, coordinates lifetime across both sides, and pays no per-object
// identity or teardown cost for objects that never carry host-only state.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	objlink/             Root package with the Handle and Runtime contracts
//	├── bridge/          Wrapper cache: identity, retention, attributes
//	├── native/          In-memory reference runtime (retain/release heap)
//	├── wasmheap/        Runtime backed by WebAssembly linear memory (wazero)
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
// Wrap objects from a runtime and attach host-only state:
//
//	rt := native.NewLocalRuntime()
//	cache := bridge.New(rt)
//
//	h := rt.New("document")
//	inst, err := cache.Wrap(h)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// First attribute write escalates the entry: the cache pins the
//	// wrapper and installs a deallocation observer on the native object.
//	if err := cache.SetAttr(inst, "title", "draft"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Retention Model
//
// Cache entries start weak: the wrapper can be reclaimed by the Go GC at
// any time and is rebuilt from the handle on the next lookup. Entries
// escalate to strong retention only when host-only attributes appear,
// because attribute state cannot be recovered from the handle alone. A
// strong entry is torn down by the native deallocation observer, never by
// Go finalization.
//
// # Thread Safety
//
// Cache and both Runtime implementations are safe for concurrent use.
// Deallocation observers may fire on any goroutine, including during a
// Release call on the caller's goroutine.
package objlink
