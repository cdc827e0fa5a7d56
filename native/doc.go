// Package native provides LocalRuntime, an in-memory reference
// implementation of the objlink.Runtime contract.
//
// Objects live in a slab of slots with a free list, each carrying an
// explicit reference count and an optional list of deallocation
// observers. Releasing the last reference tears the object down
// synchronously: observers fire exactly once, in registration order, on
// the releasing goroutine, before the slot becomes reusable.
//
// Slot reuse means a handle value can come back for a brand-new object
// after deallocation, exactly like a reused native pointer. Callers that
// need to detect this must rely on the deallocation observer, not on the
// handle value.
package native
