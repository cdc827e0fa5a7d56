// Package bridge implements the wrapper cache at the heart of objlink:
// one live Go wrapper per native object, with lifetime coordinated
// across both reclamation domains.
//
// # Identity
//
// Wrap returns the existing wrapper for a handle when one is live, and
// atomically creates one otherwise. Concurrent first lookups of the same
// handle construct exactly one Instance.
//
// # Retention
//
// A fresh entry holds the Instance weakly. The Instance owns one native
// retain, released when the Go GC reclaims the wrapper; the entry then
// vanishes from the cache and a later Wrap simply rebuilds it. No
// deallocation observer is installed and no native-side cost is paid.
//
// The first attribute write escalates the entry: an AttrStore is
// allocated, a deallocation observer is installed on the native object,
// the cache pins the Instance strongly, and the construction retain is
// consumed. From that point the native side alone decides the object's
// lifetime; its teardown observer removes the entry, drops the pin and
// marks the Instance stale. Escalation is idempotent and one-way.
//
// Attribute state is host-only and unrecoverable from the handle, which
// is why escalated wrappers must survive until native teardown: a
// rebuilt wrapper would silently come back with an empty store.
package bridge
