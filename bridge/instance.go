package bridge

import (
	"sync/atomic"

	"github.com/objlink/objlink"
	"github.com/objlink/objlink/errors"
)

// Instance is the host-visible proxy for one native object. All live
// references to the same native object go through the same Instance for
// as long as it remains reachable.
type Instance struct {
	cache *Cache
	attrs atomic.Pointer[AttrStore]
	h     objlink.Handle
	seq   uint64
	stale atomic.Bool
}

// Factory builds the Instance for a cache miss. It runs while the cache
// holds its internal lock and must not call back into the cache.
type Factory func(h objlink.Handle) *Instance

// NewInstance is the default Factory.
func NewInstance(h objlink.Handle) *Instance {
	return &Instance{h: h}
}

// Handle returns the native handle this instance wraps.
func (i *Instance) Handle() objlink.Handle {
	return i.h
}

// Stale reports whether the native object behind this instance has been
// deallocated. Attribute writes fail once an instance is stale; reads
// keep working against the retained store.
func (i *Instance) Stale() bool {
	return i.stale.Load()
}

// SetAttr stores a host-only attribute on this instance.
// See Cache.SetAttr.
func (i *Instance) SetAttr(name string, value any) error {
	if i.cache == nil {
		return errors.InvalidHandle(errors.PhaseAttribute, uint64(i.h))
	}
	return i.cache.SetAttr(i, name, value)
}

// Attr returns a host-only attribute previously stored on this instance.
func (i *Instance) Attr(name string) (any, bool) {
	store := i.attrs.Load()
	if store == nil {
		return nil, false
	}
	return store.Get(name)
}

// DeleteAttr removes a host-only attribute. It reports whether the
// attribute existed.
func (i *Instance) DeleteAttr(name string) bool {
	store := i.attrs.Load()
	if store == nil {
		return false
	}
	return store.Delete(name)
}

// bind stamps the cache bookkeeping onto a freshly constructed instance.
func (i *Instance) bind(c *Cache, seq uint64) {
	i.cache = c
	i.seq = seq
}
