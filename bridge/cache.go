package bridge

import (
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"go.uber.org/zap"

	"github.com/objlink/objlink"
	"github.com/objlink/objlink/errors"
)

// Cache is the process-wide registry mapping native handles to their
// live wrapper Instances. Construct one per Runtime and inject it where
// wrapping is needed; there is no ambient global.
type Cache struct {
	rt        objlink.Runtime
	entries   map[objlink.Handle]*entry
	observers []Observer

	mu    sync.Mutex
	obsMu sync.RWMutex

	seq atomic.Uint64

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	removals    atomic.Uint64
	escalations atomic.Uint64
}

// entry is the cache's record for one handle generation. A weak entry
// holds only the weak pointer and owes one native release for the
// wrapper's construction retain. Escalation pins the instance in strong
// and consumes that retain.
type entry struct {
	strong     *Instance
	weak       weak.Pointer[Instance]
	seq        uint64
	retainHeld bool
}

func (e *entry) liveInstance() *Instance {
	if e.strong != nil {
		return e.strong
	}
	return e.weak.Value()
}

// Option configures a Cache.
type Option func(*Cache)

// WithObserver subscribes o before the cache serves any lookups.
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		c.observers = append(c.observers, o)
	}
}

// New creates a cache over the given native runtime.
func New(rt objlink.Runtime, opts ...Option) *Cache {
	c := &Cache{
		rt:      rt,
		entries: make(map[objlink.Handle]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Runtime returns the native runtime this cache bridges to.
func (c *Cache) Runtime() objlink.Runtime {
	return c.rt
}

// Wrap returns the wrapper for h, creating one on a cache miss.
// Identity holds: two Wrap calls for the same live handle return the
// same Instance for as long as the first result stays reachable.
func (c *Cache) Wrap(h objlink.Handle) (*Instance, error) {
	return c.WrapWith(h, NewInstance)
}

// cleanupKey carries eviction context into the GC cleanup without
// keeping the Instance reachable.
type cleanupKey struct {
	c   *Cache
	h   objlink.Handle
	seq uint64
}

// WrapWith is Wrap with a caller-supplied Instance factory. The
// check-and-insert is atomic: under concurrent first access for the
// same handle the factory runs exactly once and every caller gets the
// winner's Instance.
func (c *Cache) WrapWith(h objlink.Handle, factory Factory) (*Instance, error) {
	if h == 0 {
		return nil, errors.InvalidHandle(errors.PhaseWrap, 0)
	}

	var orphanSeq uint64
	orphanRelease := false

	c.mu.Lock()
	if e, ok := c.entries[h]; ok {
		if inst := e.liveInstance(); inst != nil {
			c.mu.Unlock()
			c.hits.Add(1)
			return inst, nil
		}
		// The wrapper is gone but its GC cleanup has not run yet.
		// Take over the release owed for its construction retain so the
		// late cleanup (which will see a newer seq) does not need to.
		orphanRelease = e.retainHeld
		orphanSeq = e.seq
		e.retainHeld = false
		delete(c.entries, h)
	}

	if err := c.rt.Retain(h); err != nil {
		c.mu.Unlock()
		if orphanRelease {
			_ = c.rt.Release(h)
		}
		if errors.IsStale(err) {
			return nil, errors.StaleHandle(errors.PhaseWrap, uint64(h))
		}
		return nil, err
	}

	inst := factory(h)
	if inst == nil {
		c.mu.Unlock()
		_ = c.rt.Release(h)
		if orphanRelease {
			_ = c.rt.Release(h)
		}
		return nil, errors.New(errors.PhaseWrap, errors.KindInvalidHandle).
			Handle(uint64(h)).
			Detail("factory returned nil instance").
			Build()
	}

	seq := c.seq.Add(1)
	inst.bind(c, seq)
	e := &entry{
		weak:       weak.Make(inst),
		seq:        seq,
		retainHeld: true,
	}
	c.entries[h] = e
	c.mu.Unlock()

	runtime.AddCleanup(inst, func(k cleanupKey) {
		k.c.onReclaimed(k.h, k.seq)
	}, cleanupKey{c: c, h: h, seq: seq})

	if orphanRelease {
		_ = c.rt.Release(h)
		c.evictions.Add(1)
		c.notify(Event{Type: EventEvicted, Handle: h, Seq: orphanSeq})
	}

	c.misses.Add(1)
	c.notify(Event{Type: EventWrapped, Handle: h, Seq: seq})
	Logger().Debug("wrapped native object",
		zap.Uint64("handle", uint64(h)),
		zap.Uint64("seq", seq))
	return inst, nil
}

// Unwrap returns the native handle behind inst. It always succeeds for
// a live instance; for a stale one it returns the handle the instance
// used to wrap.
func (c *Cache) Unwrap(inst *Instance) objlink.Handle {
	return inst.h
}

// SetAttr stores a host-only attribute on inst. The first write on an
// instance escalates its entry to strong retention and installs the
// native deallocation observer before the write commits; if escalation
// fails the write does not happen.
func (c *Cache) SetAttr(inst *Instance, name string, value any) error {
	if inst.stale.Load() {
		return errors.StaleHandle(errors.PhaseAttribute, uint64(inst.h))
	}

	store := inst.attrs.Load()
	if store == nil {
		if err := c.escalate(inst); err != nil {
			return err
		}
		store = inst.attrs.Load()
	}

	store.Set(name, value)
	return nil
}

// Attr returns a host-only attribute of inst.
func (c *Cache) Attr(inst *Instance, name string) (any, bool) {
	return inst.Attr(name)
}

// DeleteAttr removes a host-only attribute of inst and reports whether
// it existed. Deleting attributes does not de-escalate the entry.
func (c *Cache) DeleteAttr(inst *Instance, name string) bool {
	return inst.DeleteAttr(name)
}

// escalate transitions inst's entry from weak to strong retention:
// attach the dealloc observer, allocate the attribute store, pin the
// instance, then hand lifetime authority to the native side by
// consuming the construction retain. Idempotent; mutually exclusive
// with removal for the same handle.
func (c *Cache) escalate(inst *Instance) error {
	h := inst.h

	c.mu.Lock()
	e, ok := c.entries[h]
	if !ok || e.seq != inst.seq {
		c.mu.Unlock()
		return errors.StaleHandle(errors.PhaseAttach, uint64(h))
	}
	if e.strong != nil {
		c.mu.Unlock()
		return nil
	}

	seq := e.seq
	if err := c.rt.AddDeallocObserver(h, func(h objlink.Handle) {
		c.remove(h, seq)
	}); err != nil {
		c.mu.Unlock()
		if errors.IsStale(err) {
			return errors.StaleHandle(errors.PhaseAttach, uint64(h))
		}
		if errors.IsAttachment(err) {
			return err
		}
		return errors.AttachFailed(uint64(h), err)
	}

	if inst.attrs.Load() == nil {
		inst.attrs.Store(newAttrStore())
	}
	e.strong = inst
	e.retainHeld = false
	c.mu.Unlock()

	// The construction retain is consumed here, after the observer is in
	// place. This may deallocate immediately when nothing native-side
	// still references the object; remove runs synchronously in that
	// case.
	_ = c.rt.Release(h)

	c.escalations.Add(1)
	c.notify(Event{Type: EventEscalated, Handle: h, Seq: seq})
	Logger().Debug("escalated cache entry",
		zap.Uint64("handle", uint64(h)),
		zap.Uint64("seq", seq))
	return nil
}

// remove is the deallocation-observer path: the native object behind h
// is being torn down. Deletes the entry generation seq, drops the
// strong pin and marks the instance stale. A no-op when the entry was
// already evicted or replaced.
func (c *Cache) remove(h objlink.Handle, seq uint64) {
	c.mu.Lock()
	e, ok := c.entries[h]
	if !ok || e.seq != seq {
		c.mu.Unlock()
		return
	}
	inst := e.strong
	delete(c.entries, h)
	c.mu.Unlock()

	if inst != nil {
		inst.stale.Store(true)
	}

	c.removals.Add(1)
	c.notify(Event{Type: EventRemoved, Handle: h, Seq: seq})
	Logger().Debug("removed cache entry on native dealloc",
		zap.Uint64("handle", uint64(h)),
		zap.Uint64("seq", seq))
}

// onReclaimed is the GC-cleanup path for weak entries: the wrapper of
// generation seq became unreachable and was collected. Releases the
// construction retain the dead wrapper owned.
func (c *Cache) onReclaimed(h objlink.Handle, seq uint64) {
	c.mu.Lock()
	e, ok := c.entries[h]
	if !ok || e.seq != seq {
		c.mu.Unlock()
		return
	}
	release := e.retainHeld
	e.retainHeld = false
	delete(c.entries, h)
	c.mu.Unlock()

	if release {
		_ = c.rt.Release(h)
	}

	c.evictions.Add(1)
	c.notify(Event{Type: EventEvicted, Handle: h, Seq: seq})
	Logger().Debug("evicted weak cache entry",
		zap.Uint64("handle", uint64(h)),
		zap.Uint64("seq", seq))
}

// Subscribe adds an observer for cache lifecycle events.
func (c *Cache) Subscribe(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, o)
}

// Unsubscribe removes an observer.
func (c *Cache) Unsubscribe(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	for i, obs := range c.observers {
		if obs == o {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			return
		}
	}
}

func (c *Cache) notify(e Event) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, o := range c.observers {
		o.OnCacheEvent(e)
	}
}

// Stats is a point-in-time snapshot of cache state and counters.
type Stats struct {
	Live        int
	Strong      int
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Removals    uint64
	Escalations uint64
}

// Stats returns a snapshot of the cache. Live counts entries whose
// wrapper is currently reachable; Strong counts escalated entries.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	live, strong := 0, 0
	for _, e := range c.entries {
		if e.strong != nil {
			strong++
			live++
		} else if e.weak.Value() != nil {
			live++
		}
	}
	c.mu.Unlock()

	return Stats{
		Live:        live,
		Strong:      strong,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Removals:    c.removals.Load(),
		Escalations: c.escalations.Load(),
	}
}

// Len returns the number of cache entries, including weak entries whose
// wrapper has been collected but not yet cleaned up.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Each visits every cache entry whose wrapper is currently reachable.
func (c *Cache) Each(fn func(h objlink.Handle, inst *Instance, strong bool) bool) {
	c.mu.Lock()
	type row struct {
		h      objlink.Handle
		inst   *Instance
		strong bool
	}
	rows := make([]row, 0, len(c.entries))
	for h, e := range c.entries {
		if inst := e.liveInstance(); inst != nil {
			rows = append(rows, row{h, inst, e.strong != nil})
		}
	}
	c.mu.Unlock()

	for _, r := range rows {
		if !fn(r.h, r.inst, r.strong) {
			break
		}
	}
}
