package native

import (
	"sync"

	"github.com/objlink/objlink"
	"github.com/objlink/objlink/errors"
)

// slotStride spaces handles apart so they resemble object addresses.
// Handle 0 stays invalid because indexing starts at 1.
const slotStride = 0x10

// LocalRuntime is an in-memory retain/release object heap.
// It implements objlink.Runtime.
type LocalRuntime struct {
	slots    []slot
	freeList []uint32
	sealed   map[string]struct{}
	mu       sync.RWMutex
	closed   bool
}

type slot struct {
	class     string
	observers []objlink.DeallocObserverFunc
	refs      uint32
	live      bool
}

var _ objlink.Runtime = (*LocalRuntime)(nil)

// NewLocalRuntime creates an empty runtime.
func NewLocalRuntime() *LocalRuntime {
	return &LocalRuntime{
		slots:    make([]slot, 0, 64),
		freeList: make([]uint32, 0, 16),
		sealed:   make(map[string]struct{}),
	}
}

// SealClass marks a class as unable to carry auxiliary observers.
// AddDeallocObserver fails for objects of sealed classes.
func (rt *LocalRuntime) SealClass(class string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.sealed[class] = struct{}{}
}

// New allocates an object of the given class with a reference count of
// one and returns its handle. Returns 0 after Close.
func (rt *LocalRuntime) New(class string) objlink.Handle {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return 0
	}

	s := slot{class: class, refs: 1, live: true}

	if n := len(rt.freeList); n > 0 {
		idx := rt.freeList[n-1]
		rt.freeList = rt.freeList[:n-1]
		rt.slots[idx] = s
		return handleFor(idx)
	}

	rt.slots = append(rt.slots, s)
	return handleFor(uint32(len(rt.slots) - 1))
}

// Retain increments the reference count of the object behind h.
func (rt *LocalRuntime) Retain(h objlink.Handle) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	s, err := rt.lookup(h)
	if err != nil {
		return err
	}
	s.refs++
	return nil
}

// Release decrements the reference count, deallocating at zero.
// Deallocation observers run on the calling goroutine, after the
// runtime lock is dropped, so they may re-enter the runtime.
func (rt *LocalRuntime) Release(h objlink.Handle) error {
	rt.mu.Lock()

	s, err := rt.lookup(h)
	if err != nil {
		rt.mu.Unlock()
		return err
	}
	if s.refs == 0 {
		rt.mu.Unlock()
		return errors.Underflow(uint64(h))
	}

	s.refs--
	if s.refs > 0 {
		rt.mu.Unlock()
		return nil
	}

	observers := s.observers
	idx := indexFor(h)
	*s = slot{}
	rt.freeList = append(rt.freeList, idx)
	rt.mu.Unlock()

	for _, fn := range observers {
		fn(h)
	}
	return nil
}

// Alive reports whether h refers to a live object.
func (rt *LocalRuntime) Alive(h objlink.Handle) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	_, err := rt.lookup(h)
	return err == nil
}

// RefCount returns the current reference count for h.
func (rt *LocalRuntime) RefCount(h objlink.Handle) (uint32, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	s, err := rt.lookup(h)
	if err != nil {
		return 0, false
	}
	return s.refs, true
}

// Class returns the class name of the object behind h.
func (rt *LocalRuntime) Class(h objlink.Handle) (string, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	s, err := rt.lookup(h)
	if err != nil {
		return "", false
	}
	return s.class, true
}

// AddDeallocObserver registers fn to fire once when the object behind h
// is deallocated. Fails for sealed classes and dead handles.
func (rt *LocalRuntime) AddDeallocObserver(h objlink.Handle, fn objlink.DeallocObserverFunc) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	s, err := rt.lookup(h)
	if err != nil {
		return err
	}
	if _, ok := rt.sealed[s.class]; ok {
		return errors.New(errors.PhaseAttach, errors.KindAttachment).
			Handle(uint64(h)).
			Detail("class %q forbids auxiliary observers", s.class).
			Build()
	}
	s.observers = append(s.observers, fn)
	return nil
}

// Len returns the number of live objects.
func (rt *LocalRuntime) Len() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	count := 0
	for i := range rt.slots {
		if rt.slots[i].live {
			count++
		}
	}
	return count
}

// Each visits every live object.
func (rt *LocalRuntime) Each(fn func(h objlink.Handle, class string, refs uint32) bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for i := range rt.slots {
		if rt.slots[i].live {
			if !fn(handleFor(uint32(i)), rt.slots[i].class, rt.slots[i].refs) {
				break
			}
		}
	}
}

// Close deallocates every live object, firing observers, and rejects
// further operations.
func (rt *LocalRuntime) Close() error {
	rt.mu.Lock()

	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true

	type pending struct {
		h         objlink.Handle
		observers []objlink.DeallocObserverFunc
	}
	var teardown []pending
	for i := range rt.slots {
		if rt.slots[i].live {
			teardown = append(teardown, pending{handleFor(uint32(i)), rt.slots[i].observers})
			rt.slots[i] = slot{}
		}
	}
	rt.slots = nil
	rt.freeList = nil
	rt.mu.Unlock()

	for _, p := range teardown {
		for _, fn := range p.observers {
			fn(p.h)
		}
	}
	return nil
}

// lookup resolves h to its slot. Callers hold rt.mu.
func (rt *LocalRuntime) lookup(h objlink.Handle) (*slot, error) {
	if rt.closed {
		return nil, errors.Closed("runtime")
	}
	if h == 0 || uintptr(h)%slotStride != 0 {
		return nil, errors.InvalidHandle(errors.PhaseRuntime, uint64(h))
	}
	idx := indexFor(h)
	if int(idx) >= len(rt.slots) {
		return nil, errors.InvalidHandle(errors.PhaseRuntime, uint64(h))
	}
	s := &rt.slots[idx]
	if !s.live {
		return nil, errors.StaleHandle(errors.PhaseRuntime, uint64(h))
	}
	return s, nil
}

func handleFor(idx uint32) objlink.Handle {
	return objlink.Handle(uintptr(idx+1) * slotStride)
}

func indexFor(h objlink.Handle) uint32 {
	return uint32(uintptr(h)/slotStride) - 1
}
