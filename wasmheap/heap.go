package wasmheap

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/objlink/objlink"
	"github.com/objlink/objlink/errors"
)

// guestModule is the binary encoding of
//
//	(module (memory (export "memory") 2 256))
//
// a guest whose only job is to own the linear memory objects live in.
var guestModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // \0asm, version 1
	0x05, 0x05, 0x01, 0x01, 0x02, 0x80, 0x02, // memory section: min 2, max 256 pages
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00, // export "memory"
}

const (
	// Object layout in guest memory: refcount u32, payload size u32,
	// then the payload. The handle is the header address.
	refcountOff = 0
	sizeOff     = 4
	headerSize  = 8

	// Address 0 stays invalid; allocations are 8-byte aligned.
	heapBase = 8
	align    = 8

	wasmPageSize = 65536
)

// Heap is a retain/release object heap backed by wazero linear memory.
// It implements objlink.Runtime.
type Heap struct {
	runtime wazero.Runtime
	mod     api.Module
	mem     api.Memory

	// sizes tracks live objects (header address -> payload size); free
	// holds recycled addresses per payload size. The refcount itself
	// lives in guest memory.
	sizes     map[uint32]uint32
	free      map[uint32][]uint32
	observers map[uint32][]objlink.DeallocObserverFunc

	mu     sync.Mutex
	next   uint32
	closed bool
}

var _ objlink.Runtime = (*Heap)(nil)

// Open instantiates the guest module and returns an empty heap.
func Open(ctx context.Context) (*Heap, error) {
	r := wazero.NewRuntime(ctx)

	mod, err := r.Instantiate(ctx, guestModule)
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.New(errors.PhaseRuntime, errors.KindAllocation).
			Detail("instantiate guest heap module").
			Cause(err).
			Build()
	}

	mem := mod.ExportedMemory("memory")
	if mem == nil {
		_ = r.Close(ctx)
		return nil, errors.New(errors.PhaseRuntime, errors.KindAllocation).
			Detail("guest module does not export memory").
			Build()
	}

	Logger().Debug("opened wasm heap",
		zap.Uint32("pages", mem.Size()/wasmPageSize))

	return &Heap{
		runtime:   r,
		mod:       mod,
		mem:       mem,
		sizes:     make(map[uint32]uint32),
		free:      make(map[uint32][]uint32),
		observers: make(map[uint32][]objlink.DeallocObserverFunc),
		next:      heapBase,
	}, nil
}

// New allocates an object with the given payload size and a reference
// count of one.
func (hp *Heap) New(size uint32) (objlink.Handle, error) {
	size = (size + align - 1) &^ (align - 1)

	hp.mu.Lock()
	defer hp.mu.Unlock()

	if hp.closed {
		return 0, errors.Closed("wasm heap")
	}

	addr, err := hp.alloc(size)
	if err != nil {
		return 0, err
	}

	hp.mem.WriteUint32Le(addr+refcountOff, 1)
	hp.mem.WriteUint32Le(addr+sizeOff, size)
	hp.sizes[addr] = size

	return objlink.Handle(addr), nil
}

// alloc finds space for header+size bytes. Callers hold hp.mu.
func (hp *Heap) alloc(size uint32) (uint32, error) {
	if list := hp.free[size]; len(list) > 0 {
		addr := list[len(list)-1]
		hp.free[size] = list[:len(list)-1]
		return addr, nil
	}

	addr := hp.next
	needed := addr + headerSize + size
	if needed > hp.mem.Size() {
		deltaPages := (needed - hp.mem.Size() + wasmPageSize - 1) / wasmPageSize
		if _, ok := hp.mem.Grow(deltaPages); !ok {
			return 0, errors.AllocationFailed(size, nil)
		}
		Logger().Debug("grew wasm heap", zap.Uint32("delta_pages", deltaPages))
	}
	hp.next = needed
	return addr, nil
}

// Retain increments the refcount word of the object behind h.
func (hp *Heap) Retain(h objlink.Handle) error {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	addr, err := hp.lookup(h)
	if err != nil {
		return err
	}
	refs, _ := hp.mem.ReadUint32Le(addr + refcountOff)
	hp.mem.WriteUint32Le(addr+refcountOff, refs+1)
	return nil
}

// Release decrements the refcount word, deallocating at zero. Observers
// run on the calling goroutine after the heap lock is dropped.
func (hp *Heap) Release(h objlink.Handle) error {
	hp.mu.Lock()

	addr, err := hp.lookup(h)
	if err != nil {
		hp.mu.Unlock()
		return err
	}

	refs, _ := hp.mem.ReadUint32Le(addr + refcountOff)
	if refs == 0 {
		hp.mu.Unlock()
		return errors.Underflow(uint64(h))
	}

	refs--
	hp.mem.WriteUint32Le(addr+refcountOff, refs)
	if refs > 0 {
		hp.mu.Unlock()
		return nil
	}

	observers := hp.observers[addr]
	delete(hp.observers, addr)
	size := hp.sizes[addr]
	delete(hp.sizes, addr)
	hp.free[size] = append(hp.free[size], addr)
	hp.mu.Unlock()

	for _, fn := range observers {
		fn(h)
	}
	return nil
}

// Alive reports whether h refers to a live object.
func (hp *Heap) Alive(h objlink.Handle) bool {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	_, err := hp.lookup(h)
	return err == nil
}

// RefCount returns the refcount word for h from guest memory.
func (hp *Heap) RefCount(h objlink.Handle) (uint32, bool) {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	addr, err := hp.lookup(h)
	if err != nil {
		return 0, false
	}
	refs, _ := hp.mem.ReadUint32Le(addr + refcountOff)
	return refs, true
}

// AddDeallocObserver registers fn to fire once when the object behind h
// is deallocated.
func (hp *Heap) AddDeallocObserver(h objlink.Handle, fn objlink.DeallocObserverFunc) error {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	addr, err := hp.lookup(h)
	if err != nil {
		return err
	}
	hp.observers[addr] = append(hp.observers[addr], fn)
	return nil
}

// Write copies data into the object's payload in guest memory.
func (hp *Heap) Write(h objlink.Handle, data []byte) error {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	addr, err := hp.lookup(h)
	if err != nil {
		return err
	}
	if uint32(len(data)) > hp.sizes[addr] {
		return errors.New(errors.PhaseRuntime, errors.KindAllocation).
			Handle(uint64(h)).
			Detail("payload %d exceeds object size %d", len(data), hp.sizes[addr]).
			Build()
	}
	hp.mem.Write(addr+headerSize, data)
	return nil
}

// Read copies n bytes of the object's payload out of guest memory.
func (hp *Heap) Read(h objlink.Handle, n uint32) ([]byte, error) {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	addr, err := hp.lookup(h)
	if err != nil {
		return nil, err
	}
	if n > hp.sizes[addr] {
		n = hp.sizes[addr]
	}
	data, ok := hp.mem.Read(addr+headerSize, n)
	if !ok {
		return nil, errors.InvalidHandle(errors.PhaseRuntime, uint64(h))
	}
	out := make([]byte, n)
	copy(out, data)
	return out, nil
}

// Len returns the number of live objects.
func (hp *Heap) Len() int {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return len(hp.sizes)
}

// Close deallocates every live object, firing observers, and shuts the
// wazero runtime down.
func (hp *Heap) Close(ctx context.Context) error {
	hp.mu.Lock()
	if hp.closed {
		hp.mu.Unlock()
		return nil
	}
	hp.closed = true

	type pending struct {
		h         objlink.Handle
		observers []objlink.DeallocObserverFunc
	}
	var teardown []pending
	for addr := range hp.sizes {
		teardown = append(teardown, pending{objlink.Handle(addr), hp.observers[addr]})
	}
	hp.sizes = nil
	hp.free = nil
	hp.observers = nil
	hp.mu.Unlock()

	for _, p := range teardown {
		for _, fn := range p.observers {
			fn(p.h)
		}
	}

	return hp.runtime.Close(ctx)
}

// lookup validates h and returns its guest address. Callers hold hp.mu.
func (hp *Heap) lookup(h objlink.Handle) (uint32, error) {
	if hp.closed {
		return 0, errors.Closed("wasm heap")
	}
	addr := uint32(h)
	if h == 0 || uint64(h) != uint64(addr) || addr%align != 0 {
		return 0, errors.InvalidHandle(errors.PhaseRuntime, uint64(h))
	}
	if _, ok := hp.sizes[addr]; !ok {
		if addr >= heapBase && addr < hp.next {
			return 0, errors.StaleHandle(errors.PhaseRuntime, uint64(h))
		}
		return 0, errors.InvalidHandle(errors.PhaseRuntime, uint64(h))
	}
	return addr, nil
}
