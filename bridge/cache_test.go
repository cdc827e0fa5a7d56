package bridge

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/objlink/objlink"
	"github.com/objlink/objlink/errors"
	"github.com/objlink/objlink/native"
)

// waitGC retries cond across GC cycles until it holds. Weak-entry
// eviction depends on the collector and the cleanup goroutine, so tests
// poll instead of assuming a single GC is enough.
func waitGC(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		runtime.GC()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached after repeated GC cycles")
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnCacheEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count(typ EventType) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestCache_Identity(t *testing.T) {
	rt := native.NewLocalRuntime()
	c := New(rt)

	h := rt.New("document")
	a, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	b, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("second wrap: %v", err)
	}
	if a != b {
		t.Fatal("two wraps of the same live handle must return the same instance")
	}
	if c.Unwrap(a) != h {
		t.Fatalf("unwrap = %v, want %v", c.Unwrap(a), h)
	}

	s := c.Stats()
	if s.Misses != 1 || s.Hits != 1 {
		t.Fatalf("stats = %+v, want 1 miss and 1 hit", s)
	}
	runtime.KeepAlive(a)
}

func TestCache_WrapInvalidHandle(t *testing.T) {
	rt := native.NewLocalRuntime()
	c := New(rt)

	if _, err := c.Wrap(0); err == nil {
		t.Fatal("wrap of handle 0 should fail")
	}
}

func TestCache_WrapStaleHandle(t *testing.T) {
	rt := native.NewLocalRuntime()
	c := New(rt)

	h := rt.New("document")
	if err := rt.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}

	_, err := c.Wrap(h)
	if !errors.IsStale(err) {
		t.Fatalf("wrap of dead handle = %v, want stale", err)
	}
}

func TestCache_ConcurrentWrapSingleConstruction(t *testing.T) {
	rt := native.NewLocalRuntime()
	c := New(rt)
	h := rt.New("contended")

	var constructions atomic.Int32
	factory := func(h objlink.Handle) *Instance {
		constructions.Add(1)
		return NewInstance(h)
	}

	const workers = 32
	var (
		start   = make(chan struct{})
		wg      sync.WaitGroup
		results [workers]*Instance
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			inst, err := c.WrapWith(h, factory)
			if err != nil {
				t.Errorf("wrap: %v", err)
				return
			}
			results[i] = inst
		}(i)
	}
	close(start)
	wg.Wait()

	if n := constructions.Load(); n != 1 {
		t.Fatalf("factory ran %d times, want exactly 1", n)
	}
	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatal("all concurrent callers must receive the same instance")
		}
	}
	runtime.KeepAlive(results)
}

func TestCache_WeakEviction(t *testing.T) {
	rt := native.NewLocalRuntime()
	c := New(rt)
	h := rt.New("transient")

	inst, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	firstSeq := inst.seq
	runtime.KeepAlive(inst)
	inst = nil
	_ = inst

	// With no attributes attached the wrapper vanishes once host code
	// drops it. The handle itself stays live.
	waitGC(t, func() bool { return c.Len() == 0 })

	if !rt.Alive(h) {
		t.Fatal("native object must outlive its weak wrapper")
	}

	again, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("re-wrap after eviction: %v", err)
	}
	if again.seq == firstSeq {
		t.Fatal("re-wrap must build a fresh instance, not resurrect the evicted one")
	}

	s := c.Stats()
	if s.Escalations != 0 {
		t.Fatal("no observer may ever be installed for a never-escalated handle")
	}
	if s.Evictions == 0 {
		t.Fatal("eviction should be counted")
	}
	runtime.KeepAlive(again)
}

func TestCache_AttributeDurability(t *testing.T) {
	rt := native.NewLocalRuntime()
	c := New(rt)
	h := rt.New("annotated")

	inst, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := c.SetAttr(inst, "x", 1); err != nil {
		t.Fatalf("set attr: %v", err)
	}
	inst = nil
	_ = inst

	// The escalated entry pins the wrapper, so GC pressure must not
	// drop the attribute while the native object lives.
	for i := 0; i < 10; i++ {
		runtime.GC()
	}

	again, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("re-wrap: %v", err)
	}
	v, ok := c.Attr(again, "x")
	if !ok || v != 1 {
		t.Fatalf("attr after GC = %v/%v, want 1/true", v, ok)
	}

	s := c.Stats()
	if s.Strong != 1 || s.Escalations != 1 {
		t.Fatalf("stats = %+v, want one strong entry from one escalation", s)
	}
	runtime.KeepAlive(again)
}

func TestCache_EscalationIdempotent(t *testing.T) {
	rt := native.NewLocalRuntime()
	c := New(rt)
	h := rt.New("annotated")

	inst, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.SetAttr(inst, "k", i); err != nil {
			t.Fatalf("set attr %d: %v", i, err)
		}
	}

	s := c.Stats()
	if s.Escalations != 1 {
		t.Fatalf("escalations = %d, want 1", s.Escalations)
	}

	// Escalation consumed the construction retain: only the external
	// native reference remains.
	refs, _ := rt.RefCount(h)
	if refs != 1 {
		t.Fatalf("refcount = %d, want 1 after escalation", refs)
	}
	runtime.KeepAlive(inst)
}

func TestCache_DeallocCleanup(t *testing.T) {
	rt := native.NewLocalRuntime()
	c := New(rt)
	h := rt.New("doomed")

	inst, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := c.SetAttr(inst, "x", 1); err != nil {
		t.Fatalf("set attr: %v", err)
	}

	// Drop the last native reference: the dealloc observer must tear
	// the entry down synchronously.
	if err := rt.Release(h); err != nil {
		t.Fatalf("external release: %v", err)
	}

	if c.Len() != 0 {
		t.Fatalf("cache len = %d after native dealloc, want 0", c.Len())
	}
	if !inst.Stale() {
		t.Fatal("instance must be stale after native dealloc")
	}
	if err := c.SetAttr(inst, "y", 2); !errors.IsStale(err) {
		t.Fatalf("attr write on stale instance = %v, want stale error", err)
	}

	// The slot is free for reuse; a new object under the same handle
	// must get a distinct wrapper.
	h2 := rt.New("replacement")
	if h2 != h {
		t.Fatalf("expected slot reuse, got %v then %v", h, h2)
	}
	fresh, err := c.Wrap(h2)
	if err != nil {
		t.Fatalf("wrap of reused handle: %v", err)
	}
	if fresh == inst {
		t.Fatal("reused handle must not resurrect the dead wrapper")
	}
	if _, ok := c.Attr(fresh, "x"); ok {
		t.Fatal("fresh wrapper must not inherit attributes")
	}
	runtime.KeepAlive(fresh)
	runtime.KeepAlive(inst)
}

func TestCache_AttachmentError(t *testing.T) {
	rt := native.NewLocalRuntime()
	rt.SealClass("tagged-pointer")
	c := New(rt)
	h := rt.New("tagged-pointer")

	inst, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	err = c.SetAttr(inst, "x", 1)
	if !errors.IsAttachment(err) {
		t.Fatalf("set attr on sealed class = %v, want attachment error", err)
	}
	if _, ok := c.Attr(inst, "x"); ok {
		t.Fatal("failed escalation must not commit the attribute write")
	}
	if s := c.Stats(); s.Strong != 0 || s.Escalations != 0 {
		t.Fatalf("stats = %+v, entry must stay weak after failed escalation", s)
	}

	// The retain pair stays intact: wrapper still owns its retain.
	refs, _ := rt.RefCount(h)
	if refs != 2 {
		t.Fatalf("refcount = %d, want 2", refs)
	}
	runtime.KeepAlive(inst)
}

func TestCache_NoLeak_StrongPath(t *testing.T) {
	rt := native.NewLocalRuntime()
	c := New(rt)

	h := rt.New("strong")
	inst, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := c.SetAttr(inst, "x", 1); err != nil {
		t.Fatalf("set attr: %v", err)
	}
	if err := rt.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}

	if rt.Len() != 0 {
		t.Fatalf("runtime has %d live objects, want 0", rt.Len())
	}
	if c.Len() != 0 {
		t.Fatalf("cache has %d entries, want 0", c.Len())
	}
	runtime.KeepAlive(inst)
}

func TestCache_NoLeak_WeakPath(t *testing.T) {
	rt := native.NewLocalRuntime()
	c := New(rt)

	h := rt.New("weak")
	inst, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	runtime.KeepAlive(inst)
	inst = nil
	_ = inst

	// Drop the external reference; only the wrapper's retain keeps the
	// object alive now. Reclaiming the wrapper must release it.
	if err := rt.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}

	waitGC(t, func() bool { return rt.Len() == 0 && c.Len() == 0 })
}

func TestCache_EventSequence(t *testing.T) {
	rec := &eventRecorder{}
	rt := native.NewLocalRuntime()
	c := New(rt, WithObserver(rec))

	h := rt.New("observed")
	inst, err := c.Wrap(h)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := c.SetAttr(inst, "x", 1); err != nil {
		t.Fatalf("set attr: %v", err)
	}
	if err := rt.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}

	events := rec.snapshot()
	if len(events) != 3 {
		t.Fatalf("got %d events %v, want 3", len(events), events)
	}
	want := []EventType{EventWrapped, EventEscalated, EventRemoved}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Fatalf("event %d = %s, want %s", i, events[i].Type, typ)
		}
		if events[i].Handle != h {
			t.Fatalf("event %d handle = %v, want %v", i, events[i].Handle, h)
		}
	}
	runtime.KeepAlive(inst)
}

func TestCache_Unsubscribe(t *testing.T) {
	rec := &eventRecorder{}
	rt := native.NewLocalRuntime()
	c := New(rt)
	c.Subscribe(rec)

	h := rt.New("a")
	inst, _ := c.Wrap(h)
	if rec.count(EventWrapped) != 1 {
		t.Fatal("subscribed observer missed the wrap event")
	}

	c.Unsubscribe(rec)
	inst2, _ := c.Wrap(rt.New("b"))
	if rec.count(EventWrapped) != 1 {
		t.Fatal("unsubscribed observer still receives events")
	}
	runtime.KeepAlive(inst)
	runtime.KeepAlive(inst2)
}

func TestCache_EscalateRacesDealloc(t *testing.T) {
	// An escalation racing a concurrent final release must end in one of
	// two states: escalation won (entry removed by the observer) or the
	// wrapper went stale first. Either way nothing dangles.
	for i := 0; i < 50; i++ {
		rt := native.NewLocalRuntime()
		c := New(rt)
		h := rt.New("raced")

		inst, err := c.Wrap(h)
		if err != nil {
			t.Fatalf("wrap: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.SetAttr(inst, "x", 1)
		}()
		go func() {
			defer wg.Done()
			_ = rt.Release(h)
		}()
		wg.Wait()

		if s := c.Stats(); s.Strong > 0 && !rt.Alive(h) {
			t.Fatal("strong entry left behind for a deallocated handle")
		}
		runtime.KeepAlive(inst)
	}
}

func TestRuntimeContract_RetainStale(t *testing.T) {
	// The cache depends on Retain failing for dead handles so Wrap can
	// report staleness instead of fabricating a wrapper for a corpse.
	rt := native.NewLocalRuntime()
	h := rt.New("x")
	if err := rt.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := rt.Retain(h); !errors.IsStale(err) {
		t.Fatalf("contract violation: retain of dead handle = %v", err)
	}
}
