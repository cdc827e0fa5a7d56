package objlink

// Handle is an opaque reference to an object in the native runtime,
// equal to the object's address there. Equality is pointer identity.
// Handle 0 is reserved and always invalid.
type Handle uintptr

// DeallocObserverFunc is invoked by the native runtime exactly once, at
// the moment the handle's underlying object is torn down, before the
// handle value becomes eligible for reuse. It may run on any goroutine,
// including synchronously inside the Release call that dropped the last
// reference.
type DeallocObserverFunc func(Handle)

// Runtime is the native side of the bridge: a retain/release-managed
// object world. All methods are safe for concurrent use.
//
// Retain and Release operate on the object's native reference count and
// must be called in matched pairs. Release of the last reference tears
// the object down and fires any registered deallocation observers.
type Runtime interface {
	// Retain increments the reference count of the object behind h.
	// Fails if h no longer refers to a live object.
	Retain(h Handle) error

	// Release decrements the reference count of the object behind h,
	// deallocating it when the count reaches zero.
	Release(h Handle) error

	// Alive reports whether h currently refers to a live object.
	Alive(h Handle) bool

	// RefCount returns the current native reference count for h.
	// The second result is false when h is not live.
	RefCount(h Handle) (uint32, bool)

	// AddDeallocObserver registers fn to run when the object behind h
	// is deallocated. The observer is owned by the native object and
	// fires exactly once. Fails if h is not live or the object cannot
	// carry auxiliary observers.
	AddDeallocObserver(h Handle, fn DeallocObserverFunc) error
}
