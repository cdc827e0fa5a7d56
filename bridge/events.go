package bridge

import (
	"github.com/objlink/objlink"
)

// EventType identifies a cache lifecycle event.
type EventType uint8

const (
	// EventWrapped fires when a cache miss constructs a new Instance.
	EventWrapped EventType = iota
	// EventEscalated fires when an entry transitions weak to strong.
	EventEscalated
	// EventEvicted fires when the GC reclaims a weak entry's wrapper.
	EventEvicted
	// EventRemoved fires when native deallocation tears an entry down.
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventWrapped:
		return "wrapped"
	case EventEscalated:
		return "escalated"
	case EventEvicted:
		return "evicted"
	case EventRemoved:
		return "removed"
	}
	return "unknown"
}

// Event describes one cache lifecycle transition. Seq identifies the
// cache entry generation, so observers can tell a rebuilt entry from
// the one a reused handle previously had.
type Event struct {
	Type   EventType
	Handle objlink.Handle
	Seq    uint64
}

// Observer receives cache lifecycle events. Callbacks may run on any
// goroutine, including the one inside a native Release call, and must
// not call back into the cache.
type Observer interface {
	OnCacheEvent(Event)
}
