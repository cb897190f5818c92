package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies repository lifecycle events.
type EventKind string

const (
	// EventAny subscribes to every kind.
	EventAny          EventKind = "any"
	EventRegistered   EventKind = "registered"
	EventUpdated      EventKind = "updated"
	EventUnregistered EventKind = "unregistered"
)

// MaxEventChain caps the number of events reachable through Previous,
// counting the event itself.
const MaxEventChain = 16

// Event describes a change to a repository. Previous links to the event that
// caused this one, if any.
type Event struct {
	ID           uuid.UUID
	Kind         EventKind
	Source       any
	RepositoryID string
	Repository   *Repository
	Previous     *Event
	Time         time.Time
}

// NewEvent creates an event raised by source. The chain behind previous is
// cut so that at most MaxEventChain events are reachable from the result.
func NewEvent(kind EventKind, source any, repo *Repository, previous *Event) *Event {
	ev := &Event{
		ID:       uuid.New(),
		Kind:     kind,
		Source:   source,
		Previous: truncateChain(previous, MaxEventChain-1),
		Time:     time.Now(),
	}
	if repo != nil {
		ev.RepositoryID = repo.ID()
		ev.Repository = repo
	}
	return ev
}

// Depth returns the number of events in the chain starting at e.
func (e *Event) Depth() int {
	n := 0
	for cur := e; cur != nil && n <= MaxEventChain; cur = cur.Previous {
		n++
	}
	return n
}

func truncateChain(ev *Event, n int) *Event {
	if ev == nil || n <= 0 {
		return nil
	}
	if ev.Depth() <= n {
		return ev
	}
	cp := *ev
	cp.Previous = truncateChain(ev.Previous, n-1)
	return &cp
}

// SameOriginator reports whether source raised ev or any event in its chain.
// At most MaxEventChain events are inspected.
func SameOriginator(ev *Event, source any) bool {
	i := 0
	for cur := ev; cur != nil && i < MaxEventChain; cur = cur.Previous {
		if cur.Source == source {
			return true
		}
		i++
	}
	return false
}

// EventHandler receives events. Handlers run synchronously on the goroutine
// that published the event.
type EventHandler func(ev *Event)

// Subscription identifies a registered handler.
type Subscription struct {
	id   uuid.UUID
	kind EventKind
}

type subscriber struct {
	sub     Subscription
	handler EventHandler
}

// EventBus dispatches events to handlers in registration order.
type EventBus struct {
	mu   sync.RWMutex
	subs []subscriber
}

// Register adds a handler for kind. EventAny receives everything.
func (b *EventBus) Register(kind EventKind, h EventHandler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := Subscription{id: uuid.New(), kind: kind}
	b.subs = append(b.subs, subscriber{sub: sub, handler: h})
	return sub
}

// Unregister removes a handler and reports whether it was registered.
func (b *EventBus) Unregister(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.sub == sub {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers ev to the matching handlers. Handlers may register or
// unregister during delivery; the change applies to later events.
func (b *EventBus) Publish(ev *Event) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.sub.kind == EventAny || s.sub.kind == ev.Kind {
			s.handler(ev)
		}
	}
}
