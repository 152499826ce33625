package presence

import (
	"sync"

	"peerlink/internal/core/domain"
)

// Bus is an in-process pub/sub keyed by organization ID. It stands in for
// a browser broadcast channel: every subscriber on the same topic sees
// every published message exactly once per emission.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.OrganizationID]map[int]func(domain.PresenceMessage)
	nextID int
}

// Subscription is a cancellable handle to a bus listener.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Cancel removes the listener. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[domain.OrganizationID]map[int]func(domain.PresenceMessage)),
	}
}

// Subscribe installs fn for messages scoped to orgID and returns a handle
// to dispose it.
func (b *Bus) Subscribe(orgID domain.OrganizationID, fn func(domain.PresenceMessage)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	if b.subs[orgID] == nil {
		b.subs[orgID] = make(map[int]func(domain.PresenceMessage))
	}
	b.subs[orgID][id] = fn

	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[orgID], id)
	}}
}

// Publish delivers msg to every listener subscribed to msg's organization.
// Listeners run on the publisher's goroutine; they are expected to be
// short or to hand off to their own goroutine.
func (b *Bus) Publish(msg domain.PresenceMessage) {
	b.mu.RLock()
	listeners := make([]func(domain.PresenceMessage), 0, len(b.subs[msg.OrganizationID]))
	for _, fn := range b.subs[msg.OrganizationID] {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(msg)
	}
}
