package auth

import (
	"sync"

	"github.com/google/uuid"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
)

// Broadcaster fans pushed session events out to subscribed listeners.
// Listeners run on the emitting goroutine, outside the lock, so a listener may
// unsubscribe itself.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[uuid.UUID]Listener
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[uuid.UUID]Listener),
	}
}

func (b *Broadcaster) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	id := uuid.New()

	b.mu.Lock()
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *Broadcaster) Emit(session *sessions.Session, kind EventKind) {
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		l(session, kind)
	}
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
