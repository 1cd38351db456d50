package sse

import (
	"sync"

	"github.com/argus-sec/toolgate/internal/logger"
)

// Broker fans a single stream of events out to every currently
// connected subscriber. The /events stream is process-wide rather
// than per-session, so subscriptions are keyed by an opaque handle
// rather than a session ID.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	log         *logger.Logger
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int]chan Event),
		log:         logger.New("sse"),
	}
}

// Subscribe registers a new listener and returns its channel and an
// unsubscribe function the caller must defer.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 16)
	b.subscribers[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subscribers[id]; ok {
			close(ch)
			delete(b.subscribers, id)
		}
	}
}

// Publish sends event to every current subscriber without blocking;
// a full subscriber channel is drained of its oldest entry before the
// new event is pushed, so a slow reader loses history rather than
// stalling the publisher.
func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
				b.log.Warn("dropping event for subscriber %d: channel full", id)
			}
		}
	}
}
