package server

import (
	"sync"
	"time"

	"github.com/wethinkt/go-timegrid/internal/api"
	"github.com/wethinkt/go-timegrid/internal/timeline"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// Hub fans library change events out to event stream subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch     chan api.Event
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel of events. Call the returned function to
// unsubscribe and close the channel.
func (h *Hub) Subscribe() (<-chan api.Event, func()) {
	sub := &subscriber{ch: make(chan api.Event, 64)}

	h.mu.Lock()
	if h.closed {
		sub.closed = true
		close(sub.ch)
	} else {
		h.subs[sub] = struct{}{}
	}
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, sub)
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	return sub.ch, unsub
}

// Publish sends ev to every subscriber. Slow consumers whose buffers are
// full miss the event.
func (h *Hub) Publish(ev api.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	eventsPublishedTotal.WithLabelValues(string(ev.Type)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			eventsDroppedTotal.Inc()
			tuilog.Log.Warn("dropping event for slow subscriber", "type", ev.Type)
		}
	}
}

// BucketsChanged publishes a buckets_changed event for keys.
func (h *Hub) BucketsChanged(keys []timeline.BucketKey) {
	if len(keys) == 0 {
		return
	}
	h.Publish(api.Event{Type: api.EventBucketsChanged, Keys: keys})
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later subscriptions are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		delete(h.subs, sub)
	}
}
