// Package registry tracks the on-screen position of every mounted thumbnail
// so transition consumers can find where an item is drawn.
package registry

import (
	"sync"

	"github.com/wethinkt/go-timegrid/internal/timeline"
)

// PositionFunc yields the current rectangle of a mounted item. It reports
// false when the item cannot be located any more.
type PositionFunc func() (timeline.Rect, bool)

// ChangeKind tells observers what happened to an entry.
type ChangeKind int

const (
	Registered ChangeKind = iota
	Unregistered
)

// Change is delivered to observers after the registry is updated.
type Change struct {
	Kind ChangeKind
	ID   string
}

type entry struct {
	fn PositionFunc
}

// Registry maps item ids to position getters. Entries only exist while the
// item's row is mounted; the registry never owns the items themselves.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	observers map[int]func(Change)
	nextObs   int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		entries:   make(map[string]*entry),
		observers: make(map[int]func(Change)),
	}
}

// Register installs fn for id, replacing any previous getter, and returns a
// function that removes it. The returned function only removes the entry it
// installed, so a stale unregister cannot drop a newer registration.
func (r *Registry) Register(id string, fn PositionFunc) func() {
	e := &entry{fn: fn}
	r.mu.Lock()
	r.entries[id] = e
	obs := r.snapshotObservers()
	r.mu.Unlock()
	notify(obs, Change{Kind: Registered, ID: id})

	var once sync.Once
	return func() {
		once.Do(func() { r.unregisterIf(id, e) })
	}
}

// Unregister removes the entry for id.
func (r *Registry) Unregister(id string) {
	r.unregisterIf(id, nil)
}

func (r *Registry) unregisterIf(id string, e *entry) {
	r.mu.Lock()
	cur, ok := r.entries[id]
	if !ok || (e != nil && cur != e) {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	obs := r.snapshotObservers()
	r.mu.Unlock()
	notify(obs, Change{Kind: Unregistered, ID: id})
}

// Retain drops every entry whose id is not in keep and returns the number
// of entries removed.
func (r *Registry) Retain(keep map[string]bool) int {
	r.mu.Lock()
	var removed []string
	for id := range r.entries {
		if !keep[id] {
			delete(r.entries, id)
			removed = append(removed, id)
		}
	}
	obs := r.snapshotObservers()
	r.mu.Unlock()
	for _, id := range removed {
		notify(obs, Change{Kind: Unregistered, ID: id})
	}
	return len(removed)
}

// Has reports whether id has a registered getter.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// PositionOf returns the current rectangle of id.
func (r *Registry) PositionOf(id string) (timeline.Rect, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok || e.fn == nil {
		return timeline.Rect{}, false
	}
	return e.fn()
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Subscribe registers an observer and returns its cancel function.
// Observers run synchronously on the goroutine that changed the registry.
func (r *Registry) Subscribe(fn func(Change)) func() {
	r.mu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// snapshotObservers must be called with mu held.
func (r *Registry) snapshotObservers() []func(Change) {
	if len(r.observers) == 0 {
		return nil
	}
	obs := make([]func(Change), 0, len(r.observers))
	for _, fn := range r.observers {
		obs = append(obs, fn)
	}
	return obs
}

func notify(obs []func(Change), c Change) {
	for _, fn := range obs {
		fn(c)
	}
}
