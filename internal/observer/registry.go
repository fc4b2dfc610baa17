// Package observer tracks the connected observers whose positions drive
// streaming. One Registry feeds every streamer; each streamer keeps its own
// per-observer selections and learns about joins and leaves as a Listener.
package observer

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/worldstream/server/internal/geom"
)

var (
	ErrObserverExists  = errors.New("observer already registered")
	ErrUnknownObserver = errors.New("unknown observer")
)

// ID identifies an observer, normally the network session id.
type ID uint64

// Observer is a copy of one observer's last known state.
type Observer struct {
	ID    ID
	Pos   geom.Vec3
	Scope geom.Scope
}

// Listener is notified of registry membership changes. Callbacks run
// synchronously on the goroutine that changed the registry, after the
// registry lock is released.
type Listener interface {
	ObserverJoined(id ID)
	ObserverLeft(id ID)
}

type Registry struct {
	mu        sync.RWMutex
	observers map[ID]*Observer
	listeners []Listener
}

func NewRegistry() *Registry {
	return &Registry{
		observers: make(map[ID]*Observer, 64),
	}
}

// Attach registers l and replays ObserverJoined for everyone already present.
func (r *Registry) Attach(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	ids := r.sortedIDsLocked()
	r.mu.Unlock()
	for _, id := range ids {
		l.ObserverJoined(id)
	}
}

// Detach removes l. It is not told about anyone leaving.
func (r *Registry) Detach(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.listeners {
		if x == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *Registry) Join(id ID, pos geom.Vec3, scope geom.Scope) error {
	r.mu.Lock()
	if _, ok := r.observers[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("join %d: %w", id, ErrObserverExists)
	}
	r.observers[id] = &Observer{ID: id, Pos: pos, Scope: scope}
	ls := r.listenersLocked()
	r.mu.Unlock()
	for _, l := range ls {
		l.ObserverJoined(id)
	}
	return nil
}

// Move updates a position. The next stream cycle picks it up.
func (r *Registry) Move(id ID, pos geom.Vec3, scope geom.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.observers[id]
	if !ok {
		return fmt.Errorf("move %d: %w", id, ErrUnknownObserver)
	}
	o.Pos = pos
	o.Scope = scope
	return nil
}

func (r *Registry) Leave(id ID) error {
	r.mu.Lock()
	if _, ok := r.observers[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("leave %d: %w", id, ErrUnknownObserver)
	}
	delete(r.observers, id)
	ls := r.listenersLocked()
	r.mu.Unlock()
	for _, l := range ls {
		l.ObserverLeft(id)
	}
	return nil
}

func (r *Registry) Get(id ID) (Observer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.observers[id]
	if !ok {
		return Observer{}, false
	}
	return *o, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// Snapshot copies every observer, ordered by ascending id.
func (r *Registry) Snapshot() []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) sortedIDsLocked() []ID {
	ids := make([]ID, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) listenersLocked() []Listener {
	return append([]Listener(nil), r.listeners...)
}
