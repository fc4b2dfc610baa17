// Package engine is the in-process stand-in for the game engine's entity
// pool. Each entity kind gets a Slots pool with a hard instance ceiling of
// its own, independent of the streamer's MaxVisible.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/worldstream/server/internal/geom"
	"github.com/worldstream/server/internal/stream"
)

// Handle identifies a live instance inside one Slots pool.
type Handle uint32

// Instance is one live engine entity.
type Instance[D any] struct {
	Handle Handle
	Desc   D
	Pos    geom.Vec3
	Scope  geom.Scope
}

// View is a kind-erased copy of an instance, used for pushing spawns to
// observers.
type View struct {
	Kind   string    `json:"kind"`
	Handle Handle    `json:"handle"`
	Pos    geom.Vec3 `json:"pos"`
	Desc   any       `json:"desc"`
}

// Viewer is implemented by every Slots pool regardless of descriptor type.
type Viewer interface {
	Kind() string
	Nearby(p geom.Vec3, scope geom.Scope, radius float64) []View
}

// Slots implements stream.Kind[D, Handle]. Safe for concurrent use: the
// streamer driver materializes while the game loop reads views.
type Slots[D any] struct {
	kind  string
	limit int

	mu   sync.Mutex
	next Handle
	live map[Handle]*Instance[D]
	grid *grid

	// OnChange, when set, is called after every successful spawn (live=true)
	// or despawn, outside the lock.
	OnChange func(h Handle, live bool)
}

// NewSlots creates a pool holding at most limit instances; 0 means no
// limit. cellSize sizes the proximity grid and is normally the streaming
// distance of the kind.
func NewSlots[D any](kind string, limit int, cellSize float64) *Slots[D] {
	return &Slots[D]{
		kind:  kind,
		limit: limit,
		live:  make(map[Handle]*Instance[D], 256),
		grid:  newGrid(cellSize),
	}
}

func (s *Slots[D]) Kind() string { return s.kind }

// Materialize spawns an instance. It fails with stream.ErrEngineCapacityExceeded
// when the pool is full.
func (s *Slots[D]) Materialize(ctx context.Context, desc D, pos geom.Vec3, scope geom.Scope) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	if s.limit > 0 && len(s.live) >= s.limit {
		s.mu.Unlock()
		return 0, fmt.Errorf("%s pool at %d: %w", s.kind, s.limit, stream.ErrEngineCapacityExceeded)
	}
	s.next++
	h := s.next
	s.live[h] = &Instance[D]{Handle: h, Desc: desc, Pos: pos, Scope: scope}
	s.grid.add(h, pos)
	hook := s.OnChange
	s.mu.Unlock()
	if hook != nil {
		hook(h, true)
	}
	return h, nil
}

// Dematerialize despawns an instance. Unknown or already freed handles fail
// with stream.ErrUnknownHandle.
func (s *Slots[D]) Dematerialize(_ context.Context, h Handle) error {
	s.mu.Lock()
	inst, ok := s.live[h]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s handle %d: %w", s.kind, h, stream.ErrUnknownHandle)
	}
	delete(s.live, h)
	s.grid.remove(h, inst.Pos)
	hook := s.OnChange
	s.mu.Unlock()
	if hook != nil {
		hook(h, false)
	}
	return nil
}

// Live returns the number of spawned instances.
func (s *Slots[D]) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Slots[D]) Get(h Handle) (Instance[D], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.live[h]
	if !ok {
		return Instance[D]{}, false
	}
	return *inst, true
}

// Nearby returns the live instances within radius of p that scope can see,
// ordered by handle.
func (s *Slots[D]) Nearby(p geom.Vec3, scope geom.Scope, radius float64) []View {
	s.mu.Lock()
	defer s.mu.Unlock()
	r2 := radius * radius
	var out []View
	s.grid.around(p, radius, func(h Handle) {
		inst := s.live[h]
		if !scope.Sees(inst.Scope) || p.DistSq(inst.Pos) > r2 {
			return
		}
		out = append(out, View{Kind: s.kind, Handle: h, Pos: inst.Pos, Desc: inst.Desc})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}
