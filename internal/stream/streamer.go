// Package stream decides which of a large set of candidate entities are live
// on the engine at any moment.
//
// A Streamer owns every registered entity of one kind, a spatial index over
// their positions and an optional retention buffer. Each Stream call runs one
// full cycle: per-observer nearest-neighbour selection, reference
// reconciliation, then materialize/dematerialize calls through the Kind
// collaborator, never exceeding Config.MaxVisible live entities.
package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/worldstream/server/internal/observer"
	"go.uber.org/zap"
)

// Kind creates and destroys live engine instances of one entity kind.
// Calls may block; they are made from the goroutine running the streamer
// operation that needs them.
type Kind[D any, H any] interface {
	Materialize(ctx context.Context, desc D, pos Vec3, scope Scope) (H, error)
	Dematerialize(ctx context.Context, handle H) error
}

// Totals are lifetime counters of one streamer.
type Totals struct {
	Created   uint64 // successful Materialize calls
	Destroyed uint64 // Dematerialize calls, failed ones included
	Reclaimed uint64 // retention buffer evictions
	Refused   uint64 // materializations refused at the MaxVisible ceiling
	Failed    uint64 // collaborator errors
}

type Streamer[D any, H any] struct {
	cfg       Config
	kind      Kind[D, H]
	observers *observer.Registry
	log       *zap.Logger

	// mu guards all entity, selection and buffer state. A cycle holds it from
	// snapshot to settle, so registration calls wait for the cycle to finish.
	mu           sync.Mutex
	entities     *arena[D, H]
	index        *Index
	buffer       *RetentionBuffer // nil when LRU is off
	held         map[observer.ID]map[EntityID]struct{}
	materialized int
	totals       Totals
	cycles       uint64
	last         CycleStats

	cycling atomic.Bool
}

// New validates cfg and attaches the streamer to the observer registry.
func New[D any, H any](cfg Config, kind Kind[D, H], observers *observer.Registry, log *zap.Logger) (*Streamer[D, H], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if kind == nil {
		return nil, fmt.Errorf("%w: nil kind", ErrInvalidConfig)
	}
	if observers == nil {
		return nil, fmt.Errorf("%w: nil observer registry", ErrInvalidConfig)
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Streamer[D, H]{
		cfg:       cfg,
		kind:      kind,
		observers: observers,
		log:       log.With(zap.String("kind", cfg.Kind)),
		entities:  newArena[D, H](),
		index:     NewIndex(),
		held:      make(map[observer.ID]map[EntityID]struct{}, 64),
	}
	if cfg.LRU {
		s.buffer = NewRetentionBuffer()
	}
	observers.Attach(s)
	return s, nil
}

// Close detaches from the observer registry. Live entities are left alone.
func (s *Streamer[D, H]) Close() {
	s.observers.Detach(s)
}

func (s *Streamer[D, H]) Config() Config { return s.cfg }

// ObserverJoined implements observer.Listener.
func (s *Streamer[D, H]) ObserverJoined(id observer.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.held[id]; !ok {
		s.held[id] = make(map[EntityID]struct{})
	}
}

// ObserverLeft implements observer.Listener. Everything the observer was
// holding is released at once.
func (s *Streamer[D, H]) ObserverLeft(id observer.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropObserver(context.Background(), id)
}

// Add registers a candidate entity. With lazy set it is only indexed and
// first considered by the next cycle; otherwise it is evaluated against the
// current observers right away.
func (s *Streamer[D, H]) Add(ctx context.Context, desc D, pos Vec3, scope Scope, lazy bool) (EntityID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &StoredEntity[D, H]{Descriptor: desc, Position: pos, Scope: scope}
	id := s.entities.create(e)
	if err := s.index.Insert(id, pos, scope); err != nil {
		s.entities.destroy(id)
		return 0, err
	}
	if !lazy {
		s.evaluate(ctx, e)
	}
	return id, nil
}

// Delete retires an entity for good, dematerializing it whatever its pin
// or reference state.
func (s *Streamer[D, H]) Delete(ctx context.Context, id EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities.get(id)
	if !ok {
		return fmt.Errorf("delete %d: %w", id, ErrUnknownEntity)
	}
	if err := s.index.Remove(id); err != nil {
		return err
	}
	for _, set := range s.held {
		delete(set, id)
	}
	if s.buffer != nil {
		s.buffer.Remove(id)
	}
	e.activeRefs = 0
	e.pins = 0
	if e.materialized {
		s.dematerialize(ctx, e)
	}
	s.entities.destroy(id)
	return nil
}

// Pin holds an entity live regardless of observers. Pins nest; each Pin
// needs a matching Unpin.
func (s *Streamer[D, H]) Pin(ctx context.Context, id EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities.get(id)
	if !ok {
		return fmt.Errorf("pin %d: %w", id, ErrUnknownEntity)
	}
	if e.materialized {
		if s.buffer != nil {
			s.buffer.Remove(id)
		}
		e.pins++
		return nil
	}
	if !s.reserveSlot(ctx) {
		s.totals.Refused++
		s.log.Warn("pin refused at capacity",
			zap.Uint64("entity", uint64(id)),
			zap.Int("max_visible", s.cfg.MaxVisible))
		return fmt.Errorf("pin %d: %w", id, ErrCapacityExceeded)
	}
	if err := s.materialize(ctx, e); err != nil {
		return fmt.Errorf("pin %d: %w", id, err)
	}
	e.pins++
	return nil
}

// Unpin releases one pin. Once no pins and no references remain the entity
// is dematerialized, or parked in the retention buffer when LRU is on.
func (s *Streamer[D, H]) Unpin(ctx context.Context, id EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities.get(id)
	if !ok {
		return fmt.Errorf("unpin %d: %w", id, ErrUnknownEntity)
	}
	if e.pins == 0 {
		return fmt.Errorf("unpin %d: %w", id, ErrNotPinned)
	}
	e.pins--
	if !e.wanted() && e.materialized {
		s.release(ctx, e)
	}
	return nil
}

// Optimise rebuilds the spatial index. Call it after bulk lazy registration.
func (s *Streamer[D, H]) Optimise() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.Rebuild()
}

// Info returns a copy of an entity's bookkeeping.
func (s *Streamer[D, H]) Info(id EntityID) (EntityInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities.get(id)
	if !ok {
		return EntityInfo{}, fmt.Errorf("info %d: %w", id, ErrUnknownEntity)
	}
	return EntityInfo{
		ID:           e.ID,
		Position:     e.Position,
		Scope:        e.Scope,
		ActiveRefs:   e.activeRefs,
		TotalRefs:    e.totalRefs,
		Pinned:       e.pinned(),
		Materialized: e.materialized,
		Buffered:     s.buffer != nil && s.buffer.Contains(id),
	}, nil
}

// References returns the active and lifetime reference counts of an entity.
func (s *Streamer[D, H]) References(id EntityID) (active int, total uint64, err error) {
	info, err := s.Info(id)
	if err != nil {
		return 0, 0, err
	}
	return info.ActiveRefs, info.TotalRefs, nil
}

func (s *Streamer[D, H]) IsMaterialized(id EntityID) bool {
	info, err := s.Info(id)
	return err == nil && info.Materialized
}

func (s *Streamer[D, H]) IsPinned(id EntityID) bool {
	info, err := s.Info(id)
	return err == nil && info.Pinned
}

// Materialized returns how many entities are live, buffered ones included.
func (s *Streamer[D, H]) Materialized() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.materialized
}

// Buffered returns the retention buffer size.
func (s *Streamer[D, H]) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer == nil {
		return 0
	}
	return s.buffer.Len()
}

// Len returns the number of registered entities.
func (s *Streamer[D, H]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities.len()
}

func (s *Streamer[D, H]) ObserverCount() int { return s.observers.Len() }

func (s *Streamer[D, H]) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// LastCycle returns the stats of the most recently completed cycle.
func (s *Streamer[D, H]) LastCycle() CycleStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// --- lifecycle helpers; callers hold mu ---

func (s *Streamer[D, H]) materialize(ctx context.Context, e *StoredEntity[D, H]) error {
	h, err := s.kind.Materialize(ctx, e.Descriptor, e.Position, e.Scope)
	if err != nil {
		s.totals.Failed++
		s.log.Error("materialize failed",
			zap.Uint64("entity", uint64(e.ID)),
			zap.Error(err))
		return err
	}
	e.handle = h
	e.materialized = true
	s.materialized++
	s.totals.Created++
	return nil
}

// dematerialize always leaves the entity not materialized; a collaborator
// error means the handle is already gone or unusable.
func (s *Streamer[D, H]) dematerialize(ctx context.Context, e *StoredEntity[D, H]) {
	err := s.kind.Dematerialize(ctx, e.handle)
	var zero H
	e.handle = zero
	e.materialized = false
	s.materialized--
	s.totals.Destroyed++
	if err != nil {
		s.totals.Failed++
		s.log.Error("dematerialize failed",
			zap.Uint64("entity", uint64(e.ID)),
			zap.Error(err))
	}
}

// release handles an entity nobody wants any more.
func (s *Streamer[D, H]) release(ctx context.Context, e *StoredEntity[D, H]) {
	if s.buffer != nil {
		s.buffer.Offer(e.ID)
		return
	}
	s.dematerialize(ctx, e)
}

// reserveSlot makes room for one more live entity, evicting from the
// retention buffer if needed. It reports false when the ceiling is reached
// and nothing can be evicted.
func (s *Streamer[D, H]) reserveSlot(ctx context.Context) bool {
	for s.materialized >= s.cfg.MaxVisible {
		if s.buffer == nil || s.buffer.Len() == 0 {
			return false
		}
		for _, id := range s.buffer.Reclaim(1) {
			if e, ok := s.entities.get(id); ok && e.materialized {
				s.dematerialize(ctx, e)
				s.totals.Reclaimed++
			}
		}
	}
	return true
}

// dropObserver releases every reference held by an observer.
func (s *Streamer[D, H]) dropObserver(ctx context.Context, id observer.ID) {
	set, ok := s.held[id]
	if !ok {
		return
	}
	delete(s.held, id)
	released := make([]*StoredEntity[D, H], 0, len(set))
	for eid := range set {
		e, ok := s.entities.get(eid)
		if !ok {
			continue
		}
		e.activeRefs--
		if !e.wanted() && e.materialized {
			released = append(released, e)
		}
	}
	s.releaseAll(ctx, released)
}
