package stream

import (
	"context"
	"sort"
	"time"

	"github.com/worldstream/server/internal/observer"
	"go.uber.org/zap"
)

// CycleStats describes one completed Stream cycle.
type CycleStats struct {
	Kind         string
	Cycle        uint64
	Observers    int
	Budget       int // per-observer selection budget
	Selected     int // sum of per-observer selections after rollback
	Materialized int // live entities once the cycle settled
	Buffered     int
	Created      int
	Destroyed    int
	Reclaimed    int
	Refused      int
	Failed       int
	Rebuilt      bool // index was rebuilt because too many inserts were pending
	Duration     time.Duration
}

// Stream runs one full cycle and returns once it has settled. A call made
// while another cycle is running returns ErrCycleInProgress without doing
// anything. The cycle itself is never cut short; ctx is only handed on to
// the Kind collaborator.
func (s *Streamer[D, H]) Stream(ctx context.Context) (CycleStats, error) {
	if !s.cycling.CompareAndSwap(false, true) {
		return CycleStats{}, ErrCycleInProgress
	}
	defer s.cycling.Store(false)

	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.totals
	st := CycleStats{Kind: s.cfg.Kind}

	if s.cfg.AutoOptimise > 0 && s.index.Pending() >= s.cfg.AutoOptimise {
		s.index.Rebuild()
		st.Rebuilt = true
	}

	// Phase 1: snapshot observers and select candidates.
	snap := s.observers.Snapshot()
	st.Observers = len(snap)
	st.Budget = s.cfg.budget(len(snap))
	picks := make([][]EntityID, len(snap))
	for i, o := range snap {
		picks[i] = s.index.QueryNearest(o.Pos, o.Scope, s.cfg.StreamingDistance, st.Budget)
	}

	// Phase 2: reconcile selections by set difference. Only reference counts
	// move here; transitions are decided on the net result below.
	touched := make(map[EntityID]int) // entity -> active refs before the cycle
	touch := func(e *StoredEntity[D, H]) {
		if _, ok := touched[e.ID]; !ok {
			touched[e.ID] = e.activeRefs
		}
	}
	present := make(map[observer.ID]struct{}, len(snap))
	for _, o := range snap {
		present[o.ID] = struct{}{}
	}
	for id, set := range s.held {
		if _, ok := present[id]; ok {
			continue
		}
		for eid := range set {
			if e, ok := s.entities.get(eid); ok {
				touch(e)
				e.activeRefs--
			}
		}
		delete(s.held, id)
	}

	var added []*StoredEntity[D, H] // newly selected, observer order then distance order
	for i, o := range snap {
		prev := s.held[o.ID]
		next := make(map[EntityID]struct{}, len(picks[i]))
		for _, eid := range picks[i] {
			e, ok := s.entities.get(eid)
			if !ok {
				continue
			}
			next[eid] = struct{}{}
			if _, had := prev[eid]; had {
				continue
			}
			touch(e)
			e.activeRefs++
			added = append(added, e)
		}
		for eid := range prev {
			if _, keep := next[eid]; keep {
				continue
			}
			if e, ok := s.entities.get(eid); ok {
				touch(e)
				e.activeRefs--
			}
		}
		s.held[o.ID] = next
	}

	// Phase 3: release entities whose references all went away, in id order
	// so buffer offers made in one cycle are ordered by id.
	var released []*StoredEntity[D, H]
	for eid := range touched {
		e, _ := s.entities.get(eid)
		if e.materialized && !e.wanted() {
			released = append(released, e)
		}
	}
	s.releaseAll(ctx, released)

	// Phase 4: re-referenced buffer entries are claimed back before any
	// reclaim can pick them.
	if s.buffer != nil {
		for _, e := range added {
			if e.materialized {
				s.buffer.Remove(e.ID)
			}
		}
	}

	// Phase 5: acquire. Slots come from free capacity first, then from the
	// oldest buffer entries; past that the entity is refused for this cycle.
	for _, e := range added {
		if e.materialized || e.activeRefs == 0 {
			continue
		}
		if !s.reserveSlot(ctx) {
			s.totals.Refused++
			s.rollback(e)
			continue
		}
		if err := s.materialize(ctx, e); err != nil {
			s.rollback(e)
		}
	}
	for eid, prevRefs := range touched {
		if e, ok := s.entities.get(eid); ok && prevRefs == 0 && e.activeRefs > 0 {
			e.totalRefs++
		}
	}

	// Phase 6: the ceiling must hold. Only a bookkeeping bug gets here.
	if s.materialized > s.cfg.MaxVisible {
		s.log.Error("materialized count above ceiling after cycle",
			zap.Int("materialized", s.materialized),
			zap.Int("max_visible", s.cfg.MaxVisible))
		for s.materialized > s.cfg.MaxVisible && s.buffer != nil && s.buffer.Len() > 0 {
			for _, id := range s.buffer.Reclaim(1) {
				if e, ok := s.entities.get(id); ok && e.materialized {
					s.dematerialize(ctx, e)
					s.totals.Reclaimed++
				}
			}
		}
	}

	s.cycles++
	for _, set := range s.held {
		st.Selected += len(set)
	}
	st.Cycle = s.cycles
	st.Materialized = s.materialized
	if s.buffer != nil {
		st.Buffered = s.buffer.Len()
	}
	st.Created = int(s.totals.Created - before.Created)
	st.Destroyed = int(s.totals.Destroyed - before.Destroyed)
	st.Reclaimed = int(s.totals.Reclaimed - before.Reclaimed)
	st.Refused = int(s.totals.Refused - before.Refused)
	st.Failed = int(s.totals.Failed - before.Failed)
	st.Duration = time.Since(start)
	s.last = st

	if s.cfg.CycleBudget > 0 && st.Duration > s.cfg.CycleBudget {
		s.log.Warn("stream cycle over budget",
			zap.Duration("took", st.Duration),
			zap.Duration("budget", s.cfg.CycleBudget),
			zap.Int("observers", st.Observers),
			zap.Int("entities", s.entities.len()))
	}
	if st.Refused > 0 {
		s.log.Warn("materializations refused at capacity",
			zap.Int("refused", st.Refused),
			zap.Int("max_visible", s.cfg.MaxVisible))
	}
	return st, nil
}

// rollback undoes every reference an entity gained in this cycle so it is
// not materialized and not held. It is selected again on a later cycle.
// Only called for entities that were not live, which means no observer
// held them before this cycle.
func (s *Streamer[D, H]) rollback(e *StoredEntity[D, H]) {
	for _, set := range s.held {
		delete(set, e.ID)
	}
	e.activeRefs = 0
}

// releaseAll releases entities in ascending id order.
func (s *Streamer[D, H]) releaseAll(ctx context.Context, es []*StoredEntity[D, H]) {
	sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
	for _, e := range es {
		s.release(ctx, e)
	}
}

// evaluate places a freshly added entity into the selections of observers
// that would pick it now: observers with spare budget take it outright,
// full observers swap it for their farthest held entity when it is nearer.
func (s *Streamer[D, H]) evaluate(ctx context.Context, e *StoredEntity[D, H]) {
	snap := s.observers.Snapshot()
	budget := s.cfg.budget(len(snap))
	if budget == 0 {
		return
	}
	r2 := s.cfg.StreamingDistance * s.cfg.StreamingDistance
	var released []*StoredEntity[D, H]
	for _, o := range snap {
		if !o.Scope.Sees(e.Scope) {
			continue
		}
		d2 := o.Pos.DistSq(e.Position)
		if d2 > r2 {
			continue
		}
		set := s.held[o.ID]
		if set == nil {
			set = make(map[EntityID]struct{})
			s.held[o.ID] = set
		}
		if len(set) >= budget {
			far, farD2 := s.farthest(o.Pos, set)
			if far == nil || !(candidate{id: e.ID, d2: d2}).before(candidate{id: far.ID, d2: farD2}) {
				continue
			}
			delete(set, far.ID)
			far.activeRefs--
			if far.materialized && !far.wanted() {
				released = append(released, far)
			}
		}
		set[e.ID] = struct{}{}
		e.activeRefs++
	}
	s.releaseAll(ctx, released)
	if e.activeRefs == 0 {
		return
	}
	if !s.reserveSlot(ctx) {
		s.totals.Refused++
		s.log.Warn("immediate evaluation refused at capacity",
			zap.Uint64("entity", uint64(e.ID)))
		s.rollback(e)
		return
	}
	if err := s.materialize(ctx, e); err != nil {
		s.rollback(e)
		return
	}
	e.totalRefs++
}

func (s *Streamer[D, H]) farthest(p Vec3, set map[EntityID]struct{}) (*StoredEntity[D, H], float64) {
	var (
		worst   *StoredEntity[D, H]
		worstD2 float64
	)
	for eid := range set {
		e, ok := s.entities.get(eid)
		if !ok {
			continue
		}
		d2 := p.DistSq(e.Position)
		if worst == nil || (candidate{id: worst.ID, d2: worstD2}).before(candidate{id: e.ID, d2: d2}) {
			worst, worstD2 = e, d2
		}
	}
	return worst, worstD2
}
