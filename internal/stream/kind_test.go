package stream

import (
	"context"
	"fmt"
	"testing"

	"github.com/worldstream/server/internal/observer"
	"go.uber.org/zap"
)

type testDesc struct {
	Model int
}

// fakeKind records engine calls and can be told to fail.
type fakeKind struct {
	next     int
	live     map[int]testDesc
	limit    int // engine-side slot limit; 0 = unlimited
	failNext int // fail this many upcoming Materialize calls
	created  int
	removed  int
	block    chan struct{} // when set, Materialize signals entered then waits
	entered  chan struct{}
}

func newFakeKind() *fakeKind {
	return &fakeKind{live: make(map[int]testDesc)}
}

func (k *fakeKind) Materialize(_ context.Context, d testDesc, _ Vec3, _ Scope) (int, error) {
	if k.block != nil {
		k.entered <- struct{}{}
		<-k.block
	}
	if k.failNext > 0 {
		k.failNext--
		return 0, fmt.Errorf("model %d: %w", d.Model, ErrEngineCapacityExceeded)
	}
	if k.limit > 0 && len(k.live) >= k.limit {
		return 0, ErrEngineCapacityExceeded
	}
	k.next++
	k.live[k.next] = d
	k.created++
	return k.next, nil
}

func (k *fakeKind) Dematerialize(_ context.Context, h int) error {
	if _, ok := k.live[h]; !ok {
		return ErrUnknownHandle
	}
	delete(k.live, h)
	k.removed++
	return nil
}

type fixture struct {
	t    *testing.T
	reg  *observer.Registry
	kind *fakeKind
	s    *Streamer[testDesc, int]
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	reg := observer.NewRegistry()
	kind := newFakeKind()
	s, err := New[testDesc, int](cfg, kind, reg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{t: t, reg: reg, kind: kind, s: s}
}

func testConfig(maxVisible int, ratio float64, lru bool) Config {
	cfg := DefaultConfig("test")
	cfg.MaxVisible = maxVisible
	cfg.SaturationRatio = ratio
	cfg.StreamingDistance = 300
	cfg.LRU = lru
	cfg.CycleBudget = 0
	return cfg
}

func (f *fixture) join(id observer.ID, pos Vec3) {
	f.t.Helper()
	if err := f.reg.Join(id, pos, Scope{}); err != nil {
		f.t.Fatalf("join %d: %v", id, err)
	}
}

func (f *fixture) move(id observer.ID, pos Vec3) {
	f.t.Helper()
	if err := f.reg.Move(id, pos, Scope{}); err != nil {
		f.t.Fatalf("move %d: %v", id, err)
	}
}

func (f *fixture) add(pos Vec3, lazy bool) EntityID {
	f.t.Helper()
	id, err := f.s.Add(context.Background(), testDesc{Model: 1}, pos, Everywhere, lazy)
	if err != nil {
		f.t.Fatalf("add: %v", err)
	}
	return id
}

func (f *fixture) stream() CycleStats {
	f.t.Helper()
	st, err := f.s.Stream(context.Background())
	if err != nil {
		f.t.Fatalf("stream: %v", err)
	}
	f.checkInvariants()
	return st
}

func (f *fixture) info(id EntityID) EntityInfo {
	f.t.Helper()
	info, err := f.s.Info(id)
	if err != nil {
		f.t.Fatalf("info %d: %v", id, err)
	}
	return info
}

// checkInvariants verifies the ceiling and the materialized/wanted relation
// for every entity, and that the engine agrees with the streamer.
func (f *fixture) checkInvariants() {
	f.t.Helper()
	s := f.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.materialized > s.cfg.MaxVisible {
		f.t.Fatalf("materialized=%d above max_visible=%d", s.materialized, s.cfg.MaxVisible)
	}
	count := 0
	s.entities.each(func(e *StoredEntity[testDesc, int]) {
		if e.activeRefs < 0 {
			f.t.Fatalf("entity %d activeRefs=%d", e.ID, e.activeRefs)
		}
		buffered := s.buffer != nil && s.buffer.Contains(e.ID)
		if e.wanted() && !e.materialized {
			f.t.Fatalf("entity %d wanted but not materialized", e.ID)
		}
		if e.materialized && !e.wanted() && !buffered {
			f.t.Fatalf("entity %d materialized, unreferenced and not buffered", e.ID)
		}
		if e.materialized {
			count++
		}
	})
	if count != s.materialized {
		f.t.Fatalf("materialized counter=%d, entities say %d", s.materialized, count)
	}
	if len(f.kind.live) != s.materialized {
		f.t.Fatalf("engine live=%d, streamer materialized=%d", len(f.kind.live), s.materialized)
	}
}
