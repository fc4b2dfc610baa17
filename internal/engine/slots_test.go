package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/worldstream/server/internal/geom"
	"github.com/worldstream/server/internal/observer"
	"github.com/worldstream/server/internal/stream"
)

var _ stream.Kind[string, Handle] = (*Slots[string])(nil)

func TestSlots_LimitAndUnknownHandle(t *testing.T) {
	ctx := context.Background()
	s := NewSlots[string]("prop", 2, 50)
	h1, err := s.Materialize(ctx, "a", geom.Vec3{}, geom.Everywhere)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Materialize(ctx, "b", geom.Vec3{X: 10}, geom.Everywhere); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Materialize(ctx, "c", geom.Vec3{}, geom.Everywhere); !errors.Is(err, stream.ErrEngineCapacityExceeded) {
		t.Fatalf("third spawn err=%v", err)
	}
	if err := s.Dematerialize(ctx, h1); err != nil {
		t.Fatal(err)
	}
	if err := s.Dematerialize(ctx, h1); !errors.Is(err, stream.ErrUnknownHandle) {
		t.Fatalf("double free err=%v", err)
	}
	if s.Live() != 1 {
		t.Fatalf("live=%d want=1", s.Live())
	}
}

func TestSlots_NearbyFiltersDistanceAndScope(t *testing.T) {
	ctx := context.Background()
	s := NewSlots[string]("prop", 0, 20)
	near, _ := s.Materialize(ctx, "near", geom.Vec3{X: 5, Y: 5}, geom.Everywhere)
	_, _ = s.Materialize(ctx, "far", geom.Vec3{X: 500}, geom.Everywhere)
	_, _ = s.Materialize(ctx, "indoors", geom.Vec3{X: -3}, geom.Scope{Interior: 4, World: geom.AllScopes})
	edge, _ := s.Materialize(ctx, "edge", geom.Vec3{X: -59.5}, geom.Scope{Interior: 0, World: 0})

	got := s.Nearby(geom.Vec3{}, geom.Scope{}, 60)
	if len(got) != 2 || got[0].Handle != near || got[1].Handle != edge {
		t.Fatalf("nearby=%+v", got)
	}
	if got[0].Kind != "prop" || got[0].Desc.(string) != "near" {
		t.Fatalf("view=%+v", got[0])
	}

	indoors := s.Nearby(geom.Vec3{}, geom.Scope{Interior: 4}, 60)
	if len(indoors) != 2 {
		t.Fatalf("indoor nearby=%d want=2", len(indoors))
	}
}

func TestSlots_OnChangeHook(t *testing.T) {
	ctx := context.Background()
	s := NewSlots[int]("npc", 0, 100)
	var spawned, despawned int
	s.OnChange = func(_ Handle, live bool) {
		if live {
			spawned++
		} else {
			despawned++
		}
	}
	h, _ := s.Materialize(ctx, 1, geom.Vec3{}, geom.Everywhere)
	_ = s.Dematerialize(ctx, h)
	_ = s.Dematerialize(ctx, h)
	if spawned != 1 || despawned != 1 {
		t.Fatalf("spawned=%d despawned=%d", spawned, despawned)
	}
}

func TestSlots_DrivenByStreamer(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	cfg := stream.DefaultConfig("npc")
	cfg.MaxVisible = 10
	cfg.SaturationRatio = 1
	cfg.StreamingDistance = 100
	slots := NewSlots[int]("npc", 3, 100)
	s, err := stream.New[int, Handle](cfg, slots, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Add(ctx, i, geom.Vec3{X: float64(i)}, geom.Everywhere, true); err != nil {
			t.Fatal(err)
		}
	}
	st, err := s.Stream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if slots.Live() != 3 || st.Materialized != 3 || st.Failed != 2 {
		t.Fatalf("live=%d stats=%+v", slots.Live(), st)
	}
}

func newRegistry(t *testing.T) *observer.Registry {
	t.Helper()
	reg := observer.NewRegistry()
	if err := reg.Join(1, geom.Vec3{}, geom.Scope{}); err != nil {
		t.Fatal(err)
	}
	return reg
}
