package stream

import (
	"errors"
	"math/rand"
	"sort"
	"testing"
)

func bruteNearest(items []indexItem, p Vec3, scope Scope, radius float64, limit int) []EntityID {
	var cs []candidate
	for _, it := range items {
		if !scope.Sees(it.scope) {
			continue
		}
		d2 := p.DistSq(it.pos)
		if d2 <= radius*radius {
			cs = append(cs, candidate{id: it.id, d2: d2})
		}
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].before(cs[j]) })
	if len(cs) > limit {
		cs = cs[:limit]
	}
	out := make([]EntityID, len(cs))
	for i, c := range cs {
		out[i] = c.id
	}
	return out
}

func sameIDs(a, b []EntityID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestIndex_EmptyQuery(t *testing.T) {
	x := NewIndex()
	if got := x.QueryNearest(Vec3{}, Scope{}, 100, 10); len(got) != 0 {
		t.Fatalf("empty index returned %v", got)
	}
	if err := x.Insert(1, Vec3{X: 500}, Everywhere); err != nil {
		t.Fatal(err)
	}
	if got := x.QueryNearest(Vec3{}, Scope{}, 100, 10); len(got) != 0 {
		t.Fatalf("out of range returned %v", got)
	}
	if got := x.QueryNearest(Vec3{}, Scope{}, 1000, 0); len(got) != 0 {
		t.Fatalf("zero limit returned %v", got)
	}
}

func TestIndex_TiesBrokenByID(t *testing.T) {
	x := NewIndex()
	for _, id := range []EntityID{9, 3, 7, 1} {
		if err := x.Insert(id, Vec3{X: 10}, Everywhere); err != nil {
			t.Fatal(err)
		}
	}
	if err := x.Insert(5, Vec3{X: 1}, Everywhere); err != nil {
		t.Fatal(err)
	}
	want := []EntityID{5, 1, 3, 7}
	if got := x.QueryNearest(Vec3{}, Scope{}, 50, 4); !sameIDs(got, want) {
		t.Fatalf("pending: got=%v want=%v", got, want)
	}
	x.Rebuild()
	if got := x.QueryNearest(Vec3{}, Scope{}, 50, 4); !sameIDs(got, want) {
		t.Fatalf("rebuilt: got=%v want=%v", got, want)
	}
}

func TestIndex_DuplicateAndUnknown(t *testing.T) {
	x := NewIndex()
	if err := x.Insert(1, Vec3{}, Everywhere); err != nil {
		t.Fatal(err)
	}
	if err := x.Insert(1, Vec3{}, Everywhere); !errors.Is(err, ErrDuplicateEntity) {
		t.Fatalf("duplicate insert: err=%v", err)
	}
	if err := x.Remove(2); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("unknown remove: err=%v", err)
	}
}

func TestIndex_RemoveBeforeAndAfterRebuild(t *testing.T) {
	x := NewIndex()
	for i := EntityID(1); i <= 4; i++ {
		if err := x.Insert(i, Vec3{X: float64(i)}, Everywhere); err != nil {
			t.Fatal(err)
		}
	}
	x.Rebuild()
	if err := x.Remove(2); err != nil {
		t.Fatal(err)
	}
	if err := x.Insert(5, Vec3{X: 0.5}, Everywhere); err != nil {
		t.Fatal(err)
	}
	if err := x.Insert(6, Vec3{X: 0.6}, Everywhere); err != nil {
		t.Fatal(err)
	}
	if err := x.Remove(5); err != nil {
		t.Fatal(err)
	}
	want := []EntityID{6, 1, 3, 4}
	if got := x.QueryNearest(Vec3{}, Scope{}, 100, 10); !sameIDs(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
	if x.Len() != 4 || x.Pending() != 1 {
		t.Fatalf("len=%d pending=%d", x.Len(), x.Pending())
	}
	x.Rebuild()
	if got := x.QueryNearest(Vec3{}, Scope{}, 100, 10); !sameIDs(got, want) {
		t.Fatalf("after rebuild got=%v want=%v", got, want)
	}
}

func TestIndex_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	x := NewIndex()
	var items []indexItem
	for i := 1; i <= 3000; i++ {
		it := indexItem{
			id: EntityID(i),
			pos: Vec3{
				X: rng.Float64()*2000 - 1000,
				Y: rng.Float64()*2000 - 1000,
				Z: float64(rng.Intn(4)) * 10, // many equal Z values
			},
			scope: Scope{Interior: int32(rng.Intn(3)) - 1, World: 0},
		}
		items = append(items, it)
		if err := x.Insert(it.id, it.pos, it.scope); err != nil {
			t.Fatal(err)
		}
		if i == 2000 {
			x.Rebuild() // last 1000 stay in the overflow list
		}
	}
	for q := 0; q < 200; q++ {
		p := Vec3{X: rng.Float64()*2000 - 1000, Y: rng.Float64()*2000 - 1000, Z: 10}
		scope := Scope{Interior: int32(rng.Intn(2)), World: 0}
		radius := 50 + rng.Float64()*300
		limit := 1 + rng.Intn(40)
		got := x.QueryNearest(p, scope, radius, limit)
		want := bruteNearest(items, p, scope, radius, limit)
		if !sameIDs(got, want) {
			t.Fatalf("query %d: got=%v want=%v", q, got, want)
		}
	}
}
