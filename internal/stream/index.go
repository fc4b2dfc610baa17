package stream

import (
	"container/heap"
	"fmt"
)

// Index answers "nearest entities within radius R of point P".
//
// Entities live in a static 3-d tree built by Rebuild plus an overflow list of
// inserts made since the last rebuild. Removals from the tree are tombstoned
// until the next rebuild. Bulk loads should insert everything and then call
// Rebuild once; queries stay correct (only slower) while the overflow grows.
type Index struct {
	entries    map[EntityID]indexItem
	tree       []indexItem
	tombstones map[EntityID]struct{}
	overflow   []indexItem
	overflowAt map[EntityID]int
}

type indexItem struct {
	id    EntityID
	pos   Vec3
	scope Scope
}

func NewIndex() *Index {
	return &Index{
		entries:    make(map[EntityID]indexItem, 1024),
		tombstones: make(map[EntityID]struct{}),
		overflowAt: make(map[EntityID]int, 256),
	}
}

// Len returns the number of indexed entities.
func (x *Index) Len() int { return len(x.entries) }

// Pending returns how many inserts are waiting for a Rebuild.
func (x *Index) Pending() int { return len(x.overflow) }

// Contains reports whether id is indexed.
func (x *Index) Contains(id EntityID) bool {
	_, ok := x.entries[id]
	return ok
}

// Insert adds an entity. Inserting an id twice is an error.
func (x *Index) Insert(id EntityID, pos Vec3, scope Scope) error {
	if _, ok := x.entries[id]; ok {
		return fmt.Errorf("index insert %d: %w", id, ErrDuplicateEntity)
	}
	it := indexItem{id: id, pos: pos, scope: scope}
	x.entries[id] = it
	x.overflowAt[id] = len(x.overflow)
	x.overflow = append(x.overflow, it)
	return nil
}

// Remove drops an entity from the index.
func (x *Index) Remove(id EntityID) error {
	if _, ok := x.entries[id]; !ok {
		return fmt.Errorf("index remove %d: %w", id, ErrUnknownEntity)
	}
	delete(x.entries, id)
	if i, ok := x.overflowAt[id]; ok {
		last := len(x.overflow) - 1
		if i != last {
			moved := x.overflow[last]
			x.overflow[i] = moved
			x.overflowAt[moved.id] = i
		}
		x.overflow = x.overflow[:last]
		delete(x.overflowAt, id)
		return nil
	}
	x.tombstones[id] = struct{}{}
	return nil
}

// Rebuild folds pending inserts and removals into a fresh tree. O(n log n).
func (x *Index) Rebuild() {
	tree := x.tree[:0]
	if cap(tree) < len(x.entries) {
		tree = make([]indexItem, 0, len(x.entries))
	}
	for _, it := range x.entries {
		tree = append(tree, it)
	}
	buildTree(tree, 0)
	x.tree = tree
	x.overflow = x.overflow[:0]
	clear(x.overflowAt)
	clear(x.tombstones)
}

// buildTree arranges items so that the median of every range on its axis sits
// at the range midpoint, with smaller coordinates to the left.
func buildTree(items []indexItem, depth int) {
	if len(items) <= 1 {
		return
	}
	axis := depth % 3
	mid := len(items) / 2
	selectNth(items, mid, axis)
	buildTree(items[:mid], depth+1)
	buildTree(items[mid+1:], depth+1)
}

func itemLess(a, b indexItem, axis int) bool {
	av, bv := a.pos.Axis(axis), b.pos.Axis(axis)
	if av != bv {
		return av < bv
	}
	return a.id < b.id
}

// selectNth partially sorts items so items[k] is the k-th smallest on axis
// (quickselect, median-of-three pivot).
func selectNth(items []indexItem, k, axis int) {
	lo, hi := 0, len(items)-1
	for lo < hi {
		m := lo + (hi-lo)/2
		if itemLess(items[m], items[lo], axis) {
			items[m], items[lo] = items[lo], items[m]
		}
		if itemLess(items[hi], items[lo], axis) {
			items[hi], items[lo] = items[lo], items[hi]
		}
		if itemLess(items[hi], items[m], axis) {
			items[hi], items[m] = items[m], items[hi]
		}
		pivot := items[m]
		i, j := lo, hi
		for i <= j {
			for itemLess(items[i], pivot, axis) {
				i++
			}
			for itemLess(pivot, items[j], axis) {
				j--
			}
			if i <= j {
				items[i], items[j] = items[j], items[i]
				i++
				j--
			}
		}
		switch {
		case k <= j:
			hi = j
		case k >= i:
			lo = i
		default:
			return
		}
	}
}

// QueryNearest returns up to limit entities visible from scope within radius
// of p, nearest first. Equal distances are ordered by ascending id.
func (x *Index) QueryNearest(p Vec3, scope Scope, radius float64, limit int) []EntityID {
	if limit <= 0 || !(radius > 0) {
		return nil
	}
	q := nearestQuery{
		p:     p,
		scope: scope,
		r2:    radius * radius,
		limit: limit,
		tomb:  x.tombstones,
		best:  make(candidateHeap, 0, min(limit, 64)),
	}
	q.searchTree(x.tree, 0)
	for _, it := range x.overflow {
		q.offer(it)
	}
	out := make([]EntityID, len(q.best))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&q.best).(candidate).id
	}
	return out
}

type nearestQuery struct {
	p     Vec3
	scope Scope
	r2    float64
	limit int
	tomb  map[EntityID]struct{}
	best  candidateHeap
}

// bound is the squared distance a candidate must not exceed to be kept.
func (q *nearestQuery) bound() float64 {
	if len(q.best) < q.limit {
		return q.r2
	}
	return q.best[0].d2
}

func (q *nearestQuery) offer(it indexItem) {
	if !q.scope.Sees(it.scope) {
		return
	}
	d2 := q.p.DistSq(it.pos)
	if d2 > q.r2 {
		return
	}
	c := candidate{id: it.id, d2: d2}
	if len(q.best) < q.limit {
		heap.Push(&q.best, c)
		return
	}
	if c.before(q.best[0]) {
		q.best[0] = c
		heap.Fix(&q.best, 0)
	}
}

func (q *nearestQuery) searchTree(items []indexItem, depth int) {
	if len(items) == 0 {
		return
	}
	mid := len(items) / 2
	node := items[mid]
	if _, dead := q.tomb[node.id]; !dead {
		q.offer(node)
	}
	axis := depth % 3
	diff := q.p.Axis(axis) - node.pos.Axis(axis)
	near, far := items[:mid], items[mid+1:]
	if diff > 0 {
		near, far = far, near
	}
	q.searchTree(near, depth+1)
	if diff*diff <= q.bound() {
		q.searchTree(far, depth+1)
	}
}

type candidate struct {
	id EntityID
	d2 float64
}

func (c candidate) before(o candidate) bool {
	if c.d2 != o.d2 {
		return c.d2 < o.d2
	}
	return c.id < o.id
}

// candidateHeap is a max-heap: the worst kept candidate sits at index 0.
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[j].before(h[i]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(v any)        { *h = append(*h, v.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
