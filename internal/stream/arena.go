package stream

// EntityID encodes a 32-bit slot index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on delete to invalidate stale ids.
type EntityID uint64

func newEntityID(index uint32, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

func (id EntityID) Index() uint32      { return uint32(id) }
func (id EntityID) Generation() uint32 { return uint32(id >> 32) }

// arena owns every StoredEntity of one streamer. Slots are reused through a
// free list; ids of deleted entities never resolve again.
type arena[D any, H any] struct {
	slots       []*StoredEntity[D, H]
	generations []uint32
	freeList    []uint32
	live        int
}

func newArena[D any, H any]() *arena[D, H] {
	return &arena[D, H]{
		slots:       make([]*StoredEntity[D, H], 0, 1024),
		generations: make([]uint32, 0, 1024),
		freeList:    make([]uint32, 0, 256),
	}
}

func (a *arena[D, H]) create(e *StoredEntity[D, H]) EntityID {
	var idx uint32
	if n := len(a.freeList); n > 0 {
		idx = a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.slots[idx] = e
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, e)
		a.generations = append(a.generations, 0)
	}
	a.live++
	e.ID = newEntityID(idx, a.generations[idx])
	return e.ID
}

func (a *arena[D, H]) get(id EntityID) (*StoredEntity[D, H], bool) {
	idx := id.Index()
	if int(idx) >= len(a.slots) || a.generations[idx] != id.Generation() {
		return nil, false
	}
	e := a.slots[idx]
	return e, e != nil
}

func (a *arena[D, H]) destroy(id EntityID) {
	idx := id.Index()
	if int(idx) >= len(a.slots) || a.generations[idx] != id.Generation() {
		return // stale
	}
	a.slots[idx] = nil
	a.generations[idx]++
	a.freeList = append(a.freeList, idx)
	a.live--
}

func (a *arena[D, H]) len() int { return a.live }

// each visits live entities in slot order.
func (a *arena[D, H]) each(fn func(*StoredEntity[D, H])) {
	for _, e := range a.slots {
		if e != nil {
			fn(e)
		}
	}
}
