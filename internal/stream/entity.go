package stream

// StoredEntity is the streamer's record of one candidate entity.
// The descriptor is supplied at registration and never modified.
type StoredEntity[D any, H any] struct {
	ID         EntityID
	Descriptor D
	Position   Vec3
	Scope      Scope

	activeRefs   int
	totalRefs    uint64
	pins         int
	materialized bool
	handle       H
}

func (e *StoredEntity[D, H]) pinned() bool { return e.pins > 0 }

// wanted reports whether the entity must be live right now.
func (e *StoredEntity[D, H]) wanted() bool { return e.activeRefs > 0 || e.pins > 0 }

// EntityInfo is a read-only copy of an entity's bookkeeping.
type EntityInfo struct {
	ID           EntityID
	Position     Vec3
	Scope        Scope
	ActiveRefs   int
	TotalRefs    uint64
	Pinned       bool
	Materialized bool
	Buffered     bool
}
