package event

import (
	"github.com/worldstream/server/internal/geom"
	"github.com/worldstream/server/internal/stream"
)

type ObserverJoined struct {
	SessionID uint64
	Pos       geom.Vec3
	Scope     geom.Scope
}

type ObserverLeft struct {
	SessionID uint64
}

// CycleCompleted is emitted once per settled stream cycle.
type CycleCompleted struct {
	Stats stream.CycleStats
}
