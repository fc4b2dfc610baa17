package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput     Phase = iota // 0: drain observer queues, registry join/move/leave
	PhasePreUpdate              // 1: dispatch last tick's events
	PhaseStream                 // 2: request stream cycles, collect results
	PhaseOutput                 // 3: spawn/despawn notices, flush sessions
	PhasePersist                // 4: cycle stats to the database
)

// System is anything the runner ticks.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
