package system

import (
	"time"

	"github.com/worldstream/server/internal/core/event"
	coresys "github.com/worldstream/server/internal/core/system"
	"github.com/worldstream/server/internal/stream"
	"github.com/worldstream/server/internal/world"
	"go.uber.org/zap"
)

// StreamSystem asks each kind's driver for a cycle every Interval ticks and
// collects the cycles that settled since the last tick. Cycles run on the
// driver goroutines; a kind whose previous request is still queued is not
// asked again. Phase 2 (Stream).
type StreamSystem struct {
	kinds []*world.KindStream
	bus   *event.Bus
	ticks int
	last  map[string]stream.CycleStats
	log   *zap.Logger
}

func NewStreamSystem(ws *world.State, bus *event.Bus, log *zap.Logger) *StreamSystem {
	return &StreamSystem{
		kinds: ws.Kinds(),
		bus:   bus,
		last:  make(map[string]stream.CycleStats),
		log:   log,
	}
}

func (s *StreamSystem) Phase() coresys.Phase { return coresys.PhaseStream }

func (s *StreamSystem) Update(_ time.Duration) {
	s.ticks++
	for _, ks := range s.kinds {
		s.collect(ks)
		if s.ticks%ks.Interval == 0 && !ks.Driver.Request() {
			s.log.Debug("stream request coalesced", zap.String("kind", ks.Name))
		}
	}
}

func (s *StreamSystem) collect(ks *world.KindStream) {
	for {
		select {
		case st := <-ks.Driver.Done():
			s.last[ks.Name] = st
			event.Emit(s.bus, event.CycleCompleted{Stats: st})
		default:
			return
		}
	}
}

// Last returns the most recent collected cycle of a kind.
func (s *StreamSystem) Last(kind string) (stream.CycleStats, bool) {
	st, ok := s.last[kind]
	return st, ok
}
