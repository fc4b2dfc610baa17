package system

import (
	"context"
	"time"

	"github.com/worldstream/server/internal/core/event"
	coresys "github.com/worldstream/server/internal/core/system"
	"github.com/worldstream/server/internal/stream"
	"go.uber.org/zap"
)

// StatsWriter stores cycle stats. *persist.StatsRepo implements it.
type StatsWriter interface {
	Write(ctx context.Context, batch []stream.CycleStats) error
}

// PersistenceSystem batches completed cycle stats and writes them every
// interval ticks. Phase 4 (Persist).
type PersistenceSystem struct {
	repo      StatsWriter
	pending   []stream.CycleStats
	maxBuffer int
	log       *zap.Logger
	tickCount int
	interval  int
}

func NewPersistenceSystem(repo StatsWriter, bus *event.Bus, intervalTicks int, log *zap.Logger) *PersistenceSystem {
	if intervalTicks < 1 {
		intervalTicks = 1
	}
	s := &PersistenceSystem{
		repo:      repo,
		maxBuffer: 4096,
		log:       log,
		interval:  intervalTicks,
	}
	event.Subscribe(bus, func(e event.CycleCompleted) {
		if len(s.pending) >= s.maxBuffer {
			// database is behind; keep the newest
			s.pending = s.pending[1:]
		}
		s.pending = append(s.pending, e.Stats)
	})
	return s
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.Flush()
}

// Flush writes everything pending. Called on shutdown too. A failed write
// keeps the batch for the next attempt.
func (s *PersistenceSystem) Flush() {
	if len(s.pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.Write(ctx, s.pending); err != nil {
		s.log.Error("cycle stats write failed", zap.Int("pending", len(s.pending)), zap.Error(err))
		return
	}
	s.pending = s.pending[:0]
}

func (s *PersistenceSystem) Pending() int { return len(s.pending) }
