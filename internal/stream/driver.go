package stream

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Cycler is anything that runs stream cycles. *Streamer implements it for
// every descriptor and handle type.
type Cycler interface {
	Stream(ctx context.Context) (CycleStats, error)
}

type cycleResult struct {
	stats CycleStats
	err   error
}

// Driver runs cycles on its own goroutine, one per request. Requests go
// through a channel with room for one: asking while a request is already
// queued is a no-op, so a slow cycle coalesces ticks instead of piling
// them up.
type Driver struct {
	cycler   Cycler
	requests chan chan cycleResult
	done     chan CycleStats
	log      *zap.Logger
}

// NewDriver creates a driver. Completed cycle stats are published on Done;
// the channel holds up to doneSize results and drops the rest.
func NewDriver(c Cycler, doneSize int, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		cycler:   c,
		requests: make(chan chan cycleResult, 1),
		done:     make(chan CycleStats, doneSize),
		log:      log,
	}
}

// Request asks for a cycle without waiting. It reports false when a request
// is already pending.
func (d *Driver) Request() bool {
	select {
	case d.requests <- nil:
		return true
	default:
		return false
	}
}

// StreamAndWait queues a cycle and waits for it to settle. If a request is
// already pending it waits for room in the queue first.
func (d *Driver) StreamAndWait(ctx context.Context) (CycleStats, error) {
	reply := make(chan cycleResult, 1)
	select {
	case d.requests <- reply:
	case <-ctx.Done():
		return CycleStats{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.stats, res.err
	case <-ctx.Done():
		return CycleStats{}, ctx.Err()
	}
}

// Done delivers stats of completed cycles.
func (d *Driver) Done() <-chan CycleStats { return d.done }

// Run serves requests until ctx is cancelled. A cycle in flight when ctx is
// cancelled still runs to completion.
func (d *Driver) Run(ctx context.Context) {
	cycleCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case reply := <-d.requests:
			st, err := d.cycler.Stream(cycleCtx)
			if reply != nil {
				reply <- cycleResult{stats: st, err: err}
			}
			if err != nil {
				if !errors.Is(err, ErrCycleInProgress) {
					d.log.Error("stream cycle failed", zap.Error(err))
				}
				continue
			}
			select {
			case d.done <- st:
			default:
			}
		}
	}
}
