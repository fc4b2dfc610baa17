package stream

import (
	"fmt"
	"math"
	"time"
)

// Config is fixed for the life of a Streamer.
type Config struct {
	Kind              string        // label used in logs and stats
	MaxVisible        int           // global ceiling on materialized entities
	StreamingDistance float64       // nearest-neighbour search radius
	SaturationRatio   float64       // share of MaxVisible given to proximity selection, (0,1]
	LRU               bool          // delay dematerialization through the retention buffer
	AutoOptimise      int           // rebuild the index at cycle start once this many inserts are pending; 0 = never
	CycleBudget       time.Duration // cycles slower than this are logged; 0 = never
}

// DefaultConfig mirrors the object streamer defaults.
func DefaultConfig(kind string) Config {
	return Config{
		Kind:              kind,
		MaxVisible:        1000,
		StreamingDistance: 300,
		SaturationRatio:   0.7,
		LRU:               true,
		AutoOptimise:      4096,
		CycleBudget:       50 * time.Millisecond,
	}
}

// Validate checks the config. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if c.MaxVisible <= 0 {
		return fmt.Errorf("%w: max_visible must be > 0, got %d", ErrInvalidConfig, c.MaxVisible)
	}
	if !(c.SaturationRatio > 0 && c.SaturationRatio <= 1) {
		return fmt.Errorf("%w: saturation_ratio must be in (0,1], got %g", ErrInvalidConfig, c.SaturationRatio)
	}
	if !(c.StreamingDistance > 0) {
		return fmt.Errorf("%w: streaming_distance must be > 0, got %g", ErrInvalidConfig, c.StreamingDistance)
	}
	if c.AutoOptimise < 0 {
		return fmt.Errorf("%w: auto_optimise must be >= 0, got %d", ErrInvalidConfig, c.AutoOptimise)
	}
	if c.CycleBudget < 0 {
		return fmt.Errorf("%w: cycle_budget must be >= 0, got %s", ErrInvalidConfig, c.CycleBudget)
	}
	return nil
}

// budget returns the per-observer selection budget.
func (c Config) budget(observers int) int {
	if observers <= 0 {
		return 0
	}
	// Epsilon keeps e.g. 100*0.7/1 from flooring to 69.
	return int(math.Floor(float64(c.MaxVisible)*c.SaturationRatio/float64(observers) + 1e-9))
}
