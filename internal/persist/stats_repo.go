package persist

import (
	"context"
	"fmt"

	"github.com/worldstream/server/internal/stream"
)

// StatsRepo records per-cycle streamer diagnostics.
type StatsRepo struct {
	db *DB
}

func NewStatsRepo(db *DB) *StatsRepo {
	return &StatsRepo{db: db}
}

// Write stores a batch of cycle stats in a single transaction.
func (r *StatsRepo) Write(ctx context.Context, batch []stream.CycleStats) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("stats begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, st := range batch {
		if _, err := tx.Exec(ctx,
			`INSERT INTO stream_cycle_stats
			 (kind, cycle, observers, budget, selected, materialized, buffered,
			  created, destroyed, reclaimed, refused, failed, duration_us)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			st.Kind, int64(st.Cycle), st.Observers, st.Budget, st.Selected, st.Materialized, st.Buffered,
			st.Created, st.Destroyed, st.Reclaimed, st.Refused, st.Failed, st.Duration.Microseconds(),
		); err != nil {
			return fmt.Errorf("stats insert: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Prune deletes stats rows older than the newest keep cycles of each kind.
func (r *StatsRepo) Prune(ctx context.Context, keep int) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM stream_cycle_stats s
		 USING (SELECT kind, MAX(cycle) AS top FROM stream_cycle_stats GROUP BY kind) m
		 WHERE s.kind = m.kind AND s.cycle <= m.top - $1`, keep,
	)
	return err
}
