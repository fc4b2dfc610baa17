package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/worldstream/server/internal/data"
)

// placementRow mirrors one stream_placements row. NULL interior/world mean
// the placement is visible in every interior/world.
type placementRow struct {
	Kind     string
	Model    int32
	Name     string
	X, Y, Z  float64
	Interior *int32
	World    *int32
	Pinned   bool
	Attrs    []byte
}

func (r placementRow) placement() (data.Placement, error) {
	p := data.Placement{
		Kind:     r.Kind,
		Model:    r.Model,
		Name:     r.Name,
		X:        r.X,
		Y:        r.Y,
		Z:        r.Z,
		Interior: r.Interior,
		World:    r.World,
		Pinned:   r.Pinned,
	}
	if len(r.Attrs) > 0 {
		if err := json.Unmarshal(r.Attrs, &p.Attrs); err != nil {
			return data.Placement{}, fmt.Errorf("placement attrs: %w", err)
		}
		if len(p.Attrs) == 0 {
			p.Attrs = nil
		}
	}
	return p, nil
}

type PlacementRepo struct {
	db *DB
}

func NewPlacementRepo(db *DB) *PlacementRepo {
	return &PlacementRepo{db: db}
}

// LoadByKind returns every stored placement of one kind, in insertion order.
func (r *PlacementRepo) LoadByKind(ctx context.Context, kind string) ([]data.Placement, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT kind, model, name, x, y, z, interior, world, pinned, attrs
		 FROM stream_placements WHERE kind = $1 ORDER BY id`, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("load placements %s: %w", kind, err)
	}
	defer rows.Close()

	var result []data.Placement
	for rows.Next() {
		var row placementRow
		if err := rows.Scan(
			&row.Kind, &row.Model, &row.Name, &row.X, &row.Y, &row.Z,
			&row.Interior, &row.World, &row.Pinned, &row.Attrs,
		); err != nil {
			return nil, err
		}
		p, err := row.placement()
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// Insert stores placements in one transaction. Count expansion is not
// applied; each entry becomes one row.
func (r *PlacementRepo) Insert(ctx context.Context, ps []data.Placement) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("placements begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range ps {
		attrs, err := json.Marshal(p.Attrs)
		if err != nil {
			return err
		}
		if p.Attrs == nil {
			attrs = []byte("{}")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO stream_placements (kind, model, name, x, y, z, interior, world, pinned, attrs)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			p.Kind, p.Model, p.Name, p.X, p.Y, p.Z, p.Interior, p.World, p.Pinned, attrs,
		); err != nil {
			return fmt.Errorf("placement insert: %w", err)
		}
	}
	return tx.Commit(ctx)
}
