package engine

import (
	"math"

	"github.com/worldstream/server/internal/geom"
)

// grid buckets live instances into square cells on the X/Y plane so that a
// proximity lookup only visits the cells overlapping the search radius.
// Callers hold the owning Slots lock.
type grid struct {
	size  float64
	cells map[cellKey]map[Handle]struct{}
}

type cellKey struct {
	cx, cy int32
}

func newGrid(size float64) *grid {
	if size <= 0 {
		size = 100
	}
	return &grid{size: size, cells: make(map[cellKey]map[Handle]struct{})}
}

func (g *grid) key(p geom.Vec3) cellKey {
	return cellKey{cx: int32(math.Floor(p.X / g.size)), cy: int32(math.Floor(p.Y / g.size))}
}

func (g *grid) add(h Handle, p geom.Vec3) {
	k := g.key(p)
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[Handle]struct{})
		g.cells[k] = cell
	}
	cell[h] = struct{}{}
}

func (g *grid) remove(h Handle, p geom.Vec3) {
	k := g.key(p)
	if cell := g.cells[k]; cell != nil {
		delete(cell, h)
		if len(cell) == 0 {
			delete(g.cells, k)
		}
	}
}

// around calls fn for every handle in cells overlapping the square of
// half-width radius around p. Caller does the exact distance filtering.
func (g *grid) around(p geom.Vec3, radius float64, fn func(Handle)) {
	lo := g.key(geom.Vec3{X: p.X - radius, Y: p.Y - radius})
	hi := g.key(geom.Vec3{X: p.X + radius, Y: p.Y + radius})
	for cx := lo.cx; cx <= hi.cx; cx++ {
		for cy := lo.cy; cy <= hi.cy; cy++ {
			for h := range g.cells[cellKey{cx: cx, cy: cy}] {
				fn(h)
			}
		}
	}
}
