// Package data loads static placement content from YAML.
package data

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/worldstream/server/internal/geom"
	"gopkg.in/yaml.v3"
)

// Descriptor is what the engine needs to build one instance. It is the
// descriptor type of every host streamer.
type Descriptor struct {
	Model int32             `yaml:"model" json:"model"`
	Name  string            `yaml:"name,omitempty" json:"name,omitempty"`
	Attrs map[string]string `yaml:"attrs,omitempty" json:"attrs,omitempty"`
}

// Placement is one entry of a placement file. Count > 1 places several
// copies scattered up to RandomX/RandomY around the anchor.
type Placement struct {
	Kind     string            `yaml:"kind"`
	Model    int32             `yaml:"model"`
	Name     string            `yaml:"name"`
	X        float64           `yaml:"x"`
	Y        float64           `yaml:"y"`
	Z        float64           `yaml:"z"`
	Interior *int32            `yaml:"interior"` // nil = all interiors
	World    *int32            `yaml:"world"`    // nil = all worlds
	Count    int               `yaml:"count"`
	RandomX  float64           `yaml:"randomx"`
	RandomY  float64           `yaml:"randomy"`
	Pinned   bool              `yaml:"pinned"`
	Attrs    map[string]string `yaml:"attrs"`
}

type placementFile struct {
	Placements []Placement `yaml:"placements"`
}

// Spot is one concrete entity to register with a streamer.
type Spot struct {
	Desc   Descriptor
	Pos    geom.Vec3
	Scope  geom.Scope
	Pinned bool
}

func (p *Placement) Descriptor() Descriptor {
	return Descriptor{Model: p.Model, Name: p.Name, Attrs: p.Attrs}
}

func (p *Placement) Scope() geom.Scope {
	sc := geom.Everywhere
	if p.Interior != nil {
		sc.Interior = *p.Interior
	}
	if p.World != nil {
		sc.World = *p.World
	}
	return sc
}

// Spots expands the placement into concrete positions. rng drives the
// scatter; the anchor itself is always the first spot.
func (p *Placement) Spots(rng *rand.Rand) []Spot {
	n := p.Count
	if n < 1 {
		n = 1
	}
	anchor := geom.Vec3{X: p.X, Y: p.Y, Z: p.Z}
	out := make([]Spot, 0, n)
	for i := 0; i < n; i++ {
		pos := anchor
		if i > 0 {
			if p.RandomX > 0 {
				pos.X += (rng.Float64()*2 - 1) * p.RandomX
			}
			if p.RandomY > 0 {
				pos.Y += (rng.Float64()*2 - 1) * p.RandomY
			}
		}
		out = append(out, Spot{Desc: p.Descriptor(), Pos: pos, Scope: p.Scope(), Pinned: p.Pinned})
	}
	return out
}

func (p *Placement) validate() error {
	if p.Kind == "" {
		return fmt.Errorf("placement model %d: missing kind", p.Model)
	}
	if p.Count < 0 {
		return fmt.Errorf("placement %s/%d: negative count", p.Kind, p.Model)
	}
	return nil
}

// LoadPlacements reads one placement file.
func LoadPlacements(path string) ([]Placement, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read placements: %w", err)
	}
	var f placementFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse placements %s: %w", path, err)
	}
	for i := range f.Placements {
		if err := f.Placements[i].validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return f.Placements, nil
}

// PlacementSet groups placements by entity kind.
type PlacementSet struct {
	byKind map[string][]Placement
}

// LoadPlacementDir loads every *.yaml file in dir, in name order. A missing
// directory yields an empty set.
func LoadPlacementDir(dir string) (*PlacementSet, error) {
	set := &PlacementSet{byKind: make(map[string][]Placement)}
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob placements: %w", err)
	}
	sort.Strings(files)
	for _, path := range files {
		ps, err := LoadPlacements(path)
		if err != nil {
			return nil, err
		}
		for _, p := range ps {
			set.byKind[p.Kind] = append(set.byKind[p.Kind], p)
		}
	}
	return set, nil
}

func (s *PlacementSet) Kind(kind string) []Placement {
	return s.byKind[kind]
}

// Kinds returns the kinds present, sorted.
func (s *PlacementSet) Kinds() []string {
	out := make([]string, 0, len(s.byKind))
	for k := range s.byKind {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of placement entries (before Count expansion).
func (s *PlacementSet) Count() int {
	n := 0
	for _, ps := range s.byKind {
		n += len(ps)
	}
	return n
}
