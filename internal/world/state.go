// Package world holds the host-side state shared by the game loop, content
// scripts and the network layer: the observer registry and one streamer per
// entity kind, each backed by an engine slot pool and a driver.
package world

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/worldstream/server/internal/data"
	"github.com/worldstream/server/internal/engine"
	"github.com/worldstream/server/internal/geom"
	"github.com/worldstream/server/internal/observer"
	"github.com/worldstream/server/internal/stream"
	"go.uber.org/zap"
)

var ErrUnknownKind = errors.New("unknown entity kind")

// Streamer is the concrete streamer type used by the host.
type Streamer = stream.Streamer[data.Descriptor, engine.Handle]

// KindStream bundles everything belonging to one entity kind.
type KindStream struct {
	Name     string
	Streamer *Streamer
	Slots    *engine.Slots[data.Descriptor]
	Driver   *stream.Driver
	Interval int // request a cycle every Interval ticks
}

// KindOptions configures AddKind beyond the streamer config.
type KindOptions struct {
	EngineLimit int // hard engine-side instance ceiling; 0 = none
	Interval    int
	DoneBuffer  int
}

// State is built once at startup; the kind table is read-only afterwards.
type State struct {
	Observers *observer.Registry

	kinds map[string]*KindStream
	log   *zap.Logger
}

func NewState(reg *observer.Registry, log *zap.Logger) *State {
	if log == nil {
		log = zap.NewNop()
	}
	return &State{
		Observers: reg,
		kinds:     make(map[string]*KindStream),
		log:       log,
	}
}

// AddKind creates the streamer, slot pool and driver for one kind.
func (w *State) AddKind(cfg stream.Config, opt KindOptions) (*KindStream, error) {
	if _, dup := w.kinds[cfg.Kind]; dup {
		return nil, fmt.Errorf("kind %q declared twice", cfg.Kind)
	}
	slots := engine.NewSlots[data.Descriptor](cfg.Kind, opt.EngineLimit, cfg.StreamingDistance)
	s, err := stream.New[data.Descriptor, engine.Handle](cfg, slots, w.Observers, w.log)
	if err != nil {
		return nil, fmt.Errorf("kind %q: %w", cfg.Kind, err)
	}
	if opt.Interval < 1 {
		opt.Interval = 1
	}
	if opt.DoneBuffer < 1 {
		opt.DoneBuffer = 8
	}
	ks := &KindStream{
		Name:     cfg.Kind,
		Streamer: s,
		Slots:    slots,
		Driver:   stream.NewDriver(s, opt.DoneBuffer, w.log.With(zap.String("kind", cfg.Kind))),
		Interval: opt.Interval,
	}
	w.kinds[cfg.Kind] = ks
	return ks, nil
}

func (w *State) Kind(name string) (*KindStream, error) {
	ks, ok := w.kinds[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownKind)
	}
	return ks, nil
}

// Kinds returns every kind ordered by name.
func (w *State) Kinds() []*KindStream {
	out := make([]*KindStream, 0, len(w.kinds))
	for _, ks := range w.kinds {
		out = append(out, ks)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Viewers returns the slot pools of every kind, ordered by name.
func (w *State) Viewers() []engine.Viewer {
	kinds := w.Kinds()
	out := make([]engine.Viewer, len(kinds))
	for i, ks := range kinds {
		out[i] = ks.Slots
	}
	return out
}

// RunDrivers starts one driver goroutine per kind. They stop with ctx.
func (w *State) RunDrivers(ctx context.Context) {
	for _, ks := range w.Kinds() {
		go ks.Driver.Run(ctx)
	}
}

// Close detaches every streamer from the observer registry.
func (w *State) Close() {
	for _, ks := range w.kinds {
		ks.Streamer.Close()
	}
}

// --- entity operations by kind name (scripting host) ---

func (w *State) AddEntity(ctx context.Context, kind string, desc data.Descriptor, pos geom.Vec3, scope geom.Scope, lazy bool) (stream.EntityID, error) {
	ks, err := w.Kind(kind)
	if err != nil {
		return 0, err
	}
	return ks.Streamer.Add(ctx, desc, pos, scope, lazy)
}

func (w *State) DeleteEntity(ctx context.Context, kind string, id stream.EntityID) error {
	ks, err := w.Kind(kind)
	if err != nil {
		return err
	}
	return ks.Streamer.Delete(ctx, id)
}

func (w *State) PinEntity(ctx context.Context, kind string, id stream.EntityID) error {
	ks, err := w.Kind(kind)
	if err != nil {
		return err
	}
	return ks.Streamer.Pin(ctx, id)
}

func (w *State) UnpinEntity(ctx context.Context, kind string, id stream.EntityID) error {
	ks, err := w.Kind(kind)
	if err != nil {
		return err
	}
	return ks.Streamer.Unpin(ctx, id)
}

func (w *State) Optimise(kind string) error {
	ks, err := w.Kind(kind)
	if err != nil {
		return err
	}
	ks.Streamer.Optimise()
	return nil
}

// Place registers placement spots lazily and pins the pinned ones. Kinds
// without a streamer are skipped with a warning. It returns how many
// entities were registered. Callers run Optimise afterwards.
func (w *State) Place(ctx context.Context, kind string, spots []data.Spot) (int, error) {
	ks, err := w.Kind(kind)
	if err != nil {
		w.log.Warn("placements for undeclared kind skipped",
			zap.String("kind", kind), zap.Int("count", len(spots)))
		return 0, nil
	}
	n := 0
	for _, sp := range spots {
		id, err := ks.Streamer.Add(ctx, sp.Desc, sp.Pos, sp.Scope, true)
		if err != nil {
			return n, fmt.Errorf("place %s model %d: %w", kind, sp.Desc.Model, err)
		}
		n++
		if !sp.Pinned {
			continue
		}
		if err := ks.Streamer.Pin(ctx, id); err != nil {
			w.log.Warn("pinned placement not pinned",
				zap.String("kind", kind),
				zap.Int32("model", sp.Desc.Model),
				zap.Error(err))
		}
	}
	return n, nil
}
