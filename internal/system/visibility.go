package system

import (
	"sort"
	"time"

	"github.com/worldstream/server/internal/core/event"
	coresys "github.com/worldstream/server/internal/core/system"
	"github.com/worldstream/server/internal/engine"
	"github.com/worldstream/server/internal/net"
	"github.com/worldstream/server/internal/observer"
	"github.com/worldstream/server/internal/world"
)

// VisibilitySystem tells each observer which live instances entered or
// left its view since the last pass. View radius per kind is the kind's
// streaming distance. Phase 3 (Output), every interval ticks.
type VisibilitySystem struct {
	store     *net.SessionStore
	observers *observer.Registry
	viewers   []engine.Viewer
	radius    map[string]float64
	known     map[uint64]map[net.Ref]struct{}
	interval  int
	ticks     int
}

func NewVisibilitySystem(ws *world.State, store *net.SessionStore, bus *event.Bus, interval int) *VisibilitySystem {
	if interval < 1 {
		interval = 1
	}
	s := &VisibilitySystem{
		store:     store,
		observers: ws.Observers,
		viewers:   ws.Viewers(),
		radius:    make(map[string]float64),
		known:     make(map[uint64]map[net.Ref]struct{}),
		interval:  interval,
	}
	for _, ks := range ws.Kinds() {
		s.radius[ks.Name] = ks.Streamer.Config().StreamingDistance
	}
	event.Subscribe(bus, func(e event.ObserverLeft) {
		delete(s.known, e.SessionID)
	})
	return s
}

func (s *VisibilitySystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *VisibilitySystem) Update(_ time.Duration) {
	s.ticks++
	if s.ticks < s.interval {
		return
	}
	s.ticks = 0

	s.store.ForEach(func(sess *net.Session) {
		o, ok := s.observers.Get(observer.ID(sess.ID))
		if !ok {
			return
		}
		s.updateSession(sess, o)
		sess.FlushOutput()
	})
}

func (s *VisibilitySystem) updateSession(sess *net.Session, o observer.Observer) {
	known := s.known[sess.ID]
	if known == nil {
		known = make(map[net.Ref]struct{})
		s.known[sess.ID] = known
	}

	current := make(map[net.Ref]struct{}, len(known))
	var entered []engine.View
	for _, v := range s.viewers {
		for _, view := range v.Nearby(o.Pos, o.Scope, s.radius[v.Kind()]) {
			ref := net.Ref{Kind: view.Kind, Handle: view.Handle}
			current[ref] = struct{}{}
			if _, seen := known[ref]; !seen {
				entered = append(entered, view)
				known[ref] = struct{}{}
			}
		}
	}

	var left []net.Ref
	for ref := range known {
		if _, still := current[ref]; !still {
			left = append(left, ref)
			delete(known, ref)
		}
	}

	if len(left) > 0 {
		sortRefs(left)
		sess.Send(net.DespawnMsg{Type: net.TypeDespawn, Entities: left})
	}
	if len(entered) > 0 {
		sess.Send(net.SpawnMsg{Type: net.TypeSpawn, Entities: entered})
	}
}

func sortRefs(refs []net.Ref) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].Handle < refs[j].Handle
	})
}
