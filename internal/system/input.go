package system

import (
	"errors"
	"time"

	"github.com/worldstream/server/internal/core/event"
	coresys "github.com/worldstream/server/internal/core/system"
	"github.com/worldstream/server/internal/net"
	"github.com/worldstream/server/internal/observer"
	"go.uber.org/zap"
)

// SessionSource is the part of net.Server the input system reads.
type SessionSource interface {
	NewSessions() <-chan *net.Session
	DeadSessions() <-chan uint64
}

// InputSystem drains observer sessions and keeps the observer registry in
// step with them. Phase 0 (Input).
type InputSystem struct {
	source     SessionSource
	store      *net.SessionStore
	observers  *observer.Registry
	bus        *event.Bus
	maxPerTick int
	joined     map[uint64]bool
	log        *zap.Logger
}

func NewInputSystem(source SessionSource, store *net.SessionStore, observers *observer.Registry, bus *event.Bus, maxPerTick int, log *zap.Logger) *InputSystem {
	return &InputSystem{
		source:     source,
		store:      store,
		observers:  observers,
		bus:        bus,
		maxPerTick: maxPerTick,
		joined:     make(map[uint64]bool, 64),
		log:        log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	// Accept new sessions
accept:
	for {
		select {
		case sess := <-s.source.NewSessions():
			s.store.Add(sess)
			sess.Send(net.WelcomeMsg{Type: net.TypeWelcome, Session: sess.ID})
		default:
			break accept
		}
	}

	// Process dead sessions
dead:
	for {
		select {
		case id := <-s.source.DeadSessions():
			if sess := s.store.Get(id); sess != nil {
				s.drain(sess)
				s.disconnect(id)
			}
		default:
			break dead
		}
	}

	s.store.ForEach(func(sess *net.Session) {
		s.drain(sess)
		if sess.IsClosed() {
			s.disconnect(sess.ID)
			return
		}
		sess.FlushOutput()
	})
}

// drain handles up to maxPerTick queued messages of one session.
func (s *InputSystem) drain(sess *net.Session) {
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case msg := <-sess.InQueue:
			s.handle(sess, msg)
		default:
			return
		}
	}
}

// handle applies one message. A pos before hello counts as hello.
func (s *InputSystem) handle(sess *net.Session, msg net.ClientMsg) {
	id := observer.ID(sess.ID)
	if !s.joined[sess.ID] {
		if err := s.observers.Join(id, msg.Pos, msg.Scope); err != nil {
			s.log.Warn("observer join failed", zap.Uint64("session", sess.ID), zap.Error(err))
			return
		}
		s.joined[sess.ID] = true
		event.Emit(s.bus, event.ObserverJoined{SessionID: sess.ID, Pos: msg.Pos, Scope: msg.Scope})
		return
	}
	if err := s.observers.Move(id, msg.Pos, msg.Scope); err != nil {
		s.log.Debug("observer move failed", zap.Uint64("session", sess.ID), zap.Error(err))
	}
}

func (s *InputSystem) disconnect(id uint64) {
	s.store.Remove(id)
	if !s.joined[id] {
		return
	}
	delete(s.joined, id)
	if err := s.observers.Leave(observer.ID(id)); err != nil && !errors.Is(err, observer.ErrUnknownObserver) {
		s.log.Warn("observer leave failed", zap.Uint64("session", id), zap.Error(err))
	}
	event.Emit(s.bus, event.ObserverLeft{SessionID: id})
	s.log.Info("observer disconnected", zap.Uint64("session", id))
}
