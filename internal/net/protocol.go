package net

import (
	"encoding/json"
	"fmt"

	"github.com/worldstream/server/internal/engine"
	"github.com/worldstream/server/internal/geom"
)

// Message types.
const (
	TypeHello   = "hello"   // client: first message, initial position
	TypePos     = "pos"     // client: position update
	TypeWelcome = "welcome" // server: session id
	TypeSpawn   = "spawn"   // server: live entities that came into view
	TypeDespawn = "despawn" // server: entities that left view or were removed
)

// ClientMsg is any message an observer sends.
type ClientMsg struct {
	Type  string     `json:"type"`
	Pos   geom.Vec3  `json:"pos"`
	Scope geom.Scope `json:"scope"`
}

type WelcomeMsg struct {
	Type    string `json:"type"`
	Session uint64 `json:"session"`
}

type SpawnMsg struct {
	Type     string        `json:"type"`
	Entities []engine.View `json:"entities"`
}

// Ref names one live instance.
type Ref struct {
	Kind   string        `json:"kind"`
	Handle engine.Handle `json:"handle"`
}

type DespawnMsg struct {
	Type     string `json:"type"`
	Entities []Ref  `json:"entities"`
}

// DecodeClient parses and checks one client message.
func DecodeClient(b []byte) (ClientMsg, error) {
	var m ClientMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return ClientMsg{}, fmt.Errorf("decode client message: %w", err)
	}
	switch m.Type {
	case TypeHello, TypePos:
	default:
		return ClientMsg{}, fmt.Errorf("unexpected message type %q", m.Type)
	}
	if m.Scope.Interior < 0 || m.Scope.World < 0 {
		return ClientMsg{}, fmt.Errorf("observer scope must be concrete, got %+v", m.Scope)
	}
	return m, nil
}
