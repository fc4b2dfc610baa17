package net

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/worldstream/server/internal/engine"
	"github.com/worldstream/server/internal/geom"
	"go.uber.org/zap"
)

func TestDecodeClient(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{`{"type":"hello","pos":{"x":1,"y":2,"z":3},"scope":{"interior":0,"world":0}}`, true},
		{`{"type":"pos","pos":{"x":1}}`, true},
		{`{"type":"chat"}`, false},
		{`{"type":"pos","scope":{"interior":-1,"world":0}}`, false},
		{`not json`, false},
	}
	for _, c := range cases {
		_, err := DecodeClient([]byte(c.in))
		if (err == nil) != c.ok {
			t.Fatalf("decode %s: err=%v want ok=%v", c.in, err, c.ok)
		}
	}
}

func TestServer_SessionRoundTrip(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", ServerOptions{InQueueSize: 4, OutQueueSize: 4, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve()
	defer srv.Shutdown(context.Background())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String()+"/observe", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var sess *Session
	select {
	case sess = <-srv.NewSessions():
	case <-time.After(5 * time.Second):
		t.Fatalf("no session")
	}

	hello := ClientMsg{Type: TypeHello, Pos: geom.Vec3{X: 10, Y: 20}}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-sess.InQueue:
		if msg.Type != TypeHello || msg.Pos.X != 10 || msg.Pos.Y != 20 {
			t.Fatalf("msg=%+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no message queued")
	}

	sess.Send(SpawnMsg{Type: TypeSpawn, Entities: []engine.View{{Kind: "object", Handle: 3}}})
	sess.FlushOutput()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var spawn SpawnMsg
	if err := json.Unmarshal(raw, &spawn); err != nil {
		t.Fatal(err)
	}
	if spawn.Type != TypeSpawn || len(spawn.Entities) != 1 || spawn.Entities[0].Handle != 3 {
		t.Fatalf("spawn=%+v", spawn)
	}

	conn.Close()
	select {
	case id := <-srv.DeadSessions():
		if id != sess.ID {
			t.Fatalf("dead=%d want=%d", id, sess.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no dead notice")
	}
	if !sess.IsClosed() {
		t.Fatalf("session still open")
	}
}

func TestSessionStore_ForEachOrdered(t *testing.T) {
	st := NewSessionStore()
	for _, id := range []uint64{5, 1, 3} {
		st.Add(&Session{ID: id})
	}
	st.Remove(3)
	var got []uint64
	st.ForEach(func(s *Session) { got = append(got, s.ID) })
	if len(got) != 2 || got[0] != 1 || got[1] != 5 || st.Len() != 2 {
		t.Fatalf("ids=%v", got)
	}
}
