package scripting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/worldstream/server/internal/data"
	"github.com/worldstream/server/internal/geom"
	"github.com/worldstream/server/internal/observer"
	"github.com/worldstream/server/internal/stream"
	"go.uber.org/zap"
)

type added struct {
	kind  string
	desc  data.Descriptor
	pos   geom.Vec3
	scope geom.Scope
	lazy  bool
}

type fakeHost struct {
	next      stream.EntityID
	adds      []added
	pinned    map[stream.EntityID]int
	deleted   []stream.EntityID
	optimised []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{pinned: make(map[stream.EntityID]int)}
}

var errNoKind = errors.New("unknown entity kind")

func (h *fakeHost) AddEntity(_ context.Context, kind string, desc data.Descriptor, pos geom.Vec3, scope geom.Scope, lazy bool) (stream.EntityID, error) {
	if kind != "object" {
		return 0, errNoKind
	}
	h.next++
	h.adds = append(h.adds, added{kind, desc, pos, scope, lazy})
	return h.next, nil
}

func (h *fakeHost) DeleteEntity(_ context.Context, _ string, id stream.EntityID) error {
	h.deleted = append(h.deleted, id)
	return nil
}

func (h *fakeHost) PinEntity(_ context.Context, _ string, id stream.EntityID) error {
	h.pinned[id]++
	return nil
}

func (h *fakeHost) UnpinEntity(_ context.Context, _ string, id stream.EntityID) error {
	if h.pinned[id] == 0 {
		return stream.ErrNotPinned
	}
	h.pinned[id]--
	return nil
}

func (h *fakeHost) Optimise(kind string) error {
	h.optimised = append(h.optimised, kind)
	return nil
}

func newEngine(t *testing.T, dir string) (*Engine, *fakeHost) {
	t.Helper()
	h := newFakeHost()
	e, err := NewEngine(dir, h, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e, h
}

func TestEngine_LoadsContentScripts(t *testing.T) {
	dir := t.TempDir()
	content := filepath.Join(dir, "content")
	if err := os.MkdirAll(content, 0o755); err != nil {
		t.Fatal(err)
	}
	script := `
for i = 0, 9 do
  stream_add("object", 1337, i * 10, 0, 0)
end
local gate = stream_add("object", 980, 1, 2, 3, 0, 0, false, { name = "gate", locked = "yes" })
stream_pin("object", gate)
stream_optimise("object")
`
	if err := os.WriteFile(filepath.Join(content, "props.lua"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	_, h := newEngine(t, dir)

	if len(h.adds) != 11 {
		t.Fatalf("adds=%d want=11", len(h.adds))
	}
	first := h.adds[0]
	if first.scope != geom.Everywhere || !first.lazy || first.desc.Model != 1337 {
		t.Fatalf("first add=%+v", first)
	}
	gate := h.adds[10]
	if gate.lazy || gate.scope != (geom.Scope{}) || gate.pos != (geom.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("gate add=%+v", gate)
	}
	if gate.desc.Name != "gate" || gate.desc.Attrs["locked"] != "yes" {
		t.Fatalf("gate desc=%+v", gate.desc)
	}
	if h.pinned[11] != 1 || len(h.optimised) != 1 {
		t.Fatalf("pinned=%v optimised=%v", h.pinned, h.optimised)
	}
}

func TestEngine_ErrorsReturnedToLua(t *testing.T) {
	e, h := newEngine(t, t.TempDir())
	err := e.DoString(`
local id, err = stream_add("vehicle", 1, 0, 0, 0)
assert(id == nil and err ~= nil, "expected error for unknown kind")
local ok, uerr = stream_unpin("object", 5)
assert(ok == nil and uerr ~= nil, "expected unpin error")
local id2 = stream_add("object", 2, 0, 0, 0)
assert(stream_delete("object", id2) == true)
`)
	if err != nil {
		t.Fatalf("lua: %v", err)
	}
	if len(h.deleted) != 1 || h.deleted[0] != 1 {
		t.Fatalf("deleted=%v", h.deleted)
	}
}

func TestEngine_ObserverHooks(t *testing.T) {
	e, h := newEngine(t, t.TempDir())
	if err := e.DoString(`
function on_observer_joined(id, x, y, z)
  stream_add("object", 500 + id, x, y, z)
end
function on_observer_left(id)
  error("boom")
end
`); err != nil {
		t.Fatal(err)
	}
	e.ObserverJoined(observer.Observer{ID: 7, Pos: geom.Vec3{X: 4, Y: 5}})
	e.ObserverLeft(7) // error is logged, not raised
	if len(h.adds) != 1 || h.adds[0].desc.Model != 507 || h.adds[0].pos.X != 4 {
		t.Fatalf("adds=%+v", h.adds)
	}
}
