package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/worldstream/server/internal/data"
	"github.com/worldstream/server/internal/geom"
	"github.com/worldstream/server/internal/observer"
	"github.com/worldstream/server/internal/stream"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Host is what content scripts can do to the streamers. *world.State
// implements it.
type Host interface {
	AddEntity(ctx context.Context, kind string, desc data.Descriptor, pos geom.Vec3, scope geom.Scope, lazy bool) (stream.EntityID, error)
	DeleteEntity(ctx context.Context, kind string, id stream.EntityID) error
	PinEntity(ctx context.Context, kind string, id stream.EntityID) error
	UnpinEntity(ctx context.Context, kind string, id stream.EntityID) error
	Optimise(kind string) error
}

// Engine wraps a single gopher-lua VM for content scripts.
// Single-goroutine access only (game loop).
type Engine struct {
	vm   *lua.LState
	host Host
	ctx  context.Context
	log  *zap.Logger
}

// NewEngine creates a Lua engine, registers the stream_* API and loads all
// scripts from scriptsDir: core/ first, then content/.
func NewEngine(scriptsDir string, host Host, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	vm.SetGlobal("ALL_SCOPES", lua.LNumber(geom.AllScopes))

	e := &Engine{vm: vm, host: host, ctx: context.Background(), log: log}
	e.register()

	for _, sub := range []string{"core", "content"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// DoString runs a chunk in the VM.
func (e *Engine) DoString(src string) error {
	return e.vm.DoString(src)
}

func (e *Engine) register() {
	e.vm.SetGlobal("stream_add", e.vm.NewFunction(e.luaAdd))
	e.vm.SetGlobal("stream_delete", e.vm.NewFunction(e.idOp("stream_delete", e.hostDelete)))
	e.vm.SetGlobal("stream_pin", e.vm.NewFunction(e.idOp("stream_pin", e.hostPin)))
	e.vm.SetGlobal("stream_unpin", e.vm.NewFunction(e.idOp("stream_unpin", e.hostUnpin)))
	e.vm.SetGlobal("stream_optimise", e.vm.NewFunction(e.luaOptimise))
}

// stream_add(kind, model, x, y, z [, interior, world, lazy, attrs]) -> id | nil, err
// interior and world default to ALL_SCOPES, lazy defaults to true.
func (e *Engine) luaAdd(L *lua.LState) int {
	kind := L.CheckString(1)
	desc := data.Descriptor{Model: int32(L.CheckInt(2))}
	pos := geom.Vec3{
		X: float64(L.CheckNumber(3)),
		Y: float64(L.CheckNumber(4)),
		Z: float64(L.CheckNumber(5)),
	}
	scope := geom.Scope{
		Interior: int32(L.OptInt(6, int(geom.AllScopes))),
		World:    int32(L.OptInt(7, int(geom.AllScopes))),
	}
	lazy := L.OptBool(8, true)
	if attrs := L.OptTable(9, nil); attrs != nil {
		desc.Attrs = make(map[string]string)
		attrs.ForEach(func(k, v lua.LValue) {
			desc.Attrs[lua.LVAsString(k)] = lua.LVAsString(v)
		})
		desc.Name = desc.Attrs["name"]
	}

	id, err := e.host.AddEntity(e.ctx, kind, desc, pos, scope, lazy)
	if err != nil {
		return pushErr(L, err)
	}
	L.Push(lua.LNumber(id))
	return 1
}

func (e *Engine) luaOptimise(L *lua.LState) int {
	if err := e.host.Optimise(L.CheckString(1)); err != nil {
		return pushErr(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// idOp builds fn(kind, id) -> true | nil, err.
func (e *Engine) idOp(name string, op func(kind string, id stream.EntityID) error) lua.LGFunction {
	return func(L *lua.LState) int {
		kind := L.CheckString(1)
		id := stream.EntityID(L.CheckNumber(2))
		if err := op(kind, id); err != nil {
			e.log.Debug("lua call refused", zap.String("func", name), zap.Error(err))
			return pushErr(L, err)
		}
		L.Push(lua.LTrue)
		return 1
	}
}

func (e *Engine) hostDelete(kind string, id stream.EntityID) error {
	return e.host.DeleteEntity(e.ctx, kind, id)
}

func (e *Engine) hostPin(kind string, id stream.EntityID) error {
	return e.host.PinEntity(e.ctx, kind, id)
}

func (e *Engine) hostUnpin(kind string, id stream.EntityID) error {
	return e.host.UnpinEntity(e.ctx, kind, id)
}

func pushErr(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

// --- observer hooks ---

// ObserverJoined calls the optional Lua on_observer_joined(id, x, y, z).
func (e *Engine) ObserverJoined(o observer.Observer) {
	e.callHook("on_observer_joined",
		lua.LNumber(o.ID), lua.LNumber(o.Pos.X), lua.LNumber(o.Pos.Y), lua.LNumber(o.Pos.Z))
}

// ObserverLeft calls the optional Lua on_observer_left(id).
func (e *Engine) ObserverLeft(id observer.ID) {
	e.callHook("on_observer_left", lua.LNumber(id))
}

func (e *Engine) callHook(name string, args ...lua.LValue) {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, args...); err != nil {
		e.log.Error("lua hook error", zap.String("func", name), zap.Error(err))
	}
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
