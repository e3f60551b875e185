// Package luarules runs a rules engine written in Lua. A script defines four
// global functions operating on plain tables decoded from the JSON state:
//
//	setup(players, options) -> state
//	move(state, move, player) -> state
//	moveAI(state, player) -> state
//	stripSecret(state, viewer) -> state
//
// Scripts raise errors with error(); they surface as *ScriptError.
package luarules

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"tablerelay/internal/rules"
)

//go:embed scripts/*.lua
var scriptsFS embed.FS

var entryPoints = []string{"setup", "move", "moveAI", "stripSecret"}

// ScriptError is an error raised by, or while calling, a script function.
type ScriptError struct {
	Func string
	Err  error
}

func (e *ScriptError) Error() string {
	return "lua " + e.Func + ": " + e.Err.Error()
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Engine implements rules.Engine on top of a single Lua state. Calls are
// serialized; an Engine is safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	name      string
	state     *lua.LState
	arrayMeta *lua.LTable
}

var _ rules.Engine = (*Engine)(nil)

// New loads script under name and checks that it defines every entry point.
func New(name string, script []byte) (*Engine, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open lua %s library: %w", lib.name, err)
		}
	}
	// No file or module loading from inside rules scripts.
	for _, g := range []string{"dofile", "loadfile", "require"} {
		L.SetGlobal(g, lua.LNil)
	}

	e := &Engine{name: name, state: L, arrayMeta: L.NewTable()}
	L.SetGlobal("array", L.NewFunction(e.newArray))

	fn, err := L.Load(strings.NewReader(string(script)), name)
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	L.Push(fn)
	if err := L.PCall(0, 0, nil); err != nil {
		L.Close()
		return nil, fmt.Errorf("run %s: %w", name, err)
	}
	for _, entry := range entryPoints {
		if L.GetGlobal(entry).Type() != lua.LTFunction {
			L.Close()
			return nil, fmt.Errorf("%s: missing function %q", name, entry)
		}
	}
	return e, nil
}

// NewBuiltin loads one of the embedded scripts.
func NewBuiltin(name string) (*Engine, error) {
	script, err := Builtin(name)
	if err != nil {
		return nil, err
	}
	return New(name+".lua", script)
}

// Builtin returns the source of an embedded script.
func Builtin(name string) ([]byte, error) {
	b, err := fs.ReadFile(scriptsFS, "scripts/"+name+".lua")
	if err != nil {
		return nil, fmt.Errorf("builtin rules %q: %w", name, err)
	}
	return b, nil
}

// Name is the chunk name the script was loaded under.
func (e *Engine) Name() string {
	return e.name
}

// Close releases the Lua state.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}

func (e *Engine) newArray(L *lua.LState) int {
	t := L.NewTable()
	t.Metatable = e.arrayMeta
	L.Push(t)
	return 1
}

// Setup calls setup(players, options).
func (e *Engine) Setup(players int, opts rules.Options) (rules.State, error) {
	if opts == nil {
		opts = rules.Options{}
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	return e.call("setup", func() ([]lua.LValue, error) {
		o, err := e.decodeJSON(raw)
		if err != nil {
			return nil, err
		}
		return []lua.LValue{lua.LNumber(players), o}, nil
	})
}

// Move calls move(state, move, player).
func (e *Engine) Move(s rules.State, m rules.Move, player int) (rules.State, error) {
	return e.call("move", func() ([]lua.LValue, error) {
		st, err := e.decodeJSON(s)
		if err != nil {
			return nil, err
		}
		mv, err := e.decodeJSON(m)
		if err != nil {
			return nil, err
		}
		return []lua.LValue{st, mv, lua.LNumber(player)}, nil
	})
}

// MoveAI calls moveAI(state, player).
func (e *Engine) MoveAI(s rules.State, player int) (rules.State, error) {
	return e.call("moveAI", func() ([]lua.LValue, error) {
		st, err := e.decodeJSON(s)
		if err != nil {
			return nil, err
		}
		return []lua.LValue{st, lua.LNumber(player)}, nil
	})
}

// StripSecret calls stripSecret(state, viewer).
func (e *Engine) StripSecret(s rules.State, viewer int) (rules.State, error) {
	return e.call("stripSecret", func() ([]lua.LValue, error) {
		st, err := e.decodeJSON(s)
		if err != nil {
			return nil, err
		}
		return []lua.LValue{st, lua.LNumber(viewer)}, nil
	})
}

var errClosed = errors.New("engine closed")

// call builds the arguments and invokes fn while holding the engine lock,
// since argument tables are allocated on the shared Lua state.
func (e *Engine) call(fn string, args func() ([]lua.LValue, error)) (rules.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, &ScriptError{Func: fn, Err: errClosed}
	}
	L := e.state
	in, err := args()
	if err != nil {
		return nil, &ScriptError{Func: fn, Err: err}
	}
	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal(fn),
		NRet:    1,
		Protect: true,
	}, in...); err != nil {
		return nil, &ScriptError{Func: fn, Err: scriptMessage(err)}
	}
	ret := L.Get(-1)
	L.Pop(1)
	if ret.Type() != lua.LTTable {
		return nil, &ScriptError{Func: fn, Err: fmt.Errorf("returned %s, want table", ret.Type())}
	}
	out, err := e.encodeJSON(ret)
	if err != nil {
		return nil, &ScriptError{Func: fn, Err: err}
	}
	return rules.State(out), nil
}

// scriptMessage keeps the message raised by the script and drops the stack trace.
func scriptMessage(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return errors.New(apiErr.Object.String())
	}
	return err
}
