package luarules

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

const maxDepth = 64

// toLua converts a decoded JSON value into a Lua value. Arrays get the
// engine's array metatable so they survive the trip back even when empty.
func (e *Engine) toLua(v any) (lua.LValue, error) {
	return e.toLuaDepth(v, 0)
}

func (e *Engine) toLuaDepth(v any, depth int) (lua.LValue, error) {
	if depth > maxDepth {
		return lua.LNil, fmt.Errorf("value nested deeper than %d", maxDepth)
	}
	switch x := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(x), nil
	case float64:
		return lua.LNumber(x), nil
	case string:
		return lua.LString(x), nil
	case []any:
		t := e.state.NewTable()
		for i, item := range x {
			lv, err := e.toLuaDepth(item, depth+1)
			if err != nil {
				return lua.LNil, err
			}
			t.RawSetInt(i+1, lv)
		}
		t.Metatable = e.arrayMeta
		return t, nil
	case map[string]any:
		t := e.state.NewTable()
		for k, item := range x {
			lv, err := e.toLuaDepth(item, depth+1)
			if err != nil {
				return lua.LNil, err
			}
			t.RawSetString(k, lv)
		}
		return t, nil
	default:
		return lua.LNil, fmt.Errorf("unsupported value of type %T", v)
	}
}

// fromLua converts a Lua value into a value json.Marshal can encode.
func (e *Engine) fromLua(v lua.LValue) (any, error) {
	return e.fromLuaDepth(v, 0)
}

func (e *Engine) fromLuaDepth(v lua.LValue, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("table nested deeper than %d", maxDepth)
	}
	switch x := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LNumber:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("number %v cannot be encoded", f)
		}
		return f, nil
	case lua.LString:
		return string(x), nil
	case *lua.LTable:
		if e.isArray(x) {
			n := x.Len()
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				item, err := e.fromLuaDepth(x.RawGetInt(i), depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, item)
			}
			return out, nil
		}
		out := make(map[string]any)
		var convErr error
		x.ForEach(func(k, val lua.LValue) {
			if convErr != nil {
				return
			}
			var key string
			switch kk := k.(type) {
			case lua.LString:
				key = string(kk)
			case lua.LNumber:
				key = strconv.FormatFloat(float64(kk), 'f', -1, 64)
			default:
				convErr = fmt.Errorf("unsupported table key of type %s", k.Type())
				return
			}
			item, err := e.fromLuaDepth(val, depth+1)
			if err != nil {
				convErr = err
				return
			}
			out[key] = item
		})
		if convErr != nil {
			return nil, convErr
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported lua value of type %s", v.Type())
	}
}

// isArray reports whether t encodes as a JSON array: it carries the array
// metatable, or its keys are exactly 1..n with n > 0.
func (e *Engine) isArray(t *lua.LTable) bool {
	if t.Metatable == e.arrayMeta {
		return true
	}
	n := t.Len()
	if n == 0 {
		return false
	}
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })
	return count == n
}

func (e *Engine) decodeJSON(raw []byte) (lua.LValue, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return lua.LNil, fmt.Errorf("decode json: %w", err)
	}
	return e.toLua(v)
}

func (e *Engine) encodeJSON(v lua.LValue) ([]byte, error) {
	g, err := e.fromLua(v)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return out, nil
}
