package lua

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/modpath"
	"github.com/petervdpas/livepad/internal/transform"
)

// invocationCtx holds per-invocation state shared by API functions.
type invocationCtx struct {
	ctx        context.Context
	scriptName string
	path       string
	resolver   transform.Resolver

	deps []string
	seen map[string]bool
	err  error // a cycle seen through livepad.resolve fails the whole call
}

func newInvocation(ctx context.Context, name string, in transform.Input) *invocationCtx {
	return &invocationCtx{
		ctx:        ctx,
		scriptName: name,
		path:       in.Path,
		resolver:   in.Resolver,
		seen:       make(map[string]bool),
	}
}

// ── Resolve API ──

// resolveFn implements livepad.resolve(specifier): relative specifiers are
// resolved against the file being transformed and answered with the
// current address of that file's executable. Anything else comes back
// unchanged.
func resolveFn(inv *invocationCtx) lua.LGFunction {
	return func(L *lua.LState) int {
		specifier := L.CheckString(1)
		if modpath.Classify(specifier) != modpath.Relative {
			L.Push(lua.LString(specifier))
			L.Push(lua.LNil)
			return 2
		}
		target := modpath.Resolve(inv.path, specifier)
		if !inv.seen[target] {
			inv.seen[target] = true
			inv.deps = append(inv.deps, target)
		}

		var (
			url string
			err error
		)
		if inv.resolver != nil {
			url, err = inv.resolver.Resolve(target)
		}
		if err == nil && url == "" {
			err = transform.ErrUnresolved
		}
		if err != nil {
			if errors.Is(err, transform.ErrCycle) && inv.err == nil {
				inv.err = fmt.Errorf("%s: import %q: %w", inv.path, specifier, err)
			}
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(url))
		L.Push(lua.LNil)
		return 2
	}
}

// ── JSON API ──

func jsonDecodeFn(L *lua.LState) int {
	str := L.CheckString(1)
	var v any
	if err := json.Unmarshal([]byte(str), &v); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(goToLua(L, v))
	L.Push(lua.LNil)
	return 2
}

func jsonEncodeFn(L *lua.LState) int {
	v := luaToGo(L.CheckAny(1))
	data, err := json.Marshal(v)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(string(data)))
	L.Push(lua.LNil)
	return 2
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

func luaToGo(lv lua.LValue) any {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		// sequential integer keys from 1 make an array
		if n := v.MaxN(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGo(v.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any)
		v.ForEach(func(key, val lua.LValue) {
			m[key.String()] = luaToGo(val)
		})
		return m
	default:
		return v.String()
	}
}

// ── Log API ──

func logFn(inv *invocationCtx, level string) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		switch level {
		case "warn":
			log.Warn("LUA: [%s] %s", inv.scriptName, msg)
		case "error":
			log.Error("LUA: [%s] %s", inv.scriptName, msg)
		default:
			log.Info("LUA: [%s] %s", inv.scriptName, msg)
		}
		return 0
	}
}
