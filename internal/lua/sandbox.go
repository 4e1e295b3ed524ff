package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// newSandboxedVM creates a gopher-lua VM with restricted standard libraries
// and the livepad.* API table injected.
func newSandboxedVM(inv *invocationCtx) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       128,
		RegistrySize:        2048,
		RegistryMaxSize:     256 * 1024,
		RegistryGrowStep:    32,
		MinimizeStackMemory: true,
	})

	// Selectively open safe standard libraries
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	// Remove dangerous globals
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}

	injectLivepadTable(L, inv)
	return L
}

// injectLivepadTable builds and injects the livepad.* API table.
func injectLivepadTable(L *lua.LState, inv *invocationCtx) {
	lp := L.NewTable()

	lp.RawSetString("path", lua.LString(inv.path))
	lp.RawSetString("resolve", L.NewFunction(resolveFn(inv)))

	jsonTbl := L.NewTable()
	jsonTbl.RawSetString("decode", L.NewFunction(jsonDecodeFn))
	jsonTbl.RawSetString("encode", L.NewFunction(jsonEncodeFn))
	lp.RawSetString("json", jsonTbl)

	logTbl := L.NewTable()
	logTbl.RawSetString("info", L.NewFunction(logFn(inv, "info")))
	logTbl.RawSetString("warn", L.NewFunction(logFn(inv, "warn")))
	logTbl.RawSetString("error", L.NewFunction(logFn(inv, "error")))
	lp.RawSetString("log", logTbl)

	L.SetGlobal("livepad", lp)
}
