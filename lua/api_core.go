package lua

import (
	"os"
	"path/filepath"

	glua "github.com/yuin/gopher-lua"
)

// registerCoreFuncs registers the ocp.* primitives available to scripts.
func (e *Engine) registerCoreFuncs() {
	e.L.SetField(e.ocpTable, "port", glua.LNumber(e.host.Port()))
	e.L.SetField(e.ocpTable, "module", glua.LString(e.module))
	e.L.SetField(e.ocpTable, "extension", glua.LString(ScriptExtension))

	// ocp.print(text): Outputs text through the host
	e.L.SetField(e.ocpTable, "print", e.L.NewFunction(func(L *glua.LState) int {
		msg := L.CheckString(1)
		e.host.Print(msg)
		return 0
	}))

	// ocp.ext(path): File extension including the dot
	e.L.SetField(e.ocpTable, "ext", e.L.NewFunction(func(L *glua.LState) int {
		L.Push(glua.LString(filepath.Ext(L.CheckString(1))))
		return 1
	}))

	// ocp.abspath(path): Absolute form of path
	e.L.SetField(e.ocpTable, "abspath", e.L.NewFunction(func(L *glua.LState) int {
		abs, err := filepath.Abs(L.CheckString(1))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(glua.LString(abs))
		return 1
	}))

	// ocp.env(name): Environment variable, nil when unset
	e.L.SetField(e.ocpTable, "env", e.L.NewFunction(func(L *glua.LState) int {
		v, ok := os.LookupEnv(L.CheckString(1))
		if !ok {
			L.Push(glua.LNil)
			return 1
		}
		L.Push(glua.LString(v))
		return 1
	}))

	// ocp.glob(pattern, path): Shell pattern match against the whole path,
	// or against the base name when pattern has no separator
	e.L.SetField(e.ocpTable, "glob", e.L.NewFunction(func(L *glua.LState) int {
		pattern := L.CheckString(1)
		path := L.CheckString(2)

		target := path
		if filepath.Base(pattern) == pattern {
			target = filepath.Base(path)
		}
		ok, err := filepath.Match(pattern, target)
		if err != nil {
			L.RaiseError("glob %q: %s", pattern, err.Error())
			return 0
		}
		L.Push(glua.LBool(ok))
		return 1
	}))
}
