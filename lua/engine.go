package lua

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	glua "github.com/yuin/gopher-lua"
)

const regexCacheSize = 100

// Engine wraps gopher-lua and manages the VM lifecycle.
// It is a pure mechanism: it knows how to run Lua code and expose the ocp API.
// It does NOT know about search paths or hooks; that is the Loader's job.
type Engine struct {
	L          *glua.LState
	regexCache *lru.Cache[string, *regexp.Regexp]

	// Cached table reference
	ocpTable *glua.LTable

	// Host interface for communication with the rest of the system
	host Host

	// Absolute path of the module this VM executes, exposed as ocp.module
	module string
}

// NewEngine creates an Engine with the given Host.
func NewEngine(host Host) *Engine {
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	return &Engine{
		regexCache: cache,
		host:       host,
	}
}

// --- Lifecycle ---

// Init initializes (or re-initializes) the Lua VM with fresh state.
// It registers the API but does NOT load any scripts.
func (e *Engine) Init() error {
	if e.L != nil {
		e.L.Close()
	}

	e.L = glua.NewState()

	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	e.regexCache = cache

	e.registerAPIs()

	return nil
}

// Close cleans up the Lua state.
func (e *Engine) Close() {
	if e.L != nil {
		e.L.Close()
		e.L = nil
	}
}

// SetContext makes running Lua code abort once ctx is done.
func (e *Engine) SetContext(ctx context.Context) {
	if e.L != nil && ctx != nil {
		e.L.SetContext(ctx)
	}
}

// SetModule records the module path and publishes it as ocp.module.
// The module's directory is prepended to package.path so local requires work.
func (e *Engine) SetModule(path string) {
	e.module = path
	e.L.SetField(e.ocpTable, "module", glua.LString(path))

	pkg, ok := e.L.GetGlobal("package").(*glua.LTable)
	if !ok {
		return
	}
	dir := filepath.Dir(path)
	oldPath := e.L.GetField(pkg, "path").String()
	e.L.SetField(pkg, "path", glua.LString(dir+"/?.lua;"+oldPath))
}

// --- Execution Primitives (Mechanism) ---

// DoString executes a raw string of Lua code.
// The name parameter is used for stack traces.
func (e *Engine) DoString(name, code string) error {
	fn, err := e.L.Load(strings.NewReader(code), name)
	if err != nil {
		return err
	}
	e.L.Push(fn)
	return e.L.PCall(0, 0, nil)
}

// DoProto executes a precompiled chunk in this VM.
func (e *Engine) DoProto(proto *glua.FunctionProto) error {
	fn := e.L.NewFunctionFromProto(proto)
	e.L.Push(fn)
	return e.L.PCall(0, 0, nil)
}

// Global returns a global variable of the VM.
func (e *Engine) Global(name string) glua.LValue {
	return e.L.GetGlobal(name)
}

// Callable reports whether v can be called: a function, or a value whose
// metatable has __call.
func (e *Engine) Callable(v glua.LValue) bool {
	if _, ok := v.(*glua.LFunction); ok {
		return true
	}
	return e.L.GetMetaField(v, "__call") != glua.LNil
}

// Call invokes fn in protected mode and returns its first result.
func (e *Engine) Call(fn glua.LValue, args ...glua.LValue) (glua.LValue, error) {
	if err := e.L.CallByParam(glua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		return glua.LNil, err
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)
	return ret, nil
}

// --- API Registration ---

func (e *Engine) registerAPIs() {
	e.ocpTable = e.L.NewTable()
	e.L.SetGlobal("ocp", e.ocpTable)

	e.registerCoreFuncs()
	e.registerRegexFuncs()
}

// --- Private Helpers ---

// expandTilde expands ~ to home directory.
func expandTilde(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
