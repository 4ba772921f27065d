package lua

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	glua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// ScriptExtension is the file extension the default predicate matches.
const ScriptExtension = ".lua"

// ConfigurationError reports a module that cannot be used: not found, no
// backing file, broken source, or missing/invalid hooks.
type ConfigurationError struct {
	Module string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("module %q: %s: %v", e.Module, e.Reason, e.Err)
	}
	return fmt.Sprintf("module %q: %s", e.Module, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ErrNotFound is wrapped by the ConfigurationError returned for a module that
// is not on the search path.
var ErrNotFound = errors.New("not found")

// Hooks are the entry points a module exposes.
type Hooks struct {
	// Run executes the module's run function once. Required.
	Run func(ctx context.Context) error
	// Predicate reports whether a changed path is a dependency. Defaults to
	// matching ScriptExtension.
	Predicate func(path string) (bool, error)
}

// ExtensionPredicate matches paths ending in ext.
func ExtensionPredicate(ext string) func(string) (bool, error) {
	return func(path string) (bool, error) {
		return strings.HasSuffix(path, ext), nil
	}
}

// Module is one import of the watched script.
type Module struct {
	Name  string
	Path  string // absolute path of the backing file
	Hooks Hooks

	// engine evaluates Predicate. It must only be used from one goroutine.
	engine *Engine
}

// Close releases the module's VM.
func (m *Module) Close() {
	if m != nil && m.engine != nil {
		m.engine.Close()
	}
}

// Loader resolves a module by name and imports it.
type Loader struct {
	Name       string
	SearchPath string // ';'-separated templates, '?' replaced by the name
	Host       Host

	builtins map[string]string
}

// NewLoader creates a Loader for the named module.
func NewLoader(name, searchPath string, host Host) *Loader {
	return &Loader{
		Name:       name,
		SearchPath: searchPath,
		Host:       host,
		builtins:   make(map[string]string),
	}
}

// Builtin registers in-memory source for a module name. Builtin modules take
// precedence over the search path and cannot be watched.
func (l *Loader) Builtin(name, source string) {
	l.builtins[name] = source
}

// Resolve finds the absolute path of the module file.
func (l *Loader) Resolve() (string, error) {
	if _, ok := l.builtins[l.Name]; ok {
		return "", &ConfigurationError{Module: l.Name, Reason: "has no backing file (builtin module)"}
	}

	name := strings.ReplaceAll(l.Name, ".", string(filepath.Separator))
	var tried []string
	for _, template := range strings.Split(l.SearchPath, ";") {
		template = strings.TrimSpace(template)
		if template == "" {
			continue
		}
		candidate := expandTilde(strings.ReplaceAll(template, "?", name))
		tried = append(tried, candidate)

		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(candidate)
		if err != nil {
			return "", &ConfigurationError{Module: l.Name, Reason: "resolving path", Err: err}
		}
		return abs, nil
	}

	return "", &ConfigurationError{
		Module: l.Name,
		Reason: "searched " + strings.Join(tried, ", "),
		Err:    ErrNotFound,
	}
}

// Load performs a fresh import: it resolves, reads, and compiles the module
// file on every call and runs it in a new VM, then extracts the hooks.
func (l *Loader) Load(ctx context.Context) (*Module, error) {
	path, err := l.Resolve()
	if err != nil {
		return nil, err
	}
	return LoadFile(ctx, l.Name, path, l.Host)
}

// LoadFile imports the module at path under the given logical name.
func LoadFile(ctx context.Context, name, path string, host Host) (*Module, error) {
	if path == "" {
		return nil, &ConfigurationError{Module: name, Reason: "has no backing file"}
	}
	proto, err := compileFile(path)
	if err != nil {
		return nil, &ConfigurationError{Module: name, Reason: "compiling " + path, Err: err}
	}

	engine, err := newModuleEngine(ctx, host, path, proto)
	if err != nil {
		return nil, &ConfigurationError{Module: name, Reason: "executing " + path, Err: err}
	}

	run := engine.Global("run")
	if run == glua.LNil {
		engine.Close()
		return nil, &ConfigurationError{Module: name, Reason: "does not define run()"}
	}
	if !engine.Callable(run) {
		engine.Close()
		return nil, &ConfigurationError{Module: name, Reason: fmt.Sprintf("run is a %s, not a function", run.Type())}
	}

	predicate := ExtensionPredicate(ScriptExtension)
	if fn := engine.Global("predicate"); fn != glua.LNil {
		if !engine.Callable(fn) {
			engine.Close()
			return nil, &ConfigurationError{Module: name, Reason: fmt.Sprintf("predicate is a %s, not callable", fn.Type())}
		}
		predicate = func(path string) (bool, error) {
			ret, err := engine.Call(fn, glua.LString(path))
			if err != nil {
				return false, fmt.Errorf("predicate(%q): %w", path, err)
			}
			return glua.LVAsBool(ret), nil
		}
	}

	return &Module{
		Name: name,
		Path: path,
		Hooks: Hooks{
			Run:       runFunc(host, path, proto),
			Predicate: predicate,
		},
		engine: engine,
	}, nil
}

// runFunc returns a Run hook that executes the import-time chunk in a fresh
// VM and then calls run(). No state carries over between invocations.
func runFunc(host Host, path string, proto *glua.FunctionProto) func(context.Context) error {
	return func(ctx context.Context) error {
		engine, err := newModuleEngine(ctx, host, path, proto)
		if err != nil {
			return err
		}
		defer engine.Close()

		_, err = engine.Call(engine.Global("run"))
		return err
	}
}

func newModuleEngine(ctx context.Context, host Host, path string, proto *glua.FunctionProto) (*Engine, error) {
	engine := NewEngine(host)
	if err := engine.Init(); err != nil {
		return nil, err
	}
	engine.SetContext(ctx)
	engine.SetModule(path)
	if err := engine.DoProto(proto); err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}

func compileFile(path string) (*glua.FunctionProto, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	chunk, err := parse.Parse(bufio.NewReader(f), path)
	if err != nil {
		return nil, err
	}
	return glua.Compile(chunk, path)
}
