package lua

import (
	"testing"

	glua "github.com/yuin/gopher-lua"
)

// setupTest creates an initialized engine and returns a cleanup function
func setupTest(t *testing.T) (*Engine, *MockHost, func()) {
	t.Helper()

	host := NewMockHost()
	engine := NewEngine(host)
	if err := engine.Init(); err != nil {
		t.Fatal("Failed to initialize engine:", err)
	}
	return engine, host, engine.Close
}

func TestOcpPrint(t *testing.T) {
	engine, host, cleanup := setupTest(t)
	defer cleanup()

	if err := engine.DoString("test", `ocp.print("hello")`); err != nil {
		t.Fatal(err)
	}
	if got := host.DrainPrintCalls(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("expected [hello], got %v", got)
	}
}

func TestOcpModuleAndPort(t *testing.T) {
	engine, host, cleanup := setupTest(t)
	defer cleanup()

	engine.SetModule("/work/watch.lua")
	if err := engine.DoString("test", `ocp.print(ocp.module .. ":" .. ocp.port)`); err != nil {
		t.Fatal(err)
	}
	if got := host.DrainPrintCalls(); len(got) != 1 || got[0] != "/work/watch.lua:3939" {
		t.Fatalf("unexpected output %v", got)
	}
}

func TestRegexCompile(t *testing.T) {
	engine, host, cleanup := setupTest(t)
	defer cleanup()

	// Go regexp syntax, not Lua patterns.
	code := `
local re = ocp.regex("^(\\w+)_d(\\d+)$")
local m = re:match("puck_d76")
ocp.print(m[2] .. "," .. m[3])
ocp.print(tostring(re:test("nope")))
`
	if err := engine.DoString("test", code); err != nil {
		t.Fatal(err)
	}
	got := host.DrainPrintCalls()
	if len(got) != 2 || got[0] != "puck,76" || got[1] != "false" {
		t.Fatalf("unexpected output %v", got)
	}
	if engine.regexCache.Len() != 1 {
		t.Fatalf("expected one cached regex, got %d", engine.regexCache.Len())
	}
}

func TestRegexInvalidPattern(t *testing.T) {
	engine, host, cleanup := setupTest(t)
	defer cleanup()

	if err := engine.DoString("test", `local re, err = ocp.regex("(") ocp.print(tostring(re == nil) .. " " .. tostring(err ~= nil))`); err != nil {
		t.Fatal(err)
	}
	if got := host.DrainPrintCalls(); len(got) != 1 || got[0] != "true true" {
		t.Fatalf("unexpected output %v", got)
	}
}

func TestGlob(t *testing.T) {
	engine, _, cleanup := setupTest(t)
	defer cleanup()

	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"*.lua", "/work/parts/a.lua", true},
		{"*.lua", "/work/parts/a.py", false},
		{"/work/*/a.lua", "/work/parts/a.lua", true},
		{"/work/*.lua", "/work/parts/a.lua", false},
	}
	for _, tt := range tests {
		fn := engine.L.GetField(engine.ocpTable, "glob")
		ret, err := engine.Call(fn, glua.LString(tt.pattern), glua.LString(tt.path))
		if err != nil {
			t.Fatalf("glob(%q, %q): %v", tt.pattern, tt.path, err)
		}
		if glua.LVAsBool(ret) != tt.want {
			t.Errorf("glob(%q, %q): want %v", tt.pattern, tt.path, tt.want)
		}
	}
}

func TestCallable(t *testing.T) {
	engine, _, cleanup := setupTest(t)
	defer cleanup()

	if err := engine.DoString("test", `f = function() end; t = setmetatable({}, {__call = f}); n = 1`); err != nil {
		t.Fatal(err)
	}
	if !engine.Callable(engine.Global("f")) || !engine.Callable(engine.Global("t")) {
		t.Fatal("expected function and __call table to be callable")
	}
	if engine.Callable(engine.Global("n")) {
		t.Fatal("number should not be callable")
	}
}

func TestOcpEnv(t *testing.T) {
	engine, host, cleanup := setupTest(t)
	defer cleanup()

	t.Setenv("OCP_PORT", "4001")
	if err := engine.DoString("test", `ocp.print(ocp.env("OCP_PORT") .. ":" .. tostring(ocp.env("OCPWATCH_UNSET_VAR")))`); err != nil {
		t.Fatal(err)
	}
	if got := host.DrainPrintCalls(); len(got) != 1 || got[0] != "4001:nil" {
		t.Fatalf("expected [4001:nil], got %v", got)
	}
}
