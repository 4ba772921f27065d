package lua

import (
	"regexp"

	glua "github.com/yuin/gopher-lua"
)

const luaRegexTypeName = "Regex"

// registerRegexType registers the Regex userdata type.
func registerRegexType(L *glua.LState) {
	mt := L.NewTypeMetatable(luaRegexTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]glua.LGFunction{
		"match":   regexMatch,
		"test":    regexTest,
		"pattern": regexPattern,
	}))
}

func checkRegex(L *glua.LState) *regexp.Regexp {
	ud := L.CheckUserData(1)
	re, ok := ud.Value.(*regexp.Regexp)
	if !ok {
		L.ArgError(1, "Regex expected")
	}
	return re
}

// re:match(text): Table of captures, or nil
func regexMatch(L *glua.LState) int {
	re := checkRegex(L)
	matches := re.FindStringSubmatch(L.CheckString(2))
	if matches == nil {
		L.Push(glua.LNil)
		return 1
	}
	tbl := L.NewTable()
	for i, m := range matches {
		tbl.RawSetInt(i+1, glua.LString(m))
	}
	L.Push(tbl)
	return 1
}

// re:test(text): Whether text matches
func regexTest(L *glua.LState) int {
	re := checkRegex(L)
	L.Push(glua.LBool(re.MatchString(L.CheckString(2))))
	return 1
}

func regexPattern(L *glua.LState) int {
	L.Push(glua.LString(checkRegex(L).String()))
	return 1
}

// compileRegex returns a cached compiled pattern.
func (e *Engine) compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.regexCache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.regexCache.Add(pattern, re)
	return re, nil
}

// registerRegexFuncs registers ocp.regex
func (e *Engine) registerRegexFuncs() {
	registerRegexType(e.L)

	// ocp.regex(pattern): Compile and return a Regex userdata, or nil and an error
	e.L.SetField(e.ocpTable, "regex", e.L.NewFunction(func(L *glua.LState) int {
		re, err := e.compileRegex(L.CheckString(1))
		if err != nil {
			L.Push(glua.LNil)
			L.Push(glua.LString(err.Error()))
			return 2
		}

		ud := L.NewUserData()
		ud.Value = re
		L.SetMetatable(ud, L.GetTypeMetatable(luaRegexTypeName))
		L.Push(ud)
		return 1
	}))
}
