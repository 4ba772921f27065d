package watch

import (
	"path/filepath"
	"regexp"
	"strings"
)

// ignoredNames match editor and OS droppings that never count as changes.
var ignoredNames = []*regexp.Regexp{
	regexp.MustCompile(`^\..+\.sw[a-p]$`), // vim swap: .name.swp, .swo, ...
	regexp.MustCompile(`~$`),
	regexp.MustCompile(`^\.#`),
	regexp.MustCompile(`^4913$`),
	regexp.MustCompile(`\.___jb_\w+___$`),
	regexp.MustCompile(`^\.DS_Store$`),
}

// Filter decides which paths the source reports.
type Filter struct {
	dirs map[string]struct{}
}

// NewFilter ignores any path with a component in dirs.
func NewFilter(dirs []string) Filter {
	set := make(map[string]struct{}, len(dirs))
	for _, d := range dirs {
		set[d] = struct{}{}
	}
	return Filter{dirs: set}
}

// IgnoreDir reports whether a directory should not be watched.
func (f Filter) IgnoreDir(path string) bool {
	_, ok := f.dirs[filepath.Base(path)]
	return ok
}

// Ignore reports whether a change to path should be dropped.
func (f Filter) Ignore(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		if _, ok := f.dirs[part]; ok {
			return true
		}
	}
	name := filepath.Base(path)
	if _, ok := f.dirs[name]; ok {
		return true
	}
	for _, re := range ignoredNames {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
