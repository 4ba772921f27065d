package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// PortEnv is the environment variable the resolved viewer port is published under.
const PortEnv = "OCP_PORT"

// FileName is the per-project config file looked up in the working directory.
const FileName = "ocpwatch.yaml"

const (
	DefaultPort       = 3939
	DefaultModule     = "watch"
	DefaultSearchPath = "./?.lua;./?/init.lua"
	DefaultDebounce   = 1600 * time.Millisecond
	DefaultStep       = 50 * time.Millisecond
)

// Isolation selects how each run of the module is executed.
type Isolation string

const (
	IsolationProcess Isolation = "process" // re-exec the binary per run
	IsolationState   Isolation = "state"   // fresh Lua state per run, same process
)

// Config holds everything the supervisor needs.
type Config struct {
	Port       int       `yaml:"port"`
	Module     string    `yaml:"module"`
	SearchPath string    `yaml:"search_path"`
	Viewer     []string  `yaml:"viewer"`
	ViewerArgs []string  `yaml:"viewer_args"` // appended to Viewer, before --port
	Isolation  Isolation `yaml:"isolation"`
	Browser    bool      `yaml:"browser"`

	// Debounce is the longest a batch may keep growing; Step is the quiet
	// period that closes a batch early.
	Debounce time.Duration `yaml:"debounce"`
	Step     time.Duration `yaml:"step"`

	// Ignore holds directory names skipped by the recursive watch.
	Ignore []string `yaml:"ignore"`

	// LogFile, when set, receives component logs with size-based rotation.
	LogFile string `yaml:"log_file"`
}

// envOverlay lists the variables that override the config file. Unset or
// empty variables leave the file value alone.
type envOverlay struct {
	Port      int    `env:"OCP_PORT"`
	Module    string `env:"OCPWATCH_MODULE"`
	Isolation string `env:"OCPWATCH_ISOLATION"`
	LogFile   string `env:"OCPWATCH_LOG_FILE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:       DefaultPort,
		Module:     DefaultModule,
		SearchPath: DefaultSearchPath,
		Viewer:     []string{"python", "-m", "ocp_vscode"},
		Isolation:  IsolationProcess,
		Browser:    true,
		Debounce:   DefaultDebounce,
		Step:       DefaultStep,
		Ignore:     DefaultIgnore(),
	}
}

// DefaultIgnore returns directory names that are never watched.
func DefaultIgnore() []string {
	return []string{
		".git",
		".hg",
		".svn",
		".idea",
		".vscode",
		".venv",
		".tox",
		".mypy_cache",
		".pytest_cache",
		"__pycache__",
		"node_modules",
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. A missing file is not an error. An empty path tries FileName in
// the working directory and then config.yaml in Dir().
func Load(path string) (Config, error) {
	cfg := Default()

	candidates := []string{path}
	if path == "" {
		candidates = []string{FileName, filepath.Join(Dir(), "config.yaml")}
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if errors.Is(err, os.ErrNotExist) && path == "" {
			continue
		}
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", candidate, err)
		}
		break
	}

	cfg, err := applyEnv(cfg)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg Config) (Config, error) {
	var overlay envOverlay
	if err := env.Parse(&overlay); err != nil {
		return cfg, fmt.Errorf("config: environment: %w", err)
	}
	if overlay.Port != 0 {
		cfg.Port = overlay.Port
	}
	if overlay.Module != "" {
		cfg.Module = overlay.Module
	}
	if overlay.Isolation != "" {
		cfg.Isolation = Isolation(overlay.Isolation)
	}
	if overlay.LogFile != "" {
		cfg.LogFile = overlay.LogFile
	}
	return cfg, nil
}

// Validate checks the values a config file or flags can get wrong. Every
// problem is reported, not just the first.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.Port <= 0 || c.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("config: invalid port %d", c.Port))
	}
	if strings.TrimSpace(c.Module) == "" {
		result = multierror.Append(result, errors.New("config: module name is empty"))
	}
	if len(c.Viewer) == 0 {
		result = multierror.Append(result, errors.New("config: viewer command is empty"))
	}
	switch c.Isolation {
	case IsolationProcess, IsolationState:
	default:
		result = multierror.Append(result, fmt.Errorf("config: unknown isolation %q", c.Isolation))
	}
	if c.Step <= 0 || c.Debounce < c.Step {
		result = multierror.Append(result, fmt.Errorf("config: debounce %v must be at least step %v", c.Debounce, c.Step))
	}
	return result.ErrorOrNil()
}

// Flags holds command-line overrides. Zero values mean "not set".
type Flags struct {
	Config    string
	Port      int
	Module    string
	Isolation string
	NoBrowser bool
	Worker    string

	// ViewerArgs are the arguments left over by SplitArgs.
	ViewerArgs []string
}

// RegisterFlags binds the command-line overrides on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Config, "config", "", "Path to config file")
	fs.IntVar(&f.Port, "port", 0, fmt.Sprintf("Viewer port (default %d)", DefaultPort))
	fs.StringVar(&f.Module, "module", "", fmt.Sprintf("Watched module name (default %q)", DefaultModule))
	fs.StringVar(&f.Isolation, "isolation", "", "Run isolation: process or state")
	fs.BoolVar(&f.NoBrowser, "no-browser", false, "Do not open a browser")
	fs.StringVar(&f.Worker, "worker", "", "Run the module file once and exit (internal)")
	return f
}

// Apply overlays the flags that were set.
func (f *Flags) Apply(cfg Config) (Config, error) {
	if f.Port != 0 {
		cfg.Port = f.Port
	}
	if f.Module != "" {
		cfg.Module = f.Module
	}
	if f.Isolation != "" {
		cfg.Isolation = Isolation(f.Isolation)
	}
	if f.NoBrowser {
		cfg.Browser = false
	}
	if len(f.ViewerArgs) > 0 {
		cfg.ViewerArgs = append(append([]string{}, cfg.ViewerArgs...), f.ViewerArgs...)
	}
	return cfg, cfg.Validate()
}

// SplitArgs separates the arguments fs defines from the rest. Unknown flags
// and positional arguments are kept in order for the viewer.
func SplitArgs(fs *flag.FlagSet, args []string) (own, rest []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			rest = append(rest, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") {
			rest = append(rest, arg)
			continue
		}
		name, _, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		f := fs.Lookup(name)
		if f == nil {
			rest = append(rest, arg)
			continue
		}
		own = append(own, arg)
		if hasValue || isBoolFlag(f) {
			continue
		}
		if i+1 < len(args) {
			i++
			own = append(own, args[i])
		}
	}
	return own, rest
}

func isBoolFlag(f *flag.Flag) bool {
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

// WantsHelp reports whether args ask for help. Checked before flag parsing
// so help can be handed to the viewer.
func WantsHelp(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "-h", "--help", "-help":
			return true
		}
	}
	return false
}

// Dir returns the ocpwatch configuration directory.
// Respects XDG_CONFIG_HOME on Unix, APPDATA on Windows.
func Dir() string {
	var base string

	if runtime.GOOS == "windows" {
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	} else {
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(base, "ocpwatch")
}
