package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/genkiinstruments/ocpwatch/config"
	"github.com/genkiinstruments/ocpwatch/debug"
	"github.com/genkiinstruments/ocpwatch/lua"
	"github.com/genkiinstruments/ocpwatch/session"
	"github.com/genkiinstruments/ocpwatch/ui"
	"github.com/genkiinstruments/ocpwatch/viewer"
	"github.com/genkiinstruments/ocpwatch/watch"
)

// exitInterrupted is the conventional status after a forced interrupt.
const exitInterrupted = 130

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ocpwatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.RegisterFlags(fs)

	if config.WantsHelp(args) {
		return help(fs, args, stdout, stderr)
	}
	if err := parseArgs(fs, flags, args); err != nil {
		return 2
	}

	cfg, err := resolveConfig(flags)
	console := ui.NewConsole(cfg.Port, stdout, stderr)
	if err != nil {
		console.Error(err.Error())
		return 1
	}
	os.Setenv(config.PortEnv, strconv.Itoa(cfg.Port))

	if flags.Worker != "" {
		return worker(flags.Worker, console)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := debug.Logger(cfg.LogFile)
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	stop := watchShutdownSignals(logger, cancel, func() { os.Exit(exitInterrupted) }, signalCh)
	defer stop()

	sup := session.New(cfg, console, console, logger)
	debug.NewMonitor(ctx, sup).Start()

	console.Muted(fmt.Sprintf("viewer on %s", viewer.URL(cfg.Port)))
	if err := sup.Run(ctx); err != nil {
		console.Error(describe(err))
		return 1
	}
	return 0
}

// parseArgs parses our own flags and keeps everything else for the viewer.
func parseArgs(fs *flag.FlagSet, flags *config.Flags, args []string) error {
	own, rest := config.SplitArgs(fs, args)
	if err := fs.Parse(own); err != nil {
		return err
	}
	flags.ViewerArgs = append(rest, fs.Args()...)
	return nil
}

func resolveConfig(flags *config.Flags) (config.Config, error) {
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return cfg, err
	}
	return flags.Apply(cfg)
}

// help hands -h to the viewer so its options are shown, then lists ours.
func help(fs *flag.FlagSet, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(configArg(args))
	if err != nil {
		cfg = config.Default()
	}
	code, err := viewer.Help(context.Background(), cfg.Viewer, stdout, stderr)
	fmt.Fprintln(stderr, "\nocpwatch options:")
	fs.PrintDefaults()
	if err != nil {
		fmt.Fprintf(stderr, "\nviewer help unavailable: %v\n", err)
		return 2
	}
	return code
}

// configArg finds -config before the flag set is parsed.
func configArg(args []string) string {
	for i, arg := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name != "config" || !strings.HasPrefix(arg, "-") {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// worker imports the module file and runs it once. Process isolation
// re-executes the binary into this mode for every run.
func worker(path string, console *ui.Console) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	mod, err := lua.LoadFile(ctx, name, path, console)
	if err != nil {
		console.Error(describe(err))
		return 1
	}
	defer mod.Close()

	if err := mod.Hooks.Run(ctx); err != nil {
		console.Error(fmt.Sprintf("%s: %v", name, err))
		return 1
	}
	return 0
}

// describe prefixes an error with the kind of failure it is.
func describe(err error) string {
	var (
		ce *lua.ConfigurationError
		se *watch.SourceError
	)
	switch {
	case errors.As(err, &ce):
		return "configuration error: " + err.Error()
	case errors.As(err, &se):
		return "watch failed: " + err.Error()
	}
	return err.Error()
}
