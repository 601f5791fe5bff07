package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"golang.org/x/term"

	"github.com/joeycumines/js-test-helpers/internal/builtin"
	"github.com/joeycumines/js-test-helpers/internal/builtin/fetch"
	"github.com/joeycumines/js-test-helpers/internal/config"
	"github.com/joeycumines/js-test-helpers/internal/scripting"
	"github.com/joeycumines/js-test-helpers/internal/suite"
)

// RunCommand runs test scripts. Every script gets its own runtime, document
// and suite tree.
type RunCommand struct {
	*BaseCommand
	config *config.Config
	fs     afero.Fs

	timeout      time.Duration
	pollInterval time.Duration
	grep         string
	color        string
	bail         bool
	fixtures     string
	origin       string
	logFile      string
	logLevel     string
}

// NewRunCommand creates the run command. Scripts, fixtures and the log file
// are all resolved on fs.
func NewRunCommand(cfg *config.Config, fs afero.Fs) *RunCommand {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Run JavaScript test files",
			"run [options] <file|dir|glob>...",
		),
		config: cfg,
		fs:     fs,
	}
}

// SetupFlags configures the flags for the run command.
func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	fs.DurationVar(&c.timeout, "timeout", 0, "Per-test and per-hook timeout (default from config, 2s)")
	fs.DurationVar(&c.pollInterval, "poll-interval", 0, "Polling interval of the wait helpers (default from config, 100ms)")
	fs.StringVar(&c.grep, "grep", "", "Only run tests matching this expression, or containing this text")
	fs.StringVar(&c.color, "color", "auto", "Colour output: auto, always or never")
	fs.BoolVar(&c.bail, "bail", false, "Stop after the first file with failures")
	fs.StringVar(&c.fixtures, "fixtures", "", "Fixture directory of jth:os (default: the directory of each script)")
	fs.StringVar(&c.origin, "origin", "", "Base URL for relative fetch and XMLHttpRequest URLs")
	fs.StringVar(&c.logFile, "log-file", "", "Write JSON logs to this file (rotated)")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// runSettings is the resolved configuration of one invocation.
type runSettings struct {
	logger       *slog.Logger
	timeout      time.Duration
	pollInterval time.Duration
	filter       *suite.Filter
	useColor     bool
	bail         bool
	fixtures     string
	origin       *url.URL
}

// Execute runs every script matched by args.
func (c *RunCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintf(stderr, "Usage: jth %s\n", c.Usage())
		return errors.New("no test files given")
	}

	lc, err := resolveLogConfig(c.fs, c.logFile, c.logLevel, c.config)
	if err != nil {
		return err
	}
	if lc.logFile != nil {
		defer lc.logFile.Close()
	}

	s, err := c.resolve(lc.logger(stderr), stdout)
	if err != nil {
		return err
	}

	paths, err := scripting.ExpandScripts(c.fs, args)
	if err != nil {
		return err
	}

	var passed, failed, skipped int
	for _, path := range paths {
		rep, err := c.runFile(ctx, s, path, stdout)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		passed += rep.Passed
		failed += rep.Failed + len(rep.HookErrors)
		skipped += rep.Skipped
		if !rep.OK() && s.bail {
			break
		}
	}

	if len(paths) > 1 {
		_, _ = fmt.Fprintf(stdout, "\n%d files: %d passing, %d failing, %d pending\n", len(paths), passed, failed, skipped)
	}
	if failed > 0 {
		return ErrTestsFailed
	}
	return nil
}

func (c *RunCommand) resolve(logger *slog.Logger, stdout io.Writer) (*runSettings, error) {
	schema := config.DefaultSchema()
	s := &runSettings{logger: logger, bail: c.bail, fixtures: c.fixtures}

	duration := func(flagValue time.Duration, key string) (time.Duration, error) {
		if flagValue > 0 {
			return flagValue, nil
		}
		v := schema.ResolveCommand(c.config, "run", key)
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		return d, nil
	}
	var err error
	if s.timeout, err = duration(c.timeout, "timeout"); err != nil {
		return nil, err
	}
	if s.pollInterval, err = duration(c.pollInterval, "poll-interval"); err != nil {
		return nil, err
	}

	grep := c.grep
	if grep == "" {
		grep = schema.ResolveCommand(c.config, "run", "grep")
	}
	if s.filter, err = suite.CompileFilter(grep); err != nil {
		return nil, err
	}

	if !s.bail {
		if v := schema.ResolveCommand(c.config, "run", "bail"); v != "" {
			s.bail, _ = config.ParseBool(v)
		}
	}
	if s.fixtures == "" {
		s.fixtures = schema.ResolveCommand(c.config, "run", "fixtures")
	}

	origin := c.origin
	if origin == "" {
		origin = schema.ResolveCommand(c.config, "run", "origin")
	}
	if s.origin, err = url.Parse(origin); err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", origin, err)
	}

	if s.useColor, err = c.useColor(stdout); err != nil {
		return nil, err
	}
	return s, nil
}

// useColor resolves the colour mode: the flag, then the color option, then
// whether stdout is a terminal.
func (c *RunCommand) useColor(stdout io.Writer) (bool, error) {
	switch c.color {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
	default:
		return false, fmt.Errorf("invalid color mode %q (want auto, always or never)", c.color)
	}
	if v := config.DefaultSchema().Resolve(c.config, "color"); v != "" {
		return config.ParseBool(v)
	}
	f, ok := stdout.(*os.File)
	if !ok {
		return false, nil
	}
	if f == os.Stdout {
		// NO_COLOR, TERM=dumb and tty detection
		return !color.NoColor, nil
	}
	return os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(f.Fd())), nil
}

func (c *RunCommand) runFile(ctx context.Context, s *runSettings, path string, stdout io.Writer) (*suite.Report, error) {
	logger := s.logger.With("file", path)

	rt, err := scripting.NewRuntime(ctx, scripting.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	runner, err := suite.New(rt,
		suite.WithTimeout(s.timeout),
		suite.WithLogger(logger),
		suite.WithReporter(suite.NewSpecReporter(stdout, s.useColor)),
		suite.WithFilter(s.filter),
	)
	if err != nil {
		return nil, err
	}

	fixtures := s.fixtures
	if fixtures == "" {
		fixtures = filepath.Dir(path)
	}
	if _, err := builtin.Register(ctx, rt, runner,
		builtin.WithLogger(logger),
		builtin.WithPollInterval(s.pollInterval),
		builtin.WithFixtures(c.fs, fixtures),
		builtin.WithFetchOptions(fetch.WithBaseURL(s.origin)),
	); err != nil {
		return nil, err
	}

	if err := rt.LoadFile(c.fs, path); err != nil {
		return nil, err
	}
	return runner.Run(ctx)
}
