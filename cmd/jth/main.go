package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/afero"

	"github.com/joeycumines/js-test-helpers/internal/command"
	"github.com/joeycumines/js-test-helpers/internal/config"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], afero.NewOsFs(), os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, fs afero.Fs, stdout, stderr io.Writer) int {
	cfg := config.NewConfig()
	configPath, err := config.GetConfigPath()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Warning: %v\n", err)
	} else if loaded, err := config.LoadFromPath(fs, configPath); err != nil {
		_, _ = fmt.Fprintf(stderr, "Warning: ignoring config: %v\n", err)
	} else {
		cfg = loaded
	}

	registry := command.NewRegistry()
	registry.Register(command.NewHelpCommand(registry))
	registry.Register(command.NewVersionCommand(version, cfg))
	registry.Register(command.NewConfigCommand(cfg, fs, configPath))
	registry.Register(command.NewRunCommand(cfg, fs))

	switch err := registry.Dispatch(ctx, args, stdout, stderr); {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, command.ErrTestsFailed):
		return 1
	default:
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}
