package command

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/joeycumines/js-test-helpers/internal/config"
	"github.com/joeycumines/js-test-helpers/internal/scripting"
)

// logConfig holds resolved logging configuration for the run command.
type logConfig struct {
	level   slog.Level
	logFile io.WriteCloser // nil if no file logging
}

// resolveLogConfig resolves log configuration from flags and config defaults.
// Flag values take precedence. The caller must Close() the returned
// logConfig.logFile when done (if non-nil).
func resolveLogConfig(fs afero.Fs, flagPath, flagLevel string, cfg *config.Config) (logConfig, error) {
	schema := config.DefaultSchema()
	var lc logConfig

	resolveStr := func(key string) string {
		if cfg == nil {
			return ""
		}
		return schema.Resolve(cfg, key)
	}
	resolveInt := func(key string) int {
		if cfg == nil {
			return 0
		}
		return cfg.GetInt(key)
	}

	levelStr := flagLevel
	if levelStr == "" {
		levelStr = resolveStr("log.level")
	}
	level, err := scripting.ParseLogLevel(levelStr)
	if err != nil {
		return lc, err
	}
	lc.level = level

	logPath := flagPath
	if logPath == "" {
		logPath = resolveStr("log.file")
	}
	if logPath != "" {
		maxSizeMB := resolveInt("log.max-size-mb")
		if maxSizeMB <= 0 {
			maxSizeMB = 10
		}
		maxFiles := resolveInt("log.max-files")
		if maxFiles < 0 {
			maxFiles = 5
		}
		// zero maxFiles is valid: no backups, truncate on rotate
		w, err := scripting.NewRotatingFileWriter(fs, logPath, maxSizeMB, maxFiles)
		if err != nil {
			return lc, fmt.Errorf("failed to open log file %s: %w", logPath, err)
		}
		lc.logFile = w
	}

	return lc, nil
}

// logger returns a JSON logger writing to the log file when one is
// configured, otherwise a text logger writing to stderr.
func (lc logConfig) logger(stderr io.Writer) *slog.Logger {
	if lc.logFile != nil {
		return scripting.NewLogger(lc.logFile, lc.level, true)
	}
	return scripting.NewLogger(stderr, lc.level, false)
}
