package scripting

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the available log levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLogLevel converts a level name to a slog.Level. The empty string is info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LogLevelDebug:
		return slog.LevelDebug, nil
	case LogLevelInfo, "":
		return slog.LevelInfo, nil
	case LogLevelWarn:
		return slog.LevelWarn, nil
	case LogLevelError:
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

// NewLogger builds the structured logger used by the runner and the native
// modules. JSON output is used for log files, text output otherwise.
func NewLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// LogEntry represents a single captured log entry.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   slog.Level        `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs"`
}

// MemoryHandler is a bounded, in-memory slog.Handler. Tests use it to assert
// on what the engine and registries log.
type MemoryHandler struct {
	mu      *sync.RWMutex
	entries *[]LogEntry
	maxSize int
	attrs   []slog.Attr
}

// NewMemoryHandler creates a MemoryHandler keeping at most maxEntries entries.
func NewMemoryHandler(maxEntries int) *MemoryHandler {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	entries := make([]LogEntry, 0, maxEntries)
	return &MemoryHandler{
		mu:      new(sync.RWMutex),
		entries: &entries,
		maxSize: maxEntries,
	}
}

// Enabled implements slog.Handler.
func (h *MemoryHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle implements slog.Handler.
func (h *MemoryHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]string, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		attrs[attr.Key] = attr.Value.String()
	}
	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value.String()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	*h.entries = append(*h.entries, LogEntry{
		Time:    record.Time,
		Level:   record.Level,
		Message: record.Message,
		Attrs:   attrs,
	})
	// drop the oldest entries once full
	if len(*h.entries) > h.maxSize {
		*h.entries = (*h.entries)[len(*h.entries)-h.maxSize:]
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *MemoryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

// WithGroup implements slog.Handler. Groups are flattened.
func (h *MemoryHandler) WithGroup(string) slog.Handler {
	return h
}

// Entries returns a copy of the captured entries.
func (h *MemoryHandler) Entries() []LogEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]LogEntry, len(*h.entries))
	copy(out, *h.entries)
	return out
}

// Search returns the entries whose message or attributes contain query,
// case-insensitively.
func (h *MemoryHandler) Search(query string) []LogEntry {
	query = strings.ToLower(query)
	var matches []LogEntry
	for _, entry := range h.Entries() {
		if strings.Contains(strings.ToLower(entry.Message), query) {
			matches = append(matches, entry)
			continue
		}
		for key, value := range entry.Attrs {
			if strings.Contains(strings.ToLower(key), query) ||
				strings.Contains(strings.ToLower(value), query) {
				matches = append(matches, entry)
				break
			}
		}
	}
	return matches
}
