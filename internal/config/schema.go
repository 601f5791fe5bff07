package config

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OptionType is the value type of an option.
type OptionType string

const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool"
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration"
)

// ConfigOption declares one option.
type ConfigOption struct {
	// Key is the option name as written in the file.
	Key     string
	Type    OptionType
	Default string
	// Choices, when set, lists the accepted values (case-insensitive).
	Choices     []string
	Description string
	// Section is "" for global options, otherwise the command name.
	Section string
	// EnvVar overrides the option when set, even to "".
	EnvVar string
}

// ConfigSchema is the set of known options.
type ConfigSchema struct {
	options []*ConfigOption
	// index is keyed by section, then key; globals live under "".
	index map[string]map[string]*ConfigOption
}

// NewSchema creates an empty schema.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{index: make(map[string]map[string]*ConfigOption)}
}

// Register adds opt. A later registration of the same section and key
// replaces the earlier one.
func (s *ConfigSchema) Register(opt ConfigOption) {
	ref := &opt
	if s.index[opt.Section] == nil {
		s.index[opt.Section] = make(map[string]*ConfigOption)
	}
	if prev, ok := s.index[opt.Section][opt.Key]; ok {
		s.options = slices.DeleteFunc(s.options, func(o *ConfigOption) bool { return o == prev })
	}
	s.index[opt.Section][opt.Key] = ref
	s.options = append(s.options, ref)
}

// RegisterAll registers every option of opts.
func (s *ConfigSchema) RegisterAll(opts []ConfigOption) {
	for _, opt := range opts {
		s.Register(opt)
	}
}

// Lookup returns the option key of section ("" for global), or nil.
func (s *ConfigSchema) Lookup(section, key string) *ConfigOption {
	return s.index[section][key]
}

// IsKnown reports whether key may appear in section. Global options may
// appear in any section, overriding the global value for that command.
func (s *ConfigSchema) IsKnown(section, key string) bool {
	return s.Lookup(section, key) != nil || s.Lookup("", key) != nil
}

// GlobalOptions returns the global options in registration order.
func (s *ConfigSchema) GlobalOptions() []ConfigOption {
	return s.SectionOptions("")
}

// SectionOptions returns the options of section in registration order.
func (s *ConfigSchema) SectionOptions(section string) []ConfigOption {
	var out []ConfigOption
	for _, o := range s.options {
		if o.Section == section {
			out = append(out, *o)
		}
	}
	return out
}

// Sections returns the sorted names of the non-global sections.
func (s *ConfigSchema) Sections() []string {
	var out []string
	for sec := range s.index {
		if sec != "" {
			out = append(out, sec)
		}
	}
	sort.Strings(out)
	return out
}

// Resolve returns the effective value of a global option: its environment
// variable, then the config file, then the default.
func (s *ConfigSchema) Resolve(c *Config, key string) string {
	return s.resolve(s.Lookup("", key), func() (string, bool) {
		return c.GetGlobalOption(key)
	})
}

// ResolveCommand is Resolve for an option of a command section. A value in the
// command section wins over the global value; env overrides and defaults are
// taken from the section option, then the global one.
func (s *ConfigSchema) ResolveCommand(c *Config, command, key string) string {
	opt := s.Lookup(command, key)
	if opt == nil {
		opt = s.Lookup("", key)
	}
	return s.resolve(opt, func() (string, bool) {
		return c.GetCommandOption(command, key)
	})
}

func (s *ConfigSchema) resolve(opt *ConfigOption, fromConfig func() (string, bool)) string {
	if opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if v, ok := fromConfig(); ok {
		return v
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// ValidateConfig returns the problems of c against s, sorted: unknown keys,
// values of the wrong type and values outside an option's choices.
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string

	for key, value := range c.Global {
		opt := s.Lookup("", key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
			continue
		}
		if err := opt.validate(value); err != nil {
			issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
		}
	}

	for section, opts := range c.Commands {
		for key, value := range opts {
			opt := s.Lookup(section, key)
			if opt == nil {
				opt = s.Lookup("", key)
			}
			if opt == nil {
				issues = append(issues, fmt.Sprintf("unknown option for command %q: %q (value: %q)", section, key, value))
				continue
			}
			if err := opt.validate(value); err != nil {
				issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
			}
		}
	}

	sort.Strings(issues)
	return issues
}

func (o *ConfigOption) validate(value string) error {
	if err := validateType(o.Type, value); err != nil {
		return err
	}
	if len(o.Choices) > 0 && !slices.Contains(o.Choices, strings.ToLower(value)) {
		return fmt.Errorf("expected one of %s, got %q", strings.Join(o.Choices, ", "), value)
	}
	return nil
}

func validateType(t OptionType, value string) error {
	var err error
	switch t {
	case TypeString, "":
	case TypeBool:
		_, err = ParseBool(value)
	case TypeInt:
		_, err = strconv.Atoi(value)
	case TypeDuration:
		_, err = time.ParseDuration(value)
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	if err != nil {
		return fmt.Errorf("expected %s, got %q", t, value)
	}
	return nil
}

// GetString returns the global option key, or "".
func (c *Config) GetString(key string) string {
	v, _ := c.GetGlobalOption(key)
	return v
}

// GetStringDefault returns the global option key, or def when unset.
func (c *Config) GetStringDefault(key, def string) string {
	if v, ok := c.GetGlobalOption(key); ok {
		return v
	}
	return def
}

// GetBool returns the global option key as a bool; unset or invalid is false.
func (c *Config) GetBool(key string) bool {
	b, _ := ParseBool(c.GetString(key))
	return b
}

// GetInt returns the global option key as an int; unset or invalid is 0.
func (c *Config) GetInt(key string) int {
	i, _ := strconv.Atoi(c.GetString(key))
	return i
}

// GetDuration returns the global option key as a duration; unset or invalid
// is 0.
func (c *Config) GetDuration(key string) time.Duration {
	d, _ := time.ParseDuration(c.GetString(key))
	return d
}

// FormatHelp renders the options of s, globals first.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder
	if globals := s.GlobalOptions(); len(globals) > 0 {
		b.WriteString("Global Options:\n")
		for _, o := range globals {
			writeOptionHelp(&b, o)
		}
	}
	for _, sec := range s.Sections() {
		opts := s.SectionOptions(sec)
		if len(opts) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n[%s] Options:\n", sec)
		for _, o := range opts {
			writeOptionHelp(&b, o)
		}
	}
	return b.String()
}

func writeOptionHelp(b *strings.Builder, o ConfigOption) {
	fmt.Fprintf(b, "  %-20s %s", o.Key, o.Description)
	var parts []string
	if o.Type != "" && o.Type != TypeString {
		parts = append(parts, "type: "+string(o.Type))
	}
	if len(o.Choices) > 0 {
		parts = append(parts, "one of: "+strings.Join(o.Choices, "|"))
	}
	if o.Default != "" {
		parts = append(parts, "default: "+o.Default)
	}
	if o.EnvVar != "" {
		parts = append(parts, "env: "+o.EnvVar)
	}
	if len(parts) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString("\n")
}

// DefaultSchema returns the schema of every option jth understands.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.RegisterAll([]ConfigOption{
		{Key: "timeout", Type: TypeDuration, Default: "2s", Description: "Per-test and per-hook timeout", EnvVar: "JTH_TIMEOUT"},
		{Key: "poll-interval", Type: TypeDuration, Default: "100ms", Description: "Polling interval of waitUntil and the other wait helpers"},
		{Key: "color", Type: TypeBool, Description: "Force coloured output on or off (unset: detect the terminal)", EnvVar: "JTH_COLOR"},
		{Key: "grep", Type: TypeString, Description: "Test filter: an expr expression, or text the full title must contain", EnvVar: "JTH_GREP"},
		{Key: "log.file", Type: TypeString, Description: "Log file path (JSON lines, rotated)", EnvVar: "JTH_LOG_FILE"},
		{Key: "log.level", Type: TypeString, Default: "info", Choices: []string{"debug", "info", "warn", "error"}, Description: "Log level", EnvVar: "JTH_LOG_LEVEL"},
		{Key: "log.max-size-mb", Type: TypeInt, Default: "10", Description: "Log file size in MB that triggers rotation"},
		{Key: "log.max-files", Type: TypeInt, Default: "5", Description: "Rotated log files to keep"},

		{Key: "bail", Section: "run", Type: TypeBool, Default: "false", Description: "Stop after the first file with failures"},
		{Key: "fixtures", Type: TypeString, Section: "run", Description: "Fixture directory of jth:os (default: each script's directory)"},
		{Key: "origin", Type: TypeString, Section: "run", Default: "http://localhost", Description: "Base URL of relative fetch and XMLHttpRequest URLs"},

		{Key: "format", Type: TypeString, Section: "version", Choices: []string{"short", "full"}, Description: "Version output format"},
	})
	return s
}
