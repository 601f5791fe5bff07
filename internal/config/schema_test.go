package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_LookupAndIsKnown(t *testing.T) {
	t.Parallel()
	s := NewSchema()
	s.RegisterAll([]ConfigOption{
		{Key: "timeout", Type: TypeDuration},
		{Key: "bail", Type: TypeBool, Section: "run"},
	})

	require.NotNil(t, s.Lookup("", "timeout"))
	require.NotNil(t, s.Lookup("run", "bail"))
	assert.Nil(t, s.Lookup("", "bail"))
	assert.Nil(t, s.Lookup("version", "bail"))

	assert.True(t, s.IsKnown("run", "timeout"), "global keys are known in every section")
	assert.False(t, s.IsKnown("", "bail"))
	assert.Equal(t, []string{"run"}, s.Sections())
	assert.Len(t, s.GlobalOptions(), 1)
	assert.Len(t, s.SectionOptions("run"), 1)
}

func TestSchema_DuplicateOverwrites(t *testing.T) {
	t.Parallel()
	s := NewSchema()
	s.Register(ConfigOption{Key: "color", Type: TypeString})
	s.Register(ConfigOption{Key: "color", Type: TypeBool})
	assert.Equal(t, TypeBool, s.Lookup("", "color").Type)
}

func TestValidateType(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		typ   OptionType
		value string
		ok    bool
	}{
		{TypeString, "anything", true},
		{TypeBool, "yes", true},
		{TypeBool, "OFF", true},
		{TypeBool, "maybe", false},
		{TypeInt, "42", true},
		{TypeInt, "4.2", false},
		{TypeDuration, "150ms", true},
		{TypeDuration, "2", false},
		{OptionType("weird"), "x", false},
	} {
		err := validateType(tc.typ, tc.value)
		if tc.ok {
			assert.NoError(t, err, "%s %q", tc.typ, tc.value)
		} else {
			assert.Error(t, err, "%s %q", tc.typ, tc.value)
		}
	}
}

func TestDefaultSchema(t *testing.T) {
	t.Parallel()
	s := DefaultSchema()
	for key, typ := range map[string]OptionType{
		"timeout":       TypeDuration,
		"poll-interval": TypeDuration,
		"color":         TypeBool,
		"grep":          TypeString,
		"log.level":     TypeString,
		"log.file":      TypeString,
	} {
		opt := s.Lookup("", key)
		if assert.NotNil(t, opt, key) {
			assert.Equal(t, typ, opt.Type, key)
		}
	}
	assert.Equal(t, "2s", s.Lookup("", "timeout").Default)
	assert.Equal(t, "100ms", s.Lookup("", "poll-interval").Default)
	assert.NotNil(t, s.Lookup("run", "origin"))

	help := s.FormatHelp()
	assert.Contains(t, help, "Global Options:")
	assert.Contains(t, help, "[run] Options:")
	assert.Contains(t, help, "env: JTH_LOG_LEVEL")
	assert.Contains(t, help, "default: 2s")
	assert.Contains(t, help, "one of: debug|info|warn|error")
}

func TestValidateConfig_Choices(t *testing.T) {
	t.Parallel()
	c := NewConfig()
	c.SetGlobalOption("log.level", "WARN")
	c.SetCommandOption("version", "format", "long")
	assert.Equal(t, []string{`option "format" in [version]: expected one of short, full, got "long"`}, ValidateConfig(c, DefaultSchema()))
}

func TestSchema_Resolve(t *testing.T) {
	s := NewSchema()
	s.RegisterAll([]ConfigOption{
		{Key: "timeout", Type: TypeDuration, Default: "2s", EnvVar: "JTH_TEST_RESOLVE_TIMEOUT"},
		{Key: "origin", Section: "run", Default: "http://localhost"},
	})

	c := NewConfig()
	assert.Equal(t, "2s", s.Resolve(c, "timeout"))

	c.SetGlobalOption("timeout", "3s")
	assert.Equal(t, "3s", s.Resolve(c, "timeout"))

	t.Setenv("JTH_TEST_RESOLVE_TIMEOUT", "4s")
	assert.Equal(t, "4s", s.Resolve(c, "timeout"))
	assert.Equal(t, "4s", s.ResolveCommand(c, "run", "timeout"))
	assert.Equal(t, "", s.Resolve(c, "nonexistent"))

	assert.Equal(t, "http://localhost", s.ResolveCommand(c, "run", "origin"))
	c.SetCommandOption("run", "origin", "http://example.test")
	assert.Equal(t, "http://example.test", s.ResolveCommand(c, "run", "origin"))
}

func TestConfig_TypedGetters(t *testing.T) {
	t.Parallel()
	c := NewConfig()
	c.SetGlobalOption("color", "yes")
	c.SetGlobalOption("log.max-files", "7")
	c.SetGlobalOption("timeout", "250ms")
	c.SetGlobalOption("broken", "x")

	assert.True(t, c.GetBool("color"))
	assert.False(t, c.GetBool("broken"))
	assert.Equal(t, 7, c.GetInt("log.max-files"))
	assert.Equal(t, 0, c.GetInt("broken"))
	assert.Equal(t, 250*time.Millisecond, c.GetDuration("timeout"))
	assert.Equal(t, time.Duration(0), c.GetDuration("missing"))
	assert.Equal(t, "fallback", c.GetStringDefault("missing", "fallback"))
}
