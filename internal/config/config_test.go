package config

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromReader(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader(`# Global options
timeout 5s
grep title contains "login"

[run]
# comment inside a section
bail true
origin http://localhost:8080

[version]
format short`))
	require.NoError(t, err)

	v, ok := cfg.GetGlobalOption("timeout")
	assert.True(t, ok)
	assert.Equal(t, "5s", v)

	v, _ = cfg.GetGlobalOption("grep")
	assert.Equal(t, `title contains "login"`, v)

	v, ok = cfg.GetCommandOption("run", "bail")
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	v, ok = cfg.GetCommandOption("run", "timeout")
	assert.True(t, ok, "falls back to the global option")
	assert.Equal(t, "5s", v)

	_, ok = cfg.GetCommandOption("nope", "option")
	assert.False(t, ok)

	assert.False(t, cfg.HasWarnings(), "%v", cfg.Warnings)
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, cfg.Global)
	assert.Empty(t, cfg.Commands)
}

func TestLoadFromReader_Warnings(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader("timeout soon\ntimeot 1s\n[run]\nbail maybe\n"))
	require.NoError(t, err)
	require.True(t, cfg.HasWarnings())
	assert.Len(t, cfg.Warnings, 3)
	joined := strings.Join(cfg.Warnings, "\n")
	assert.Contains(t, joined, `unknown global option: "timeot"`)
	assert.Contains(t, joined, `global option "timeout": expected duration`)
	assert.Contains(t, joined, `option "bail" in [run]: expected bool`)
}

func TestSetOptions(t *testing.T) {
	t.Parallel()
	cfg := NewConfig()
	cfg.SetGlobalOption("color", "true")
	cfg.SetCommandOption("run", "bail", "false")

	v, _ := cfg.GetGlobalOption("color")
	assert.Equal(t, "true", v)
	v, _ = cfg.GetCommandOption("run", "bail")
	assert.Equal(t, "false", v)
}

func TestLoadFromPath(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()

	cfg, err := LoadFromPath(fs, "/home/me/.js-test-helpers/config")
	require.NoError(t, err, "a missing file is an empty config")
	assert.Empty(t, cfg.Global)

	require.NoError(t, fs.MkdirAll("/home/me/.js-test-helpers", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/home/me/.js-test-helpers/config", []byte("poll-interval 10ms\n"), 0o644))
	cfg, err = LoadFromPath(fs, "/home/me/.js-test-helpers/config")
	require.NoError(t, err)
	assert.Equal(t, "10ms", cfg.GetString("poll-interval"))

	_, err = LoadFromPath(fs, "/home/me/.js-test-helpers")
	assert.ErrorContains(t, err, "is a directory")
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/tmp/jth.conf")
	p, err := GetConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/jth.conf", p)

	t.Setenv(EnvConfigPath, "")
	t.Setenv("HOME", "/home/someone")
	p, err = GetConfigPath()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, ".js-test-helpers/config"), p)
}
