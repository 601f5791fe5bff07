package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetKeyInFile(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	const path = "/cfg/config"

	require.NoError(t, SetKeyInFile(fs, path, "timeout", "5s"))
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "timeout 5s", string(data))

	require.NoError(t, SetKeyInFile(fs, path, "timeout", "1s"))
	require.NoError(t, SetKeyInFile(fs, path, "color", ""))
	data, err = afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "timeout 1s\ncolor", string(data))

	cfg, err := LoadFromPath(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "1s", cfg.GetString("timeout"))
}

func TestSetKeyInFile_Sections(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	const path = "/config"
	require.NoError(t, afero.WriteFile(fs, path, []byte("# jth\ntimeout 2s\n\n[run]\nbail true\ngrep old\n"), 0o644))

	require.NoError(t, SetKeyInFile(fs, path, "grep", `title contains "x"`))
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "# jth\ntimeout 2s\n\ngrep title contains \"x\"\n[run]\nbail true\ngrep old\n", string(data))

	cfg, err := LoadFromPath(fs, path)
	require.NoError(t, err)
	assert.Equal(t, `title contains "x"`, cfg.GetString("grep"))
	v, _ := cfg.GetCommandOption("run", "grep")
	assert.Equal(t, "old", v)

	entries, err := afero.ReadDir(fs, "/")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
