package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joeycumines/js-test-helpers/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func invoke(t *testing.T, fs afero.Fs, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, fs, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "/home/jth/config")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/home/jth/config", []byte("poll-interval 5ms\n[version]\nformat short\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/specs/ok.test.js", []byte(`
		var jth = require('jth');
		describe('ok', function() {
			jth.setupAsync();
			it('waits', function() {
				var ready = false;
				setTimeout(function() { ready = true; }, 10);
				jth.waitUntil(function() { return ready; });
			});
		});
	`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/specs/bad.test.js", []byte(`
		it('fails', function() { throw new Error('nope'); });
	`), 0o644))

	code, stdout, _ := invoke(t, fs)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Usage: jth <command>")

	code, stdout, _ = invoke(t, fs, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "0.1.0\n", stdout)

	code, stdout, stderr := invoke(t, fs, "run", "-color", "never", "/specs/ok.test.js")
	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "1 passing")

	code, stdout, stderr = invoke(t, fs, "run", "-color", "never", "/specs/bad.test.js")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "nope")
	assert.Empty(t, stderr)

	code, _, stderr = invoke(t, fs, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error: command not found: frobnicate")

	code, _, _ = invoke(t, fs, "run", "-h")
	assert.Equal(t, 0, code)

	code, stdout, _ = invoke(t, fs, "config", "timeout", "3s")
	assert.Equal(t, 0, code, stdout)
	data, err := afero.ReadFile(fs, "/home/jth/config")
	require.NoError(t, err)
	assert.Equal(t, "poll-interval 5ms\ntimeout 3s\n[version]\nformat short\n", string(data))
}
