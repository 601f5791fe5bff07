package command

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/js-test-helpers/internal/config"
)

const passingScript = `
var jth = require('jth');
var assert = require('jth:assert');
var fixtures = require('jth:os');

describe('list', function() {
	jth.setupAndTeardownApp(function(root) {
		root.innerHTML = '<ul></ul><button>add</button>';
		root.querySelector('button').addEventListener('click', function() {
			fetch('/api/items').then(function(r) { return r.json(); }).then(function(items) {
				items.forEach(function(item) {
					var li = document.createElement('li');
					li.textContent = item;
					root.querySelector('ul').appendChild(li);
				});
			});
		});
	});
	beforeEach(jth.setupFakeFetch);
	afterEach(jth.teardownFakeFetch);

	it('renders fetched items', function() {
		jth.click('button');
		jth.waitUntilFetchExists('/api/items');
		jth.andThen(function(responder) {
			responder.resolveWith(200, fixtures.readJSON('items.json'));
		});
		jth.waitUntilExists('li');
		jth.andThen(function(lis) {
			assert.equal(lis.length, 2);
		});
	});

	it.skip('is pending', function() {});
});
`

const failingScript = `
describe('broken', function() {
	it('throws', function() {
		throw new Error('boom');
	});
	it('passes', function() {});
});
`

func newRunFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/specs/list.test.js", []byte(passingScript), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/specs/items.json", []byte(`["a","b"]`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/broken/broken.test.js", []byte(failingScript), 0o644))
	return fs
}

func runCmd(t *testing.T, cfg *config.Config, fs afero.Fs, args ...string) (string, string, error) {
	t.Helper()
	r := NewRegistry()
	r.Register(NewRunCommand(cfg, fs))
	var stdout, stderr bytes.Buffer
	err := r.Dispatch(context.Background(), append([]string{"run", "-color", "never", "-poll-interval", "5ms"}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRunCommand_Passing(t *testing.T) {
	t.Parallel()
	stdout, _, err := runCmd(t, nil, newRunFS(t), "/specs/list.test.js")
	require.NoError(t, err, stdout)
	assert.Contains(t, stdout, "list")
	assert.Contains(t, stdout, "renders fetched items")
	assert.Contains(t, stdout, "1 passing")
	assert.Contains(t, stdout, "1 pending")
	assert.NotContains(t, stdout, "\x1b[", "colour disabled")
}

func TestRunCommand_Failing(t *testing.T) {
	t.Parallel()
	stdout, _, err := runCmd(t, nil, newRunFS(t), "/broken")
	assert.ErrorIs(t, err, ErrTestsFailed)
	assert.Contains(t, stdout, "1 passing")
	assert.Contains(t, stdout, "1 failing")
	assert.Contains(t, stdout, "boom")
}

func TestRunCommand_MultipleFiles(t *testing.T) {
	t.Parallel()
	stdout, _, err := runCmd(t, nil, newRunFS(t), "/specs", "/broken")
	assert.ErrorIs(t, err, ErrTestsFailed)
	assert.Contains(t, stdout, "2 files: 2 passing, 1 failing, 1 pending")
}

func TestRunCommand_Bail(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cfg.SetCommandOption("run", "bail", "yes")
	stdout, _, err := runCmd(t, cfg, newRunFS(t), "/broken", "/specs")
	assert.ErrorIs(t, err, ErrTestsFailed)
	assert.NotContains(t, stdout, "renders fetched items")
	assert.Contains(t, stdout, "2 files: 1 passing, 1 failing, 0 pending")
}

func TestRunCommand_Grep(t *testing.T) {
	t.Parallel()
	stdout, _, err := runCmd(t, nil, newRunFS(t), "-grep", `title == "passes"`, "/broken")
	require.NoError(t, err, stdout)
	assert.Contains(t, stdout, "1 passing")
	assert.NotContains(t, stdout, "boom")

	cfg := config.NewConfig()
	cfg.SetGlobalOption("grep", "passes")
	stdout, _, err = runCmd(t, cfg, newRunFS(t), "/broken")
	require.NoError(t, err, stdout)
	assert.Contains(t, stdout, "1 passing")
}

func TestRunCommand_Errors(t *testing.T) {
	t.Parallel()
	fs := newRunFS(t)

	_, _, err := runCmd(t, nil, fs)
	assert.EqualError(t, err, "no test files given")

	_, _, err = runCmd(t, nil, fs, "/missing.js")
	assert.EqualError(t, err, `no scripts match "/missing.js"`)

	_, _, err = runCmd(t, nil, fs, "-color", "sometimes", "/specs")
	assert.ErrorContains(t, err, "invalid color mode")

	_, _, err = runCmd(t, nil, fs, "-grep", "title == (", "/specs")
	assert.ErrorContains(t, err, "invalid filter expression")

	cfg := config.NewConfig()
	cfg.SetGlobalOption("timeout", "soon")
	r := NewRegistry()
	r.Register(NewRunCommand(cfg, fs))
	err = r.Dispatch(context.Background(), []string{"run", "/specs"}, &bytes.Buffer{}, &bytes.Buffer{})
	assert.ErrorContains(t, err, `invalid timeout "soon"`)

	require.NoError(t, afero.WriteFile(fs, "/syntax.js", []byte("describe(("), 0o644))
	_, _, err = runCmd(t, nil, fs, "/syntax.js")
	assert.ErrorContains(t, err, "failed to compile /syntax.js")
}

func TestRunCommand_LogFile(t *testing.T) {
	t.Parallel()
	fs := newRunFS(t)
	_, _, err := runCmd(t, nil, fs, "-log-file", "/logs/jth.log", "-log-level", "debug", "/specs")
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, "/logs/jth.log")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"file":"/specs/list.test.js"`)
	assert.Contains(t, string(data), `"msg":"test run started"`)
}
