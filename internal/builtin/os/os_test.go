package os

import (
	"testing"

	"github.com/dop251/goja"
	gojarequire "github.com/dop251/goja_nodejs/require"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T, f *Fixtures) *goja.Runtime {
	t.Helper()
	registry := gojarequire.NewRegistry()
	registry.RegisterNativeModule("jth:os", Require(f))
	vm := goja.New()
	registry.Enable(vm)
	_, err := vm.RunString(`var jos = require('jth:os');`)
	require.NoError(t, err)
	return vm
}

func TestFixtures(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/suite/fixtures/user.json", []byte(`{"name":"Fire","id":1337}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/suite/broken.json", []byte(`{`), 0o644))
	vm := newRuntime(t, New(fs, "/suite"))

	v, err := vm.RunString(`
		var out = [];
		var r = jos.readFile('fixtures/user.json');
		out.push(r.error, r.content);
		r = jos.readFile('missing.txt');
		out.push(r.error, r.message.length > 0);
		out.push(jos.readFile('').message);
		out.push(jos.readJSON('/suite/fixtures/user.json').id);
		out.push(jos.fileExists('fixtures/user.json'), jos.fileExists('nope'), jos.fileExists(''));
		try { jos.readJSON('broken.json'); } catch (e) { out.push(e instanceof SyntaxError); }
		out;
	`)
	require.NoError(t, err)
	assert.Equal(t, []any{
		false, `{"name":"Fire","id":1337}`,
		true, true,
		"empty path",
		int64(1337),
		true, false, false,
		true,
	}, v.Export())
}

func TestFixtures_Path(t *testing.T) {
	t.Parallel()
	f := New(nil, "/base")
	assert.Equal(t, "/base/a/b.json", f.Path("a/b.json"))
	assert.Equal(t, "/abs/x", f.Path("/abs/../abs/x"))
	assert.Equal(t, "rel", New(nil, "").Path("./rel"))
}

func TestGetenv(t *testing.T) {
	t.Setenv("JTH_OS_TEST_VALUE", "42")
	vm := newRuntime(t, New(afero.NewMemMapFs(), ""))
	v, err := vm.RunString(`jos.getenv('JTH_OS_TEST_VALUE') + '|' + jos.getenv()`)
	require.NoError(t, err)
	assert.Equal(t, "42|", v.String())
}
