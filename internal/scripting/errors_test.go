package scripting

import (
	"errors"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFromValue(t *testing.T) {
	t.Parallel()
	vm := goja.New()

	v, err := vm.RunString("new TypeError('bad input')")
	require.NoError(t, err)
	var jsErr *JSError
	require.ErrorAs(t, ErrorFromValue(v), &jsErr)
	assert.Equal(t, "TypeError", jsErr.Name)
	assert.Equal(t, "bad input", jsErr.Message)

	assert.EqualError(t, ErrorFromValue(vm.ToValue("plain")), "plain")
	assert.EqualError(t, ErrorFromValue(goja.Undefined()), "undefined")
	assert.EqualError(t, ErrorFromValue(goja.Null()), "null")
}

func TestErrorFromCall(t *testing.T) {
	t.Parallel()
	vm := goja.New()

	_, err := vm.RunString("throw new Error('thrown')")
	require.Error(t, err)
	assert.EqualError(t, ErrorFromCall(err), "thrown")

	other := errors.New("other")
	assert.Same(t, other, ErrorFromCall(other))
}

func TestAwait(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	await := func(src string) error {
		done := make(chan error, 1)
		require.NoError(t, rt.RunOnLoopSync(func(vm *goja.Runtime) error {
			v, err := vm.RunString(src)
			if err != nil {
				return err
			}
			return Await(vm, v, done)
		}))
		select {
		case err := <-done:
			return err
		case <-time.After(time.Second):
			t.Fatalf("%s never settled", src)
			return nil
		}
	}

	assert.NoError(t, await("42"))
	assert.NoError(t, await("Promise.resolve(1)"))
	assert.NoError(t, await("new Promise(r => setTimeout(r, 5))"))
	assert.EqualError(t, await("Promise.reject(new Error('rejected'))"), "rejected")
	assert.EqualError(t, await("({then(ok, fail) { fail('custom thenable') }})"), "custom thenable")
}

func TestLoadFileAndExpandScripts(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "specs/b.js", []byte("var b = 2;"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "specs/a.js", []byte("var a = 1;"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "specs/nested/c.js", []byte("var c = 3;"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "specs/readme.md", []byte("#"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "one.js", []byte("var one = 1;"), 0o644))

	paths, err := ExpandScripts(fsys, []string{"specs", "one.js", "specs/a.js"})
	require.NoError(t, err)
	assert.Equal(t, []string{"specs/a.js", "specs/b.js", "specs/nested/c.js", "one.js"}, paths)

	_, err = ExpandScripts(fsys, []string{"missing.js"})
	assert.EqualError(t, err, `no scripts match "missing.js"`)

	rt := newTestRuntime(t)
	for _, p := range paths {
		require.NoError(t, rt.LoadFile(fsys, p))
	}
	v, err := rt.GetGlobal("c")
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)

	err = rt.LoadFile(fsys, "nope.js")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read script nope.js")
}
