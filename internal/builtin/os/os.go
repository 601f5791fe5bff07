// Package os provides the jth:os module: fixture access for test scripts.
// Files are read through an afero filesystem, with relative paths resolved
// against the directory of the script being run.
package os

import (
	"os"
	"path/filepath"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/spf13/afero"
)

// Fixtures resolves and reads fixture files.
type Fixtures struct {
	fs      afero.Fs
	baseDir string
}

// New creates Fixtures over fs. A nil fs is the OS filesystem.
func New(fs afero.Fs, baseDir string) *Fixtures {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Fixtures{fs: fs, baseDir: baseDir}
}

// Path resolves path against the base directory.
func (f *Fixtures) Path(path string) string {
	if filepath.IsAbs(path) || f.baseDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(f.baseDir, path)
}

// ReadFile reads the fixture at path.
func (f *Fixtures) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(f.fs, f.Path(path))
}

// Exists reports whether a fixture exists at path.
func (f *Fixtures) Exists(path string) bool {
	ok, err := afero.Exists(f.fs, f.Path(path))
	return err == nil && ok
}

// Require returns the loader of the jth:os module.
//
//	const { readFile, readJSON, fileExists, getenv } = require('jth:os');
func Require(f *Fixtures) require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)

		// readFile(path: string): { content: string, error: bool, message: string }
		_ = exports.Set("readFile", func(call goja.FunctionCall) goja.Value {
			var path string
			if len(call.Arguments) > 0 {
				path = call.Argument(0).String()
			}
			if path == "" {
				return runtime.ToValue(map[string]any{"error": true, "message": "empty path", "content": ""})
			}
			data, err := f.ReadFile(path)
			if err != nil {
				return runtime.ToValue(map[string]any{"error": true, "message": err.Error(), "content": ""})
			}
			return runtime.ToValue(map[string]any{"error": false, "message": "", "content": string(data)})
		})

		// readJSON(path: string): any, throws if the file is missing or invalid
		_ = exports.Set("readJSON", func(call goja.FunctionCall) goja.Value {
			data, err := f.ReadFile(call.Argument(0).String())
			if err != nil {
				panic(runtime.NewGoError(err))
			}
			parse, ok := goja.AssertFunction(runtime.Get("JSON").ToObject(runtime).Get("parse"))
			if !ok {
				panic(runtime.NewTypeError("JSON.parse is not a function"))
			}
			v, err := parse(goja.Undefined(), runtime.ToValue(string(data)))
			if ex, ok := err.(*goja.Exception); ok {
				panic(ex.Value())
			} else if err != nil {
				panic(runtime.NewGoError(err))
			}
			return v
		})

		// fileExists(path: string): boolean
		_ = exports.Set("fileExists", func(call goja.FunctionCall) goja.Value {
			var path string
			if len(call.Arguments) > 0 {
				path = call.Argument(0).String()
			}
			if path == "" {
				return runtime.ToValue(false)
			}
			return runtime.ToValue(f.Exists(path))
		})

		// getenv(key: string): string
		_ = exports.Set("getenv", func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 || goja.IsUndefined(call.Argument(0)) || goja.IsNull(call.Argument(0)) {
				return runtime.ToValue("")
			}
			return runtime.ToValue(os.Getenv(call.Argument(0).String()))
		})
	}
}
