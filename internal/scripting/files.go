package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// LoadFile reads a script from fsys and executes it.
func (rt *Runtime) LoadFile(fsys afero.Fs, path string) error {
	code, err := afero.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return rt.LoadScript(path, string(code))
}

// ExpandScripts resolves the arguments of a run into script paths. Directories
// contribute their *.js files recursively, in lexical order; glob patterns are
// expanded.
func ExpandScripts(fsys afero.Fs, args []string) ([]string, error) {
	var paths []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}

	for _, arg := range args {
		matches, err := afero.Glob(fsys, arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no scripts match %q", arg)
		}
		sort.Strings(matches)
		for _, match := range matches {
			info, err := fsys.Stat(match)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				add(match)
				continue
			}
			var found []string
			err = afero.Walk(fsys, match, func(p string, fi os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !fi.IsDir() && filepath.Ext(p) == ".js" {
					found = append(found, p)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("failed to scan %s: %w", match, err)
			}
			sort.Strings(found)
			for _, p := range found {
				add(p)
			}
		}
	}
	return paths, nil
}
