package suite

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// FilterEnv is the environment test filter expressions are evaluated against.
//
// Example expressions:
//
//	title contains "fetch"
//	suite startsWith "xhr" && !(title matches "slow")
type FilterEnv struct {
	Title     string   `expr:"title"`
	FullTitle string   `expr:"fullTitle"`
	Suite     string   `expr:"suite"`
	Suites    []string `expr:"suites"`
}

// Filter is a compiled test filter.
type Filter struct {
	source  string
	program *vm.Program
}

// CompileFilter compiles a boolean expr expression. A bare word that does not
// compile as an expression is treated as a substring match on the full title,
// mirroring mocha's --grep.
func CompileFilter(source string) (*Filter, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.Env(FilterEnv{}), expr.AsBool())
	if err != nil {
		literal := fmt.Sprintf("fullTitle contains %q", source)
		fallback, fallbackErr := expr.Compile(literal, expr.Env(FilterEnv{}), expr.AsBool())
		if fallbackErr != nil || strings.ContainsAny(source, "=!&|()") {
			return nil, fmt.Errorf("invalid filter expression %q: %w", source, err)
		}
		program = fallback
	}
	return &Filter{source: source, program: program}, nil
}

// String returns the filter source.
func (f *Filter) String() string {
	return f.source
}

// Match reports whether t is selected. Evaluation errors deselect the test.
func (f *Filter) Match(t *Test) bool {
	if f == nil {
		return true
	}
	env := FilterEnv{
		Title:     t.Title,
		FullTitle: t.FullTitle(),
		Suite:     t.Suite.FullTitle(),
	}
	for cur := t.Suite; cur != nil; cur = cur.Parent {
		if cur.Title != "" {
			env.Suites = append([]string{cur.Title}, env.Suites...)
		}
	}
	result, err := expr.Run(f.program, env)
	if err != nil {
		return false
	}
	matched, _ := result.(bool)
	return matched
}
