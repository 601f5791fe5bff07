package suite

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Reporter receives run events. Calls are made from the runner goroutine.
type Reporter interface {
	Start(rep *Report)
	SuiteStart(s *Suite)
	SuiteEnd(s *Suite)
	TestEnd(t *Test)
	HookFailed(s *Suite, err error)
	Done(rep *Report)
}

type nopReporter struct{}

func (nopReporter) Start(*Report)            {}
func (nopReporter) SuiteStart(*Suite)        {}
func (nopReporter) SuiteEnd(*Suite)          {}
func (nopReporter) TestEnd(*Test)            {}
func (nopReporter) HookFailed(*Suite, error) {}
func (nopReporter) Done(*Report)             {}

// SpecReporter prints a mocha "spec" style report.
type SpecReporter struct {
	w     io.Writer
	mu    sync.Mutex
	depth int

	pass  *color.Color
	fail  *color.Color
	skip  *color.Color
	faint *color.Color
	title *color.Color

	failures []failure
}

type failure struct {
	title string
	err   error
}

// NewSpecReporter creates a SpecReporter writing to w.
func NewSpecReporter(w io.Writer, useColor bool) *SpecReporter {
	r := &SpecReporter{
		w:     w,
		pass:  color.New(color.FgGreen),
		fail:  color.New(color.FgRed),
		skip:  color.New(color.FgCyan),
		faint: color.New(color.Faint),
		title: color.New(color.Bold),
	}
	for _, c := range []*color.Color{r.pass, r.fail, r.skip, r.faint, r.title} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

func (r *SpecReporter) indent() string {
	return strings.Repeat("  ", r.depth)
}

func (r *SpecReporter) Start(*Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth = 0
	r.failures = nil
	_, _ = fmt.Fprintln(r.w)
}

func (r *SpecReporter) SuiteStart(s *Suite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth++
	_, _ = r.title.Fprintf(r.w, "%s%s\n", r.indent(), s.Title)
}

func (r *SpecReporter) SuiteEnd(*Suite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth--
	if r.depth == 0 {
		_, _ = fmt.Fprintln(r.w)
	}
}

func (r *SpecReporter) TestEnd(t *Test) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := r.indent() + "  "
	switch t.State {
	case StatePassed:
		_, _ = r.pass.Fprintf(r.w, "%s✓ ", prefix)
		_, _ = fmt.Fprint(r.w, t.Title)
		_, _ = r.faint.Fprintf(r.w, " (%dms)\n", t.Duration.Milliseconds())
	case StateFailed:
		r.failures = append(r.failures, failure{title: t.FullTitle(), err: t.Err})
		_, _ = r.fail.Fprintf(r.w, "%s%d) %s\n", prefix, len(r.failures), t.Title)
	default:
		_, _ = r.skip.Fprintf(r.w, "%s- %s\n", prefix, t.Title)
	}
}

func (r *SpecReporter) HookFailed(s *Suite, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure{title: s.FullTitle(), err: err})
	_, _ = r.fail.Fprintf(r.w, "%s  %d) %s\n", r.indent(), len(r.failures), err)
}

func (r *SpecReporter) Done(rep *Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.w)
	_, _ = r.pass.Fprintf(r.w, "  %d passing", rep.Passed)
	_, _ = r.faint.Fprintf(r.w, " (%dms)\n", rep.Duration.Milliseconds())
	if rep.Skipped > 0 {
		_, _ = r.skip.Fprintf(r.w, "  %d pending\n", rep.Skipped)
	}
	if rep.Failed > 0 {
		_, _ = r.fail.Fprintf(r.w, "  %d failing\n", rep.Failed)
	}
	for i, f := range r.failures {
		_, _ = fmt.Fprintf(r.w, "\n  %d) %s:\n", i+1, f.title)
		_, _ = r.fail.Fprintf(r.w, "     %s\n", strings.ReplaceAll(f.err.Error(), "\n", "\n     "))
	}
	_, _ = r.faint.Fprintf(r.w, "\n  run %s\n", rep.RunID)
}
