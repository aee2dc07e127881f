// Package doctor checks a stencil project, its template, the pipeline's
// tools and the instance cache, and explains the last failed cycle.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jorge-barreto/stencil/internal/cache"
	"github.com/jorge-barreto/stencil/internal/config"
	"github.com/jorge-barreto/stencil/internal/conformance"
	"github.com/jorge-barreto/stencil/internal/ctxmodel"
	"github.com/jorge-barreto/stencil/internal/render"
	"github.com/jorge-barreto/stencil/internal/runner"
	"github.com/jorge-barreto/stencil/internal/state"
	"github.com/jorge-barreto/stencil/internal/ux"
)

const maxLogLines = 200

type Level int

const (
	OK Level = iota
	Warn
	Fail
)

// Check is one diagnostic line.
type Check struct {
	Name   string
	Level  Level
	Detail string
}

// Report collects the checks in the order they ran.
type Report struct {
	Checks []Check
	// LastFailure is the log tail of the step that failed the last cycle.
	LastFailure string
}

// Failed reports whether any check failed.
func (r *Report) Failed() bool {
	for _, c := range r.Checks {
		if c.Level == Fail {
			return true
		}
	}
	return false
}

func (r *Report) add(name string, level Level, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Name: name, Level: level, Detail: fmt.Sprintf(format, args...)})
}

// Input is what the doctor inspects.
type Input struct {
	Config   *config.Config
	Cache    *cache.Cache
	StateDir string
	Renderer *render.Renderer
}

// Run performs every check.
func Run(ctx context.Context, in Input) *Report {
	rep := &Report{}
	checkTemplate(ctx, rep, in)
	checkTools(rep, in.Config.Steps)
	if in.Cache != nil {
		checkCache(rep, in.Cache)
	}
	checkLastRun(rep, in.StateDir)
	return rep
}

func checkTemplate(ctx context.Context, rep *Report, in Input) {
	tmpl, err := render.Open(in.Config.TemplateDir())
	if err != nil {
		rep.add("template", Fail, "%v", err)
		return
	}
	rep.add("template", OK, "%s (%d variables)", tmpl.Manifest.Name, len(tmpl.Manifest.Variables))
	r := in.Renderer
	if r == nil {
		r = &render.Renderer{}
	}
	for _, c := range in.Config.Contexts {
		name := "context " + c.Name
		model, err := ctxmodel.Build(tmpl.Manifest, c.Values)
		if err != nil {
			rep.add(name, Fail, "%v", err)
			continue
		}
		if err := r.Validate(ctx, tmpl, model); err != nil {
			rep.add(name, Fail, "%v", err)
			continue
		}
		rep.add(name, OK, "renders cleanly")
	}
}

func checkTools(rep *Report, steps []config.Step) {
	if len(steps) == 0 {
		rep.add("pipeline", Warn, "no steps configured; check and sync will see no edits")
		return
	}
	if err := conformance.Preflight(steps); err != nil {
		rep.add("pipeline", Fail, "%v", err)
		return
	}
	rep.add("pipeline", OK, "%d step(s), all tools found", len(steps))
}

func checkCache(rep *Report, c *cache.Cache) {
	p, err := c.Verify()
	if err != nil {
		rep.add("cache", Fail, "%v", err)
		return
	}
	if p.Empty() {
		rep.add("cache", OK, "%s (%d instance(s))", c.Root(), len(c.List()))
		return
	}
	var parts []string
	for _, d := range p.Unmarked {
		parts = append(parts, "no marker: "+d)
	}
	for _, k := range p.Missing {
		parts = append(parts, "missing slot for key "+k)
	}
	for _, d := range p.Orphans {
		parts = append(parts, "unindexed: "+d)
	}
	for _, d := range p.Staging {
		parts = append(parts, "interrupted render: "+d)
	}
	rep.add("cache", Warn, "%s", strings.Join(parts, "\n    "))
}

func checkLastRun(rep *Report, stateDir string) {
	st, err := state.Load(stateDir)
	if err != nil {
		rep.add("last cycle", Warn, "unreadable state: %v", err)
		return
	}
	switch st.Status {
	case state.StatusFailed, state.StatusInterrupted:
	default:
		if st.RunID != "" {
			rep.add("last cycle", OK, "%s %s", st.Mode, st.Status)
		}
		return
	}
	rep.add("last cycle", Fail, "%s %s during %s (context %s)", st.Mode, st.Status, st.Phase, st.Context)
	if st.Phase != state.PhaseCheck {
		return
	}
	if step := failedStep(stateDir); step != nil {
		rep.LastFailure = fmt.Sprintf("step %q (exit %d, timed out %v):\n%s", step.Name, step.ExitCode, step.TimedOut, gatherLog(step.LogPath))
	}
}

func failedStep(stateDir string) *conformance.StepResult {
	data := state.ReadReport(stateDir, runner.ReportPipeline)
	if data == "" {
		return nil
	}
	var rep conformance.Report
	if err := json.Unmarshal([]byte(data), &rep); err != nil {
		return nil
	}
	return rep.Failure()
}

func gatherLog(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "(no log file found)"
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > maxLogLines {
		lines = lines[len(lines)-maxLogLines:]
		return fmt.Sprintf("... (truncated to last %d lines)\n%s", maxLogLines, strings.Join(lines, "\n"))
	}
	return string(data)
}

// Print writes the report to stdout.
func Print(rep *Report) {
	fmt.Printf("\n%s%s══ stencil doctor ══%s\n\n", ux.Bold, ux.Cyan, ux.Reset)
	for _, c := range rep.Checks {
		mark, color := "✓", ux.Green
		switch c.Level {
		case Warn:
			mark, color = "!", ux.Yellow
		case Fail:
			mark, color = "✗", ux.Red
		}
		fmt.Printf("  %s%s %-16s%s %s\n", color, mark, c.Name, ux.Reset, c.Detail)
	}
	if rep.LastFailure != "" {
		fmt.Printf("\n%sLast failure:%s %s\n", ux.Bold, ux.Reset, rep.LastFailure)
	}
	fmt.Println()
}
