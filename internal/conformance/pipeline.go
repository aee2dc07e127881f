// Package conformance runs a project's check pipeline inside a rendered
// instance and reports the edits the pipeline made.
package conformance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"

	"github.com/jorge-barreto/stencil/internal/cache"
	"github.com/jorge-barreto/stencil/internal/config"
	"github.com/jorge-barreto/stencil/internal/expr"
	"github.com/jorge-barreto/stencil/internal/logging"
	"github.com/jorge-barreto/stencil/internal/snapshot"
	"github.com/jorge-barreto/stencil/internal/state"
)

// Runner checks an instance. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, inst *cache.Instance) (*Report, error)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name         string        `json:"name"`
	ExitCode     int           `json:"exit_code"`
	Skipped      bool          `json:"skipped,omitempty"`
	TimedOut     bool          `json:"timed_out,omitempty"`
	AllowFailure bool          `json:"allow_failure,omitempty"`
	Duration     time.Duration `json:"duration"`
	LogPath      string        `json:"log_path,omitempty"`
	Output       string        `json:"-"`
}

// Failed reports whether the step did not succeed, ignoring allow-failure.
func (r *StepResult) Failed() bool {
	return !r.Skipped && (r.TimedOut || r.ExitCode != 0)
}

// Report is the outcome of a pipeline run.
type Report struct {
	RunID  string          `json:"run_id"`
	Passed bool            `json:"passed"`
	Steps  []StepResult    `json:"steps"`
	Edits  []snapshot.Edit `json:"-"`
}

// Failure returns the first step that failed the run, or nil.
func (r *Report) Failure() *StepResult {
	for i := range r.Steps {
		s := &r.Steps[i]
		if s.Failed() && !s.AllowFailure {
			return s
		}
	}
	return nil
}

// Pipeline runs config steps with bash in the instance root.
type Pipeline struct {
	Steps       []config.Step
	Vars        config.OrderedVars
	StateDir    string
	Timeout     time.Duration // whole pipeline, 0 for none
	ProjectRoot string
	TemplateDir string
	Context     string
	Output      io.Writer // step output is also streamed here when set
}

// Run snapshots the instance, runs every step whose when expression holds,
// and diffs the instance afterwards. A failing step that does not allow
// failure stops the run.
func (p *Pipeline) Run(ctx context.Context, inst *cache.Instance) (*Report, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	log := logging.FromContext(ctx)
	if err := state.EnsureDir(p.StateDir); err != nil {
		return nil, err
	}

	vars, err := inst.Model.Vars()
	if err != nil {
		return nil, err
	}
	values, err := inst.Model.Strings()
	if err != nil {
		return nil, err
	}
	env := &Environment{
		ProjectRoot:  p.ProjectRoot,
		TemplateDir:  p.TemplateDir,
		InstanceRoot: inst.Root,
		Context:      p.Context,
		CacheKey:     inst.Key,
		StateDir:     p.StateDir,
		Values:       values,
	}
	base := env.Vars()
	env.CustomVars = ExpandConfigVars(p.Vars, base)

	before, err := snapshot.Take(inst.Root)
	if err != nil {
		return nil, fmt.Errorf("snapshot before pipeline: %w", err)
	}

	rep := &Report{RunID: uuid.NewString(), Passed: true}
	for i, step := range p.Steps {
		env.StepIndex = i
		if step.When != "" {
			ok, err := when(step.When, vars)
			if err != nil {
				return nil, fmt.Errorf("step %q: %w", step.Name, err)
			}
			if !ok {
				log.Info("skipping step", "step", step.Name, "when", step.When)
				rep.Steps = append(rep.Steps, StepResult{Name: step.Name, Skipped: true})
				continue
			}
		}

		res, err := RunStep(ctx, step, env, p.Output)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Name, err)
		}
		rep.Steps = append(rep.Steps, *res)
		log.Info("step finished", "step", step.Name, "exit", res.ExitCode, "timed_out", res.TimedOut, "duration", res.Duration)

		if res.Failed() && !step.AllowFailure {
			rep.Passed = false
			break
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			rep.Passed = false
			break
		}
	}

	after, err := snapshot.Take(inst.Root)
	if err != nil {
		return nil, fmt.Errorf("snapshot after pipeline: %w", err)
	}
	rep.Edits = snapshot.Diff(before, after)
	return rep, nil
}

func when(src string, vars map[string]cty.Value) (bool, error) {
	e, err := expr.Parse(src, "")
	if err != nil {
		return false, err
	}
	return e.Bool(vars)
}
