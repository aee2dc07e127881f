// Package runner drives one render, check and sync cycle for a context.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jorge-barreto/stencil/internal/cache"
	"github.com/jorge-barreto/stencil/internal/conformance"
	"github.com/jorge-barreto/stencil/internal/ctxmodel"
	"github.com/jorge-barreto/stencil/internal/logging"
	"github.com/jorge-barreto/stencil/internal/render"
	"github.com/jorge-barreto/stencil/internal/reverse"
	"github.com/jorge-barreto/stencil/internal/state"
	"github.com/jorge-barreto/stencil/internal/ux"
)

// Mode selects how far a cycle goes.
type Mode string

const (
	ModeCheck Mode = "check" // render + pipeline
	ModeSync  Mode = "sync"  // render + pipeline + reverse sync
)

var (
	ErrPipelineFailed = errors.New("conformance pipeline failed")
	ErrStaleInstance  = errors.New("template changed since the instance was rendered")
)

// Report file names under the state reports directory.
const (
	ReportPipeline   = "pipeline.json"
	ReportEdits      = "edits.diff"
	ReportSync       = "sync.diff"
	ReportUnsyncable = "unsyncable.txt"
)

// Runner runs the cycle strictly in order: render, check, sync.
type Runner struct {
	Template *render.Template
	Model    *ctxmodel.Model
	Context  string
	Cache    *cache.Cache
	Pipeline conformance.Runner
	Engine   *reverse.Engine
	StateDir string

	// DryRun plans the sync without touching the template.
	DryRun bool
	// Confirm, when set, is asked before a non-empty sync is applied.
	Confirm func(res *reverse.Result) (bool, error)

	State  *state.State
	Timing *state.Timing
}

// Summary is what a cycle produced.
type Summary struct {
	RunID    string
	Instance *cache.Instance
	Report   *conformance.Report
	Sync     *reverse.Result
	Applied  bool
}

// fail records status, saves state and timing (warning on error) and
// returns err.
func (r *Runner) fail(status string, err error) error {
	r.State.Status = status
	if saveErr := r.State.Save(r.StateDir); saveErr != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to save state: %v\n", saveErr)
	}
	if r.Timing != nil {
		if flushErr := r.Timing.Flush(r.StateDir); flushErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to flush timing: %v\n", flushErr)
		}
	}
	if status == state.StatusFailed || status == state.StatusInterrupted {
		ux.RerunHint(r.State.Mode, r.Context)
	}
	return err
}

func (r *Runner) interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return r.fail(state.StatusInterrupted, ctx.Err())
	}
	return r.fail(state.StatusFailed, err)
}

// Run executes the cycle for mode.
func (r *Runner) Run(ctx context.Context, mode Mode) (*Summary, error) {
	if err := state.EnsureDir(r.StateDir); err != nil {
		return nil, err
	}
	timing, err := state.LoadTiming(r.StateDir)
	if err != nil {
		return nil, fmt.Errorf("loading timing: %w", err)
	}
	timing.Reset()
	r.Timing = timing

	sum := &Summary{RunID: uuid.NewString()}
	r.State = &state.State{
		RunID:   sum.RunID,
		Context: r.Context,
		Mode:    string(mode),
		Phase:   state.PhaseRender,
		Status:  state.StatusRunning,
	}
	if err := r.State.Save(r.StateDir); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}
	log := logging.FromContext(ctx).With("run", sum.RunID, "context", r.Context)
	total := 2
	if mode == ModeSync {
		total = 3
	}

	// render
	ux.PhaseHeader(0, total, state.PhaseRender, r.Context)
	start := time.Now()
	r.Timing.AddStart(state.PhaseRender)
	inst, err := r.Cache.GetOrCreate(ctx, r.Template, r.Model)
	if err != nil {
		ux.PhaseFail(state.PhaseRender, err.Error())
		return sum, r.interrupted(ctx, err)
	}
	sum.Instance = inst
	r.Timing.AddEnd(state.PhaseRender)
	r.State.Key = inst.Key
	r.State.Instance = inst.Root
	r.State.SetPhase(state.PhaseCheck)
	if err := r.State.Save(r.StateDir); err != nil {
		return sum, fmt.Errorf("saving state after render: %w", err)
	}
	if inst.Reused {
		ux.Info("reusing %s", inst.Root)
	} else {
		ux.Info("rendered %s", inst.Root)
	}
	ux.PhaseComplete(state.PhaseRender, time.Since(start))

	// check
	ux.PhaseHeader(1, total, state.PhaseCheck, "")
	start = time.Now()
	r.Timing.AddStart(state.PhaseCheck)
	rep, err := r.Pipeline.Run(ctx, inst)
	if err != nil {
		ux.PhaseFail(state.PhaseCheck, err.Error())
		return sum, r.interrupted(ctx, err)
	}
	sum.Report = rep
	r.Timing.AddEnd(state.PhaseCheck)
	ux.Steps(rep.Steps)
	if len(rep.Edits) > 0 {
		// The instance no longer matches its render; never reuse it.
		if err := r.Cache.MarkDirty(inst.Key); err != nil {
			return sum, r.fail(state.StatusFailed, err)
		}
	}
	r.State.Passed = rep.Passed
	r.State.Edits = len(rep.Edits)
	if err := writeReports(r.StateDir, rep); err != nil {
		log.Warn("writing pipeline reports", "err", err)
	}
	ux.Info("%d file(s) changed by the pipeline", len(rep.Edits))
	if !rep.Passed {
		msg := "pipeline did not pass"
		if f := rep.Failure(); f != nil {
			msg = fmt.Sprintf("step %q failed", f.Name)
			if f.TimedOut {
				msg = fmt.Sprintf("step %q timed out", f.Name)
			}
		} else if ctx.Err() != nil {
			msg = "pipeline timed out"
		}
		ux.PhaseFail(state.PhaseCheck, msg)
		return sum, r.fail(state.StatusFailed, fmt.Errorf("%w: %s", ErrPipelineFailed, msg))
	}
	ux.PhaseComplete(state.PhaseCheck, time.Since(start))

	if mode == ModeCheck {
		return sum, r.complete("check passed")
	}

	// sync
	r.State.SetPhase(state.PhaseSync)
	if err := r.State.Save(r.StateDir); err != nil {
		return sum, fmt.Errorf("saving state before sync: %w", err)
	}
	ux.PhaseHeader(2, total, state.PhaseSync, "")
	start = time.Now()
	r.Timing.AddStart(state.PhaseSync)

	fp, err := render.Fingerprint(r.Template)
	if err != nil {
		return sum, r.fail(state.StatusFailed, err)
	}
	if fp != inst.Slot.Fingerprint {
		ux.PhaseFail(state.PhaseSync, ErrStaleInstance.Error())
		return sum, r.fail(state.StatusFailed, ErrStaleInstance)
	}

	res, applied, err := r.sync(ctx, inst, rep)
	if err != nil {
		ux.PhaseFail(state.PhaseSync, err.Error())
		return sum, r.fail(state.StatusFailed, err)
	}
	sum.Sync = res
	sum.Applied = applied
	r.Timing.AddEnd(state.PhaseSync)
	ux.SyncResult(res, sum.Applied)
	ux.PhaseComplete(state.PhaseSync, time.Since(start))

	msg := fmt.Sprintf("synced %d change(s)", len(res.Changes))
	switch {
	case len(res.Changes) == 0:
		msg = "nothing to sync"
	case !sum.Applied:
		msg = fmt.Sprintf("%d change(s) planned, template untouched", len(res.Changes))
	}
	return sum, r.complete(msg)
}

// sync plans the reverse sync, writes its reports and applies it unless
// this is a dry run or the confirmation is declined.
func (r *Runner) sync(ctx context.Context, inst *cache.Instance, rep *conformance.Report) (*reverse.Result, bool, error) {
	log := logging.FromContext(ctx)
	contentDir := r.Template.ContentDir()
	res, err := r.Engine.Plan(contentDir, inst.Table, rep.Edits)
	if err != nil {
		return nil, false, err
	}
	r.State.Exempt = len(res.Exempt)
	r.State.Unsyncable = len(res.Unsyncable)
	for _, u := range res.Unsyncable {
		log.Warn("unsyncable change", "path", u.Path, "reason", u.Reason)
	}
	if err := writeSyncReports(r.StateDir, res); err != nil {
		log.Warn("writing sync reports", "err", err)
	}
	if r.DryRun || len(res.Changes) == 0 {
		return res, false, nil
	}
	if r.Confirm != nil {
		ok, err := r.Confirm(res)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return res, false, nil
		}
	}
	if err := r.Engine.Apply(contentDir, res); err != nil {
		return nil, false, err
	}
	r.State.Changes = len(res.Changes)
	log.Info("reverse sync applied", "changes", len(res.Changes))
	return res, true, nil
}

func (r *Runner) complete(msg string) error {
	r.State.SetPhase(state.PhaseDone)
	r.State.Status = state.StatusCompleted
	if err := r.State.Save(r.StateDir); err != nil {
		return fmt.Errorf("saving final state: %w", err)
	}
	if err := r.Timing.Flush(r.StateDir); err != nil {
		return fmt.Errorf("flushing timing: %w", err)
	}
	ux.Success(msg)
	return nil
}

func writeReports(stateDir string, rep *conformance.Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if err := state.WriteReport(stateDir, ReportPipeline, string(data)+"\n"); err != nil {
		return err
	}
	var b strings.Builder
	for _, e := range rep.Edits {
		d, err := e.Unified()
		if err != nil {
			return err
		}
		b.WriteString(d)
	}
	return state.WriteReport(stateDir, ReportEdits, b.String())
}

func writeSyncReports(stateDir string, res *reverse.Result) error {
	var b strings.Builder
	for _, c := range res.Changes {
		d, err := c.Unified()
		if err != nil {
			return err
		}
		b.WriteString(d)
	}
	if err := state.WriteReport(stateDir, ReportSync, b.String()); err != nil {
		return err
	}
	var u strings.Builder
	for _, x := range res.Unsyncable {
		u.WriteString(x.Error())
		u.WriteByte('\n')
	}
	return state.WriteReport(stateDir, ReportUnsyncable, u.String())
}
