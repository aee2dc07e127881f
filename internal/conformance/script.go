package conformance

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/jorge-barreto/stencil/internal/config"
	"github.com/jorge-barreto/stencil/internal/logging"
	"github.com/jorge-barreto/stencil/internal/state"
)

const outputTail = 4096

// RunStep executes one step via bash in the instance root.
func RunStep(ctx context.Context, step config.Step, env *Environment, out io.Writer) (*StepResult, error) {
	stepCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.Timeout)*time.Minute)
		defer cancel()
	}

	expanded := ExpandVars(step.Run, env.Vars())
	logging.FromContext(ctx).Debug("running step", "step", step.Name, "cmd", expanded)

	cmd := exec.CommandContext(stepCtx, "bash", "-c", expanded)
	cmd.Dir = env.InstanceRoot
	cmd.Env = BuildEnv(env)
	cmd.WaitDelay = 2 * time.Second

	logPath := state.LogPath(env.StateDir, env.StepIndex)
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	captured := &tailBuffer{max: outputTail}
	writers := []io.Writer{logFile, captured}
	if out != nil {
		writers = append(writers, out)
	}
	w := io.MultiWriter(writers...)
	cmd.Stdout = w
	cmd.Stderr = w

	start := time.Now()
	runErr := cmd.Run()
	res := &StepResult{
		Name:         step.Name,
		AllowFailure: step.AllowFailure,
		Duration:     time.Since(start),
		LogPath:      logPath,
	}
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		res.Output = captured.String()
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	code, err := exitCode(runErr)
	if err != nil {
		return nil, err
	}
	res.ExitCode = code
	res.Output = captured.String()
	return res, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
