package conformance

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jorge-barreto/stencil/internal/cache"
	"github.com/jorge-barreto/stencil/internal/config"
	"github.com/jorge-barreto/stencil/internal/ctxmodel"
	"github.com/jorge-barreto/stencil/internal/manifest"
)

const testManifest = `name: demo
root: "{{project_name}}"
variables:
  - key: project_name
    default: robust-demo
  - key: add_extension
    type: bool
    default: false
`

func instance(t *testing.T, raw map[string]any) *cache.Instance {
	t.Helper()
	m, err := manifest.Parse([]byte(testManifest))
	if err != nil {
		t.Fatal(err)
	}
	model, err := ctxmodel.Build(m, raw)
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("# robust-demo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &cache.Instance{Key: "k1", Root: root, Model: model}
}

func pipeline(t *testing.T, steps ...config.Step) *Pipeline {
	t.Helper()
	for i := range steps {
		if steps[i].Timeout == 0 {
			steps[i].Timeout = 1
		}
	}
	return &Pipeline{Steps: steps, StateDir: t.TempDir(), Context: "demo"}
}

func TestPipeline_Success(t *testing.T) {
	inst := instance(t, nil)
	p := pipeline(t, config.Step{Name: "hello", Run: "echo hello"})
	rep, err := p.Run(context.Background(), inst)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Passed || len(rep.Steps) != 1 || rep.RunID == "" {
		t.Fatalf("report = %+v", rep)
	}
	if !strings.Contains(rep.Steps[0].Output, "hello") {
		t.Fatalf("output = %q", rep.Steps[0].Output)
	}
	data, err := os.ReadFile(rep.Steps[0].LogPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("log = %q", data)
	}
	if len(rep.Edits) != 0 {
		t.Fatalf("edits = %+v", rep.Edits)
	}
}

func TestPipeline_FailureStops(t *testing.T) {
	inst := instance(t, nil)
	p := pipeline(t,
		config.Step{Name: "fail", Run: "exit 3"},
		config.Step{Name: "never", Run: "touch never"},
	)
	rep, err := p.Run(context.Background(), inst)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Passed || len(rep.Steps) != 1 || rep.Steps[0].ExitCode != 3 {
		t.Fatalf("report = %+v", rep)
	}
	if f := rep.Failure(); f == nil || f.Name != "fail" {
		t.Fatalf("failure = %+v", f)
	}
	if _, err := os.Stat(filepath.Join(inst.Root, "never")); err == nil {
		t.Fatal("step after failure must not run")
	}
}

func TestPipeline_AllowFailure(t *testing.T) {
	inst := instance(t, nil)
	p := pipeline(t,
		config.Step{Name: "lint", Run: "exit 1", AllowFailure: true},
		config.Step{Name: "after", Run: "echo after"},
	)
	rep, err := p.Run(context.Background(), inst)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Passed || len(rep.Steps) != 2 || rep.Failure() != nil {
		t.Fatalf("report = %+v", rep)
	}
}

func TestPipeline_When(t *testing.T) {
	inst := instance(t, map[string]any{"add_extension": true})
	p := pipeline(t,
		config.Step{Name: "python-only", Run: "touch py", When: "!add_extension"},
		config.Step{Name: "rust-only", Run: "touch rs", When: "add_extension"},
	)
	rep, err := p.Run(context.Background(), inst)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Steps[0].Skipped || rep.Steps[1].Skipped {
		t.Fatalf("steps = %+v", rep.Steps)
	}
	if len(rep.Edits) != 1 || rep.Edits[0].Path != "rs" || !rep.Edits[0].Added() {
		t.Fatalf("edits = %+v", rep.Edits)
	}
}

func TestPipeline_WhenError(t *testing.T) {
	inst := instance(t, nil)
	p := pipeline(t, config.Step{Name: "x", Run: "true", When: "missing_key"})
	if _, err := p.Run(context.Background(), inst); err == nil || !strings.Contains(err.Error(), `step "x"`) {
		t.Fatalf("got %v", err)
	}
}

func TestPipeline_Edits(t *testing.T) {
	inst := instance(t, nil)
	p := pipeline(t, config.Step{Name: "fmt", Run: `printf '# robust-demo\n\nformatted\n' > README.md`})
	rep, err := p.Run(context.Background(), inst)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Edits) != 1 {
		t.Fatalf("edits = %+v", rep.Edits)
	}
	e := rep.Edits[0]
	if e.Path != "README.md" || string(e.Old) != "# robust-demo\n" || string(e.New) != "# robust-demo\n\nformatted\n" {
		t.Fatalf("edit = %+v", e)
	}
}

func TestPipeline_Vars(t *testing.T) {
	inst := instance(t, map[string]any{"project_name": "varproj"})
	p := pipeline(t, config.Step{
		Name: "vars",
		Run:  `echo "$project_name|$CONTEXT|$OUT|$STENCIL_CTX_PROJECT_NAME|$STENCIL_CACHE_KEY" > vars.txt; pwd > pwd.txt`,
	})
	p.Vars = config.OrderedVars{{Key: "DIR", Value: "out"}, {Key: "OUT", Value: "${DIR}/${project_name}"}}
	if _, err := p.Run(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(inst.Root, "vars.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(data)); got != "varproj|demo|out/varproj|varproj|k1" {
		t.Fatalf("vars = %q", got)
	}
	pwd, err := os.ReadFile(filepath.Join(inst.Root, "pwd.txt"))
	if err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.EvalSymlinks(inst.Root)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(pwd)))
	if got != want {
		t.Fatalf("pwd = %q, want %q", got, want)
	}
}

func TestPipeline_Timeout(t *testing.T) {
	inst := instance(t, nil)
	p := pipeline(t,
		config.Step{Name: "slow", Run: "sleep 10"},
		config.Step{Name: "after", Run: "echo after"},
	)
	p.Timeout = 300 * time.Millisecond
	start := time.Now()
	rep, err := p.Run(context.Background(), inst)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 8*time.Second {
		t.Fatal("timeout did not stop the step")
	}
	if rep.Passed || len(rep.Steps) != 1 || !rep.Steps[0].TimedOut {
		t.Fatalf("report = %+v", rep)
	}
}

func TestPipeline_Cancelled(t *testing.T) {
	inst := instance(t, nil)
	p := pipeline(t, config.Step{Name: "slow", Run: "sleep 10"})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	if _, err := p.Run(ctx, inst); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestStepResult_Failed(t *testing.T) {
	tests := []struct {
		r    StepResult
		want bool
	}{
		{StepResult{ExitCode: 0}, false},
		{StepResult{ExitCode: 2}, true},
		{StepResult{TimedOut: true, ExitCode: -1}, true},
		{StepResult{Skipped: true}, false},
	}
	for _, tt := range tests {
		if got := tt.r.Failed(); got != tt.want {
			t.Errorf("%+v: Failed() = %v, want %v", tt.r, got, tt.want)
		}
	}
}
