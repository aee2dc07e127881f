package reverse

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jorge-barreto/stencil/internal/ctxmodel"
	"github.com/jorge-barreto/stencil/internal/render"
	"github.com/jorge-barreto/stencil/internal/snapshot"
	"github.com/jorge-barreto/stencil/internal/syntax"
)

const testManifest = `name: demo
root: "{{project_name}}"
variables:
  - key: project_name
    default: robust-demo
  - key: package_name
    derive: snake(project_name)
  - key: author
    default: Ada
  - key: add_extension
    type: bool
    default: false
sync-exempt: [uv.lock]
copy-without-render: ["*.svg"]
`

func templateFiles() map[string]string {
	return map[string]string{
		"stencil.yaml":                               testManifest,
		"{{project_name}}/README.md":                 "# {{project_name}}\n\nBy {{author}}.\n",
		"{{project_name}}/settings.py":               "DEBUG = {{add_extension}}\nNAME = \"{{project_name}}\"\n",
		"{{project_name}}/uv.lock":                   "version = 1\n",
		"{{project_name}}/src/{{package_name}}/a.py": "import os\n",
		"{{project_name}}/noxfile.py":                "import nox\n{% if add_extension %}\nRUST = True\n{% else %}\nRUST = False\n{% endif %}\nPKG = \"{{package_name}}\"\n",
	}
}

type fixture struct {
	t      *testing.T
	tmpl   *render.Template
	model  *ctxmodel.Model
	res    *render.Result
	before snapshot.Snapshot
	engine *Engine
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	snap, err := snapshot.Take(root)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]string, len(snap))
	for p, f := range snap {
		out[p] = string(f.Data)
	}
	return out
}

func newFixture(t *testing.T, files map[string]string, raw map[string]any) *fixture {
	t.Helper()
	dir := t.TempDir()
	writeTree(t, dir, files)
	tmpl, err := render.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	model, err := ctxmodel.Build(tmpl.Manifest, raw)
	if err != nil {
		t.Fatal(err)
	}
	res, err := (&render.Renderer{}).Render(context.Background(), tmpl, model, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	before, err := snapshot.Take(res.Root)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		t:      t,
		tmpl:   tmpl,
		model:  model,
		res:    res,
		before: before,
		engine: &Engine{
			Syntax:   syntax.New(tmpl.Manifest.Syntax),
			Exempt:   tmpl.Manifest.SyncExempt,
			Verbatim: tmpl.Manifest.CopyWithoutRender,
		},
	}
}

func (f *fixture) edit(rel, content string) {
	f.t.Helper()
	writeTree(f.t, f.res.Root, map[string]string{rel: content})
}

func (f *fixture) remove(rel string) {
	f.t.Helper()
	if err := os.Remove(filepath.Join(f.res.Root, filepath.FromSlash(rel))); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) edits() []snapshot.Edit {
	f.t.Helper()
	after, err := snapshot.Take(f.res.Root)
	if err != nil {
		f.t.Fatal(err)
	}
	return snapshot.Diff(f.before, after)
}

func (f *fixture) plan() *Result {
	f.t.Helper()
	res, err := f.engine.Plan(f.tmpl.ContentDir(), f.res.Table, f.edits())
	if err != nil {
		f.t.Fatal(err)
	}
	return res
}

func (f *fixture) sync() *Result {
	f.t.Helper()
	res, err := f.engine.SyncBack(context.Background(), f.tmpl.ContentDir(), f.res.Table, f.edits())
	if err != nil {
		f.t.Fatal(err)
	}
	return res
}

func (f *fixture) template(rel string) string {
	f.t.Helper()
	data, err := os.ReadFile(filepath.Join(f.tmpl.ContentDir(), filepath.FromSlash(rel)))
	if err != nil {
		f.t.Fatal(err)
	}
	return string(data)
}

func TestPlan_EmptyDiff(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	res := f.plan()
	if !res.Empty() || len(res.Unsyncable) != 0 || len(res.Exempt) != 0 {
		t.Fatalf("expected no changes, got %+v", res)
	}
}

func TestSync_LiteralReversal(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	f.edit("README.md", "# robust-demo\n\nBy Ada.\n\nNAME = \"robust-demo\"\n")
	res := f.sync()
	if len(res.Unsyncable) != 0 {
		t.Fatalf("unexpected unsyncable: %v", res.Unsyncable)
	}
	want := "# {{project_name}}\n\nBy {{author}}.\n\nNAME = \"{{project_name}}\"\n"
	if got := f.template("README.md"); got != want {
		t.Fatalf("template README = %q, want %q", got, want)
	}
}

func TestSync_ModifiedLineKeepsPlaceholders(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	f.edit("README.md", "# robust-demo\n\nWritten by Ada.\n")
	f.sync()
	if got := f.template("README.md"); got != "# {{project_name}}\n\nWritten by {{author}}.\n" {
		t.Fatalf("template README = %q", got)
	}
}

func TestSync_Ambiguous(t *testing.T) {
	f := newFixture(t, templateFiles(), map[string]any{"project_name": "demo", "author": "demo"})
	f.edit("README.md", "# demo\n\nBy demo!\n")
	f.edit("src/demo/a.py", "import os\nimport sys\n")
	res := f.sync()
	if len(res.Unsyncable) == 0 {
		t.Fatal("expected unsyncable change")
	}
	u := res.Unsyncable[0]
	if u.Path != "README.md" || u.Literal != "demo" || u.Offset != 11 {
		t.Fatalf("unsyncable = %+v", u)
	}
	if diff := cmp.Diff([]string{"author", "package_name", "project_name"}, u.Keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	if got := f.template("README.md"); got != "# {{project_name}}\n\nBy {{author}}.\n" {
		t.Fatalf("ambiguous file was written: %q", got)
	}
	if got := f.template("src/{{package_name}}/a.py"); got != "import os\nimport sys\n" {
		t.Fatalf("unambiguous file not synced: %q", got)
	}
}

func TestSync_SharedByConstruction(t *testing.T) {
	f := newFixture(t, templateFiles(), map[string]any{"project_name": "demo"})
	f.edit("src/demo/a.py", "import os\nimport demo\n")
	res := f.sync()
	if len(res.Unsyncable) != 0 {
		t.Fatalf("unexpected unsyncable: %v", res.Unsyncable)
	}
	if got := f.template("src/{{package_name}}/a.py"); got != "import os\nimport {{project_name}}\n" {
		t.Fatalf("a.py = %q", got)
	}
}

func TestSync_Exempt(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	f.edit("uv.lock", "version = 2\n")
	res := f.sync()
	for _, c := range res.Changes {
		if c.Path == "uv.lock" {
			t.Fatal("exempt path in changes")
		}
	}
	if diff := cmp.Diff([]string{"uv.lock"}, res.Exempt); diff != "" {
		t.Fatalf("exempt mismatch (-want +got):\n%s", diff)
	}
	if got := f.template("uv.lock"); got != "version = 1\n" {
		t.Fatalf("exempt file written: %q", got)
	}
}

func TestSync_EditBesideDirectives(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	f.edit("noxfile.py", "import nox\nRUST = False  # pinned\nPKG = \"robust_demo\"\n")
	res := f.sync()
	if len(res.Unsyncable) != 0 {
		t.Fatalf("unexpected unsyncable: %v", res.Unsyncable)
	}
	want := "import nox\n{% if add_extension %}\nRUST = True\n{% else %}\nRUST = False  # pinned\n{% endif %}\nPKG = \"{{package_name}}\"\n"
	if got := f.template("noxfile.py"); got != want {
		t.Fatalf("noxfile = %q, want %q", got, want)
	}
}

func TestSync_EditAcrossDirective(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	f.edit("noxfile.py", "import nox, os\nRUST = 0\nPKG = \"robust_demo\"\n")
	res := f.plan()
	if len(res.Unsyncable) != 1 || !strings.Contains(res.Unsyncable[0].Reason, "directive") {
		t.Fatalf("expected directive unsyncable, got %+v", res.Unsyncable)
	}
	if res.Unsyncable[0].Line != 2 {
		t.Fatalf("line = %d, want 2", res.Unsyncable[0].Line)
	}
}

func TestSync_BoolPlaceholderEdited(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	f.edit("settings.py", "DEBUG = false  # off\nNAME = \"robust-demo\"\n")
	res := f.plan()
	if len(res.Unsyncable) != 1 || !strings.Contains(res.Unsyncable[0].Reason, "add_extension") {
		t.Fatalf("expected lost placeholder, got %+v", res.Unsyncable)
	}
}

func TestSync_AddedFile(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	f.edit("src/robust_demo/cli/main.py", "from robust_demo import a\n")
	res := f.sync()
	if len(res.Changes) != 1 || res.Changes[0].Path != "src/{{package_name}}/cli/main.py" {
		t.Fatalf("changes = %+v", res.Changes)
	}
	if got := f.template("src/{{package_name}}/cli/main.py"); got != "from {{package_name}} import a\n" {
		t.Fatalf("added file = %q", got)
	}
}

func TestSync_AddedBinaryAndVerbatimFilesCopied(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	logo := "\x00\x01robust-demo\x00"
	badge := "<svg><text>robust-demo</text></svg>\n"
	f.edit("assets/logo.bin", logo)
	f.edit("assets/badge.svg", badge)
	res := f.sync()
	if len(res.Changes) != 2 || len(res.Unsyncable) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if got := f.template("assets/logo.bin"); got != logo {
		t.Errorf("binary file = %q", got)
	}
	if got := f.template("assets/badge.svg"); got != badge {
		t.Errorf("verbatim file = %q", got)
	}

	again, err := (&render.Renderer{}).Render(context.Background(), f.tmpl, f.model, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	out := readTree(t, again.Root)
	if out["assets/logo.bin"] != logo || out["assets/badge.svg"] != badge {
		t.Fatalf("re-render changed copied files: %q %q", out["assets/logo.bin"], out["assets/badge.svg"])
	}
}

func TestPlan_ToolCachesNeverSynced(t *testing.T) {
	files := templateFiles()
	files["{{project_name}}/.gitignore"] = "dist/\n"
	f := newFixture(t, files, nil)
	f.edit(".ruff_cache/0.4.0/123", "cache")
	f.edit("src/robust_demo/__pycache__/a.cpython-312.pyc", "\x00pyc")
	f.edit("dist/robust_demo-0.1.0.tar.gz", "sdist")
	if res := f.plan(); len(res.Changes) != 0 || len(res.Unsyncable) != 0 {
		t.Fatalf("expected nothing to sync, got %+v", res)
	}
}

func TestSync_DeletedFile(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	f.remove("src/robust_demo/a.py")
	res := f.sync()
	if len(res.Changes) != 1 || res.Changes[0].Op != OpDelete {
		t.Fatalf("changes = %+v", res.Changes)
	}
	_, err := os.Stat(filepath.Join(f.tmpl.ContentDir(), "src", "{{package_name}}", "a.py"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("template file still present: %v", err)
	}
}

func TestSync_DeletedFileWithGatedLines(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	f.remove("noxfile.py")
	res := f.plan()
	if len(res.Unsyncable) != 1 || res.Unsyncable[0].TemplatePath != "noxfile.py" {
		t.Fatalf("expected unsyncable delete, got %+v", res)
	}
}

func TestSync_RoundTrip(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	f.edit("README.md", "# robust-demo\n\nBy Ada.\nSee robust_demo.\n")
	f.edit("noxfile.py", "import nox\nimport os\nRUST = False\nPKG = \"robust_demo\"\n")
	res := f.sync()
	if len(res.Unsyncable) != 0 {
		t.Fatalf("unexpected unsyncable: %v", res.Unsyncable)
	}
	edited := readTree(t, f.res.Root)

	again, err := (&render.Renderer{}).Render(context.Background(), f.tmpl, f.model, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(edited, readTree(t, again.Root)); diff != "" {
		t.Fatalf("re-render differs from edited instance (-edited +rerender):\n%s", diff)
	}
}

func TestSync_StaleInstanceContent(t *testing.T) {
	f := newFixture(t, templateFiles(), nil)
	f.before["README.md"] = snapshot.File{Data: []byte("one line only\n"), Mode: 0o644}
	f.edit("README.md", "changed\n")
	res := f.plan()
	if len(res.Unsyncable) != 1 || !strings.Contains(res.Unsyncable[0].Reason, "no longer matches") {
		t.Fatalf("expected mismatch, got %+v", res.Unsyncable)
	}
}

func TestLineHunks_InsertPlacement(t *testing.T) {
	old := []string{"a\n", "b\n", "c\n"}
	origin := []int{0, 2, 3}
	tests := []struct {
		name string
		new  []string
		want []hunk
	}{
		{"insert at start", []string{"x\n", "a\n", "b\n", "c\n"}, []hunk{{0, 0, 0, 1}}},
		{"insert after b", []string{"a\n", "b\n", "x\n", "c\n"}, []hunk{{3, 3, 2, 3}}},
		{"append", []string{"a\n", "b\n", "c\n", "x\n"}, []hunk{{4, 4, 3, 4}}},
		{"replace b", []string{"a\n", "B\n", "c\n"}, []hunk{{2, 3, 1, 2}}},
		{"delete a", []string{"b\n", "c\n"}, []hunk{{0, 1, 0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lineHunks(old, tt.new, origin, 4)
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(hunk{})); diff != "" {
				t.Fatalf("hunks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLineHunks_MultiLineValue(t *testing.T) {
	old := []string{"a\n", "x\n", "y\n", "z\n"}
	origin := []int{0, 1, 1, 2}
	got := lineHunks(old, []string{"a\n", "x\n", "q\n", "y\n", "z\n"}, origin, 3)
	want := []hunk{{1, 2, 1, 4}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(hunk{})); diff != "" {
		t.Fatalf("hunks mismatch (-want +got):\n%s", diff)
	}
}
