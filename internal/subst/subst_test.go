package subst

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jorge-barreto/stencil/internal/manifest"
	"github.com/jorge-barreto/stencil/internal/syntax"
)

func testTable(values map[string]string, roots map[string][]string) *Table {
	if roots == nil {
		roots = make(map[string][]string)
	}
	t := &Table{
		Values: values,
		Kinds:  make(map[string]string),
		Roots:  roots,
		Files:  make(map[string]*File),
		Dirs:   map[string]string{"": ""},
	}
	for k := range values {
		t.Kinds[k] = manifest.TypeString
		if _, ok := t.Roots[k]; !ok {
			t.Roots[k] = []string{k}
		}
		t.Add(Record{Key: k, Value: values[k], Kind: KindContent})
	}
	return t
}

func TestReverse_Literal(t *testing.T) {
	tbl := testTable(map[string]string{"project_name": "robust-demo"}, nil)
	syn := syntax.New(manifest.Syntax{})
	got, amb := tbl.Reverse(`NAME = "robust-demo"`, tbl.Index(), syn)
	if len(amb) != 0 {
		t.Fatalf("unexpected ambiguity %+v", amb)
	}
	if got != `NAME = "{{project_name}}"` {
		t.Fatalf("got %q", got)
	}
}

func TestReverse_LongestFirst(t *testing.T) {
	tbl := testTable(map[string]string{
		"project_name": "robust-python-demo",
		"short":        "demo",
	}, nil)
	syn := syntax.New(manifest.Syntax{})
	got, amb := tbl.Reverse("robust-python-demo uses demo", tbl.Index(), syn)
	if len(amb) != 0 {
		t.Fatalf("unexpected ambiguity %+v", amb)
	}
	if got != "{{project_name}} uses {{short}}" {
		t.Fatalf("got %q", got)
	}
}

func TestReverse_Ambiguous(t *testing.T) {
	tbl := testTable(map[string]string{"project_name": "demo", "author": "demo"}, nil)
	syn := syntax.New(manifest.Syntax{})
	got, amb := tbl.Reverse("hello demo", tbl.Index(), syn)
	if len(amb) != 1 {
		t.Fatalf("expected one ambiguity, got %+v", amb)
	}
	if diff := cmp.Diff(Ambiguity{Offset: 6, Literal: "demo", Keys: []string{"author", "project_name"}}, amb[0]); diff != "" {
		t.Fatalf("ambiguity mismatch (-want +got):\n%s", diff)
	}
	if got != "hello demo" {
		t.Fatalf("ambiguous literal must be left in place, got %q", got)
	}
}

func TestReverse_SharedByConstruction(t *testing.T) {
	tbl := testTable(
		map[string]string{"project_name": "demo", "package_name": "demo"},
		map[string][]string{"package_name": {"project_name"}},
	)
	syn := syntax.New(manifest.Syntax{})
	got, amb := tbl.Reverse("import demo", tbl.Index(), syn)
	if len(amb) != 0 {
		t.Fatalf("unexpected ambiguity %+v", amb)
	}
	if got != "import {{project_name}}" {
		t.Fatalf("got %q", got)
	}
}

func TestIndex_SkipsBoolsAndEmpty(t *testing.T) {
	tbl := testTable(map[string]string{"flag": "true", "empty": "", "name": "x"}, nil)
	tbl.Kinds["flag"] = manifest.TypeBool
	ix := tbl.Index()
	if ix.Len() != 1 {
		t.Fatalf("index size = %d, want 1", ix.Len())
	}
	if ix.Keys("true") != nil {
		t.Fatal("bool literal indexed")
	}
}

func TestIndex_UnusedKeysNotIndexed(t *testing.T) {
	tbl := testTable(map[string]string{"name": "x"}, nil)
	tbl.Values["unused"] = "3.12"
	tbl.Kinds["unused"] = manifest.TypeString
	if tbl.Index().Keys("3.12") != nil {
		t.Fatal("literal of a key that never rendered was indexed")
	}
}

func TestFind_Overlapping(t *testing.T) {
	tbl := testTable(map[string]string{"a": "ab", "b": "bc"}, nil)
	ms := tbl.Index().Find("abc")
	if len(ms) != 2 {
		t.Fatalf("got %+v", ms)
	}
	sel := tbl.Index().Select("abc")
	if len(sel) != 1 || sel[0].Value != "ab" {
		t.Fatalf("select = %+v, want leftmost ab", sel)
	}
}

func TestSelect_NonOverlappingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	tbl := testTable(map[string]string{"a": "ab", "b": "b", "c": "abab", "d": "ba"}, nil)
	ix := tbl.Index()

	properties.Property("selected matches are ordered and disjoint", prop.ForAll(
		func(s string) bool {
			sel := ix.Select(s)
			end := 0
			for _, m := range sel {
				if m.Start < end || s[m.Start:m.End] != m.Value {
					return false
				}
				end = m.End
			}
			return true
		},
		gen.RegexMatch(`[abx]{0,24}`),
	))

	properties.Property("reverse then forward restores text", prop.ForAll(
		func(s string) bool {
			syn := syntax.New(manifest.Syntax{})
			rev, amb := tbl.Reverse(s, ix, syn)
			if len(amb) != 0 {
				return false
			}
			fwd := rev
			for _, key := range []string{"a", "b", "c", "d"} {
				fwd = strings.ReplaceAll(fwd, syn.Placeholder(key), tbl.Values[key])
			}
			return fwd == s
		},
		gen.RegexMatch(`[abx]{0,24}`),
	))

	properties.TestingRun(t)
}

func TestReversePath(t *testing.T) {
	tbl := testTable(map[string]string{"package_name": "robust_demo"}, nil)
	tbl.AddDir("src", "src")
	tbl.AddDir("src/robust_demo", "src/{{package_name}}")
	tbl.AddFile("src/robust_demo/__init__.py", &File{Template: "src/{{package_name}}/__init__.py"})
	syn := syntax.New(manifest.Syntax{})
	ix := tbl.Index()

	got, _ := tbl.ReversePath("src/robust_demo/__init__.py", ix, syn)
	if got != "src/{{package_name}}/__init__.py" {
		t.Fatalf("recorded path = %q", got)
	}
	got, _ = tbl.ReversePath("src/robust_demo/robust_demo_cli/main.py", ix, syn)
	if got != "src/{{package_name}}/{{package_name}}_cli/main.py" {
		t.Fatalf("new path = %q", got)
	}
	got, _ = tbl.ReversePath("docs/index.md", ix, syn)
	if got != "docs/index.md" {
		t.Fatalf("new top-level path = %q", got)
	}
}

func TestExempt_TemplatePath(t *testing.T) {
	tbl := testTable(map[string]string{}, nil)
	tbl.AddFile("uv.lock", &File{Template: "uv.lock"})
	tbl.AddFile("robust_demo.toml", &File{Template: "{{project_name}}.toml"})
	if !tbl.Exempt([]string{"uv.lock"}, "uv.lock") {
		t.Fatal("instance path not exempt")
	}
	if !tbl.Exempt([]string{"{{project_name}}.toml"}, "robust_demo.toml") {
		t.Fatal("template path not exempt")
	}
	if tbl.Exempt([]string{"uv.lock"}, "README.md") {
		t.Fatal("unexpected exemption")
	}
}

func TestSaveLoad(t *testing.T) {
	tbl := testTable(map[string]string{"project_name": "demo"}, nil)
	tbl.RootName = "demo"
	tbl.TemplateRoot = "{{project_name}}"
	tbl.AddFile("README.md", &File{Template: "README.md", Lines: []int{0, 1, 3}})
	file := filepath.Join(t.TempDir(), "table.json")
	if err := tbl.Save(file); err != nil {
		t.Fatal(err)
	}
	got, err := Load(file)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(tbl, got); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a\n", []string{"a\n"}},
		{"a\n\nb", []string{"a\n", "\n", "b"}},
		{"a\r\nb\n", []string{"a\r\n", "b\n"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, SplitLines(tt.in)); diff != "" {
			t.Fatalf("SplitLines(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}
