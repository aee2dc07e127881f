package syntax

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jorge-barreto/stencil/internal/manifest"
)

func TestPlaceholders(t *testing.T) {
	s := New(manifest.Syntax{})
	got := s.Placeholders(`name = "{{project_name}}" ref: ${{ github.ref }} {{ author }}`)
	want := []Span{
		{Start: 8, End: 24, Key: "project_name"},
		{Start: 49, End: 61, Key: "author"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
}

func TestPlaceholders_Namespace(t *testing.T) {
	s := New(manifest.Syntax{Namespace: "cookiecutter"})
	got := s.Placeholders(`{{cookiecutter.project_name}} {{ project_name }} {{ cookiecutter.author }}`)
	var keys []string
	for _, sp := range got {
		keys = append(keys, sp.Key)
	}
	if diff := cmp.Diff([]string{"project_name", "author"}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	if tok := s.Placeholder("author"); tok != "{{cookiecutter.author}}" {
		t.Fatalf("placeholder = %q", tok)
	}
}

func TestPlaceholders_CustomDelimiters(t *testing.T) {
	s := New(manifest.Syntax{Open: "[[", Close: "]]"})
	got := s.Placeholders("a [[x]] {{y}}")
	if len(got) != 1 || got[0].Key != "x" {
		t.Fatalf("got %+v", got)
	}
	if s.Placeholder("x") != "[[x]]" {
		t.Fatalf("placeholder = %q", s.Placeholder("x"))
	}
}

func TestPlaceholders_Unclosed(t *testing.T) {
	s := New(manifest.Syntax{})
	if got := s.Placeholders("{{ open"); len(got) != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestDirective(t *testing.T) {
	s := New(manifest.Syntax{})
	tests := []struct {
		line string
		ok   bool
		want Directive
	}{
		{"{% if add_rust_extension %}\n", true, Directive{Kind: If, Expr: "add_rust_extension"}},
		{"  {%- elif provider == \"gitlab\" -%}", true, Directive{Kind: Elif, Expr: `provider == "gitlab"`}},
		{"{% else %}", true, Directive{Kind: Else}},
		{"{% endif %}", true, Directive{Kind: Endif}},
		{"{% raw %}", false, Directive{}},
		{"x = 1 {% if a %}", false, Directive{}},
	}
	for _, tt := range tests {
		got, ok := s.Directive(tt.line)
		if ok != tt.ok {
			t.Fatalf("%q: ok = %v, want %v", tt.line, ok, tt.ok)
		}
		if got != tt.want {
			t.Fatalf("%q: got %+v, want %+v", tt.line, got, tt.want)
		}
	}
}
