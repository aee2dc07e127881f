package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/jorge-barreto/stencil/internal/ctxmodel"
	"github.com/jorge-barreto/stencil/internal/expr"
	"github.com/jorge-barreto/stencil/internal/logging"
	"github.com/jorge-barreto/stencil/internal/manifest"
	"github.com/jorge-barreto/stencil/internal/subst"
	"github.com/jorge-barreto/stencil/internal/syntax"
)

// sniffLen is how much of a file is checked for NUL bytes.
const sniffLen = 8 << 10

// Renderer renders templates. The zero value uses the mustache syntax.
type Renderer struct {
	Syntax func(manifest.Syntax) syntax.Syntax
}

// Result is one completed render.
type Result struct {
	Root     string // absolute path of the rendered root directory
	RootName string
	Table    *subst.Table
}

func (r *Renderer) syntaxFor(m *manifest.Manifest) syntax.Syntax {
	if r != nil && r.Syntax != nil {
		return r.Syntax(m.Syntax)
	}
	return syntax.New(m.Syntax)
}

// Validate runs the whole render without writing anything. It reports
// condition errors, bad directives, unresolved placeholders and path
// collisions across the entire tree, gated-off parts included.
func (r *Renderer) Validate(ctx context.Context, tmpl *Template, model *ctxmodel.Model) error {
	w, err := r.newWalker(tmpl, model, "")
	if err != nil {
		return err
	}
	if _, err := w.rootName(); err != nil {
		return err
	}
	w.validating = true
	return w.walk(ctx, "", "")
}

// Render expands tmpl under dest/<rendered root>. Output is staged in a
// temporary sibling directory and moved into place only when complete; a
// failed render leaves nothing behind. The target must not already exist.
func (r *Renderer) Render(ctx context.Context, tmpl *Template, model *ctxmodel.Model, dest string) (*Result, error) {
	log := logging.FromContext(ctx)
	if err := r.Validate(ctx, tmpl, model); err != nil {
		return nil, err
	}

	w, err := r.newWalker(tmpl, model, "")
	if err != nil {
		return nil, err
	}
	rootName, err := w.rootName()
	if err != nil {
		return nil, err
	}
	target := filepath.Join(dest, rootName)
	if _, err := os.Lstat(target); err == nil {
		return nil, fmt.Errorf("render target %s already exists", target)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}
	staging, err := os.MkdirTemp(dest, ".stencil-render-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	info, err := os.Stat(tmpl.ContentDir())
	if err != nil {
		return nil, err
	}
	w.out = filepath.Join(staging, rootName)
	if err := os.Mkdir(w.out, info.Mode().Perm()); err != nil {
		return nil, err
	}
	if err := w.walk(ctx, "", ""); err != nil {
		return nil, err
	}
	if err := os.Rename(w.out, target); err != nil {
		return nil, fmt.Errorf("moving render into place: %w", err)
	}
	w.table.Sort()
	log.Info("rendered template", "template", tmpl.Manifest.Name, "path", target, "files", len(w.table.Files))
	return &Result{Root: target, RootName: rootName, Table: w.table}, nil
}

type walker struct {
	tmpl       *Template
	syn        syntax.Syntax
	values     map[string]string
	vars       map[string]cty.Value
	gates      []bool
	table      *subst.Table
	out        string
	validating bool
	seen       map[string]string
}

func (r *Renderer) newWalker(tmpl *Template, model *ctxmodel.Model, out string) (*walker, error) {
	values, err := model.Strings()
	if err != nil {
		return nil, err
	}
	vars, err := model.Vars()
	if err != nil {
		return nil, err
	}
	table, err := subst.New(model)
	if err != nil {
		return nil, err
	}
	m := tmpl.Manifest
	w := &walker{
		tmpl:   tmpl,
		syn:    r.syntaxFor(m),
		values: values,
		vars:   vars,
		table:  table,
		out:    out,
		seen:   make(map[string]string),
	}
	for _, c := range m.Conditions {
		e, err := expr.Parse(c.When, m.Syntax.Namespace)
		if err != nil {
			return nil, &TemplateError{Path: manifest.FileName, Reason: fmt.Sprintf("condition %q: %v", c.Path, err)}
		}
		ok, err := e.Bool(vars)
		if err != nil {
			return nil, &TemplateError{Path: manifest.FileName, Reason: fmt.Sprintf("condition %q: %v", c.Path, err)}
		}
		w.gates = append(w.gates, ok)
	}
	return w, nil
}

func (w *walker) rootName() (string, error) {
	name, recs, err := w.substituteName(w.tmpl.Manifest.Root, w.tmpl.Manifest.Root)
	if err != nil {
		return "", err
	}
	w.table.TemplateRoot = w.tmpl.Manifest.Root
	w.table.RootName = name
	for _, rec := range recs {
		rec.Path = "."
		w.table.Add(rec)
	}
	return name, nil
}

// included reports whether every condition gating rel evaluated true.
func (w *walker) included(rel string) bool {
	for i, c := range w.tmpl.Manifest.Conditions {
		if !w.gates[i] && manifest.Match(c.Path, rel) {
			return false
		}
	}
	return true
}

func (w *walker) walk(ctx context.Context, tmplRel, instRel string) error {
	dir := filepath.Join(w.tmpl.ContentDir(), filepath.FromSlash(tmplRel))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		childT := path.Join(tmplRel, e.Name())
		included := w.included(childT)
		if !included && !w.validating {
			continue
		}
		name, recs, err := w.substituteName(childT, e.Name())
		if err != nil {
			return err
		}
		childI := path.Join(instRel, name)
		if included {
			if prev, ok := w.seen[childI]; ok {
				return &TemplateError{Path: childT, Reason: fmt.Sprintf("renders to %s, already produced by %s", childI, prev)}
			}
			w.seen[childI] = childT
		}
		base := len(childI) - len(name)
		for _, rec := range recs {
			rec.Path = childI
			rec.Offset += base
			w.table.Add(rec)
		}

		info, err := e.Info()
		if err != nil {
			return err
		}
		switch {
		case e.IsDir():
			w.table.AddDir(childI, childT)
			if w.out != "" {
				if err := os.Mkdir(w.outPath(childI), info.Mode().Perm()); err != nil {
					return err
				}
			}
			if err := w.walk(ctx, childT, childI); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := w.file(ctx, childT, childI, info.Mode().Perm()); err != nil {
				return err
			}
		default:
			logging.FromContext(ctx).Debug("skipping non-regular template entry", "path", childT)
		}
	}
	return nil
}

func (w *walker) outPath(instRel string) string {
	return filepath.Join(w.out, filepath.FromSlash(instRel))
}

func (w *walker) file(ctx context.Context, tmplRel, instRel string, perm os.FileMode) error {
	data, err := os.ReadFile(filepath.Join(w.tmpl.ContentDir(), filepath.FromSlash(tmplRel)))
	if err != nil {
		return err
	}
	f := &subst.File{Template: tmplRel}
	out := data
	if w.tmpl.Manifest.Verbatim(tmplRel) || IsBinary(data) {
		f.Verbatim = true
	} else {
		text, lines, recs, err := w.content(tmplRel, instRel, string(data))
		if err != nil {
			return err
		}
		out = []byte(text)
		f.Lines = lines
		for _, rec := range recs {
			w.table.Add(rec)
		}
	}
	w.table.AddFile(instRel, f)
	if w.out == "" {
		return nil
	}
	logging.FromContext(ctx).Debug("rendered file", "path", instRel, "verbatim", f.Verbatim)
	return os.WriteFile(w.outPath(instRel), out, perm)
}

// IsBinary reports whether data looks binary: a NUL byte in the first 8 KiB.
// Binary files are copied without substitution.
func IsBinary(data []byte) bool {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// substituteName renders one path segment. Substituted values must keep the
// segment a single, non-empty name.
func (w *walker) substituteName(tmplRel, name string) (string, []subst.Record, error) {
	out, recs, err := w.substitute(tmplRel, 0, name)
	if err != nil {
		return "", nil, err
	}
	if out == "" || out == "." || out == ".." || strings.ContainsAny(out, `/\`) {
		return "", nil, &TemplateError{Path: tmplRel, Reason: fmt.Sprintf("name renders to %q, which is not a single path segment", out)}
	}
	for i := range recs {
		recs[i].Kind = subst.KindPath
	}
	return out, recs, nil
}

// substitute replaces every placeholder in s. Records carry offsets into the
// output; errors carry base plus the offset into s.
func (w *walker) substitute(tmplRel string, base int, s string) (string, []subst.Record, error) {
	spans := w.syn.Placeholders(s)
	if len(spans) == 0 {
		return s, nil, nil
	}
	var b strings.Builder
	var recs []subst.Record
	last := 0
	for _, sp := range spans {
		val, ok := w.values[sp.Key]
		if !ok {
			return "", nil, &UnresolvedPlaceholderError{Path: tmplRel, Offset: base + sp.Start, Key: sp.Key}
		}
		b.WriteString(s[last:sp.Start])
		recs = append(recs, subst.Record{Key: sp.Key, Value: val, Offset: b.Len(), Kind: subst.KindContent})
		b.WriteString(val)
		last = sp.End
	}
	b.WriteString(s[last:])
	return b.String(), recs, nil
}
