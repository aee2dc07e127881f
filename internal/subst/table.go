// Package subst records which literal each placeholder produced during a
// render, and where. The table is the only thing reverse sync trusts when it
// turns literals back into placeholders.
package subst

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jorge-barreto/stencil/internal/ctxmodel"
	"github.com/jorge-barreto/stencil/internal/manifest"
	"github.com/jorge-barreto/stencil/internal/state"
)

type Kind string

const (
	KindPath    Kind = "path"
	KindContent Kind = "content"
)

// Record is one substitution made during a render.
type Record struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Kind   Kind   `json:"kind"`
}

// File describes one rendered file.
type File struct {
	Template string `json:"template"`
	Verbatim bool   `json:"verbatim,omitempty"`
	// Lines[i] is the zero-based template line that produced output line i.
	Lines []int `json:"lines,omitempty"`
}

// Table is the substitution table of one render. Instance paths are relative
// to the rendered root; template paths are relative to the template content
// directory. Both are slash-separated.
type Table struct {
	TemplateRoot string              `json:"template_root"`
	RootName     string              `json:"root_name"`
	Values       map[string]string   `json:"values"`
	Kinds        map[string]string   `json:"kinds"`
	Roots        map[string][]string `json:"roots"`
	Records      []Record            `json:"records"`
	Files        map[string]*File    `json:"files"`
	Dirs         map[string]string   `json:"dirs"`
}

// New returns an empty table seeded with every resolved value of model.
func New(model *ctxmodel.Model) (*Table, error) {
	t := &Table{
		Values: make(map[string]string),
		Kinds:  make(map[string]string),
		Roots:  make(map[string][]string),
		Files:  make(map[string]*File),
		Dirs:   map[string]string{"": ""},
	}
	for _, key := range model.Keys() {
		v, err := model.Resolve(key)
		if err != nil {
			return nil, err
		}
		roots, err := model.Roots(key)
		if err != nil {
			return nil, err
		}
		t.Values[key] = v.Text()
		t.Kinds[key] = v.Type
		t.Roots[key] = roots
	}
	return t, nil
}

// Add appends a substitution record.
func (t *Table) Add(r Record) {
	t.Records = append(t.Records, r)
}

// AddFile records that instance path inst was rendered from template path tmpl.
func (t *Table) AddFile(inst string, f *File) {
	t.Files[inst] = f
}

// AddDir records a rendered directory.
func (t *Table) AddDir(inst, tmpl string) {
	t.Dirs[inst] = tmpl
}

// Used returns the sorted keys that produced at least one substitution.
func (t *Table) Used() []string {
	seen := make(map[string]bool)
	for _, r := range t.Records {
		seen[r.Key] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sort orders records by kind, path and offset.
func (t *Table) Sort() {
	sort.SliceStable(t.Records, func(i, j int) bool {
		a, b := t.Records[i], t.Records[j]
		if a.Kind != b.Kind {
			return a.Kind == KindPath
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Offset < b.Offset
	})
}

// TemplatePath returns the template path recorded for an instance path.
func (t *Table) TemplatePath(inst string) (string, bool) {
	if f, ok := t.Files[inst]; ok {
		return f.Template, true
	}
	if d, ok := t.Dirs[inst]; ok {
		return d, true
	}
	return "", false
}

// Canonical picks the key a shared literal belongs to. A literal produced by
// several keys is only reversible when one candidate is an input key and
// every other candidate is derived from that key alone.
func (t *Table) Canonical(keys []string) (string, bool) {
	if len(keys) == 1 {
		return keys[0], true
	}
	for _, c := range keys {
		if r := t.Roots[c]; len(r) != 1 || r[0] != c {
			continue
		}
		shared := true
		for _, k := range keys {
			if k == c {
				continue
			}
			if r := t.Roots[k]; len(r) != 1 || r[0] != c {
				shared = false
				break
			}
		}
		if shared {
			return c, true
		}
	}
	return "", false
}

// Exempt reports whether an instance path or its template path matches any
// of patterns.
func (t *Table) Exempt(patterns []string, inst string) bool {
	if manifest.MatchAny(patterns, inst) {
		return true
	}
	if tp, ok := t.TemplatePath(inst); ok && manifest.MatchAny(patterns, tp) {
		return true
	}
	return false
}

// nearestDir returns the template path of the deepest recorded ancestor
// directory of inst and the path segments below it.
func (t *Table) nearestDir(inst string) (string, []string) {
	segs := strings.Split(inst, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if tmpl, ok := t.Dirs[strings.Join(segs[:i], "/")]; ok {
			return tmpl, segs[i:]
		}
	}
	return "", segs
}

// Save writes the table as JSON.
func (t *Table) Save(file string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return state.WriteFileAtomic(file, append(data, '\n'), 0o644)
}

// Load reads a table written by Save.
func Load(file string) (*Table, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing substitution table %s: %w", file, err)
	}
	if t.Files == nil {
		t.Files = make(map[string]*File)
	}
	if t.Dirs == nil {
		t.Dirs = map[string]string{"": ""}
	}
	return &t, nil
}

// SplitLines splits s after every newline, keeping the terminators. A final
// line without a newline is kept as is.
func SplitLines(s string) []string {
	var lines []string
	for len(s) > 0 {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
	}
	return lines
}
