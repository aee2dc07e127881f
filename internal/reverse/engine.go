// Package reverse maps edits made to a rendered instance back onto the
// template, turning literals back into placeholders where the substitution
// table makes that unambiguous.
package reverse

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/jorge-barreto/stencil/internal/logging"
	"github.com/jorge-barreto/stencil/internal/manifest"
	"github.com/jorge-barreto/stencil/internal/render"
	"github.com/jorge-barreto/stencil/internal/snapshot"
	"github.com/jorge-barreto/stencil/internal/state"
	"github.com/jorge-barreto/stencil/internal/subst"
	"github.com/jorge-barreto/stencil/internal/syntax"
)

type Op string

const (
	OpWrite  Op = "write"
	OpDelete Op = "delete"
)

// Change is one file-level edit to the template content directory.
type Change struct {
	Path     string // template path
	Instance string // instance path the change came from
	Op       Op
	Old      []byte // template content before the change, nil for new files
	Content  []byte
	Mode     fs.FileMode
}

// Unified renders the change as a unified diff against the template.
func (c Change) Unified() (string, error) {
	e := snapshot.Edit{Path: c.Path, Old: c.Old, New: c.Content}
	if c.Op == OpDelete {
		e.New = nil
	}
	return e.Unified()
}

// Unsyncable is an instance edit that cannot be mapped back safely. It is
// reported for manual resolution and never written.
type Unsyncable struct {
	Path         string
	TemplatePath string
	Line         int // template line, 1-based, when known
	Offset       int // byte offset in the new instance content, when known
	Literal      string
	Keys         []string
	Reason       string
}

func (u *Unsyncable) Error() string {
	var b strings.Builder
	b.WriteString(u.Path)
	if u.Line > 0 {
		fmt.Fprintf(&b, " (template %s:%d)", u.TemplatePath, u.Line)
	} else if u.TemplatePath != "" && u.TemplatePath != u.Path {
		fmt.Fprintf(&b, " (template %s)", u.TemplatePath)
	}
	fmt.Fprintf(&b, ": %s", u.Reason)
	if u.Literal != "" {
		fmt.Fprintf(&b, ": %q at offset %d matches %s", u.Literal, u.Offset, strings.Join(u.Keys, ", "))
	}
	return b.String()
}

// Result is the outcome of planning a reverse sync.
type Result struct {
	Changes    []Change
	Exempt     []string
	Unsyncable []*Unsyncable
}

// Empty reports whether there is nothing to write.
func (r *Result) Empty() bool {
	return len(r.Changes) == 0
}

// Engine plans and applies reverse syncs.
type Engine struct {
	Syntax syntax.Syntax
	// Exempt holds path patterns whose edits are never synced.
	Exempt []string
	// Verbatim holds copy-without-render patterns. New files matching them
	// are written to the template unchanged.
	Verbatim []string
}

// SyncBack plans the edits and applies every file that mapped cleanly.
func (e *Engine) SyncBack(ctx context.Context, contentDir string, table *subst.Table, edits []snapshot.Edit) (*Result, error) {
	res, err := e.Plan(contentDir, table, edits)
	if err != nil {
		return nil, err
	}
	if err := e.Apply(contentDir, res); err != nil {
		return res, err
	}
	log := logging.FromContext(ctx)
	for _, u := range res.Unsyncable {
		log.Warn("unsyncable change", "path", u.Path, "reason", u.Reason)
	}
	log.Info("reverse sync applied", "changes", len(res.Changes), "exempt", len(res.Exempt), "unsyncable", len(res.Unsyncable))
	return res, nil
}

// Plan computes template changes for edits. Errors are I/O failures only;
// per-file problems land in Result.Unsyncable and do not stop other files.
func (e *Engine) Plan(contentDir string, table *subst.Table, edits []snapshot.Edit) (*Result, error) {
	res := &Result{}
	ix := table.Index()
	for _, ed := range edits {
		if table.Exempt(e.Exempt, ed.Path) {
			res.Exempt = append(res.Exempt, ed.Path)
			continue
		}
		var (
			ch  *Change
			uns []*Unsyncable
			err error
		)
		f, recorded := table.Files[ed.Path]
		switch {
		case ed.Deleted():
			ch, uns, err = e.planDelete(contentDir, table, ed)
		case recorded && f.Verbatim:
			ch, err = e.planVerbatim(contentDir, f, ed)
		case recorded && !ed.Added():
			ch, uns, err = e.planContent(contentDir, table, ix, f, ed)
		default:
			ch, uns, err = e.planAdded(contentDir, table, ix, ed)
		}
		if err != nil {
			return nil, err
		}
		if len(uns) > 0 {
			res.Unsyncable = append(res.Unsyncable, uns...)
			continue
		}
		if ch != nil {
			res.Changes = append(res.Changes, *ch)
		}
	}
	sort.Slice(res.Changes, func(i, j int) bool { return res.Changes[i].Path < res.Changes[j].Path })
	sort.SliceStable(res.Unsyncable, func(i, j int) bool { return res.Unsyncable[i].Path < res.Unsyncable[j].Path })
	return res, nil
}

// Apply writes every planned change into contentDir.
func (e *Engine) Apply(contentDir string, res *Result) error {
	for _, c := range res.Changes {
		p := filepath.Join(contentDir, filepath.FromSlash(c.Path))
		switch c.Op {
		case OpDelete:
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("removing %s: %w", c.Path, err)
			}
		default:
			if err := state.WriteFileAtomic(p, c.Content, c.Mode); err != nil {
				return fmt.Errorf("writing %s: %w", c.Path, err)
			}
		}
	}
	return nil
}

func readTemplate(contentDir, tp string) ([]byte, fs.FileMode, error) {
	p := filepath.Join(contentDir, filepath.FromSlash(tp))
	info, err := os.Stat(p)
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, 0, err
	}
	return data, info.Mode().Perm(), nil
}

func (e *Engine) planDelete(contentDir string, table *subst.Table, ed snapshot.Edit) (*Change, []*Unsyncable, error) {
	f, ok := table.Files[ed.Path]
	if !ok {
		return nil, []*Unsyncable{{Path: ed.Path, Reason: "deleted file was not produced by the render"}}, nil
	}
	old, mode, err := readTemplate(contentDir, f.Template)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if !f.Verbatim && len(hiddenLines(subst.SplitLines(string(old)), f.Lines)) > 0 {
		return nil, []*Unsyncable{{Path: ed.Path, TemplatePath: f.Template, Reason: "template file has directive or gated lines the instance never saw"}}, nil
	}
	return &Change{Path: f.Template, Instance: ed.Path, Op: OpDelete, Old: old, Mode: mode}, nil, nil
}

func (e *Engine) planVerbatim(contentDir string, f *subst.File, ed snapshot.Edit) (*Change, error) {
	old, mode, err := readTemplate(contentDir, f.Template)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if mode == 0 {
		mode = ed.Mode
	}
	return &Change{Path: f.Template, Instance: ed.Path, Op: OpWrite, Old: old, Content: ed.New, Mode: mode}, nil
}

func (e *Engine) planAdded(contentDir string, table *subst.Table, ix *subst.Index, ed snapshot.Edit) (*Change, []*Unsyncable, error) {
	tp, amb := table.ReversePath(ed.Path, ix, e.Syntax)
	if len(amb) > 0 {
		return nil, ambiguities(ed.Path, tp, 0, 0, amb, "path segment is ambiguous"), nil
	}
	if _, err := os.Lstat(filepath.Join(contentDir, filepath.FromSlash(tp))); err == nil {
		return nil, []*Unsyncable{{Path: ed.Path, TemplatePath: tp, Reason: "template already has a file the render did not produce at this path"}}, nil
	}
	mode := ed.Mode
	if mode == 0 {
		mode = 0o644
	}
	// The renderer copies these byte for byte, so placeholders would never
	// expand again.
	if render.IsBinary(ed.New) || manifest.MatchAny(e.Verbatim, tp) {
		return &Change{Path: tp, Instance: ed.Path, Op: OpWrite, Content: ed.New, Mode: mode}, nil, nil
	}
	content, amb := table.Reverse(string(ed.New), ix, e.Syntax)
	if len(amb) > 0 {
		return nil, ambiguities(ed.Path, tp, 0, 0, amb, "ambiguous literal"), nil
	}
	return &Change{Path: tp, Instance: ed.Path, Op: OpWrite, Content: []byte(content), Mode: mode}, nil, nil
}

func ambiguities(inst, tp string, line, base int, amb []subst.Ambiguity, reason string) []*Unsyncable {
	out := make([]*Unsyncable, 0, len(amb))
	for _, a := range amb {
		out = append(out, &Unsyncable{
			Path:         inst,
			TemplatePath: tp,
			Line:         line,
			Offset:       base + a.Offset,
			Literal:      a.Literal,
			Keys:         a.Keys,
			Reason:       reason,
		})
	}
	return out
}

// hiddenLines returns the template lines that produced no output line.
func hiddenLines(tlines []string, origin []int) map[int]bool {
	produced := make(map[int]bool, len(origin))
	for _, t := range origin {
		produced[t] = true
	}
	hidden := make(map[int]bool)
	for i := range tlines {
		if !produced[i] {
			hidden[i] = true
		}
	}
	return hidden
}

type hunk struct {
	tStart, tEnd int // template lines replaced, [tStart, tEnd)
	nStart, nEnd int // new instance lines, [nStart, nEnd)
}

func (e *Engine) planContent(contentDir string, table *subst.Table, ix *subst.Index, f *subst.File, ed snapshot.Edit) (*Change, []*Unsyncable, error) {
	tmplData, mode, err := readTemplate(contentDir, f.Template)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, []*Unsyncable{{Path: ed.Path, TemplatePath: f.Template, Reason: "template file no longer exists"}}, nil
		}
		return nil, nil, err
	}
	tlines := subst.SplitLines(string(tmplData))
	oldLines := subst.SplitLines(string(ed.Old))
	newLines := subst.SplitLines(string(ed.New))
	origin := f.Lines
	if len(oldLines) != len(origin) {
		return nil, []*Unsyncable{{Path: ed.Path, TemplatePath: f.Template, Reason: "instance content no longer matches the recorded render"}}, nil
	}

	hunks := lineHunks(oldLines, newLines, origin, len(tlines))
	hidden := hiddenLines(tlines, origin)

	var uns []*Unsyncable
	var out []string
	next := 0
	for _, h := range hunks {
		for t := h.tStart; t < h.tEnd; t++ {
			if hidden[t] {
				uns = append(uns, &Unsyncable{Path: ed.Path, TemplatePath: f.Template, Line: t + 1, Reason: "edit spans a directive or gated line"})
				break
			}
		}
		newText := strings.Join(newLines[h.nStart:h.nEnd], "")
		base := len(strings.Join(newLines[:h.nStart], ""))
		reversed, amb := table.Reverse(newText, ix, e.Syntax)
		if len(amb) > 0 {
			uns = append(uns, ambiguities(ed.Path, f.Template, h.tStart+1, base, amb, "ambiguous literal")...)
		}
		if newText != "" {
			if key, ok := e.lostPlaceholder(strings.Join(tlines[h.tStart:h.tEnd], ""), reversed); ok {
				uns = append(uns, &Unsyncable{Path: ed.Path, TemplatePath: f.Template, Line: h.tStart + 1, Keys: []string{key}, Reason: fmt.Sprintf("edit changes the literal of placeholder %q", key)})
			}
		}
		out = append(out, tlines[next:h.tStart]...)
		out = append(out, reversed)
		next = h.tEnd
	}
	if len(uns) > 0 {
		return nil, uns, nil
	}
	out = append(out, tlines[next:]...)
	content := strings.Join(out, "")
	if content == string(tmplData) {
		return nil, nil, nil
	}
	return &Change{Path: f.Template, Instance: ed.Path, Op: OpWrite, Old: tmplData, Content: []byte(content), Mode: mode}, nil, nil
}

// lostPlaceholder reports a key whose placeholder occurs fewer times in the
// replacement than in the template lines it replaces.
func (e *Engine) lostPlaceholder(before, after string) (string, bool) {
	count := func(s string) map[string]int {
		c := make(map[string]int)
		for _, sp := range e.Syntax.Placeholders(s) {
			c[sp.Key]++
		}
		return c
	}
	was, now := count(before), count(after)
	keys := make([]string, 0, len(was))
	for k := range was {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if now[k] < was[k] {
			return k, true
		}
	}
	return "", false
}

// lineHunks groups changed instance lines into template-line hunks. A
// template line is dirty when any line it produced changed or when an insert
// lands inside its multi-line output; dirty lines are replaced whole.
// Unchanged lines anchor the hunks on both sides. Pure insertions go right
// after the template line of the preceding output line.
func lineHunks(oldLines, newLines []string, origin []int, nTemplate int) []hunk {
	m := difflib.NewMatcherWithJunk(oldLines, newLines, false, nil)
	ops := m.GetOpCodes()

	dirty := make(map[int]bool)
	partner := make([]int, len(oldLines))
	for _, op := range ops {
		switch op.Tag {
		case 'r', 'd':
			for i := op.I1; i < op.I2; i++ {
				dirty[origin[i]] = true
			}
		case 'i':
			a := op.I1
			if a > 0 && a < len(oldLines) && origin[a-1] == origin[a] {
				dirty[origin[a]] = true
			}
		case 'e':
			for i := op.I1; i < op.I2; i++ {
				partner[i] = op.J1 + (i - op.I1)
			}
		}
	}

	var hunks []hunk
	emit := func(a, b, c, d int) {
		if a == b && c == d {
			return
		}
		var h hunk
		if a < b {
			h.tStart, h.tEnd = origin[a], origin[b-1]+1
		} else {
			var at int
			switch {
			case len(oldLines) == 0:
				at = nTemplate
			case a == 0:
				at = 0
			default:
				at = origin[a-1] + 1
			}
			h.tStart, h.tEnd = at, at
		}
		h.nStart, h.nEnd = c, d
		hunks = append(hunks, h)
	}

	start, jPrev := 0, -1
	for i := range oldLines {
		if dirty[origin[i]] {
			continue
		}
		emit(start, i, jPrev+1, partner[i])
		start, jPrev = i+1, partner[i]
	}
	emit(start, len(oldLines), jPrev+1, len(newLines))
	return hunks
}
