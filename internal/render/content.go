package render

import (
	"fmt"
	"strings"

	"github.com/jorge-barreto/stencil/internal/expr"
	"github.com/jorge-barreto/stencil/internal/subst"
	"github.com/jorge-barreto/stencil/internal/syntax"
)

type block struct {
	line    int
	parent  bool // emitting state outside the block
	taken   bool // some branch already matched
	active  bool
	sawElse bool
}

// content renders file text. Directive lines never reach the output. The
// returned slice maps each output line to the template line that produced it.
// Placeholders on lines of inactive branches are still checked.
func (w *walker) content(tmplRel, instRel, src string) (string, []int, []subst.Record, error) {
	var (
		b      strings.Builder
		lines  []int
		recs   []subst.Record
		stack  []*block
		offset int
	)
	active := true

	for i, line := range subst.SplitLines(src) {
		lineOffset := offset
		offset += len(line)

		if d, ok := w.syn.Directive(line); ok {
			var err error
			stack, err = w.directive(tmplRel, i+1, d, stack)
			if err != nil {
				return "", nil, nil, err
			}
			active = true
			if n := len(stack); n > 0 {
				active = stack[n-1].active
			}
			continue
		}

		out, lineRecs, err := w.substitute(tmplRel, lineOffset, line)
		if err != nil {
			return "", nil, nil, err
		}
		if !active {
			continue
		}
		for _, rec := range lineRecs {
			rec.Path = instRel
			rec.Offset += b.Len()
			recs = append(recs, rec)
		}
		b.WriteString(out)
		for range subst.SplitLines(out) {
			lines = append(lines, i)
		}
	}
	if n := len(stack); n > 0 {
		return "", nil, nil, &TemplateError{Path: tmplRel, Line: stack[n-1].line, Reason: "unterminated if block"}
	}
	return b.String(), lines, recs, nil
}

func (w *walker) directive(tmplRel string, lineNo int, d syntax.Directive, stack []*block) ([]*block, error) {
	top := func() *block {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}
	switch d.Kind {
	case syntax.If:
		cond, err := w.condition(tmplRel, lineNo, d)
		if err != nil {
			return nil, err
		}
		parent := true
		if t := top(); t != nil {
			parent = t.active
		}
		return append(stack, &block{line: lineNo, parent: parent, taken: cond, active: parent && cond}), nil
	case syntax.Elif:
		t := top()
		if t == nil || t.sawElse {
			return nil, &TemplateError{Path: tmplRel, Line: lineNo, Reason: "elif without matching if"}
		}
		cond, err := w.condition(tmplRel, lineNo, d)
		if err != nil {
			return nil, err
		}
		t.active = t.parent && !t.taken && cond
		t.taken = t.taken || cond
		return stack, nil
	case syntax.Else:
		t := top()
		if t == nil || t.sawElse {
			return nil, &TemplateError{Path: tmplRel, Line: lineNo, Reason: "else without matching if"}
		}
		t.active = t.parent && !t.taken
		t.taken = true
		t.sawElse = true
		return stack, nil
	case syntax.Endif:
		if top() == nil {
			return nil, &TemplateError{Path: tmplRel, Line: lineNo, Reason: "endif without matching if"}
		}
		return stack[:len(stack)-1], nil
	}
	return nil, &TemplateError{Path: tmplRel, Line: lineNo, Reason: fmt.Sprintf("unknown directive %s", d.Kind)}
}

func (w *walker) condition(tmplRel string, lineNo int, d syntax.Directive) (bool, error) {
	if strings.TrimSpace(d.Expr) == "" {
		return false, &TemplateError{Path: tmplRel, Line: lineNo, Reason: fmt.Sprintf("%s requires a condition", d.Kind)}
	}
	e, err := expr.Parse(d.Expr, w.syn.Namespace())
	if err != nil {
		return false, &TemplateError{Path: tmplRel, Line: lineNo, Reason: err.Error()}
	}
	for _, ref := range e.References() {
		if _, ok := w.values[ref]; !ok {
			return false, &TemplateError{Path: tmplRel, Line: lineNo, Reason: fmt.Sprintf("condition references unknown key %q", ref)}
		}
	}
	ok, err := e.Bool(w.vars)
	if err != nil {
		return false, &TemplateError{Path: tmplRel, Line: lineNo, Reason: err.Error()}
	}
	return ok, nil
}
