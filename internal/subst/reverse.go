package subst

import (
	"path"
	"strings"

	"github.com/jorge-barreto/stencil/internal/syntax"
)

// Ambiguity is a literal that more than one unrelated key could have produced.
type Ambiguity struct {
	Offset  int
	Literal string
	Keys    []string
}

// Reverse replaces every indexed literal in s with its placeholder. Spans
// that are not indexed pass through unchanged. Ambiguous literals are left in
// place and reported; callers must not write the result when any are.
func (t *Table) Reverse(s string, ix *Index, syn syntax.Syntax) (string, []Ambiguity) {
	matches := ix.Select(s)
	if len(matches) == 0 {
		return s, nil
	}
	var b strings.Builder
	var amb []Ambiguity
	last := 0
	for _, m := range matches {
		key, ok := t.Canonical(m.Keys)
		if !ok {
			amb = append(amb, Ambiguity{Offset: m.Start, Literal: m.Value, Keys: m.Keys})
			continue
		}
		b.WriteString(s[last:m.Start])
		b.WriteString(syn.Placeholder(key))
		last = m.End
	}
	b.WriteString(s[last:])
	return b.String(), amb
}

// ReversePath maps an instance path back to a template path. Recorded paths
// use the table directly; others keep the nearest recorded ancestor and have
// their remaining segments reverse-substituted.
func (t *Table) ReversePath(inst string, ix *Index, syn syntax.Syntax) (string, []Ambiguity) {
	if tp, ok := t.TemplatePath(inst); ok {
		return tp, nil
	}
	base, segs := t.nearestDir(inst)
	var amb []Ambiguity
	out := make([]string, 0, len(segs)+1)
	if base != "" {
		out = append(out, base)
	}
	for _, seg := range segs {
		r, a := t.Reverse(seg, ix, syn)
		amb = append(amb, a...)
		out = append(out, r)
	}
	return path.Join(out...), amb
}
