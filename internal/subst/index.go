package subst

import (
	"sort"

	"github.com/jorge-barreto/stencil/internal/manifest"
)

// Match is one occurrence of an indexed literal.
type Match struct {
	Start int
	End   int
	Value string
	Keys  []string
}

type node struct {
	next map[byte]*node
	keys []string // non-nil when a literal ends here
}

// Index is a byte trie over the literals a render substituted, mapping each
// literal to the keys that produced it.
type Index struct {
	root *node
	size int
}

// Index builds the reverse index over the keys used by this render.
// Empty literals and booleans are left out: "true" and "false" are ordinary
// words in most files and reversing them would rewrite unrelated text.
func (t *Table) Index() *Index {
	ix := &Index{root: &node{}}
	for _, key := range t.Used() {
		val := t.Values[key]
		if val == "" || t.Kinds[key] == manifest.TypeBool {
			continue
		}
		ix.insert(val, key)
	}
	return ix
}

func (ix *Index) insert(val, key string) {
	n := ix.root
	for i := 0; i < len(val); i++ {
		c := val[i]
		if n.next == nil {
			n.next = make(map[byte]*node)
		}
		child, ok := n.next[c]
		if !ok {
			child = &node{}
			n.next[c] = child
		}
		n = child
	}
	if n.keys == nil {
		ix.size++
	}
	n.keys = append(n.keys, key)
	sort.Strings(n.keys)
}

// Len returns the number of distinct literals.
func (ix *Index) Len() int {
	return ix.size
}

// Keys returns the keys that produced literal, or nil.
func (ix *Index) Keys(literal string) []string {
	n := ix.root
	for i := 0; i < len(literal); i++ {
		next, ok := n.next[literal[i]]
		if !ok {
			return nil
		}
		n = next
	}
	return n.keys
}

// Find returns every occurrence of every literal in s, ordered by start then
// by decreasing length.
func (ix *Index) Find(s string) []Match {
	var out []Match
	for i := 0; i < len(s); i++ {
		var found []Match
		n := ix.root
		for j := i; j < len(s); j++ {
			next, ok := n.next[s[j]]
			if !ok {
				break
			}
			n = next
			if n.keys != nil {
				found = append(found, Match{Start: i, End: j + 1, Value: s[i : j+1], Keys: n.keys})
			}
		}
		for k := len(found) - 1; k >= 0; k-- {
			out = append(out, found[k])
		}
	}
	return out
}

// Select picks non-overlapping matches, longest literal first and leftmost on
// ties, and returns them ordered by position.
func (ix *Index) Select(s string) []Match {
	all := ix.Find(s)
	sort.SliceStable(all, func(i, j int) bool {
		li, lj := all[i].End-all[i].Start, all[j].End-all[j].Start
		if li != lj {
			return li > lj
		}
		return all[i].Start < all[j].Start
	})
	taken := make([]bool, len(s))
	var chosen []Match
	for _, m := range all {
		free := true
		for p := m.Start; p < m.End; p++ {
			if taken[p] {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		for p := m.Start; p < m.End; p++ {
			taken[p] = true
		}
		chosen = append(chosen, m)
	}
	sort.Slice(chosen, func(i, j int) bool { return chosen[i].Start < chosen[j].Start })
	return chosen
}
