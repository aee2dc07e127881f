// Package syntax recognizes placeholder tokens and line directives in
// template text. The renderer and the reverse-sync engine only talk to the
// Syntax interface, so a template may bring its own delimiters.
package syntax

import (
	"regexp"
	"strings"

	"github.com/jorge-barreto/stencil/internal/manifest"
)

// Span locates one placeholder token in a string.
type Span struct {
	Start int // byte offset of the opening delimiter
	End   int // byte offset just past the closing delimiter
	Key   string
}

type DirectiveKind int

const (
	If DirectiveKind = iota + 1
	Elif
	Else
	Endif
)

func (k DirectiveKind) String() string {
	switch k {
	case If:
		return "if"
	case Elif:
		return "elif"
	case Else:
		return "else"
	case Endif:
		return "endif"
	}
	return "unknown"
}

// Directive is a whole-line conditional marker.
type Directive struct {
	Kind DirectiveKind
	Expr string
}

// Syntax finds placeholders and directives.
type Syntax interface {
	// Placeholders returns every identifier-shaped token in s, in order.
	Placeholders(s string) []Span
	// Placeholder returns the canonical token written back for key.
	Placeholder(key string) string
	// Directive reports whether line is a directive line.
	Directive(line string) (Directive, bool)
	Namespace() string
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Mustache implements Syntax for {{ key }} placeholders and {% if %} lines.
type Mustache struct {
	open, close           string
	blockOpen, blockClose string
	namespace             string
}

// New returns a Mustache syntax from manifest settings. Empty fields take
// the usual defaults.
func New(s manifest.Syntax) *Mustache {
	m := &Mustache{
		open:       s.Open,
		close:      s.Close,
		blockOpen:  s.BlockOpen,
		blockClose: s.BlockClose,
		namespace:  s.Namespace,
	}
	if m.open == "" {
		m.open = "{{"
	}
	if m.close == "" {
		m.close = "}}"
	}
	if m.blockOpen == "" {
		m.blockOpen = "{%"
	}
	if m.blockClose == "" {
		m.blockClose = "%}"
	}
	return m
}

func (m *Mustache) Namespace() string { return m.namespace }

func (m *Mustache) Placeholder(key string) string {
	if m.namespace != "" {
		return m.open + m.namespace + "." + key + m.close
	}
	return m.open + key + m.close
}

func (m *Mustache) Placeholders(s string) []Span {
	var spans []Span
	pos := 0
	for {
		i := strings.Index(s[pos:], m.open)
		if i < 0 {
			return spans
		}
		start := pos + i
		inner := start + len(m.open)
		j := strings.Index(s[inner:], m.close)
		if j < 0 {
			return spans
		}
		end := inner + j + len(m.close)
		if key, ok := m.key(s[inner : inner+j]); ok {
			spans = append(spans, Span{Start: start, End: end, Key: key})
			pos = end
			continue
		}
		pos = start + 1
	}
}

func (m *Mustache) key(inner string) (string, bool) {
	inner = strings.TrimSpace(inner)
	if m.namespace != "" {
		rest, ok := strings.CutPrefix(inner, m.namespace+".")
		if !ok {
			return "", false
		}
		inner = rest
	}
	if !identRe.MatchString(inner) {
		return "", false
	}
	return inner, true
}

func (m *Mustache) Directive(line string) (Directive, bool) {
	t := strings.TrimSpace(line)
	if !strings.HasPrefix(t, m.blockOpen) || !strings.HasSuffix(t, m.blockClose) || len(t) < len(m.blockOpen)+len(m.blockClose) {
		return Directive{}, false
	}
	body := strings.TrimSpace(t[len(m.blockOpen) : len(t)-len(m.blockClose)])
	body = strings.Trim(body, "-")
	body = strings.TrimSpace(body)
	word, rest, _ := strings.Cut(body, " ")
	rest = strings.TrimSpace(rest)
	switch word {
	case "if":
		return Directive{Kind: If, Expr: rest}, true
	case "elif":
		return Directive{Kind: Elif, Expr: rest}, true
	case "else":
		return Directive{Kind: Else}, true
	case "endif":
		return Directive{Kind: Endif}, true
	}
	return Directive{}, false
}
