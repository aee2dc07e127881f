package render

import "fmt"

// UnresolvedPlaceholderError is a placeholder naming a key the context does
// not have. Path is the template path and Offset the byte offset of the token.
type UnresolvedPlaceholderError struct {
	Path   string
	Offset int
	Key    string
}

func (e *UnresolvedPlaceholderError) Error() string {
	return fmt.Sprintf("%s: offset %d: unresolved placeholder %q", e.Path, e.Offset, e.Key)
}

// TemplateError is a template authoring defect found before anything is written.
type TemplateError struct {
	Path   string
	Line   int
	Reason string
}

func (e *TemplateError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}
