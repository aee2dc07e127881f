// Package expr parses and evaluates the HCL expressions used by template
// conditions and derived context values.
package expr

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Expr is a parsed expression over context keys.
type Expr struct {
	src       string
	namespace string
	expr      hclsyntax.Expression
}

// Parse parses src. When namespace is non-empty, references may be written
// either as key or as namespace.key.
func Parse(src, namespace string) (*Expr, error) {
	e, diags := hclsyntax.ParseExpression([]byte(src), "expression", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid expression %q: %s", src, diags.Error())
	}
	return &Expr{src: src, namespace: namespace, expr: e}, nil
}

// Source returns the expression text as written.
func (e *Expr) Source() string {
	return e.src
}

// References returns the sorted, de-duplicated context keys the expression reads.
func (e *Expr) References() []string {
	seen := make(map[string]bool)
	for _, t := range e.expr.Variables() {
		name := t.RootName()
		if e.namespace != "" && name == e.namespace && len(t) > 1 {
			if attr, ok := t[1].(hcl.TraverseAttr); ok {
				name = attr.Name
			}
		}
		seen[name] = true
	}
	refs := make([]string, 0, len(seen))
	for name := range seen {
		refs = append(refs, name)
	}
	sort.Strings(refs)
	return refs
}

// Value evaluates the expression against vars.
func (e *Expr) Value(vars map[string]cty.Value) (cty.Value, error) {
	v, diags := e.expr.Value(e.evalContext(vars))
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("evaluating %q: %s", e.src, diags.Error())
	}
	if !v.IsWhollyKnown() || v.IsNull() {
		return cty.NilVal, fmt.Errorf("evaluating %q: result is null or unknown", e.src)
	}
	return v, nil
}

// Bool evaluates the expression and converts the result to a boolean.
func (e *Expr) Bool(vars map[string]cty.Value) (bool, error) {
	v, err := e.Value(vars)
	if err != nil {
		return false, err
	}
	b, err := convert.Convert(v, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("evaluating %q: result is not a bool: %w", e.src, err)
	}
	return b.True(), nil
}

// String evaluates the expression and converts the result to a string.
func (e *Expr) String(vars map[string]cty.Value) (string, error) {
	v, err := e.Value(vars)
	if err != nil {
		return "", err
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", fmt.Errorf("evaluating %q: result is not a string: %w", e.src, err)
	}
	return s.AsString(), nil
}

func (e *Expr) evalContext(vars map[string]cty.Value) *hcl.EvalContext {
	all := make(map[string]cty.Value, len(vars)+1)
	for k, v := range vars {
		all[k] = v
	}
	if e.namespace != "" {
		if len(vars) == 0 {
			all[e.namespace] = cty.EmptyObjectVal
		} else {
			all[e.namespace] = cty.ObjectVal(vars)
		}
	}
	return &hcl.EvalContext{Variables: all, Functions: Functions()}
}
