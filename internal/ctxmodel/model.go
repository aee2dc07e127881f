// Package ctxmodel holds the named values that parameterize a render.
//
// A Model is built from a validated manifest plus caller-supplied raw inputs.
// Input entries are fixed at build time; derived entries are evaluated on
// first access and memoized for the lifetime of the Model.
package ctxmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cast"
	"github.com/zclconf/go-cty/cty"

	"github.com/jorge-barreto/stencil/internal/expr"
	"github.com/jorge-barreto/stencil/internal/manifest"
)

// Value is one resolved context entry.
type Value struct {
	Key     string
	Type    string
	Str     string
	Bool    bool
	Derived bool
}

// Text returns the literal substituted for the value in rendered output.
func (v Value) Text() string {
	if v.Type == manifest.TypeBool {
		if v.Bool {
			return "true"
		}
		return "false"
	}
	return v.Str
}

func (v Value) cty() cty.Value {
	if v.Type == manifest.TypeBool {
		return cty.BoolVal(v.Bool)
	}
	return cty.StringVal(v.Str)
}

// Model is an immutable set of input entries plus lazily derived entries.
// It is safe for concurrent use.
type Model struct {
	manifest *manifest.Manifest
	inputs   map[string]Value
	derive   map[string]*expr.Expr

	mu      sync.Mutex
	derived map[string]Value
}

// Build validates raw against the manifest and returns a Model.
// Missing optional entries take their manifest default.
func Build(m *manifest.Manifest, raw map[string]any) (*Model, error) {
	for key := range raw {
		v, ok := m.Variable(key)
		if !ok {
			return nil, &ValidationError{Key: key, Reason: "unknown key"}
		}
		if v.Derived() {
			return nil, &ValidationError{Key: key, Reason: "derived keys cannot be assigned"}
		}
	}

	model := &Model{
		manifest: m,
		inputs:   make(map[string]Value),
		derive:   make(map[string]*expr.Expr),
		derived:  make(map[string]Value),
	}

	for _, v := range m.Variables {
		if v.Derived() {
			e, err := expr.Parse(v.Derive, m.Syntax.Namespace)
			if err != nil {
				return nil, &ValidationError{Key: v.Key, Reason: err.Error()}
			}
			for _, ref := range e.References() {
				if _, ok := m.Variable(ref); !ok {
					return nil, &ValidationError{Key: v.Key, Reason: fmt.Sprintf("derivation references undefined key %q", ref)}
				}
			}
			model.derive[v.Key] = e
			continue
		}

		rv, ok := raw[v.Key]
		if !ok || rv == nil {
			if v.Required() {
				return nil, &ValidationError{Key: v.Key, Reason: "required value is missing"}
			}
			rv = v.Default
		}
		val, err := coerce(v, rv)
		if err != nil {
			return nil, err
		}
		model.inputs[v.Key] = val
	}

	if err := model.checkCycles(); err != nil {
		return nil, err
	}
	return model, nil
}

func coerce(v manifest.Variable, raw any) (Value, error) {
	val := Value{Key: v.Key, Type: v.Type}
	switch v.Type {
	case manifest.TypeBool:
		b, err := toBool(raw)
		if err != nil {
			return Value{}, &ValidationError{Key: v.Key, Reason: fmt.Sprintf("cannot use %v as bool", raw)}
		}
		val.Bool = b
		return val, nil
	case manifest.TypeChoice:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return Value{}, &ValidationError{Key: v.Key, Reason: err.Error()}
		}
		found := false
		for _, c := range v.Choices {
			if c == s {
				found = true
				break
			}
		}
		if !found {
			return Value{}, &ValidationError{Key: v.Key, Reason: fmt.Sprintf("%q is not one of %s", s, strings.Join(v.Choices, ", "))}
		}
		val.Str = s
		return val, nil
	default:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return Value{}, &ValidationError{Key: v.Key, Reason: err.Error()}
		}
		if v.Pattern != "" {
			re, err := regexp.Compile(v.Pattern)
			if err != nil {
				return Value{}, &ValidationError{Key: v.Key, Reason: fmt.Sprintf("invalid pattern: %v", err)}
			}
			if !re.MatchString(s) {
				return Value{}, &ValidationError{Key: v.Key, Reason: fmt.Sprintf("%q does not match pattern %s", s, v.Pattern)}
			}
		}
		val.Str = s
		return val, nil
	}
}

func toBool(raw any) (bool, error) {
	if s, ok := raw.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "y", "yes", "on":
			return true, nil
		case "n", "no", "off":
			return false, nil
		}
	}
	return cast.ToBoolE(raw)
}

func (m *Model) checkCycles() error {
	const (
		visiting = 1
		done     = 2
	)
	marks := make(map[string]int)
	var visit func(key string, chain []string) error
	visit = func(key string, chain []string) error {
		e, ok := m.derive[key]
		if !ok {
			return nil
		}
		switch marks[key] {
		case visiting:
			return &ValidationError{Key: key, Reason: "derivation cycle: " + strings.Join(append(chain, key), " -> ")}
		case done:
			return nil
		}
		marks[key] = visiting
		for _, ref := range e.References() {
			if err := visit(ref, append(chain, key)); err != nil {
				return err
			}
		}
		marks[key] = done
		return nil
	}
	for _, key := range m.manifest.Keys() {
		if err := visit(key, nil); err != nil {
			return err
		}
	}
	return nil
}

// Manifest returns the manifest the model was built against.
func (m *Model) Manifest() *manifest.Manifest {
	return m.manifest
}

// Keys returns every key in manifest declaration order.
func (m *Model) Keys() []string {
	return m.manifest.Keys()
}

// Has reports whether key is declared.
func (m *Model) Has(key string) bool {
	_, ok := m.manifest.Variable(key)
	return ok
}

// Resolve returns the value for key, computing derived entries on first use.
func (m *Model) Resolve(key string) (Value, error) {
	if v, ok := m.inputs[key]; ok {
		return v, nil
	}
	if _, ok := m.derive[key]; !ok {
		return Value{}, &UnknownKeyError{Key: key}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(key)
}

func (m *Model) resolveLocked(key string) (Value, error) {
	if v, ok := m.inputs[key]; ok {
		return v, nil
	}
	if v, ok := m.derived[key]; ok {
		return v, nil
	}
	e, ok := m.derive[key]
	if !ok {
		return Value{}, &UnknownKeyError{Key: key}
	}

	vars := make(map[string]cty.Value)
	for _, ref := range e.References() {
		dep, err := m.resolveLocked(ref)
		if err != nil {
			return Value{}, err
		}
		vars[ref] = dep.cty()
	}

	decl, _ := m.manifest.Variable(key)
	val := Value{Key: key, Type: decl.Type, Derived: true}
	var err error
	if decl.Type == manifest.TypeBool {
		val.Bool, err = e.Bool(vars)
	} else {
		val.Str, err = e.String(vars)
	}
	if err != nil {
		return Value{}, &ValidationError{Key: key, Reason: err.Error()}
	}
	m.derived[key] = val
	return val, nil
}

// Vars resolves every entry into cty values for expression evaluation.
func (m *Model) Vars() (map[string]cty.Value, error) {
	out := make(map[string]cty.Value)
	for _, key := range m.Keys() {
		v, err := m.Resolve(key)
		if err != nil {
			return nil, err
		}
		out[key] = v.cty()
	}
	return out, nil
}

// Strings resolves every entry to its substituted text.
func (m *Model) Strings() (map[string]string, error) {
	out := make(map[string]string)
	for _, key := range m.Keys() {
		v, err := m.Resolve(key)
		if err != nil {
			return nil, err
		}
		out[key] = v.Text()
	}
	return out, nil
}

// Inputs returns the input (non-derived) entries as text, keyed by name.
func (m *Model) Inputs() map[string]string {
	out := make(map[string]string, len(m.inputs))
	for k, v := range m.inputs {
		out[k] = v.Text()
	}
	return out
}

// Roots returns the sorted input keys that key ultimately depends on.
// For an input key it returns the key itself.
func (m *Model) Roots(key string) ([]string, error) {
	if _, ok := m.inputs[key]; ok {
		return []string{key}, nil
	}
	if _, ok := m.derive[key]; !ok {
		return nil, &UnknownKeyError{Key: key}
	}
	seen := make(map[string]bool)
	var walk func(k string)
	walk = func(k string) {
		if _, ok := m.inputs[k]; ok {
			seen[k] = true
			return
		}
		if e, ok := m.derive[k]; ok {
			for _, ref := range e.References() {
				walk(ref)
			}
		}
	}
	walk(key)
	roots := make([]string, 0, len(seen))
	for k := range seen {
		roots = append(roots, k)
	}
	sort.Strings(roots)
	return roots, nil
}

// Identity is a stable digest of the manifest name and every input entry.
// Map order does not matter; two models differing in any single input,
// booleans included, have different identities.
func (m *Model) Identity() string {
	keys := make([]string, 0, len(m.inputs))
	for k := range m.inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "manifest=%s\n", m.manifest.Name)
	for _, k := range keys {
		v := m.inputs[k]
		fmt.Fprintf(h, "%s=%s:%q\n", k, v.Type, v.Text())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ParseAssignments turns key=value pairs into raw inputs.
func ParseAssignments(pairs []string) (map[string]any, error) {
	raw := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q (want key=value)", p)
		}
		raw[k] = v
	}
	return raw, nil
}
