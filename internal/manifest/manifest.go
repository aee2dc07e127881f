// Package manifest loads the stencil.yaml file that declares a template's
// variables, conditional paths, sync exemptions and placeholder syntax.
package manifest

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the manifest file expected at the template directory root.
const FileName = "stencil.yaml"

const (
	TypeString = "string"
	TypeBool   = "bool"
	TypeChoice = "choice"
)

type Syntax struct {
	Open       string `yaml:"open"`
	Close      string `yaml:"close"`
	Namespace  string `yaml:"namespace"`
	BlockOpen  string `yaml:"block-open"`
	BlockClose string `yaml:"block-close"`
}

type Variable struct {
	Key         string   `yaml:"key"`
	Type        string   `yaml:"type"`
	Description string   `yaml:"description"`
	Default     any      `yaml:"default"`
	Choices     []string `yaml:"choices"`
	Pattern     string   `yaml:"pattern"`
	Derive      string   `yaml:"derive"`
}

// Required reports whether the caller must supply a value.
func (v Variable) Required() bool {
	return v.Derive == "" && v.Default == nil && v.Type != TypeChoice
}

// Derived reports whether the value is computed from other entries.
func (v Variable) Derived() bool {
	return v.Derive != ""
}

type Condition struct {
	Path string `yaml:"path"`
	When string `yaml:"when"`
}

type Manifest struct {
	Name              string      `yaml:"name"`
	Root              string      `yaml:"root"`
	Syntax            Syntax      `yaml:"syntax"`
	Variables         []Variable  `yaml:"variables"`
	Conditions        []Condition `yaml:"conditions"`
	SyncExempt        []string    `yaml:"sync-exempt"`
	CopyWithoutRender []string    `yaml:"copy-without-render"`

	// Raw holds the manifest bytes as read, for fingerprinting.
	Raw []byte `yaml:"-"`
}

// Load reads dir/stencil.yaml and returns a validated Manifest.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	m.Raw = data
	return &m, nil
}

// Variable returns the declaration for key.
func (m *Manifest) Variable(key string) (Variable, bool) {
	for _, v := range m.Variables {
		if v.Key == key {
			return v, true
		}
	}
	return Variable{}, false
}

// Keys returns every declared key in declaration order.
func (m *Manifest) Keys() []string {
	keys := make([]string, len(m.Variables))
	for i, v := range m.Variables {
		keys[i] = v.Key
	}
	return keys
}

// Exempt reports whether rel matches a sync-exempt pattern.
func (m *Manifest) Exempt(rel string) bool {
	return MatchAny(m.SyncExempt, rel)
}

// Verbatim reports whether rel is copied without placeholder substitution.
func (m *Manifest) Verbatim(rel string) bool {
	return MatchAny(m.CopyWithoutRender, rel)
}
