package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the project directory holding config and cycle state.
	Dir      = ".stencil"
	FileName = "config.yaml"
)

// Var is one entry of the ordered vars mapping.
type Var struct {
	Key   string
	Value string
}

// OrderedVars keeps vars in declaration order so later entries can refer
// to earlier ones.
type OrderedVars []Var

func (v *OrderedVars) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: vars must be a mapping", node.Line)
	}
	out := make(OrderedVars, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: var %q must be a scalar", val.Line, k.Value)
		}
		out = append(out, Var{Key: k.Value, Value: val.Value})
	}
	*v = out
	return nil
}

// Step is one conformance pipeline command.
type Step struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Run          string   `yaml:"run"`
	Timeout      int      `yaml:"timeout"` // minutes
	AllowFailure bool     `yaml:"allow-failure"`
	When         string   `yaml:"when"`
	Requires     []string `yaml:"requires"`
}

// Context is a named set of input values for the template.
type Context struct {
	Name   string         `yaml:"name"`
	Values map[string]any `yaml:"values"`
}

type Config struct {
	Name       string      `yaml:"name"`
	Template   string      `yaml:"template"`
	Timeout    int         `yaml:"timeout"` // minutes for the whole pipeline, 0 for none
	Vars       OrderedVars `yaml:"vars"`
	Contexts   []Context   `yaml:"contexts"`
	Steps      []Step      `yaml:"steps"`
	SyncExempt []string    `yaml:"sync-exempt"`

	root string
}

// Path returns the config file location for a project root.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, Dir, FileName)
}

// StateDir returns the directory for cycle state, logs and reports.
func StateDir(projectRoot string) string {
	return filepath.Join(projectRoot, Dir, "state")
}

// Load reads a YAML config file and returns a validated Config.
func Load(path, projectRoot string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := Validate(&cfg, projectRoot); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TemplateDir returns the absolute template directory.
func (c *Config) TemplateDir() string {
	if filepath.IsAbs(c.Template) {
		return c.Template
	}
	return filepath.Join(c.root, c.Template)
}

// Context returns the named context. An empty name selects the first one.
func (c *Config) Context(name string) (*Context, error) {
	if name == "" {
		return &c.Contexts[0], nil
	}
	for i := range c.Contexts {
		if c.Contexts[i].Name == name {
			return &c.Contexts[i], nil
		}
	}
	return nil, fmt.Errorf("unknown context %q", name)
}

// StepIndex returns the index of the named step, or -1 if not found.
func (c *Config) StepIndex(name string) int {
	for i, s := range c.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}
