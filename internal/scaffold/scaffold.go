// Package scaffold creates a new stencil project.
package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/jorge-barreto/stencil/internal/config"
	"github.com/jorge-barreto/stencil/internal/manifest"
	"github.com/jorge-barreto/stencil/internal/ux"
)

// Options adjust Init.
type Options struct {
	// Template points the config at an existing template directory instead
	// of writing the example one.
	Template string
}

// Init creates .stencil/config.yaml and, unless opts.Template is set, an
// example template under template/.
func Init(targetDir string, opts Options) error {
	dir := filepath.Join(targetDir, config.Dir)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%s directory already exists in %s", config.Dir, targetDir)
	}

	files := make(map[string]string)
	if opts.Template == "" {
		if _, err := os.Stat(filepath.Join(targetDir, "template")); err == nil {
			return fmt.Errorf("template directory already exists in %s", targetDir)
		}
		files[filepath.Join(config.Dir, config.FileName)] = exampleConfig
		files[filepath.Join("template", manifest.FileName)] = exampleManifest
		for rel, content := range exampleFiles {
			files[filepath.Join("template", filepath.FromSlash(rel))] = content
		}
	} else {
		cfg, err := configFor(targetDir, opts.Template)
		if err != nil {
			return err
		}
		files[filepath.Join(config.Dir, config.FileName)] = cfg
	}
	files[filepath.Join(config.Dir, ".gitignore")] = "state/\n"

	written, err := writeFiles(targetDir, files)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s%s✓ Initialized stencil project%s\n\n", ux.Bold, ux.Green, ux.Reset)
	fmt.Printf("  Created:\n")
	for _, p := range written {
		fmt.Printf("    %s%s%s\n", ux.Cyan, p, ux.Reset)
	}
	fmt.Printf("\n  Next steps:\n")
	fmt.Printf("    1. Edit %s%s%s to name your contexts and pipeline steps\n", ux.Cyan, filepath.Join(config.Dir, config.FileName), ux.Reset)
	fmt.Printf("    2. Run %sstencil doctor%s to check the setup\n", ux.Cyan, ux.Reset)
	fmt.Printf("    3. Run %sstencil sync --dry-run%s to preview a cycle\n\n", ux.Cyan, ux.Reset)
	return nil
}

// configFor builds a config for an existing template, with one context
// holding the manifest's defaults.
func configFor(targetDir, tmplDir string) (string, error) {
	abs := tmplDir
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(targetDir, tmplDir)
	}
	m, err := manifest.Load(abs)
	if err != nil {
		return "", err
	}
	values := make(map[string]any)
	for _, v := range m.Variables {
		if v.Derived() || v.Default == nil {
			continue
		}
		values[v.Key] = v.Default
	}
	ctx := config.Context{Name: "default", Values: values}
	cfg := struct {
		Name       string           `yaml:"name"`
		Template   string           `yaml:"template"`
		Contexts   []config.Context `yaml:"contexts"`
		Steps      []config.Step    `yaml:"steps"`
		SyncExempt []string         `yaml:"sync-exempt,omitempty"`
	}{
		Name:       m.Name,
		Template:   tmplDir,
		Contexts:   []config.Context{ctx},
		Steps:      []config.Step{},
		SyncExempt: m.SyncExempt,
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeFiles(targetDir string, files map[string]string) ([]string, error) {
	var written []string
	for rel, content := range files {
		full := filepath.Join(targetDir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", rel, err)
		}
		written = append(written, rel)
	}
	sort.Strings(written)
	return written, nil
}
