package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jorge-barreto/stencil/internal/expr"
)

const defaultStepTimeout = 10

var (
	varNameRe     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	contextNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// Builtins are the variables every step sees; vars may not override them.
var Builtins = []string{"INSTANCE_ROOT", "TEMPLATE_DIR", "PROJECT_ROOT", "CONTEXT", "CACHE_KEY", "STEP_INDEX"}

// Validate checks the config for errors and sets defaults.
func Validate(cfg *Config, projectRoot string) error {
	cfg.root = projectRoot
	if cfg.Name == "" {
		return fmt.Errorf("config: 'name' is required")
	}
	if cfg.Template == "" {
		cfg.Template = "template"
	}
	if info, err := os.Stat(cfg.TemplateDir()); err != nil || !info.IsDir() {
		return fmt.Errorf("config: template directory %q not found", cfg.TemplateDir())
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("config: timeout must be >= 0")
	}
	if len(cfg.Contexts) == 0 {
		return fmt.Errorf("config: at least one context is required")
	}

	builtins := make(map[string]bool, len(Builtins))
	for _, b := range Builtins {
		builtins[b] = true
	}
	seenVars := make(map[string]bool)
	for _, v := range cfg.Vars {
		if v.Key == "" {
			return fmt.Errorf("config: vars: empty variable name")
		}
		if !varNameRe.MatchString(v.Key) {
			return fmt.Errorf("config: vars: %q is not a valid variable name (must match [A-Za-z_][A-Za-z0-9_]*)", v.Key)
		}
		if builtins[v.Key] {
			return fmt.Errorf("config: vars: %q overrides a built-in variable", v.Key)
		}
		if seenVars[v.Key] {
			return fmt.Errorf("config: vars: duplicate variable %q", v.Key)
		}
		seenVars[v.Key] = true
	}

	seenCtx := make(map[string]bool)
	for i, c := range cfg.Contexts {
		if c.Name == "" {
			return fmt.Errorf("config: context %d: 'name' is required", i+1)
		}
		if !contextNameRe.MatchString(c.Name) {
			return fmt.Errorf("config: context %q: name must match %s", c.Name, contextNameRe)
		}
		if seenCtx[c.Name] {
			return fmt.Errorf("config: duplicate context name %q", c.Name)
		}
		seenCtx[c.Name] = true
	}

	seen := make(map[string]bool)
	for i := range cfg.Steps {
		s := &cfg.Steps[i]
		if s.Name == "" {
			return fmt.Errorf("config: step %d: 'name' is required", i+1)
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.Run) == "" {
			return fmt.Errorf("config: step %q: 'run' is required", s.Name)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("config: step %q: timeout must be >= 0", s.Name)
		}
		if s.Timeout == 0 {
			s.Timeout = defaultStepTimeout
		}
		if s.When != "" {
			if _, err := expr.Parse(s.When, ""); err != nil {
				return fmt.Errorf("config: step %q: when: %w", s.Name, err)
			}
		}
		for _, bin := range s.Requires {
			if strings.TrimSpace(bin) == "" {
				return fmt.Errorf("config: step %q: invalid requires entry %q", s.Name, bin)
			}
		}
	}

	for _, p := range cfg.SyncExempt {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("config: 'sync-exempt' entries must be non-empty")
		}
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("config: sync-exempt: invalid pattern %q: %w", p, err)
		}
	}
	return nil
}
