package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/jorge-barreto/stencil/internal/cache"
	"github.com/jorge-barreto/stencil/internal/config"
	"github.com/jorge-barreto/stencil/internal/conformance"
	"github.com/jorge-barreto/stencil/internal/ctxmodel"
	"github.com/jorge-barreto/stencil/internal/prompt"
	"github.com/jorge-barreto/stencil/internal/render"
	"github.com/jorge-barreto/stencil/internal/reverse"
	"github.com/jorge-barreto/stencil/internal/runner"
	"github.com/jorge-barreto/stencil/internal/syntax"
)

// project is a loaded .stencil/ directory plus the machine settings.
type project struct {
	root     string
	cfg      *config.Config
	settings *config.Settings
	renderer *render.Renderer
	cache    *cache.Cache
}

func loadProject(cmd *cli.Command) (*project, error) {
	root, err := findProjectRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.Path(root), root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	s := loadSettings(cmd)
	r := &render.Renderer{}
	c, err := cache.Open(s.CacheDir, r)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return &project{root: root, cfg: cfg, settings: s, renderer: r, cache: c}, nil
}

func (p *project) stateDir() string {
	return config.StateDir(p.root)
}

func (p *project) template() (*render.Template, error) {
	tmpl, err := render.Open(p.cfg.TemplateDir())
	if err != nil {
		return nil, fmt.Errorf("opening template: %w", err)
	}
	return tmpl, nil
}

// inputs merges context values for one context, lowest precedence first:
// config values, --context-file, --set, then prompts.
func inputs(ctx context.Context, cmd *cli.Command, tmpl *render.Template, c *config.Context, d prompt.Driver) (map[string]any, error) {
	raw := make(map[string]any, len(c.Values))
	for k, v := range c.Values {
		raw[k] = v
	}
	if path := cmd.String("context-file"); path != "" {
		file, err := readContextFile(path)
		if err != nil {
			return nil, err
		}
		for k, v := range file {
			raw[k] = v
		}
	}
	set, err := ctxmodel.ParseAssignments(cmd.StringSlice("set"))
	if err != nil {
		return nil, err
	}
	for k, v := range set {
		raw[k] = v
	}
	if cmd.Bool("interactive") {
		return prompt.Values(ctx, d, tmpl.Manifest, raw)
	}
	return raw, nil
}

func readContextFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading context file: %w", err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("context file %s: %w", path, err)
	}
	return out, nil
}

// model builds the context model for --context (or the first context).
func (p *project) model(ctx context.Context, cmd *cli.Command, tmpl *render.Template) (*config.Context, *ctxmodel.Model, error) {
	c, err := p.cfg.Context(cmd.String("context"))
	if err != nil {
		return nil, nil, err
	}
	raw, err := inputs(ctx, cmd, tmpl, c, prompt.Survey{})
	if err != nil {
		return nil, nil, err
	}
	m, err := ctxmodel.Build(tmpl.Manifest, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("context %s: %w", c.Name, err)
	}
	return c, m, nil
}

func (p *project) engine(tmpl *render.Template) *reverse.Engine {
	exempt := append(append([]string{}, tmpl.Manifest.SyncExempt...), p.cfg.SyncExempt...)
	return &reverse.Engine{
		Syntax:   syntax.New(tmpl.Manifest.Syntax),
		Exempt:   exempt,
		Verbatim: tmpl.Manifest.CopyWithoutRender,
	}
}

func (p *project) runner(tmpl *render.Template, name string, m *ctxmodel.Model) *runner.Runner {
	return &runner.Runner{
		Template: tmpl,
		Model:    m,
		Context:  name,
		Cache:    p.cache,
		Pipeline: &conformance.Pipeline{
			Steps:       p.cfg.Steps,
			Vars:        p.cfg.Vars,
			StateDir:    p.stateDir(),
			Timeout:     time.Duration(p.cfg.Timeout) * time.Minute,
			ProjectRoot: p.root,
			TemplateDir: p.cfg.TemplateDir(),
			Context:     name,
			Output:      os.Stdout,
		},
		Engine:   p.engine(tmpl),
		StateDir: p.stateDir(),
	}
}

// removeOptions turns --force into a cache removal option, asking on the
// terminal otherwise.
func removeOptions(ctx context.Context, cmd *cli.Command) []cache.RemoveOption {
	if cmd.Bool("force") {
		return []cache.RemoveOption{cache.Force()}
	}
	return []cache.RemoveOption{cache.Confirm(prompt.ConfirmRemoval(ctx, prompt.Survey{}))}
}

// loadSettings reads STENCIL_ environment settings; global flags win.
func loadSettings(cmd *cli.Command) *config.Settings {
	v := config.NewViper()
	for _, name := range []string{"cache-dir", "log-level", "log-format"} {
		if cmd.IsSet(name) {
			v.Set(name, cmd.String(name))
		}
	}
	if cmd.IsSet("jobs") {
		v.Set("jobs", cmd.Int("jobs"))
	}
	return config.LoadSettings(v)
}

// findProjectRoot walks up from cwd looking for .stencil/config.yaml.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(config.Path(dir)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found (searched from cwd to root); run 'stencil init'", filepath.Join(config.Dir, config.FileName))
		}
		dir = parent
	}
}
