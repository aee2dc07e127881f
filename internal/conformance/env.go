package conformance

import (
	"fmt"
	"os"
	"strings"

	"github.com/jorge-barreto/stencil/internal/config"
)

// Environment holds the execution context shared by every step of a run.
type Environment struct {
	ProjectRoot  string
	TemplateDir  string
	InstanceRoot string
	Context      string
	CacheKey     string
	StateDir     string
	StepIndex    int
	Values       map[string]string // resolved context values
	CustomVars   map[string]string // expanded config vars
	baseEnv      []string
}

// Vars returns the substitution map for step commands. Context values come
// first, then config vars; built-ins always win.
func (e *Environment) Vars() map[string]string {
	m := make(map[string]string, 6+len(e.Values)+len(e.CustomVars))
	for k, v := range e.Values {
		m[k] = v
	}
	for k, v := range e.CustomVars {
		m[k] = v
	}
	for k, v := range e.builtins() {
		m[k] = v
	}
	return m
}

func (e *Environment) builtins() map[string]string {
	return map[string]string{
		"INSTANCE_ROOT": e.InstanceRoot,
		"TEMPLATE_DIR":  e.TemplateDir,
		"PROJECT_ROOT":  e.ProjectRoot,
		"CONTEXT":       e.Context,
		"CACHE_KEY":     e.CacheKey,
		"STEP_INDEX":    fmt.Sprint(e.StepIndex),
	}
}

// BuildEnv returns the environment for step processes: the current
// environment plus STENCIL_ variables for built-ins, config vars and
// context values.
func BuildEnv(env *Environment) []string {
	if env.baseEnv == nil {
		env.baseEnv = os.Environ()
	}
	out := make([]string, len(env.baseEnv), len(env.baseEnv)+6+len(env.CustomVars)+len(env.Values))
	copy(out, env.baseEnv)
	for k, v := range env.Values {
		out = append(out, "STENCIL_CTX_"+strings.ToUpper(k)+"="+v)
	}
	for k, v := range env.CustomVars {
		out = append(out, "STENCIL_"+k+"="+v)
	}
	for _, k := range config.Builtins {
		out = append(out, "STENCIL_"+k+"="+env.builtins()[k])
	}
	return out
}
