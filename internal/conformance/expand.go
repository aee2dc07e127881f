package conformance

import (
	"os"

	"github.com/jorge-barreto/stencil/internal/config"
)

// ExpandVars substitutes variables in s using the vars map. Unknown
// variables are left in place for bash to expand from the environment.
func ExpandVars(s string, vars map[string]string) string {
	return os.Expand(s, func(key string) string {
		if v, ok := vars[key]; ok {
			return v
		}
		if len(key) == 1 {
			return "$" + key
		}
		return "${" + key + "}"
	})
}

// ExpandConfigVars expands ordered var entries in declaration order.
// Each value sees the base map plus every previously expanded var.
func ExpandConfigVars(vars config.OrderedVars, base map[string]string) map[string]string {
	result := make(map[string]string, len(vars))
	for _, entry := range vars {
		lookup := make(map[string]string, len(base)+len(result))
		for k, v := range base {
			lookup[k] = v
		}
		for k, v := range result {
			lookup[k] = v
		}
		result[entry.Key] = ExpandVars(entry.Value, lookup)
	}
	return result
}
