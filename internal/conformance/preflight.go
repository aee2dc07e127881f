package conformance

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/jorge-barreto/stencil/internal/config"
)

// Preflight checks that bash and every binary the steps require are on PATH.
func Preflight(steps []config.Step) error {
	if len(steps) == 0 {
		return nil
	}
	needed := map[string]bool{"bash": true}
	for _, s := range steps {
		for _, bin := range s.Requires {
			needed[bin] = true
		}
	}

	var missing []string
	for bin := range needed {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("required binaries not found in PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}
