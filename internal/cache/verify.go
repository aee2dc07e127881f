package cache

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Problems lists what Verify found wrong with the cache directory.
type Problems struct {
	Orphans  []string // slot directories the index does not know
	Staging  []string // leftovers of interrupted renders
	Unmarked []string // indexed slots missing their marker
	Missing  []string // indexed slots whose directory is gone
}

// Empty reports whether nothing was found.
func (p *Problems) Empty() bool {
	return len(p.Orphans)+len(p.Staging)+len(p.Unmarked)+len(p.Missing) == 0
}

// Verify compares the slots directory with the index.
func (c *Cache) Verify() (*Problems, error) {
	entries, err := os.ReadDir(filepath.Join(c.root, slotsDir))
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool)
	p := &Problems{}
	for _, s := range c.List() {
		known[s.ID] = true
		dir := c.slotDir(s.ID)
		if _, err := os.Stat(dir); err != nil {
			p.Missing = append(p.Missing, s.Key)
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, MarkerFile)); err != nil {
			p.Unmarked = append(p.Unmarked, dir)
		}
	}
	for _, e := range entries {
		dir := filepath.Join(c.root, slotsDir, e.Name())
		switch {
		case strings.HasPrefix(e.Name(), ".tmp-"):
			p.Staging = append(p.Staging, dir)
		case !known[e.Name()]:
			p.Orphans = append(p.Orphans, dir)
		}
	}
	sort.Strings(p.Orphans)
	sort.Strings(p.Staging)
	return p, nil
}
