// Package snapshot captures directory trees and diffs them into the
// (path, old, new) edits that reverse sync consumes.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	ignore "github.com/sabhiram/go-gitignore"
)

// File is one captured regular file.
type File struct {
	Data []byte
	Mode fs.FileMode
}

// Snapshot maps slash-separated relative paths to file contents.
type Snapshot map[string]File

// DefaultIgnore lists version control metadata and tool caches that are
// never part of a snapshot, in gitignore syntax. Entries carry no slash so
// they match at any depth.
var DefaultIgnore = []string{
	".git", ".hg", ".svn",
	".DS_Store",
	"__pycache__", "*.py[cod]",
	".venv", ".nox", ".tox",
	".pytest_cache", ".ruff_cache", ".mypy_cache",
	"node_modules",
	"target",
}

// Take reads every regular file under root. Paths matching DefaultIgnore or
// a .gitignore inside root are skipped.
func Take(root string) (Snapshot, error) {
	ig := &ignorer{rules: []rule{{gi: ignore.CompileIgnoreLines(DefaultIgnore...)}}}
	snap := make(Snapshot)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if p == root {
				return ig.load(p, "")
			}
			if ig.ignored(rel, true) {
				return filepath.SkipDir
			}
			return ig.load(p, rel)
		}
		if !d.Type().IsRegular() || ig.ignored(rel, false) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		snap[rel] = File{Data: data, Mode: info.Mode().Perm()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

type rule struct {
	base string // directory holding the .gitignore, "" for root
	gi   *ignore.GitIgnore
}

type ignorer struct {
	rules []rule
}

// load compiles dir/.gitignore, if present, for paths below rel.
func (ig *ignorer) load(dir, rel string) error {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(dir, ".gitignore"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path.Join(rel, ".gitignore"), err)
	}
	ig.rules = append(ig.rules, rule{base: rel, gi: gi})
	return nil
}

func (ig *ignorer) ignored(rel string, dir bool) bool {
	for _, r := range ig.rules {
		sub := rel
		if r.base != "" {
			if !strings.HasPrefix(rel, r.base+"/") {
				continue
			}
			sub = strings.TrimPrefix(rel, r.base+"/")
		}
		if r.gi.MatchesPath(sub) || (dir && r.gi.MatchesPath(sub+"/")) {
			return true
		}
	}
	return false
}

// Edit is a content change to one file. Old is nil for an added file and New
// is nil for a deleted one.
type Edit struct {
	Path string
	Old  []byte
	New  []byte
	Mode fs.FileMode
}

func (e Edit) Added() bool   { return e.Old == nil }
func (e Edit) Deleted() bool { return e.New == nil }

// Diff returns the content edits that turn before into after, sorted by path.
// Mode-only changes are ignored.
func Diff(before, after Snapshot) []Edit {
	var edits []Edit
	for p, b := range before {
		a, ok := after[p]
		if !ok {
			edits = append(edits, Edit{Path: p, Old: nonNil(b.Data), Mode: b.Mode})
			continue
		}
		if !bytes.Equal(a.Data, b.Data) {
			edits = append(edits, Edit{Path: p, Old: nonNil(b.Data), New: nonNil(a.Data), Mode: a.Mode})
		}
	}
	for p, a := range after {
		if _, ok := before[p]; !ok {
			edits = append(edits, Edit{Path: p, New: nonNil(a.Data), Mode: a.Mode})
		}
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].Path < edits[j].Path })
	return edits
}

// nonNil keeps empty files distinguishable from missing ones.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// Unified renders the edit as a unified diff.
func (e Edit) Unified() (string, error) {
	from, to := "a/"+e.Path, "b/"+e.Path
	if e.Added() {
		from = "/dev/null"
	}
	if e.Deleted() {
		to = "/dev/null"
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(e.Old)),
		B:        difflib.SplitLines(string(e.New)),
		FromFile: from,
		ToFile:   to,
		Context:  3,
	})
}
