// Package render expands a template tree into a concrete instance and
// records every substitution it makes.
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jorge-barreto/stencil/internal/manifest"
)

// Template is a template directory with a loaded manifest.
type Template struct {
	Dir      string
	Manifest *manifest.Manifest
}

// Open loads dir/stencil.yaml and checks that the content directory exists.
func Open(dir string) (*Template, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Load(abs)
	if err != nil {
		return nil, fmt.Errorf("loading template %s: %w", dir, err)
	}
	t := &Template{Dir: abs, Manifest: m}
	info, err := os.Stat(t.ContentDir())
	if err != nil {
		return nil, fmt.Errorf("template content directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template content %s is not a directory", t.ContentDir())
	}
	return t, nil
}

// ContentDir is the templated root directory inside the template.
func (t *Template) ContentDir() string {
	return filepath.Join(t.Dir, t.Manifest.Root)
}

// Fingerprint digests the manifest and the whole content tree. Any edit to
// the template changes it.
func Fingerprint(t *Template) (string, error) {
	h := sha256.New()
	h.Write(t.Manifest.Raw)
	root := t.ContentDir()
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "\x00%s\x00%o\x00", filepath.ToSlash(rel), info.Mode())
		if !d.Type().IsRegular() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(h, f)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("fingerprinting template: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
