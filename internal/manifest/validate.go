package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jorge-barreto/stencil/internal/expr"
)

var keyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the manifest for errors and sets defaults.
func Validate(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("manifest: 'name' is required")
	}
	if m.Root == "" {
		return fmt.Errorf("manifest: 'root' is required")
	}
	if strings.ContainsAny(m.Root, `/\`) {
		return fmt.Errorf("manifest: root %q must be a single directory name", m.Root)
	}

	if m.Syntax.Open == "" {
		m.Syntax.Open = "{{"
	}
	if m.Syntax.Close == "" {
		m.Syntax.Close = "}}"
	}
	if m.Syntax.BlockOpen == "" {
		m.Syntax.BlockOpen = "{%"
	}
	if m.Syntax.BlockClose == "" {
		m.Syntax.BlockClose = "%}"
	}
	if m.Syntax.Namespace != "" && !keyRe.MatchString(m.Syntax.Namespace) {
		return fmt.Errorf("manifest: syntax: namespace %q is not a valid identifier", m.Syntax.Namespace)
	}
	if m.Syntax.Open == m.Syntax.BlockOpen {
		return fmt.Errorf("manifest: syntax: placeholder and block delimiters must differ")
	}

	declared := make(map[string]bool, len(m.Variables))
	for i := range m.Variables {
		v := &m.Variables[i]
		if v.Key == "" {
			return fmt.Errorf("manifest: variable %d: 'key' is required", i+1)
		}
		if !keyRe.MatchString(v.Key) {
			return fmt.Errorf("manifest: variable %q is not a valid key (must match [A-Za-z_][A-Za-z0-9_]*)", v.Key)
		}
		if v.Key == m.Syntax.Namespace {
			return fmt.Errorf("manifest: variable %q shadows the placeholder namespace", v.Key)
		}
		if declared[v.Key] {
			return fmt.Errorf("manifest: duplicate variable %q", v.Key)
		}
		declared[v.Key] = true

		if v.Type == "" {
			v.Type = TypeString
		}
		switch v.Type {
		case TypeString, TypeBool:
			if len(v.Choices) > 0 {
				return fmt.Errorf("manifest: variable %q: 'choices' is only valid on choice variables", v.Key)
			}
		case TypeChoice:
			if len(v.Choices) == 0 {
				return fmt.Errorf("manifest: choice variable %q: at least one choice is required", v.Key)
			}
			if v.Derived() {
				return fmt.Errorf("manifest: choice variable %q cannot be derived", v.Key)
			}
			if v.Default == nil {
				v.Default = v.Choices[0]
			} else if !contains(v.Choices, fmt.Sprint(v.Default)) {
				return fmt.Errorf("manifest: choice variable %q: default %q is not one of %v", v.Key, fmt.Sprint(v.Default), v.Choices)
			}
		default:
			return fmt.Errorf("manifest: variable %q: unknown type %q (must be string, bool, or choice)", v.Key, v.Type)
		}

		if v.Derived() && v.Default != nil {
			return fmt.Errorf("manifest: derived variable %q cannot declare a default", v.Key)
		}
		if v.Pattern != "" {
			if _, err := regexp.Compile(v.Pattern); err != nil {
				return fmt.Errorf("manifest: variable %q: invalid pattern: %w", v.Key, err)
			}
		}
	}

	for _, v := range m.Variables {
		if !v.Derived() {
			continue
		}
		e, err := expr.Parse(v.Derive, m.Syntax.Namespace)
		if err != nil {
			return fmt.Errorf("manifest: derived variable %q: %w", v.Key, err)
		}
		for _, ref := range e.References() {
			if !declared[ref] {
				return fmt.Errorf("manifest: derived variable %q references undefined key %q", v.Key, ref)
			}
		}
	}

	for i, c := range m.Conditions {
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("manifest: condition %d: 'path' is required", i+1)
		}
		if strings.TrimSpace(c.When) == "" {
			return fmt.Errorf("manifest: condition %q: 'when' is required", c.Path)
		}
		e, err := expr.Parse(c.When, m.Syntax.Namespace)
		if err != nil {
			return fmt.Errorf("manifest: condition %q: %w", c.Path, err)
		}
		for _, ref := range e.References() {
			if !declared[ref] {
				return fmt.Errorf("manifest: condition %q references undefined key %q", c.Path, ref)
			}
		}
	}

	for _, p := range append(append([]string{}, m.SyncExempt...), m.CopyWithoutRender...) {
		if err := checkPattern(p); err != nil {
			return fmt.Errorf("manifest: %w", err)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
