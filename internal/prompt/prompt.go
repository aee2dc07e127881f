// Package prompt asks the user for context values and confirmations on the
// terminal.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/jorge-barreto/stencil/internal/manifest"
	"github.com/jorge-barreto/stencil/internal/reverse"
)

// ErrAborted signals the user interrupted a prompt.
var ErrAborted = errors.New("prompt: aborted")

// Driver abstracts the terminal so callers can be tested without one.
type Driver interface {
	Input(ctx context.Context, message, def, help string, validate func(string) error) (string, error)
	Confirm(ctx context.Context, message string, def bool) (bool, error)
	Select(ctx context.Context, message string, options []string, def string) (string, error)
}

// Survey is the interactive Driver.
type Survey struct{}

func (Survey) Input(ctx context.Context, message, def, help string, validate func(string) error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var out string
	q := &survey.Input{Message: message, Default: def, Help: help}
	var opts []survey.AskOpt
	if validate != nil {
		opts = append(opts, survey.WithValidator(func(ans any) error {
			s, _ := ans.(string)
			return validate(s)
		}))
	}
	if err := survey.AskOne(q, &out, opts...); err != nil {
		return "", translate(err)
	}
	return out, nil
}

func (Survey) Confirm(ctx context.Context, message string, def bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var out bool
	if err := survey.AskOne(&survey.Confirm{Message: message, Default: def}, &out); err != nil {
		return false, translate(err)
	}
	return out, nil
}

func (Survey) Select(ctx context.Context, message string, options []string, def string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var out string
	q := &survey.Select{Message: message, Options: options}
	if def != "" {
		q.Default = def
	}
	if err := survey.AskOne(q, &out); err != nil {
		return "", translate(err)
	}
	return out, nil
}

func translate(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return ErrAborted
	}
	return err
}

// Values asks for every input variable of m that have does not already
// set, and returns have extended with the answers. Derived keys are never
// asked for.
func Values(ctx context.Context, d Driver, m *manifest.Manifest, have map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m.Variables))
	for k, v := range have {
		out[k] = v
	}
	for _, v := range m.Variables {
		if v.Derived() {
			continue
		}
		if _, ok := out[v.Key]; ok {
			continue
		}
		message := v.Description
		if message == "" {
			message = v.Key
		}
		switch v.Type {
		case manifest.TypeBool:
			def, _ := v.Default.(bool)
			ans, err := d.Confirm(ctx, message, def)
			if err != nil {
				return nil, err
			}
			out[v.Key] = ans
		case manifest.TypeChoice:
			ans, err := d.Select(ctx, message, v.Choices, fmt.Sprint(v.Default))
			if err != nil {
				return nil, err
			}
			out[v.Key] = ans
		default:
			def := ""
			if v.Default != nil {
				def = fmt.Sprint(v.Default)
			}
			ans, err := d.Input(ctx, message, def, v.Key, validator(v))
			if err != nil {
				return nil, err
			}
			out[v.Key] = ans
		}
	}
	return out, nil
}

func validator(v manifest.Variable) func(string) error {
	var re *regexp.Regexp
	if v.Pattern != "" {
		re = regexp.MustCompile(v.Pattern)
	}
	required := v.Required()
	return func(s string) error {
		if required && strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", v.Key)
		}
		if re != nil && !re.MatchString(s) {
			return fmt.Errorf("must match %s", v.Pattern)
		}
		return nil
	}
}

// ConfirmRemoval returns a callback asking before an unmarked cache
// directory is deleted.
func ConfirmRemoval(ctx context.Context, d Driver) func(path string) (bool, error) {
	return func(path string) (bool, error) {
		return d.Confirm(ctx, fmt.Sprintf("%s has no instance marker. Delete it anyway?", path), false)
	}
}

// ConfirmSync returns a callback asking before planned changes are written
// to the template.
func ConfirmSync(ctx context.Context, d Driver) func(*reverse.Result) (bool, error) {
	return func(res *reverse.Result) (bool, error) {
		msg := fmt.Sprintf("Write %d change(s) to the template?", len(res.Changes))
		if n := len(res.Unsyncable); n > 0 {
			msg = fmt.Sprintf("Write %d change(s) to the template (%d unsyncable left out)?", len(res.Changes), n)
		}
		return d.Confirm(ctx, msg, true)
	}
}
