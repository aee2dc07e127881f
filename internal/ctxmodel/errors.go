package ctxmodel

import "fmt"

// ValidationError reports a caller-fixable problem with context input.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("context: %s: %s", e.Key, e.Reason)
}

// UnknownKeyError is returned when resolving a key the manifest does not declare.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("context: unknown key %q", e.Key)
}
