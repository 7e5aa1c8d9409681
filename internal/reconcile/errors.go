package reconcile

import (
	"errors"
	"fmt"
)

// ErrInvalidInput matches every ConfigurationError through errors.Is
var ErrInvalidInput = errors.New("invalid input")

// ConfigurationError reports unusable invocation parameters. It is raised
// before any file is modified.
type ConfigurationError struct {
	Param  string // "manifest" or "framework"
	Path   string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Param, e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is makes every ConfigurationError match ErrInvalidInput
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidInput
}
