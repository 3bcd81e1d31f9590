package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrDecode           = sterrors.New("hookd: invalid envelope")
	ErrUnattributable   = sterrors.New("hookd: no repository context for event")
	ErrExternalQuery    = sterrors.New("hookd: git query failed")
	ErrQueueFull        = sterrors.New("hookd: publish queue is full")
	ErrPublisherStopped = sterrors.New("hookd: publisher is stopped")
	ErrBrokerConnection = sterrors.New("hookd: broker connection failed")
	ErrBind             = sterrors.New("hookd: cannot bind socket")
	ErrConfigRequired   = sterrors.New("hookd: configuration is required")
	ErrLoggerRequired   = sterrors.New("hookd: logger is required")
	ErrEnricherRequired = sterrors.New("hookd: enricher is required")
)

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("hookd: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// BindError is returned when the listener socket cannot be acquired at startup.
type BindError struct {
	Path string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%v %s: %v", ErrBind, e.Path, e.Err)
}

func (e *BindError) Unwrap() []error {
	return []error{ErrBind, e.Err}
}

// QueryError describes a failed git invocation.
type QueryError struct {
	Args   []string
	Dir    string
	Stderr string
	Err    error
}

func (e *QueryError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%v: git %v in %s: %v: %s", ErrExternalQuery, e.Args, e.Dir, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%v: git %v in %s: %v", ErrExternalQuery, e.Args, e.Dir, e.Err)
}

func (e *QueryError) Unwrap() []error {
	return []error{ErrExternalQuery, e.Err}
}
