package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start on a running pipeline. It is a
	// warning; nothing was changed.
	ErrAlreadyRunning = errors.New("pipeline is already running")
	// ErrNotRunning is returned by Stop when no pipeline is running
	ErrNotRunning = errors.New("pipeline is not running")
)

// Kind classifies pipeline failures
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindConnection    Kind = "connection"
	KindTransientRead Kind = "transient_read"
	KindDetection     Kind = "detection"
	KindEncoderPipe   Kind = "encoder_pipe"
	KindEncoder       Kind = "encoder"
)

// Error is a classified pipeline failure
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is, or wraps, a pipeline Error of the given kind
func IsKind(err error, kind Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}

// KindOf returns the kind of a pipeline Error, or "" for other errors
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func configurationError(op string, err error) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}
