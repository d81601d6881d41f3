package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrEmptyPrompt       = errors.New("design prompt is empty")
	ErrNoSuchImage       = errors.New("no image at that position")
)

// Kind classifies a Failure so callers can decide how to recover.
type Kind string

const (
	KindGeneration    Kind = "generation_failure"
	KindImageService  Kind = "image_service_failure"
	KindFetch         Kind = "fetch_failure"
	KindConfiguration Kind = "configuration_failure"
)

// Failure is the error type returned by every external collaborator wrapper.
// Reason is a short machine-readable code (e.g. "http_401", "empty_choices").
type Failure struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	msg := string(f.Kind)
	if f.Op != "" {
		msg = f.Op + ": " + msg
	}
	if f.Reason != "" {
		msg += " (" + f.Reason + ")"
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Recoverable reports whether the session stays usable after this failure.
func (f *Failure) Recoverable() bool {
	return f.Kind != KindConfiguration
}

// NewFailure builds a Failure of the given kind.
func NewFailure(kind Kind, op, reason string, err error) *Failure {
	return &Failure{Kind: kind, Op: op, Reason: reason, Err: err}
}

// Failuref builds a Failure whose cause is a formatted message.
func Failuref(kind Kind, op, reason, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Op: op, Reason: reason, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first Failure in err's chain, or "" if none.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsKind reports whether err carries a Failure of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
