package toolregistry

import "errors"

// Kind classifies a tool invocation failure so the Orchestrator can decide
// whether to retry, surface, or recover.
type Kind string

const (
	KindValidation Kind = "validation"
	KindPermission Kind = "permission"
	KindTimeout    Kind = "timeout"
	KindTransient  Kind = "transient"
	KindPermanent  Kind = "permanent"
	KindCancelled  Kind = "cancelled"
)

// Error wraps a tool failure with its classification. The registry never
// retries validation, permission, or permanent errors.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the registry should retry this failure.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

var (
	ErrUnknownTool  = errors.New("toolregistry: unknown tool")
	ErrNotPermitted = errors.New("toolregistry: tool not permitted by policy")
	ErrNotFound     = errors.New("toolregistry: invocation not found")
)
