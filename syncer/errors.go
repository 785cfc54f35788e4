package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/NethermindEth/chaoschain-persona/contentstore"
	"github.com/NethermindEth/chaoschain-persona/core"
	"github.com/NethermindEth/chaoschain-persona/crypto"
)

// ErrorKind is the failure taxonomy of the sync subsystem.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindTransient
	KindPrecondition
	KindMalformedPayload
	KindRestoreCandidate
	KindRestoreExhausted
	KindBusy
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindPrecondition:
		return "precondition"
	case KindMalformedPayload:
		return "malformed_payload"
	case KindRestoreCandidate:
		return "restore_candidate"
	case KindRestoreExhausted:
		return "restore_exhausted"
	case KindBusy:
		return "busy"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Retryable reports whether a retry could change the outcome.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient
}

// Error is a classified failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a classified error, or classifies it.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return Classify(err)
}

// Classify maps collaborator errors onto the taxonomy. Anything not
// recognised is treated as transient.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case core.IsValidationError(err):
		return KindValidation
	case errors.Is(err, contentstore.ErrPrecondition),
		errors.Is(err, crypto.ErrAuthDenied):
		return KindPrecondition
	case errors.Is(err, contentstore.ErrMalformedPayload),
		errors.Is(err, crypto.ErrMalformedEnvelope):
		return KindMalformedPayload
	}
	return KindTransient
}

// Result is the outcome of a subsystem operation.
type Result[T any] struct {
	Value T
	Err   *Error
}

func ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func fail[T any](kind ErrorKind, op string, err error) Result[T] {
	return Result[T]{Err: newError(kind, op, err)}
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Unwrap returns the value and a plain error.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		return r.Value, r.Err
	}
	return r.Value, nil
}
