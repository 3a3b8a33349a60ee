// Package pipelineerr classifies the failure modes the executor and
// worker runtime need to distinguish: which ones retry, which ones
// are fatal, and which are not errors at all.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind categorizes a pipeline failure per the error handling design.
type Kind int

const (
	// KindValidation covers malformed input: empty text, unknown
	// document class, oversized payload. Never retried.
	KindValidation Kind = iota
	// KindTransientTransport covers network failures talking to the
	// LLM provider or privacy filter. Retried with backoff.
	KindTransientTransport
	// KindAuthFailure covers credential rejection. Fatal, never retried.
	KindAuthFailure
	// KindQuotaExceeded covers provider throttling. Retried with a
	// longer backoff, surfaced once exhausted.
	KindQuotaExceeded
	// KindPromptSubstitution covers a missing required placeholder.
	// Fatal for the step and the job.
	KindPromptSubstitution
	// KindOutputValidation covers expected-value, leakage, or empty
	// output failures. Retried per the step's own retry policy.
	KindOutputValidation
	// KindTimeout covers a per-step or per-job deadline breach. Fatal
	// for the job.
	KindTimeout
	// KindCancellation covers an externally requested cancellation.
	// Fatal for the job.
	KindCancellation
	// KindModelUnavailable covers the provider reporting the model as
	// unavailable. Retried, then fatal.
	KindModelUnavailable
	// KindSchemaError covers a malformed response from the provider.
	// Fatal.
	KindSchemaError
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransientTransport:
		return "transient_transport"
	case KindAuthFailure:
		return "auth_failure"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindPromptSubstitution:
		return "prompt_substitution"
	case KindOutputValidation:
		return "output_validation"
	case KindTimeout:
		return "timeout"
	case KindCancellation:
		return "cancellation"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindSchemaError:
		return "schema_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether a step-level retry loop should attempt
// this kind again. PromptSubstitution and AuthFailure never retry;
// Timeout and Cancellation are handled by the worker runtime, not the
// step retry loop, so they are not retryable from the executor's
// point of view either.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransientTransport, KindQuotaExceeded, KindOutputValidation, KindModelUnavailable:
		return true
	default:
		return false
	}
}

// Error wraps an underlying error with a Kind and an optional step name.
type Error struct {
	Kind    Kind
	Step    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: step=%q: %s", e.Kind, e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, step, message string) *Error {
	return &Error{Kind: kind, Step: step, Message: message}
}

// Wrap classifies an underlying error under kind, attaching step context.
func Wrap(kind Kind, step string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Step: step, Message: err.Error(), Err: err}
}

// KindOf extracts a *Error from err, mirroring errors.As for callers
// that just want the Kind.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}
