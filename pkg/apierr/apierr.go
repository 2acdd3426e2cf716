// Package apierr is the gateway's error taxonomy and its HTTP mapping.
package apierr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindAuth                 Kind = "AUTH_ERROR"
	KindAuthz                Kind = "ACCESS_DENIED"
	KindValidation           Kind = "VALIDATION_ERROR"
	KindPromptInjection      Kind = "PROMPT_REJECTED"
	KindUpstreamUnavailable  Kind = "UPSTREAM_UNAVAILABLE"
	KindConfirmationNotFound Kind = "CONFIRMATION_NOT_FOUND"
	KindRateLimited          Kind = "RATE_LIMITED"
	KindUnavailable          Kind = "SERVICE_UNAVAILABLE"
	KindInternal             Kind = "INTERNAL_ERROR"
)

// Error is a classified failure. Message is safe to show to callers;
// Err carries the internal cause and is never serialized.
type Error struct {
	Kind            Kind
	Message         string
	SuggestedAction string
	Err             error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) WithSuggestion(action string) *Error {
	e.SuggestedAction = action
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Status(kind Kind) int {
	switch kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindAuthz:
		return http.StatusForbidden
	case KindValidation, KindPromptInjection:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindConfirmationNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the message and suggestion a caller may see. Internal
// faults collapse to a generic message.
func Public(err error) (Kind, string, string) {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return KindInternal, "internal error", ""
	}
	return e.Kind, e.Message, e.SuggestedAction
}
