// Package apperr is the error taxonomy shared by every layer of the assistant.
// Collaborator failures are converted into one of these kinds at the boundary
// closest to their source, so handlers only ever show plain-language messages.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindUnknown                Kind = "unknown"
	KindNotFound               Kind = "not_found"
	KindProviderUnavailable    Kind = "provider_unavailable"
	KindPersistenceUnavailable Kind = "persistence_unavailable"
	KindValidation             Kind = "validation"
)

var defaultMessages = map[Kind]string{
	KindUnknown:                "Something went wrong. Please try again.",
	KindNotFound:               "We couldn't find that product.",
	KindProviderUnavailable:    "I'm sorry, I couldn't reach the assistant service right now. Please try again in a moment.",
	KindPersistenceUnavailable: "Your conversation couldn't be saved, but you can keep chatting.",
	KindValidation:             "The request is missing something we need.",
}

type Error struct {
	kind    Kind
	trace   []string
	message string
	cause   error
}

// New builds an error of the given kind. message is shown to end users and
// may be empty to use the kind's default wording.
func New(kind Kind, trace, message string, cause error) *Error {
	return &Error{kind: kind, trace: []string{trace}, message: message, cause: cause}
}

func NotFound(trace, message string) *Error {
	return New(KindNotFound, trace, message, nil)
}

func Validation(trace, message string) *Error {
	return New(KindValidation, trace, message, nil)
}

func ProviderUnavailable(trace string, cause error) *Error {
	return New(KindProviderUnavailable, trace, "", cause)
}

func PersistenceUnavailable(trace string, cause error) *Error {
	return New(KindPersistenceUnavailable, trace, "", cause)
}

// Trace appends an operation name to err's trace, wrapping foreign errors as KindUnknown.
func Trace(trace string, err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		ae.trace = append(ae.trace, trace)
		return ae
	}
	return New(KindUnknown, trace, "", err)
}

func (e *Error) Kind() Kind { return e.kind }

// Message is the plain-language text safe to show to users.
func (e *Error) Message() string {
	if e.message != "" {
		return e.message
	}
	return defaultMessages[e.kind]
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s [%s]: %s", strings.Join(e.trace, "->"), e.kind, e.Message())
	}
	return fmt.Sprintf("%s [%s]: %v", strings.Join(e.trace, "->"), e.kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error by kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.cause == nil && len(t.trace) == 1 && t.trace[0] == "" && t.kind == e.kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound               = &Error{kind: KindNotFound, trace: []string{""}}
	ErrProviderUnavailable    = &Error{kind: KindProviderUnavailable, trace: []string{""}}
	ErrPersistenceUnavailable = &Error{kind: KindPersistenceUnavailable, trace: []string{""}}
	ErrValidation             = &Error{kind: KindValidation, trace: []string{""}}
)

// KindOf reports the kind of err; context deadlines count as provider failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindProviderUnavailable
	}
	return KindUnknown
}

// UserMessage returns the user-facing text for any error.
func UserMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message()
	}
	return defaultMessages[KindOf(err)]
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindProviderUnavailable, KindPersistenceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
