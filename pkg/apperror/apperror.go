// Package apperror defines the error taxonomy surfaced by the signing core.
// Every error carries a stable code, a human-readable message and structured
// details so callers at the transport boundary can map it without parsing
// strings.
package apperror

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for propagation and retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindIntegrityViolation
	KindConsentRequired
	KindAlreadyUsed
	KindExpired
	KindSigningUnavailable
	KindInvalidKey
	KindInvalidAlgorithm
	KindValidation
	KindForbidden
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindIntegrityViolation:
		return "integrity_violation"
	case KindConsentRequired:
		return "consent_required"
	case KindAlreadyUsed:
		return "already_used"
	case KindExpired:
		return "expired"
	case KindSigningUnavailable:
		return "signing_unavailable"
	case KindInvalidKey:
		return "invalid_key"
	case KindInvalidAlgorithm:
		return "invalid_algorithm"
	case KindValidation:
		return "validation_error"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by domain services.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	cause   error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrIntegrityViolation = &Error{Kind: KindIntegrityViolation}
	ErrConsentRequired    = &Error{Kind: KindConsentRequired}
	ErrAlreadyUsed        = &Error{Kind: KindAlreadyUsed}
	ErrExpired            = &Error{Kind: KindExpired}
	ErrSigningUnavailable = &Error{Kind: KindSigningUnavailable}
	ErrInvalidKey         = &Error{Kind: KindInvalidKey}
	ErrInvalidAlgorithm   = &Error{Kind: KindInvalidAlgorithm}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
)

func New(kind Kind, code, message string) *Error {
	code = strings.TrimSpace(code)
	if code == "" {
		code = kind.String()
	}
	return &Error{Kind: kind, Code: code, Message: message}
}

func NotFound(code, message string) *Error { return New(KindNotFound, code, message) }

func Conflict(code, message string) *Error { return New(KindConflict, code, message) }

func IntegrityViolation(code, message string) *Error {
	return New(KindIntegrityViolation, code, message)
}

func ConsentRequired(code, message string) *Error { return New(KindConsentRequired, code, message) }

func AlreadyUsed(code, message string) *Error { return New(KindAlreadyUsed, code, message) }

func Expired(code, message string) *Error { return New(KindExpired, code, message) }

func SigningUnavailable(code, message string) *Error {
	return New(KindSigningUnavailable, code, message)
}

func InvalidKey(code, message string) *Error { return New(KindInvalidKey, code, message) }

func InvalidAlgorithm(code, message string) *Error { return New(KindInvalidAlgorithm, code, message) }

func Validation(code, message string) *Error { return New(KindValidation, code, message) }

func Forbidden(code, message string) *Error { return New(KindForbidden, code, message) }

func RateLimited(code, message string) *Error { return New(KindRateLimited, code, message) }

// With returns a copy of the error carrying an additional detail.
func (e *Error) With(key string, value any) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

// Wrap returns a copy of the error that unwraps to cause.
func (e *Error) Wrap(cause error) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.cause = cause
	return &clone
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same kind. A target with a code only matches
// errors carrying that exact code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Retryable reports whether the caller may retry the same request later.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindSigningUnavailable || e.Kind == KindRateLimited
}

// KindOf extracts the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// As is a convenience wrapper around errors.As.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable()
}
