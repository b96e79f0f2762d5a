// Package errs defines the service-wide error taxonomy. Collaborator
// errors are re-mapped to it at each component boundary; raw causes are
// kept only for logging and never rendered to callers.
package errs

import "fmt"

type Kind string

const (
	Validation   Kind = "validation"
	NotEligible  Kind = "not_eligible"
	Conflict     Kind = "conflict"
	Unauthorized Kind = "unauthorized"
	Forbidden    Kind = "forbidden"
	RateLimited  Kind = "rate_limited"
	Unavailable  Kind = "unavailable"
	Internal     Kind = "internal"
)

// Stable machine-readable codes carried alongside the kind.
const (
	CodeRecordNotFound     = "record_not_found"
	CodeAlreadyActivated   = "already_activated"
	CodeEmailMismatch      = "email_mismatch"
	CodeAccountExists      = "account_exists"
	CodeWeakPassword       = "weak_password"
	CodeInvalidToken       = "invalid_token"
	CodeTokenExpired       = "token_expired"
	CodeBadSignature       = "invalid_signature"
	CodeMalformedToken     = "malformed_token"
	CodeInvalidLink        = "invalid_link"
	CodeLinkExpired        = "link_expired"
	CodeLinkUsed           = "link_used"
	CodeInvalidCode        = "invalid_code"
	CodeCodeExpired        = "code_expired"
	CodeTooManyAttempts    = "too_many_attempts"
	CodeDependencyFailed   = "dependency_unavailable"
	CodeValidationFailed   = "validation_failed"
	CodeRecordNotActivated = "record_not_activated"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.cause)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a collaborator cause for internal logs while exposing
// only kind/code/message to the caller.
func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: err}
}

func Dependency(err error) *Error {
	return Wrap(err, Unavailable, CodeDependencyFailed, "dependency unavailable")
}

// KindOf classifies any error; non-taxonomy errors count as Internal.
func KindOf(err error) Kind {
	if e, ok := asError(err); ok {
		return e.Kind
	}
	return Internal
}

func CodeOf(err error) string {
	if e, ok := asError(err); ok {
		return e.Code
	}
	return "internal_error"
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func asError(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
