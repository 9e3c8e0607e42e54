package conversation

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates domain failures across the engine boundary.
type ErrorKind string

const (
	ErrNotFound            ErrorKind = "NOT_FOUND"
	ErrUnauthorized        ErrorKind = "UNAUTHORIZED"
	ErrInvalidState        ErrorKind = "INVALID_STATE"
	ErrInvalidInput        ErrorKind = "INVALID_INPUT"
	ErrPreconditionFailed  ErrorKind = "PRECONDITION_FAILED"
	ErrExternalUnavailable ErrorKind = "EXTERNAL_UNAVAILABLE"
	ErrSignatureInvalid    ErrorKind = "SIGNATURE_INVALID"
	ErrRateLimited         ErrorKind = "RATE_LIMITED"
)

// DomainError is the discriminated error surfaced by the engine. Subkind
// refines Kind (e.g. "not_your_turn" under UNAUTHORIZED).
type DomainError struct {
	Kind    ErrorKind
	Subkind string
	Message string
}

func (e *DomainError) Error() string {
	if e.Subkind != "" {
		return fmt.Sprintf("%s/%s: %s", e.Kind, e.Subkind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a DomainError with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotYourTurn is the authorization failure for an out-of-turn actor.
func NotYourTurn(actor Role, awaiting Role) *DomainError {
	return &DomainError{
		Kind:    ErrUnauthorized,
		Subkind: "not_your_turn",
		Message: fmt.Sprintf("action by %s rejected; awaiting %s", actor, awaiting),
	}
}

// KindOf extracts the error kind, or "" for non-domain errors.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err is a DomainError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
