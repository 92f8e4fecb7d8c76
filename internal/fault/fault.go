// Package fault defines the error kinds surfaced to clients.
//
// Every error that crosses the protocol boundary is reduced to a Kind and a
// human readable message. Kinds are stable wire strings.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for programmatic handling by clients.
type Kind string

const (
	KindParse         Kind = "parse"          // malformed command text
	KindExecution     Kind = "execution"      // command resolved but failed
	KindNotFound      Kind = "not_found"      // address or account absent
	KindUnauthorized  Kind = "unauthorized"   // identity-gated command without login
	KindEmptyRegistry Kind = "empty_registry" // random pick on an empty set
	KindStorage       Kind = "storage"        // durable store failure
	KindProtocol      Kind = "protocol"       // unregistered or malformed packet
	KindExhausted     Kind = "exhausted"      // address space has no free slot
	KindRateLimited   Kind = "rate_limited"
)

// Error carries a Kind alongside a message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Kind, so sentinel kinds work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Message == "" && other.Cause == nil && other.Kind == e.Kind
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks. They carry no message.
var (
	ErrParse         = &Error{Kind: KindParse}
	ErrExecution     = &Error{Kind: KindExecution}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrUnauthorized  = &Error{Kind: KindUnauthorized}
	ErrEmptyRegistry = &Error{Kind: KindEmptyRegistry}
	ErrStorage       = &Error{Kind: KindStorage}
	ErrProtocol      = &Error{Kind: KindProtocol}
	ErrExhausted     = &Error{Kind: KindExhausted}
	ErrRateLimited   = &Error{Kind: KindRateLimited}
)

// KindOf extracts the Kind of err. Errors without a Kind are execution failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindExecution
}

// MessageOf returns the client facing message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Message == "" && fe.Cause != nil {
			return fe.Cause.Error()
		}
		if fe.Message == "" {
			return string(fe.Kind)
		}
		return fe.Message
	}
	return err.Error()
}
