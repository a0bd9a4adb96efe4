package domain

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeStorageUnavailable indicates a local read or write failed.
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// CodeCorruptRecord indicates a persisted record could not be decoded.
	CodeCorruptRecord Code = "CORRUPT_RECORD"

	// CodeProjectionFailed indicates the source entity committed but its
	// announcement projection did not.
	CodeProjectionFailed Code = "PROJECTION_FAILED"

	// CodeNotMember indicates a group write by a user who has not joined.
	CodeNotMember Code = "NOT_MEMBER"

	// CodeJoinFailed indicates the remote store rejected or timed out a join.
	CodeJoinFailed Code = "JOIN_FAILED"

	// CodePostFailed indicates the remote store rejected or timed out a
	// message or comment write.
	CodePostFailed Code = "POST_FAILED"

	// CodeSubscriptionError indicates a live query failed.
	CodeSubscriptionError Code = "SUBSCRIPTION_ERROR"

	// CodeInvalidCommand indicates a Command failed validation.
	CodeInvalidCommand Code = "INVALID_COMMAND"

	// CodeNotFound indicates the addressed entity does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeUnauthenticated indicates a write without an author id.
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// CodeInternal indicates a bug: a Command panicked.
	CodeInternal Code = "INTERNAL"
)

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrStorageUnavailable = &Error{Code: CodeStorageUnavailable}
	ErrCorruptRecord      = &Error{Code: CodeCorruptRecord}
	ErrProjectionFailed   = &Error{Code: CodeProjectionFailed}
	ErrNotMember          = &Error{Code: CodeNotMember}
	ErrJoinFailed         = &Error{Code: CodeJoinFailed}
	ErrPostFailed         = &Error{Code: CodePostFailed}
	ErrSubscription       = &Error{Code: CodeSubscriptionError}
	ErrInvalidCommand     = &Error{Code: CodeInvalidCommand}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrUnauthenticated    = &Error{Code: CodeUnauthenticated}
	ErrInternal           = &Error{Code: CodeInternal}
)

// Error is the typed error returned across the Command boundary.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the operation that failed (e.g. "put", "post").
	Op string

	// Kind is the affected local collection, if any.
	Kind Kind

	// ID identifies the affected entity (entity id, group id, ...).
	ID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	switch {
	case e.Kind != "" && e.ID != "":
		msg += fmt.Sprintf(" (%s/%s)", e.Kind, e.ID)
	case e.Kind != "":
		msg += fmt.Sprintf(" (%s)", e.Kind)
	case e.ID != "":
		msg += fmt.Sprintf(" (%s)", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the failure may succeed if the same Command
// is issued again. NotMember is never retryable: the caller must join first.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeStorageUnavailable, CodeProjectionFailed, CodeJoinFailed, CodePostFailed, CodeSubscriptionError:
		return true
	}
	return false
}

// StorageError wraps a local storage failure.
func StorageError(op string, kind Kind, err error) *Error {
	return &Error{Code: CodeStorageUnavailable, Op: op, Kind: kind, Err: err}
}
