package model

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/getlantern/errors"
)

const (
	ErrCodeUnknownError   = 1
	ErrCodeMarshalError   = 2
	ErrCodeUnmarshalError = 3
)

var (
	ErrInvalidConversationId = &Error{
		Code:        100,
		Description: "conversation id must be a positive integer",
	}

	ErrEmptyKeyMaterial = &Error{
		Code:        101,
		Description: "empty key material",
	}

	ErrMalformedWelcome = &Error{
		Code:        102,
		Description: "malformed welcome",
	}

	ErrIdentityNotFound = &Error{
		Code:        110,
		Description: "unknown identity",
	}

	ErrKeyNotFound = &Error{
		Code:        111,
		Description: "unknown or already consumed key",
	}

	ErrStagedWelcomeNotFound = &Error{
		Code:        112,
		Description: "unknown staged welcome",
	}

	ErrDuplicateKeyId = &Error{
		Code:        120,
		Description: "duplicate one-time prekey id",
	}

	ErrAlreadyAccepted = &Error{
		Code:        121,
		Description: "staged welcome already accepted",
	}

	ErrConversationNotInitialized = &Error{
		Code:        130,
		Description: "conversation not yet created",
	}

	ErrStagedWelcomeDiscarded = &Error{
		Code:        131,
		Description: "staged welcome was discarded",
	}

	ErrTimeout = &Error{
		Code:        140,
		Description: "operation timed out",
	}
)

// Error is an expected failure condition, identified to callers by a stable
// code so that, for example, an already-consumed key (111) can be
// distinguished from a transport failure.
type Error struct {
	Code        uint8
	Description string
}

func (err *Error) Error() string {
	return fmt.Sprintf("%d|%s", err.Code, err.Description)
}

// WithError returns a copy of this Error annotated with the underlying cause.
// The code is retained so that callers can still match on it.
func (err *Error) WithError(cause error) *Error {
	return &Error{
		Code:        err.Code,
		Description: fmt.Sprintf("%v: %v", err.Description, cause),
	}
}

// Is matches errors by code, so annotated copies built with WithError still
// compare equal to their sentinel under errors.Is.
func (err *Error) Is(target error) bool {
	typed, ok := target.(*Error)
	return ok && typed.Code == err.Code
}

// TypedError coerces an arbitrary error into an *Error. Context expiry maps
// to ErrTimeout, anything else unrecognized to a code 1 error.
func TypedError(err error) *Error {
	if typed, ok := err.(*Error); ok {
		return typed
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return ErrTimeout.WithError(err)
	}
	return &Error{ErrCodeUnknownError, err.Error()}
}

// WrapExternal wraps a failure from an external engine, store or vault call
// with context for the caller. Context expiry surfaces as ErrTimeout; coded
// errors pass through unchanged.
func WrapExternal(description string, err error) error {
	if typed, ok := err.(*Error); ok {
		return typed
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return ErrTimeout.WithError(err)
	}
	return errors.New(description+": %v", err)
}
