package api

import (
	"errors"
	"fmt"
)

var (
	ErrNoCredential = errors.New("no access token available")
)

// Error is a server-side rejection: the backend answered with a non-2xx
// status and (usually) a message in the response envelope.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return e.Message
}

func NewError(status int, message string) error {
	return &Error{Status: status, Message: message}
}

func IsServerError(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr)
}

// ValidationError wraps a 4xx rejection whose message is meant to be shown
// to the end user verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func NewValidationError(msg string) error {
	return &ValidationError{Msg: msg}
}

func IsValidationError(err error) bool {
	var validationError *ValidationError
	ok := errors.As(err, &validationError)
	return ok
}
