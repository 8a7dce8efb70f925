package engine

import (
	"errors"
	"fmt"

	"flowboard/internal/engine/auth"
)

// InvalidStateError rejects an operation the entity's current state does not allow.
type InvalidStateError struct {
	Msg string
}

func (e InvalidStateError) Error() string { return e.Msg }

// ConflictError reports a uniqueness clash such as a taken project key or email.
type ConflictError struct {
	Msg string
}

func (e ConflictError) Error() string { return e.Msg }

// ValidationError reports a bad input field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// ErrInvalidCredentials is returned by Login for an unknown email or wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

func invalidState(format string, args ...any) error {
	return InvalidStateError{Msg: fmt.Sprintf(format, args...)}
}

func invalidField(field, format string, args ...any) error {
	return ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func inactiveError() error {
	return auth.ForbiddenError{Msg: "account is inactive"}
}

// TooLargeError rejects an upload above the configured size limit.
type TooLargeError struct {
	Limit int64
}

func (e TooLargeError) Error() string {
	return fmt.Sprintf("file exceeds the %d byte limit", e.Limit)
}
