package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/vedran77/pulsecore/pkg/validator"
)

// Error categories. Every error returned by a service unwraps to one of these.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
)

// Error is a specific failure belonging to a category.
type Error struct {
	kind error
	msg  string
}

func newError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.kind }

var (
	ErrChannelNotFound     = newError(ErrNotFound, "channel not found")
	ErrMessageNotFound     = newError(ErrNotFound, "message not found")
	ErrProfileNotFound     = newError(ErrNotFound, "profile not found")
	ErrParentNotFound      = newError(ErrNotFound, "parent message not found in this channel")
	ErrNestedReply         = newError(ErrInvalidInput, "replies can only be added to top-level messages")
	ErrInvalidCursor       = newError(ErrInvalidInput, "invalid cursor")
	ErrTooManyMessageIDs   = newError(ErrInvalidInput, "too many message ids")
	ErrChannelNameTaken    = newError(ErrConflict, "channel name already exists")
	ErrThreadHasReplies    = newError(ErrConflict, "message has replies and cannot be deleted")
	ErrDeleteWindowExpired = newError(ErrUnauthorized, "delete window expired")
	ErrStorageDisabled     = newError(ErrUnavailable, "attachment storage is not configured")
)

// ValidationError carries per-field messages and is an ErrInvalidInput.
type ValidationError struct {
	Fields validator.ValidationErrors
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Fields.Error() }
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(errs validator.ValidationErrors) error {
	if !errs.HasErrors() {
		return nil
	}
	return &ValidationError{Fields: errs}
}

// DeleteWindowError reports when the author's delete window closed.
type DeleteWindowError struct {
	ExpiredAt time.Time
	Now       time.Time
}

func (e *DeleteWindowError) Error() string {
	ago := e.Now.Sub(e.ExpiredAt).Round(time.Second)
	return fmt.Sprintf("messages can only be deleted within the delete window; it closed %s ago", ago)
}

func (e *DeleteWindowError) Unwrap() error { return ErrDeleteWindowExpired }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func denied(action Action) error {
	return fmt.Errorf("%s: %w", action, ErrUnauthorized)
}
