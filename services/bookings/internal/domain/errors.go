package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrSheetNotFound   = errors.New("payment sheet not found")
	ErrScanNotFound    = errors.New("scan session not found")
)

var (
	ErrNoRoomSelected    = errors.New("please select a room")
	ErrInvalidTransition = errors.New("booking status does not allow this change")
	ErrAlreadyPaid       = errors.New("booking is already paid")
	ErrPriceUnavailable  = errors.New("price could not be computed for this room")
)

var (
	ErrUnauthenticated = errors.New("sign in required")
	ErrForbidden       = errors.New("not allowed")
)

var ErrValidation = errors.New("validation error")

// FieldError is a validation failure tied to one input field. It matches
// ErrValidation under errors.Is.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Is(target error) bool {
	return target == ErrValidation
}

func NewFieldError(field, message string) *FieldError {
	return &FieldError{Field: field, Message: message}
}
