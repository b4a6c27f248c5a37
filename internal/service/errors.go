package service

import (
	"errors"
	"fmt"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

var (
	ErrNotFound           = storage.ErrNotFound
	ErrForbidden          = errors.New("forbidden")
	ErrEditWindowExpired  = errors.New("edit window expired")
	ErrAlreadyDeleted     = errors.New("message already deleted")
	ErrNotDeleted         = errors.New("message not deleted")
	ErrPinCapacityReached = errors.New("pin capacity reached")
	ErrInvalidDuration    = errors.New("invalid pin duration")
	ErrInvalidInput       = errors.New("invalid input")
)

// PinCapacityError is returned by RequestPin when the conversation is full.
// Pins are the active pins, oldest first, so the caller can pick a replacement.
type PinCapacityError struct {
	Pins []model.Pin
}

func (e *PinCapacityError) Error() string {
	return fmt.Sprintf("pin capacity reached (%d active)", len(e.Pins))
}

func (e *PinCapacityError) Unwrap() error { return ErrPinCapacityReached }

// Kind names the error class for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrEditWindowExpired):
		return "edit_window_expired"
	case errors.Is(err, ErrAlreadyDeleted):
		return "already_deleted"
	case errors.Is(err, ErrNotDeleted):
		return "not_deleted"
	case errors.Is(err, ErrPinCapacityReached):
		return "pin_capacity_reached"
	case errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "internal"
}
