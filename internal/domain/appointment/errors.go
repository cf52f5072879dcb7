package appointment

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so transports can map it to a status.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindUnauthorized
	KindInvalidArgument
	KindStorage
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindStorage:
		return "storage_error"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Sentinels identify each failure path. Every one carries its own message.
var (
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrDoctorMismatch        = errors.New("doctor is not assigned to this appointment")
	ErrPatientMismatch       = errors.New("patient does not own this appointment")
	ErrIndexOutOfRange       = errors.New("entry index out of range")
	ErrEmptyEntry            = errors.New("prescription entry needs text or at least one attachment")
	ErrAppointmentCancelled  = errors.New("appointment is cancelled")
	ErrAppointmentCompleted  = errors.New("appointment is already completed")
	ErrNoPrescription        = errors.New("appointment has no prescription entries")
	ErrVersionConflict       = errors.New("appointment was modified concurrently")
	ErrInvalidSlot           = errors.New("invalid appointment slot")
	ErrInvalidAmount         = errors.New("amount must not be negative")
	ErrMissingParticipant    = errors.New("doctor and patient are required")
	ErrDoctorNotFound        = errors.New("doctor not found")
	ErrDoctorUnavailable     = errors.New("doctor not available")
	ErrDoctorLookup          = errors.New("failed to load doctor")
	ErrAttachmentStore       = errors.New("failed to store attachment")
	ErrEmptyAttachment       = errors.New("attachment is empty")
	ErrAttachmentTooLarge    = errors.New("attachment exceeds the size limit")
	ErrUnsupportedAttachment = errors.New("attachment type is not supported")
	ErrLockUnavailable       = errors.New("failed to acquire appointment lock")
	ErrPersist               = errors.New("failed to save appointment")
	ErrLoad                  = errors.New("failed to load appointment")
)

// Error is returned by every Service operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, sentinel error) *Error {
	return &Error{Kind: kind, Message: sentinel.Error(), Err: sentinel}
}

// wrapError keeps the sentinel reachable through errors.Is while recording the cause.
func wrapError(kind Kind, sentinel, cause error) *Error {
	if cause == nil {
		return newError(kind, sentinel)
	}
	return &Error{Kind: kind, Message: sentinel.Error(), Err: fmt.Errorf("%w: %w", sentinel, cause)}
}

func indexError(raw string, count int) *Error {
	return &Error{
		Kind:    KindInvalidArgument,
		Message: fmt.Sprintf("invalid entry index %q: appointment has %d entries", raw, count),
		Err:     ErrIndexOutOfRange,
	}
}

// KindOf reports the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// MessageOf returns the user facing message of err without internal causes.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
