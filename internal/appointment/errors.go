package appointment

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation wraps request problems caught before the store is touched.
	ErrValidation = errors.New("invalid request")
	// ErrLookupFailed is returned when the duplicate pre-check could not query the store.
	ErrLookupFailed        = errors.New("duplicate booking lookup failed")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Reason is the machine-readable code of a transaction abort.
type Reason string

const (
	ReasonAlreadyExists       Reason = "ALREADY_EXISTS"
	ReasonUserLimit           Reason = "USER_LIMIT"
	ReasonSlotFull            Reason = "SLOT_FULL"
	ReasonAppointmentMissing  Reason = "APPOINTMENT_MISSING"
	ReasonNewSlotFull         Reason = "NEW_SLOT_FULL"
	ReasonDuplicateDate       Reason = "DUPLICATE_DATE"
	ReasonDuplicateSlot       Reason = "DUPLICATE_SLOT"
	ReasonAppointmentInactive Reason = "APPOINTMENT_INACTIVE"
	ReasonNotOwner            Reason = "NOT_OWNER"
	ReasonInvalidTransition   Reason = "INVALID_TRANSITION"
)

// AbortError is returned from inside a transaction to roll it back. Two AbortErrors match
// under errors.Is when their reasons match.
type AbortError struct {
	Reason Reason
	Detail string
}

func (e *AbortError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *AbortError) Is(target error) bool {
	t, ok := target.(*AbortError)
	return ok && t.Reason == e.Reason
}

var (
	ErrAlreadyExists       = &AbortError{Reason: ReasonAlreadyExists}
	ErrUserLimit           = &AbortError{Reason: ReasonUserLimit}
	ErrSlotFull            = &AbortError{Reason: ReasonSlotFull}
	ErrAppointmentMissing  = &AbortError{Reason: ReasonAppointmentMissing}
	ErrNewSlotFull         = &AbortError{Reason: ReasonNewSlotFull}
	ErrDuplicateDate       = &AbortError{Reason: ReasonDuplicateDate}
	ErrDuplicateSlot       = &AbortError{Reason: ReasonDuplicateSlot}
	ErrAppointmentInactive = &AbortError{Reason: ReasonAppointmentInactive}
	ErrNotOwner            = &AbortError{Reason: ReasonNotOwner}
	ErrInvalidTransition   = &AbortError{Reason: ReasonInvalidTransition}
)

func abort(reason Reason, format string, args ...any) *AbortError {
	return &AbortError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the abort reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var ae *AbortError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return "", false
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
