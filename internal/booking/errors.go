package booking

import (
	"errors"
	"fmt"
)

// Kind groups error codes for callers that only care about the category,
// such as the HTTP layer picking a status code.
type Kind string

const (
	KindInvalidRequest       Kind = "invalid_request"
	KindConfiguration        Kind = "configuration"
	KindAvailability         Kind = "availability"
	KindDuplicate            Kind = "duplicate_booking"
	KindNumberUnavailable    Kind = "number_unavailable"
	KindCheckedIn            Kind = "checked_in_conflict"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindExternalSync         Kind = "external_sync"
	KindRescheduleIncomplete Kind = "reschedule_incomplete"
	KindIdentity             Kind = "identity_resolution"
)

// Error is a booking failure with a stable application code. Two Errors
// match under errors.Is when their codes are equal, so wrapped variants
// with extra context still compare equal to the package sentinels.
type Error struct {
	Kind    Kind
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidRequest          = &Error{KindInvalidRequest, 478, "invalid booking request"}
	ErrNumberRequired          = &Error{KindInvalidRequest, 479, "appointment number is required for this channel"}
	ErrNumberNotAllowed        = &Error{KindInvalidRequest, 480, "appointment number cannot be chosen on this channel"}
	ErrPractitionerUnavailable = &Error{KindConfiguration, 481, "practitioner unavailable"}
	ErrScheduleNotFound        = &Error{KindNotFound, 482, "schedule not found"}
	ErrDuplicateBooking        = &Error{KindDuplicate, 483, "contact already has an appointment with this practitioner on this date"}
	ErrContactRequired         = &Error{KindInvalidRequest, 484, "contact is required"}
	ErrLeadTime                = &Error{KindAvailability, 485, "appointment time is too close to now"}
	ErrTimeInvalid             = &Error{KindAvailability, 486, "requested time is outside the schedule"}
	ErrNumberUnavailable       = &Error{KindNumberUnavailable, 487, "appointment number is not available"}
	ErrCheckedIn               = &Error{KindCheckedIn, 489, "cannot modify a checked-in appointment"}
	ErrNoteImpactsSchedule     = &Error{KindAvailability, 490, "practitioner schedule is affected on this date"}
	ErrBookingNotFound         = &Error{KindNotFound, 491, "booking not found"}
	ErrScheduleBlocked         = &Error{KindAvailability, 492, "practitioner is unavailable at that time"}
	ErrSlotNotFound            = &Error{KindNotFound, 493, "no slot starts at the requested time"}
	ErrDuplicateProvisional    = &Error{KindDuplicate, 494, "a provisional appointment already exists for this person"}
	ErrSlotHeld                = &Error{KindConflict, 495, "slot is held by another client"}
	ErrExternalSync            = &Error{KindExternalSync, 496, "external system call failed"}
	ErrRescheduleIncomplete    = &Error{KindRescheduleIncomplete, 497, "reschedule failed after cancellation"}
	ErrInvalidTransition       = &Error{KindConflict, 498, "invalid status transition"}
	ErrIdentity                = &Error{KindIdentity, 499, "contact could not be resolved"}
)

// RescheduleError reports a reschedule whose external cancellation went
// through but whose replacement could not be created. Original is the
// prior booking, now CANCELLED.
type RescheduleError struct {
	Original *Booking
	Cause    error
}

func (e *RescheduleError) Error() string {
	return fmt.Sprintf("%s: booking %s cancelled, replacement not created: %v",
		ErrRescheduleIncomplete.Message, e.Original.ID, e.Cause)
}

func (e *RescheduleError) Unwrap() []error {
	return []error{ErrRescheduleIncomplete, e.Cause}
}

// KindOf returns the kind of the outermost booking error in err's chain,
// or "" for errors that carry none (treated as internal failures).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsHighSeverity marks failures that need operational attention rather
// than a user correction.
func IsHighSeverity(err error) bool {
	switch KindOf(err) {
	case KindExternalSync, KindRescheduleIncomplete, KindIdentity:
		return true
	}
	return false
}
