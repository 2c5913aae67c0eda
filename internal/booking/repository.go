package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the pipeline and the
// lifecycle manager. Insert and Replace fail with ErrNumberUnavailable when
// another ACTIVE record already holds (schedule, date, number).
type Repository interface {
	Insert(ctx context.Context, b Booking) (*Booking, error)
	Get(ctx context.Context, id uuid.UUID) (*Booking, error)
	List(ctx context.Context, f ListFilter) ([]Booking, error)

	// Occupancy and duplicate checks
	ActiveForScheduleDate(ctx context.Context, scheduleID uuid.UUID, date time.Time) ([]Booking, error)
	FindActiveByContact(ctx context.Context, contactID, practitionerID uuid.UUID, date time.Time, track Track) ([]Booking, error)
	FindActiveProvisional(ctx context.Context, sig Signature, practitionerID uuid.UUID, date time.Time) ([]Booking, error)

	// Transition moves id from one status to another and fails with
	// ErrInvalidTransition if the record is no longer in from.
	Transition(ctx context.Context, id uuid.UUID, from, to Status, actor string) (*Booking, error)
	// Replace marks oldID RESCHEDULED pointing at b and inserts b in one
	// transaction. oldID must be in status from with no replacement yet.
	Replace(ctx context.Context, oldID uuid.UUID, from Status, b Booking) (*Booking, error)
	AttachAdmission(ctx context.Context, id uuid.UUID, admissionID, actor string) (*Booking, error)

	// Worklist
	ListActiveConfirmedForSchedule(ctx context.Context, scheduleID uuid.UUID, fromDate time.Time) ([]Booking, error)
	ListActiveConfirmedByIDs(ctx context.Context, ids []uuid.UUID) ([]Booking, error)
	HasProvisionalCounterpart(ctx context.Context, b Booking) (bool, error)
	// A nil facilityID spans every facility.
	ListWorklist(ctx context.Context, facilityID uuid.UUID, from, to time.Time) ([]Booking, error)
	CountWorklist(ctx context.Context, facilityID uuid.UUID, from, to time.Time) (int, error)

	// Provisional track housekeeping
	CountActiveProvisional(ctx context.Context, facilityID uuid.UUID, date time.Time) (int, error)
	ListExpiredProvisional(ctx context.Context, before time.Time) ([]Booking, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
	EventsFor(ctx context.Context, bookingID uuid.UUID) ([]EventLog, error)
}

// ListFilter selects one practitioner's bookings at a facility on a date,
// both tracks. An empty Status matches every status.
type ListFilter struct {
	PractitionerID uuid.UUID
	FacilityID     uuid.UUID
	Date           time.Time
	Status         Status
}
