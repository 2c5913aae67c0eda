package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Gateway is the external record-of-truth. Any error is a failed call;
// there are no retries.
type Gateway interface {
	CreateBooking(ctx context.Context, b Booking) (externalID string, err error)
	CancelBooking(ctx context.Context, externalID string) error
}

const (
	EventBookingCreated     = "booking.created"
	EventBookingCancelled   = "booking.cancelled"
	EventBookingRescheduled = "booking.rescheduled"
	EventBookingWorklisted  = "booking.worklisted"
	EventProvisionalCount   = "provisional.count"
	EventWorklistCount      = "worklist.count"
)

type Event struct {
	Type       string         `json:"type"`
	BookingID  *uuid.UUID     `json:"booking_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publisher delivers lifecycle events to dashboards. Delivery is best
// effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type ContactQuery struct {
	ContactID  uuid.UUID
	Name       string
	BirthDate  time.Time
	Phone      string
	FacilityID uuid.UUID
	Channel    Channel
}

type Contact struct {
	ID        uuid.UUID
	Name      string
	BirthDate time.Time
	Phone     string
	// Enrolled contacts already have a record at the facility and book
	// straight onto the confirmed track.
	Enrolled bool
}

type ContactResolver interface {
	Resolve(ctx context.Context, q ContactQuery) (*Contact, error)
}
