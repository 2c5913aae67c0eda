package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

type Track string

const (
	TrackConfirmed   Track = "CONFIRMED"
	TrackProvisional Track = "PROVISIONAL"
)

type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusCancelled   Status = "CANCELLED"
	StatusRescheduled Status = "RESCHEDULED"
)

// CanTransition reports whether a record may move from s to next. The
// extra RESCHEDULED step (worklist entry gaining its replacement) is
// handled by Repository.Replace.
func (s Status) CanTransition(next Status) bool {
	return s == StatusActive && (next == StatusCancelled || next == StatusRescheduled)
}

type Channel string

const (
	ChannelFrontOffice Channel = "FO"
	ChannelCallCenter  Channel = "CC"
	ChannelMobile      Channel = "MOBILE"
	ChannelWebsite     Channel = "WEBSITE"
	ChannelChatbot     Channel = "CHATBOT"
	// ChannelAsyncIntake is the asynchronous intake queue. It is external
	// but may book into blocked windows.
	ChannelAsyncIntake Channel = "AIDO"
)

// Internal channels are operated by staff.
func (c Channel) Internal() bool {
	return c == ChannelFrontOffice || c == ChannelCallCenter
}

func (c Channel) Valid() bool {
	switch c {
	case ChannelFrontOffice, ChannelCallCenter, ChannelMobile, ChannelWebsite, ChannelChatbot, ChannelAsyncIntake:
		return true
	}
	return false
}

// Booking is a confirmed or provisional appointment. Records are never
// deleted; cancel and reschedule only change Status.
type Booking struct {
	ID             uuid.UUID
	Track          Track
	ContactID      uuid.UUID
	ContactName    string
	BirthDate      *time.Time
	Phone          string
	PractitionerID uuid.UUID
	FacilityID     uuid.UUID
	ScheduleID     uuid.UUID
	Date           time.Time
	Number         int
	From           schedule.Clock
	To             schedule.Clock
	Status         Status
	ExternalID     *string
	RescheduledTo  *uuid.UUID
	OriginID       *uuid.UUID
	AdmissionID    *string
	Channel        Channel
	CreatedBy      string
	CreatedAt      time.Time
	ModifiedBy     string
	ModifiedAt     time.Time
}

func (b Booking) CheckedIn() bool {
	return b.AdmissionID != nil
}

// OnWorklist is true for records moved off their schedule and still
// waiting for a replacement.
func (b Booking) OnWorklist() bool {
	return b.Status == StatusRescheduled && b.RescheduledTo == nil
}

// Signature identifies the person behind a provisional booking. Contact
// based when ContactID is set, otherwise name, birth date and phone.
type Signature struct {
	ContactID uuid.UUID
	Name      string
	BirthDate time.Time
	Phone     string
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
