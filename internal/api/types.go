package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practitioner-slot-booking/internal/booking"
	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

type CreateBookingRequest struct {
	PractitionerID string `json:"practitioner_id" validate:"required,uuid"`
	FacilityID     string `json:"facility_id" validate:"required,uuid"`
	ScheduleID     string `json:"schedule_id" validate:"omitempty,uuid"`
	Date           string `json:"date" validate:"required,date"`
	From           string `json:"from" validate:"required,clock"`
	Number         *int   `json:"number" validate:"omitempty,min=0"`
	Channel        string `json:"channel" validate:"required,channel"`
	ContactID      string `json:"contact_id" validate:"omitempty,uuid"`
	Name           string `json:"name" validate:"omitempty,max=200"`
	BirthDate      string `json:"birth_date" validate:"omitempty,date"`
	Phone          string `json:"phone" validate:"omitempty,max=32"`
	HolderID       string `json:"holder_id" validate:"omitempty,max=128"`
	Verified       bool   `json:"verified"`
	ProvisionalID  string `json:"provisional_id" validate:"omitempty,uuid"`
	Actor          string `json:"actor" validate:"required,max=64"`
}

type RescheduleRequest struct {
	ScheduleID string `json:"schedule_id" validate:"omitempty,uuid"`
	Date       string `json:"date" validate:"required,date"`
	From       string `json:"from" validate:"required,clock"`
	Number     *int   `json:"number" validate:"omitempty,min=0"`
	Channel    string `json:"channel" validate:"required,channel"`
	HolderID   string `json:"holder_id" validate:"omitempty,max=128"`
	Actor      string `json:"actor" validate:"required,max=64"`
}

type ActorRequest struct {
	Actor string `json:"actor" validate:"required,max=64"`
}

type CheckInRequest struct {
	AdmissionID string `json:"admission_id" validate:"required,max=64"`
	Actor       string `json:"actor" validate:"required,max=64"`
}

type WorklistRequest struct {
	ScheduleID string   `json:"schedule_id" validate:"omitempty,uuid"`
	FromDate   string   `json:"from_date" validate:"omitempty,date"`
	IDs        []string `json:"ids" validate:"omitempty,dive,uuid"`
	Actor      string   `json:"actor" validate:"required,max=64"`
}

type HoldRequest struct {
	ScheduleID string `json:"schedule_id" validate:"required,uuid"`
	Date       string `json:"date" validate:"required,date"`
	Number     int    `json:"number" validate:"min=0"`
	HolderID   string `json:"holder_id" validate:"required,max=128"`
}

type BookingResponse struct {
	ID             uuid.UUID  `json:"id"`
	Track          string     `json:"track"`
	Status         string     `json:"status"`
	ContactID      uuid.UUID  `json:"contact_id"`
	ContactName    string     `json:"contact_name"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	FacilityID     uuid.UUID  `json:"facility_id"`
	ScheduleID     uuid.UUID  `json:"schedule_id"`
	Date           string     `json:"date"`
	Number         int        `json:"number"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	Channel        string     `json:"channel"`
	ExternalID     *string    `json:"external_id,omitempty"`
	RescheduledTo  *uuid.UUID `json:"rescheduled_to,omitempty"`
	OriginID       *uuid.UUID `json:"origin_id,omitempty"`
	AdmissionID    *string    `json:"admission_id,omitempty"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	ModifiedBy     string     `json:"modified_by"`
	ModifiedAt     time.Time  `json:"modified_at"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:             b.ID,
		Track:          string(b.Track),
		Status:         string(b.Status),
		ContactID:      b.ContactID,
		ContactName:    b.ContactName,
		PractitionerID: b.PractitionerID,
		FacilityID:     b.FacilityID,
		ScheduleID:     b.ScheduleID,
		Date:           b.Date.Format(time.DateOnly),
		Number:         b.Number,
		From:           b.From.String(),
		To:             b.To.String(),
		Channel:        string(b.Channel),
		ExternalID:     b.ExternalID,
		RescheduledTo:  b.RescheduledTo,
		OriginID:       b.OriginID,
		AdmissionID:    b.AdmissionID,
		CreatedBy:      b.CreatedBy,
		CreatedAt:      b.CreatedAt,
		ModifiedBy:     b.ModifiedBy,
		ModifiedAt:     b.ModifiedAt,
	}
}

type SlotResponse struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
	Number     int       `json:"number"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Available  bool      `json:"available"`
	Walkin     bool      `json:"walkin"`
	Blocked    bool      `json:"blocked"`
	Full       bool      `json:"full"`
}

type AvailabilityResponse struct {
	Date    string                `json:"date"`
	OnLeave bool                  `json:"on_leave"`
	Slots   []SlotResponse        `json:"slots"`
	Open    []schedule.OpenStatus `json:"open"`
}

func toAvailabilityResponse(d *booking.DayAvailability) AvailabilityResponse {
	resp := AvailabilityResponse{
		Date:    d.Date.Format(time.DateOnly),
		OnLeave: d.OnLeave,
		Slots:   make([]SlotResponse, 0, len(d.Slots)),
		Open:    d.Open,
	}
	if resp.Open == nil {
		resp.Open = []schedule.OpenStatus{}
	}
	for _, s := range d.Slots {
		resp.Slots = append(resp.Slots, SlotResponse{
			ScheduleID: s.ScheduleID,
			Number:     s.Number,
			From:       s.From.String(),
			To:         s.To.String(),
			Available:  s.Available,
			Walkin:     s.Walkin,
			Blocked:    s.Blocked,
			Full:       s.Full,
		})
	}
	return resp
}

type HoldResponse struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
	Date       string    `json:"date"`
	Number     int       `json:"number"`
	HolderID   string    `json:"holder_id"`
}

type EventResponse struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func toEventResponse(ev booking.EventLog) EventResponse {
	return EventResponse{
		ID:        ev.ID,
		Type:      ev.EventType,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt,
	}
}

type BacklogResponse struct {
	FacilityID uuid.UUID `json:"facility_id"`
	Count      int       `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
