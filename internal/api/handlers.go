package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-slot-booking/internal/booking"
	redisclient "github.com/hackgods/practitioner-slot-booking/internal/redis"
	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

type BookingService interface {
	Get(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	List(ctx context.Context, f booking.ListFilter) ([]booking.Booking, error)
	History(ctx context.Context, id uuid.UUID) ([]booking.EventLog, error)
	Book(ctx context.Context, req booking.Request) (*booking.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID, actor string) (*booking.Booking, error)
	Reschedule(ctx context.Context, id uuid.UUID, in booking.RescheduleRequest) (*booking.Booking, error)
	Promote(ctx context.Context, id uuid.UUID, actor string) (*booking.Booking, error)
	CheckIn(ctx context.Context, id uuid.UUID, admissionID, actor string) (*booking.Booking, error)
	MoveToWorklist(ctx context.Context, in booking.WorklistRequest) (*booking.WorklistResult, error)
	Worklist(ctx context.Context, facilityID uuid.UUID, from, to time.Time) ([]booking.Booking, error)
	Feasibility(ctx context.Context, id uuid.UUID) (*booking.Feasibility, error)
	Backlog(ctx context.Context, facilityID uuid.UUID) (int, error)
	Slots(ctx context.Context, q booking.SlotQuery) (*booking.DayAvailability, error)
}

type HoldStore interface {
	Acquire(ctx context.Context, scheduleID uuid.UUID, date time.Time, number int, holderID string) error
	HeldNumbers(ctx context.Context, scheduleID uuid.UUID, date time.Time) (map[int]string, error)
}

type handler struct {
	svc     BookingService
	holds   HoldStore
	metrics *Metrics
	loc     *time.Location
	now     func() time.Time
	log     *zap.Logger
}

func bookingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// queryID parses a UUID query parameter. Missing optional ids are
// uuid.Nil.
func queryID(w http.ResponseWriter, r *http.Request, name string, required bool) (uuid.UUID, bool) {
	v := r.URL.Query().Get(name)
	if v == "" && !required {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func writeBookings(w http.ResponseWriter, list []booking.Booking) {
	resp := make([]BookingResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toBookingResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) createBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if !decode(w, r, &req) {
		return
	}

	b, err := h.svc.Book(r.Context(), booking.Request{
		PractitionerID: parseUUID(req.PractitionerID),
		FacilityID:     parseUUID(req.FacilityID),
		ScheduleID:     parseUUID(req.ScheduleID),
		Date:           mustDate(req.Date),
		From:           mustClock(req.From),
		Number:         req.Number,
		Channel:        booking.Channel(req.Channel),
		ContactID:      parseUUID(req.ContactID),
		Name:           req.Name,
		BirthDate:      mustDate(req.BirthDate),
		Phone:          req.Phone,
		HolderID:       req.HolderID,
		Verified:       req.Verified,
		ProvisionalID:  parseUUID(req.ProvisionalID),
		Actor:          req.Actor,
	})
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *handler) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *handler) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	var req ActorRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.svc.Cancel(r.Context(), id, req.Actor)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *handler) rescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	var req RescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.svc.Reschedule(r.Context(), id, booking.RescheduleRequest{
		ScheduleID: parseUUID(req.ScheduleID),
		Date:       mustDate(req.Date),
		From:       mustClock(req.From),
		Number:     req.Number,
		Channel:    booking.Channel(req.Channel),
		HolderID:   req.HolderID,
		Actor:      req.Actor,
	})
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *handler) promoteBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	var req ActorRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.svc.Promote(r.Context(), id, req.Actor)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *handler) checkInBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	var req CheckInRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.svc.CheckIn(r.Context(), id, req.AdmissionID, req.Actor)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *handler) listBookings(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := queryID(w, r, "practitioner_id", true)
	if !ok {
		return
	}
	facilityID, ok := queryID(w, r, "facility_id", true)
	if !ok {
		return
	}
	date, err := schedule.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	status := booking.Status(r.URL.Query().Get("status"))
	switch status {
	case "", booking.StatusActive, booking.StatusCancelled, booking.StatusRescheduled:
	default:
		writeError(w, http.StatusBadRequest, "invalid_status", "unknown status")
		return
	}

	list, err := h.svc.List(r.Context(), booking.ListFilter{
		PractitionerID: practitionerID,
		FacilityID:     facilityID,
		Date:           date,
		Status:         status,
	})
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	writeBookings(w, list)
}

func (h *handler) bookingHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	events, err := h.svc.History(r.Context(), id)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	resp := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, toEventResponse(ev))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) moveToWorklist(w http.ResponseWriter, r *http.Request) {
	var req WorklistRequest
	if !decode(w, r, &req) {
		return
	}
	in := booking.WorklistRequest{
		ScheduleID: parseUUID(req.ScheduleID),
		FromDate:   mustDate(req.FromDate),
		Actor:      req.Actor,
	}
	for _, id := range req.IDs {
		in.IDs = append(in.IDs, parseUUID(id))
	}

	res, err := h.svc.MoveToWorklist(r.Context(), in)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// listWorklist defaults to the week starting today.
func (h *handler) listWorklist(w http.ResponseWriter, r *http.Request) {
	from := schedule.DateOf(h.now(), h.loc)
	to := from.AddDate(0, 0, 7)
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = schedule.ParseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", err.Error())
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = schedule.ParseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", err.Error())
			return
		}
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "invalid_range", "to must not be before from")
		return
	}

	facilityID, ok := queryID(w, r, "facility_id", false)
	if !ok {
		return
	}

	list, err := h.svc.Worklist(r.Context(), facilityID, from, to)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	writeBookings(w, list)
}

func (h *handler) worklistBacklog(w http.ResponseWriter, r *http.Request) {
	facilityID, ok := queryID(w, r, "facility_id", true)
	if !ok {
		return
	}
	n, err := h.svc.Backlog(r.Context(), facilityID)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BacklogResponse{FacilityID: facilityID, Count: n})
}

func (h *handler) worklistFeasibility(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	f, err := h.svc.Feasibility(r.Context(), id)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *handler) listSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	practitionerID, err := uuid.Parse(q.Get("practitioner_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
		return
	}
	facilityID, err := uuid.Parse(q.Get("facility_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_facility_id", "facility_id must be a valid UUID")
		return
	}
	date, err := schedule.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	// Walk-in slots and the lead time depend on who is asking, so the
	// caller must say.
	query := booking.SlotQuery{
		PractitionerID: practitionerID,
		FacilityID:     facilityID,
		Date:           date,
		Channel:        booking.Channel(q.Get("channel")),
		AvailableOnly:  q.Get("available") == "true",
	}
	if !query.Channel.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_channel", "channel is required and must be a known channel")
		return
	}
	if v := q.Get("schedule_id"); v != "" {
		if query.ScheduleID, err = uuid.Parse(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_schedule_id", "schedule_id must be a valid UUID")
			return
		}
	}

	day, err := h.svc.Slots(r.Context(), query)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityResponse(day))
}

func (h *handler) createHold(w http.ResponseWriter, r *http.Request) {
	var req HoldRequest
	if !decode(w, r, &req) {
		return
	}
	scheduleID := parseUUID(req.ScheduleID)
	date := mustDate(req.Date)

	err := h.holds.Acquire(r.Context(), scheduleID, date, req.Number, req.HolderID)
	switch {
	case errors.Is(err, redisclient.ErrHoldTaken):
		h.metrics.observeOutcome(booking.ErrSlotHeld.Code)
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   string(booking.KindConflict),
			Code:    booking.ErrSlotHeld.Code,
			Details: err.Error(),
		})
		return
	case errors.Is(err, redisclient.ErrNoHolderID):
		writeError(w, http.StatusBadRequest, "invalid_holder_id", err.Error())
		return
	case err != nil:
		h.log.Error("failed to place hold", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "hold_unavailable", "holds are temporarily unavailable")
		return
	}

	writeJSON(w, http.StatusCreated, HoldResponse{
		ScheduleID: scheduleID,
		Date:       req.Date,
		Number:     req.Number,
		HolderID:   req.HolderID,
	})
}

func (h *handler) listHolds(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := uuid.Parse(r.URL.Query().Get("schedule_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_schedule_id", "schedule_id must be a valid UUID")
		return
	}
	date, err := schedule.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	held, err := h.holds.HeldNumbers(r.Context(), scheduleID, date)
	if err != nil {
		h.log.Error("failed to list holds", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "hold_unavailable", "holds are temporarily unavailable")
		return
	}

	resp := make([]HoldResponse, 0, len(held))
	for n, holder := range held {
		resp = append(resp, HoldResponse{
			ScheduleID: scheduleID,
			Date:       date.Format(time.DateOnly),
			Number:     n,
			HolderID:   holder,
		})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].Number < resp[j].Number })
	writeJSON(w, http.StatusOK, resp)
}
