package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-slot-booking/internal/booking"
	redisclient "github.com/hackgods/practitioner-slot-booking/internal/redis"
	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

type fakeService struct {
	book        func(booking.Request) (*booking.Booking, error)
	reschedule  func(uuid.UUID, booking.RescheduleRequest) (*booking.Booking, error)
	list        func(booking.ListFilter) ([]booking.Booking, error)
	history     func(uuid.UUID) ([]booking.EventLog, error)
	worklist    func(facilityID uuid.UUID, from, to time.Time) ([]booking.Booking, error)
	feasibility func(uuid.UUID) (*booking.Feasibility, error)
	slots       func(booking.SlotQuery) (*booking.DayAvailability, error)
	err         error
}

func (f *fakeService) Get(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	b := sampleBooking()
	b.ID = id
	return b, nil
}

func (f *fakeService) List(_ context.Context, filter booking.ListFilter) ([]booking.Booking, error) {
	return f.list(filter)
}

func (f *fakeService) History(_ context.Context, id uuid.UUID) ([]booking.EventLog, error) {
	return f.history(id)
}

func (f *fakeService) Book(_ context.Context, req booking.Request) (*booking.Booking, error) {
	return f.book(req)
}

func (f *fakeService) Cancel(_ context.Context, id uuid.UUID, actor string) (*booking.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	b := sampleBooking()
	b.ID = id
	b.Status = booking.StatusCancelled
	b.ModifiedBy = actor
	return b, nil
}

func (f *fakeService) Reschedule(_ context.Context, id uuid.UUID, in booking.RescheduleRequest) (*booking.Booking, error) {
	return f.reschedule(id, in)
}

func (f *fakeService) Promote(_ context.Context, id uuid.UUID, _ string) (*booking.Booking, error) {
	return nil, f.err
}

func (f *fakeService) CheckIn(_ context.Context, id uuid.UUID, admissionID, _ string) (*booking.Booking, error) {
	b := sampleBooking()
	b.ID = id
	b.AdmissionID = &admissionID
	return b, nil
}

func (f *fakeService) MoveToWorklist(_ context.Context, in booking.WorklistRequest) (*booking.WorklistResult, error) {
	if in.ScheduleID == uuid.Nil && len(in.IDs) == 0 {
		return nil, booking.ErrInvalidRequest
	}
	res := &booking.WorklistResult{Backlog: map[uuid.UUID]int{}}
	for _, id := range in.IDs {
		res.Items = append(res.Items, booking.WorklistItem{BookingID: id, Outcome: booking.OutcomeMoved})
	}
	return res, nil
}

func (f *fakeService) Worklist(_ context.Context, facilityID uuid.UUID, from, to time.Time) ([]booking.Booking, error) {
	return f.worklist(facilityID, from, to)
}

func (f *fakeService) Feasibility(_ context.Context, id uuid.UUID) (*booking.Feasibility, error) {
	return f.feasibility(id)
}

func (f *fakeService) Backlog(_ context.Context, _ uuid.UUID) (int, error) {
	return 3, f.err
}

func (f *fakeService) Slots(_ context.Context, q booking.SlotQuery) (*booking.DayAvailability, error) {
	return f.slots(q)
}

func sampleBooking() *booking.Booking {
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	return &booking.Booking{
		ID:             uuid.New(),
		Track:          booking.TrackConfirmed,
		Status:         booking.StatusActive,
		ContactID:      uuid.New(),
		ContactName:    "Budi Santoso",
		PractitionerID: uuid.New(),
		FacilityID:     uuid.New(),
		ScheduleID:     uuid.New(),
		Date:           time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC),
		Number:         2,
		From:           schedule.NewClock(9, 0),
		To:             schedule.NewClock(9, 30),
		Channel:        booking.ChannelFrontOffice,
		CreatedBy:      "fo-1",
		CreatedAt:      now,
		ModifiedBy:     "fo-1",
		ModifiedAt:     now,
	}
}

type testServer struct {
	*httptest.Server
	svc   *fakeService
	redis *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := &fakeService{}
	pgUp := func(context.Context) error { return nil }
	router := NewRouter(RouterConfig{
		Bookings:    svc,
		Holds:       redisclient.NewHoldCache(rdb, 30*time.Second),
		Health:      NewHealthHandler(pgUp, func(ctx context.Context) error { return rdb.Ping(ctx).Err() }, "test", "v0"),
		Metrics:     NewMetrics(prometheus.NewRegistry()),
		Location:    time.UTC,
		CORSOrigins: []string{"*"},
		Logger:      zap.NewNop(),
		Now:         func() time.Time { return time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC) },
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, svc: svc, redis: mr}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func createBody(channel string) string {
	return fmt.Sprintf(`{
		"practitioner_id": %q,
		"facility_id": %q,
		"date": "2026-10-26",
		"from": "09:00",
		"number": 2,
		"channel": %q,
		"name": "Budi Santoso",
		"birth_date": "1990-05-01",
		"actor": "fo-1"
	}`, uuid.NewString(), uuid.NewString(), channel)
}

func TestCreateBooking_MapsRequest(t *testing.T) {
	s := newTestServer(t)
	var got booking.Request
	s.svc.book = func(req booking.Request) (*booking.Booking, error) {
		got = req
		return sampleBooking(), nil
	}

	resp, body := s.do(t, http.MethodPost, "/bookings", createBody("FO"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	assert.Equal(t, schedule.NewClock(9, 0), got.From)
	assert.Equal(t, "2026-10-26", got.Date.Format(time.DateOnly))
	assert.Equal(t, "1990-05-01", got.BirthDate.Format(time.DateOnly))
	require.NotNil(t, got.Number)
	assert.Equal(t, 2, *got.Number)
	assert.Equal(t, booking.ChannelFrontOffice, got.Channel)
	assert.Equal(t, uuid.Nil, got.ScheduleID)

	assert.Equal(t, "CONFIRMED", body["track"])
	assert.Equal(t, "09:00", body["from"])
	assert.Equal(t, "09:30", body["to"])
}

func TestCreateBooking_ValidationFailure(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/bookings", createBody("FAX"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_failed", body["error"])
	assert.Contains(t, body["details"], "channel")

	resp, body = s.do(t, http.MethodPost, "/bookings", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request_body", body["error"])
}

func TestCreateBooking_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   float64
		kind   string
	}{
		{booking.ErrNumberUnavailable, http.StatusConflict, 487, "number_unavailable"},
		{fmt.Errorf("%w: 09:00-10:00", booking.ErrScheduleBlocked), http.StatusUnprocessableEntity, 492, "availability"},
		{booking.ErrScheduleNotFound, http.StatusNotFound, 482, "not_found"},
		{booking.ErrNumberRequired, http.StatusBadRequest, 479, "invalid_request"},
		{fmt.Errorf("%w: timeout", booking.ErrExternalSync), http.StatusBadGateway, 496, "external_sync"},
		{booking.ErrSlotHeld, http.StatusConflict, 495, "conflict"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			s := newTestServer(t)
			s.svc.book = func(booking.Request) (*booking.Booking, error) { return nil, tc.err }

			resp, body := s.do(t, http.MethodPost, "/bookings", createBody("FO"))
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, body["code"])
			assert.Equal(t, tc.kind, body["error"])
		})
	}
}

func TestCreateBooking_UnexpectedErrorIsInternal(t *testing.T) {
	s := newTestServer(t)
	s.svc.book = func(booking.Request) (*booking.Booking, error) {
		return nil, errors.New("connection reset by peer")
	}

	resp, body := s.do(t, http.MethodPost, "/bookings", createBody("FO"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal_error", body["error"])
	assert.NotContains(t, body["details"], "connection reset")
}

func TestReschedule_CompoundFailureReturnsOriginal(t *testing.T) {
	s := newTestServer(t)
	original := sampleBooking()
	original.Status = booking.StatusCancelled
	s.svc.reschedule = func(id uuid.UUID, in booking.RescheduleRequest) (*booking.Booking, error) {
		assert.Equal(t, original.ID, id)
		assert.Equal(t, schedule.NewClock(13, 0), in.From)
		return nil, &booking.RescheduleError{Original: original, Cause: booking.ErrScheduleBlocked}
	}

	resp, body := s.do(t, http.MethodPost, "/bookings/"+original.ID.String()+"/reschedule",
		`{"date": "2026-10-27", "from": "13:00", "channel": "CC", "actor": "cc-7"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, float64(497), body["code"])

	orig, ok := body["original"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, original.ID.String(), orig["id"])
	assert.Equal(t, "CANCELLED", orig["status"])
}

func TestCancel_InvalidID(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/bookings/not-a-uuid/cancel", `{"actor": "fo-1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_booking_id", body["error"])
}

func TestCancel_RequiresActor(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/bookings/"+uuid.NewString()+"/cancel", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/bookings/"+uuid.NewString()+"/cancel", `{"actor": "fo-1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CANCELLED", body["status"])
	assert.Equal(t, "fo-1", body["modified_by"])
}

func TestGetBooking_NotFound(t *testing.T) {
	s := newTestServer(t)
	s.svc.err = fmt.Errorf("get booking: %w", booking.ErrBookingNotFound)

	resp, body := s.do(t, http.MethodGet, "/bookings/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, float64(491), body["code"])
}

func TestCheckIn(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/bookings/"+uuid.NewString()+"/check-in",
		`{"admission_id": "ADM-1", "actor": "fo-1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ADM-1", body["admission_id"])
}

func TestMoveToWorklist(t *testing.T) {
	s := newTestServer(t)
	id := uuid.NewString()

	resp, body := s.do(t, http.MethodPost, "/worklist", fmt.Sprintf(`{"ids": [%q], "actor": "ops"}`, id))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "moved", items[0].(map[string]any)["outcome"])

	resp, body = s.do(t, http.MethodPost, "/worklist", `{"actor": "ops"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, float64(478), body["code"])

	resp, _ = s.do(t, http.MethodPost, "/worklist", `{"ids": ["nope"], "actor": "ops"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListWorklist_DefaultRange(t *testing.T) {
	s := newTestServer(t)
	var from, to time.Time
	var facilityID uuid.UUID
	s.svc.worklist = func(fac uuid.UUID, f, tt time.Time) ([]booking.Booking, error) {
		facilityID, from, to = fac, f, tt
		return []booking.Booking{*sampleBooking()}, nil
	}

	resp, _ := s.do(t, http.MethodGet, "/worklist", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2026-10-19", from.Format(time.DateOnly))
	assert.Equal(t, "2026-10-26", to.Format(time.DateOnly))
	assert.Equal(t, uuid.Nil, facilityID)

	want := uuid.New()
	resp, _ = s.do(t, http.MethodGet, "/worklist?facility_id="+want.String(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, want, facilityID)

	resp, _ = s.do(t, http.MethodGet, "/worklist?facility_id=nope", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/worklist?from=2026-10-30&to=2026-10-20", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListSlots(t *testing.T) {
	s := newTestServer(t)
	scheduleID := uuid.New()
	var got booking.SlotQuery
	s.svc.slots = func(q booking.SlotQuery) (*booking.DayAvailability, error) {
		got = q
		return &booking.DayAvailability{
			Date: q.Date,
			Slots: []schedule.Slot{
				{ScheduleID: scheduleID, Number: 0, From: schedule.NewClock(8, 0), To: schedule.NewClock(8, 30), Available: true},
				{ScheduleID: scheduleID, Number: 1, From: schedule.NewClock(8, 30), To: schedule.NewClock(9, 0), Full: true},
			},
		}, nil
	}

	path := fmt.Sprintf("/slots?practitioner_id=%s&facility_id=%s&date=2026-10-26&channel=WEBSITE&available=true",
		uuid.NewString(), uuid.NewString())
	resp, body := s.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, booking.ChannelWebsite, got.Channel)
	assert.True(t, got.AvailableOnly)

	slots := body["slots"].([]any)
	require.Len(t, slots, 2)
	assert.Equal(t, "08:30", slots[1].(map[string]any)["from"])
	assert.Equal(t, []any{}, body["open"])

	resp, _ = s.do(t, http.MethodGet, "/slots?practitioner_id=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListSlots_RequiresChannel(t *testing.T) {
	s := newTestServer(t)
	called := false
	s.svc.slots = func(q booking.SlotQuery) (*booking.DayAvailability, error) {
		called = true
		return &booking.DayAvailability{Date: q.Date}, nil
	}
	base := fmt.Sprintf("/slots?practitioner_id=%s&facility_id=%s&date=2026-10-26", uuid.NewString(), uuid.NewString())

	resp, body := s.do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_channel", body["error"])

	resp, _ = s.do(t, http.MethodGet, base+"&channel=FAX", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, called)

	resp, _ = s.do(t, http.MethodGet, base+"&channel=FO", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, called)
}

func TestListBookings(t *testing.T) {
	s := newTestServer(t)
	var got booking.ListFilter
	s.svc.list = func(f booking.ListFilter) ([]booking.Booking, error) {
		got = f
		first, second := sampleBooking(), sampleBooking()
		second.Track = booking.TrackProvisional
		second.Number = 3
		return []booking.Booking{*first, *second}, nil
	}
	practitionerID, facilityID := uuid.New(), uuid.New()

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/bookings?practitioner_id=%s&facility_id=%s&date=2026-10-26&status=ACTIVE",
		s.URL, practitionerID, facilityID), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []BookingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, "PROVISIONAL", list[1].Track)
	assert.Equal(t, 3, list[1].Number)
	assert.Equal(t, practitionerID, got.PractitionerID)
	assert.Equal(t, facilityID, got.FacilityID)
	assert.Equal(t, "2026-10-26", got.Date.Format(time.DateOnly))
	assert.Equal(t, booking.StatusActive, got.Status)

	bad, _ := s.do(t, http.MethodGet, fmt.Sprintf("/bookings?practitioner_id=%s&facility_id=%s&date=2026-10-26&status=DONE",
		practitionerID, facilityID), "")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	bad, _ = s.do(t, http.MethodGet, "/bookings?facility_id="+facilityID.String(), "")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestBookingHistory(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New()
	s.svc.history = func(got uuid.UUID) ([]booking.EventLog, error) {
		if got != id {
			return nil, booking.ErrBookingNotFound
		}
		return []booking.EventLog{
			{ID: 2, EventType: booking.EventBookingCancelled, BookingID: &id, Payload: []byte(`{"reason":"cancel"}`)},
			{ID: 1, EventType: booking.EventBookingCreated, BookingID: &id},
		}, nil
	}

	resp, err := http.Get(s.URL + "/bookings/" + id.String() + "/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.Len(t, events, 2)
	assert.Equal(t, "booking.cancelled", events[0]["type"])
	assert.Equal(t, map[string]any{"reason": "cancel"}, events[0]["payload"])
	assert.NotContains(t, events[1], "payload")

	missing, body := s.do(t, http.MethodGet, "/bookings/"+uuid.NewString()+"/history", "")
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Equal(t, float64(491), body["code"])
}

func TestWorklistFeasibility(t *testing.T) {
	s := newTestServer(t)
	s.svc.feasibility = func(id uuid.UUID) (*booking.Feasibility, error) {
		return &booking.Feasibility{
			BookingID:       id,
			NeedsReschedule: true,
			Reasons:         []booking.FeasibilityReason{booking.ReasonOnLeave},
		}, nil
	}
	id := uuid.NewString()

	resp, body := s.do(t, http.MethodGet, "/worklist/"+id+"/feasibility", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["booking_id"])
	assert.Equal(t, true, body["needs_reschedule"])
	assert.Equal(t, []any{"practitioner_on_leave"}, body["reasons"])

	s.svc.feasibility = func(uuid.UUID) (*booking.Feasibility, error) { return nil, booking.ErrInvalidTransition }
	resp, body = s.do(t, http.MethodGet, "/worklist/"+id+"/feasibility", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, float64(498), body["code"])
}

func TestWorklistBacklog(t *testing.T) {
	s := newTestServer(t)
	facilityID := uuid.NewString()

	resp, body := s.do(t, http.MethodGet, "/worklist/backlog?facility_id="+facilityID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, facilityID, body["facility_id"])
	assert.Equal(t, float64(3), body["count"])

	resp, _ = s.do(t, http.MethodGet, "/worklist/backlog", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHolds(t *testing.T) {
	s := newTestServer(t)
	scheduleID := uuid.NewString()
	hold := func(holder string) string {
		return fmt.Sprintf(`{"schedule_id": %q, "date": "2026-10-26", "number": 3, "holder_id": %q}`, scheduleID, holder)
	}

	resp, _ := s.do(t, http.MethodPost, "/holds", hold("browser-a"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/holds", hold("browser-a"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/holds", hold("browser-b"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, float64(495), body["code"])

	req, err := http.NewRequest(http.MethodGet, s.URL+"/holds?schedule_id="+scheduleID+"&date=2026-10-26", nil)
	require.NoError(t, err)
	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()

	var list []HoldResponse
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].Number)
	assert.Equal(t, "browser-a", list[0].HolderID)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = s.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	s.redis.Close()
	resp, body = s.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
}

func TestReadiness_PostgresDown(t *testing.T) {
	h := NewHealthHandler(
		func(context.Context) error { return errors.New("refused") },
		func(context.Context) error { return nil },
		"test", "v0",
	)
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "down", body.Dependencies["postgres"])
}

func TestMetrics_CountsRejections(t *testing.T) {
	s := newTestServer(t)
	s.svc.book = func(booking.Request) (*booking.Booking, error) { return nil, booking.ErrLeadTime }

	s.do(t, http.MethodPost, "/bookings", createBody("FO"))

	resp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(raw), `booking_rejections_total{code="485"} 1`)
	assert.Contains(t, string(raw), `route="/bookings"`)
}
