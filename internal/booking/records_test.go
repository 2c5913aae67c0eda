package booking

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

func TestList_BothTracksByNumber(t *testing.T) {
	s := fixedSchedule(eight, ten, 4, 0)
	h := newHarness(t, s)

	confirmed, err := h.manager.Book(ctxBg, staffRequest(s, eight, 0))
	require.NoError(t, err)
	provisional, err := h.manager.Book(ctxBg, webRequest(nine, "Wulan"))
	require.NoError(t, err)
	cancelled := h.repo.put(Booking{
		ID: uuid.New(), Track: TrackConfirmed, ContactID: uuid.New(), PractitionerID: practitioner,
		FacilityID: facility, ScheduleID: s.ID, Date: nextMonday, Number: 1, Status: StatusCancelled,
	})

	all, err := h.manager.List(ctxBg, ListFilter{PractitionerID: practitioner, FacilityID: facility, Date: nextMonday})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uuid.UUID{confirmed.ID, cancelled.ID, provisional.ID}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, TrackConfirmed, all[0].Track)
	assert.Equal(t, TrackProvisional, all[2].Track)

	active, err := h.manager.List(ctxBg, ListFilter{PractitionerID: practitioner, FacilityID: facility, Date: nextMonday, Status: StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	other, err := h.manager.List(ctxBg, ListFilter{PractitionerID: practitioner, FacilityID: facility, Date: nextTuesday})
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = h.manager.List(ctxBg, ListFilter{PractitionerID: practitioner, Date: nextMonday})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHistory_NewestFirst(t *testing.T) {
	s := fixedSchedule(eight, ten, 4, 0)
	h := newHarness(t, s)
	b, err := h.manager.Book(ctxBg, staffRequest(s, eight, 0))
	require.NoError(t, err)
	_, err = h.manager.Cancel(ctxBg, b.ID, "fo-desk-1")
	require.NoError(t, err)

	events, err := h.manager.History(ctxBg, b.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventBookingCancelled, events[0].EventType)
	assert.Equal(t, EventBookingCreated, events[1].EventType)
	assert.JSONEq(t, `{"track":"CONFIRMED","reason":"cancel"}`, string(events[0].Payload))

	_, err = h.manager.History(ctxBg, uuid.New())
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestFeasibility(t *testing.T) {
	s := fixedSchedule(eight, ten, 4, 0)
	h := newHarness(t, s)
	b, err := h.manager.Book(ctxBg, staffRequest(s, eight, 0))
	require.NoError(t, err)

	_, err = h.manager.Feasibility(ctxBg, b.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.manager.MoveToWorklist(ctxBg, WorklistRequest{IDs: []uuid.UUID{b.ID}, Actor: "admin"})
	require.NoError(t, err)

	got, err := h.manager.Feasibility(ctxBg, b.ID)
	require.NoError(t, err)
	assert.False(t, got.NeedsReschedule)
	assert.Empty(t, got.Reasons)

	h.catalog.leave = &schedule.Leave{FromDate: nextMonday, ToDate: nextMonday}
	h.catalog.blocks = []schedule.Block{{ScheduleID: s.ID, FromDate: nextMonday, ToDate: nextMonday, From: eight, To: nine, Active: true}}
	got, err = h.manager.Feasibility(ctxBg, b.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsReschedule)
	assert.Equal(t, []FeasibilityReason{ReasonOnLeave, ReasonBlocked}, got.Reasons)

	h.catalog.leave = nil
	h.catalog.blocks = nil
	h.catalog.schedules = []schedule.Schedule{fixedSchedule(nine, noon, 6, 0)}
	got, err = h.manager.Feasibility(ctxBg, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []FeasibilityReason{ReasonScheduleGone}, got.Reasons)

	_, err = h.manager.Feasibility(ctxBg, uuid.New())
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestWorklist_ScopedByFacility(t *testing.T) {
	s := fixedSchedule(eight, ten, 4, 0)
	h := newHarness(t, s)
	otherFacility := uuid.New()
	for i, f := range []uuid.UUID{facility, otherFacility, otherFacility} {
		h.repo.put(Booking{
			ID: uuid.New(), Track: TrackConfirmed, ContactID: uuid.New(), PractitionerID: practitioner,
			FacilityID: f, ScheduleID: s.ID, Date: nextMonday, Number: i, Status: StatusRescheduled,
		})
	}

	list, err := h.manager.Worklist(ctxBg, facility, nextMonday, nextMonday)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = h.manager.Worklist(ctxBg, uuid.Nil, nextMonday, nextMonday)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	n, err := h.manager.Backlog(ctxBg, otherFacility)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
