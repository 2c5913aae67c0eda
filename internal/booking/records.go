package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

// List returns a practitioner's bookings at a facility for one date across
// both tracks, ordered by appointment number.
func (m *Manager) List(ctx context.Context, f ListFilter) ([]Booking, error) {
	if f.PractitionerID == uuid.Nil || f.FacilityID == uuid.Nil || f.Date.IsZero() {
		return nil, fmt.Errorf("%w: practitioner, facility and date are required", ErrInvalidRequest)
	}
	list, err := m.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return list, nil
}

// History returns the events recorded against a booking, newest first.
func (m *Manager) History(ctx context.Context, id uuid.UUID) ([]EventLog, error) {
	if _, err := m.repo.Get(ctx, id); err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	events, err := m.repo.EventsFor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking history: %w", err)
	}
	return events, nil
}

type FeasibilityReason string

const (
	ReasonScheduleGone FeasibilityReason = "schedule_unavailable"
	ReasonOnLeave      FeasibilityReason = "practitioner_on_leave"
	ReasonBlocked      FeasibilityReason = "schedule_blocked"
)

// Feasibility tells whether a worklist entry's original slot can still
// be honoured. NeedsReschedule is set when any reason applies.
type Feasibility struct {
	BookingID       uuid.UUID           `json:"booking_id"`
	NeedsReschedule bool                `json:"needs_reschedule"`
	Reasons         []FeasibilityReason `json:"reasons"`
}

// Feasibility checks a worklist entry against the current configuration:
// a schedule still covers its window, the practitioner is not on leave
// and no block covers the window.
func (m *Manager) Feasibility(ctx context.Context, id uuid.UUID) (*Feasibility, error) {
	b, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if !b.OnWorklist() {
		return nil, fmt.Errorf("%w: booking %s is not on the worklist", ErrInvalidTransition, id)
	}

	out := &Feasibility{BookingID: b.ID, Reasons: []FeasibilityReason{}}
	add := func(r FeasibilityReason) {
		out.Reasons = append(out.Reasons, r)
		out.NeedsReschedule = true
	}

	schedules, err := m.catalog.SchedulesForDay(ctx, b.PractitionerID, b.FacilityID, b.Date)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	covered := false
	for _, s := range schedules {
		if s.From <= b.From && s.To >= b.To {
			covered = true
			break
		}
	}
	if !covered {
		add(ReasonScheduleGone)
	}

	leave, err := m.catalog.LeaveOn(ctx, b.PractitionerID, b.FacilityID, b.Date)
	if err != nil {
		return nil, fmt.Errorf("load leave: %w", err)
	}
	if leave != nil {
		add(ReasonOnLeave)
	}

	blocks, err := m.catalog.BlocksFor(ctx, []uuid.UUID{b.ScheduleID}, b.Date)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	for _, blk := range blocks {
		if blk.CoversWindow(b.Date, b.From, b.To) {
			add(ReasonBlocked)
			break
		}
	}

	m.log.Debug("worklist feasibility checked",
		zap.String("booking_id", b.ID.String()),
		zap.Bool("needs_reschedule", out.NeedsReschedule),
	)
	return out, nil
}

// Backlog counts the worklist entries of a facility dated within the
// configured horizon from today.
func (m *Manager) Backlog(ctx context.Context, facilityID uuid.UUID) (int, error) {
	today := schedule.DateOf(m.now(), m.loc)
	n, err := m.repo.CountWorklist(ctx, facilityID, today, today.Add(m.horizon))
	if err != nil {
		return 0, fmt.Errorf("count worklist: %w", err)
	}
	return n, nil
}
