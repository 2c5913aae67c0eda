package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

type SlotQuery struct {
	PractitionerID uuid.UUID
	FacilityID     uuid.UUID
	Date           time.Time
	ScheduleID     uuid.UUID // optional filter
	Channel        Channel
	AvailableOnly  bool
}

// DayAvailability is what a practitioner offers on one date: discrete
// slots for FIXED and HOURLY schedules, an open flag for FCFS ones.
type DayAvailability struct {
	Date    time.Time
	OnLeave bool
	Slots   []schedule.Slot
	Open    []schedule.OpenStatus
}

// Slots lists the practitioner's slots for a date. External channels see
// same-day slots inside the lead time as unavailable.
func (m *Manager) Slots(ctx context.Context, q SlotQuery) (*DayAvailability, error) {
	out := &DayAvailability{Date: q.Date}

	leave, err := m.catalog.LeaveOn(ctx, q.PractitionerID, q.FacilityID, q.Date)
	if err != nil {
		return nil, fmt.Errorf("load leave: %w", err)
	}
	if leave != nil {
		out.OnLeave = true
		return out, nil
	}

	schedules, err := m.catalog.SchedulesForDay(ctx, q.PractitionerID, q.FacilityID, q.Date)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	if q.ScheduleID != uuid.Nil {
		filtered := schedules[:0:0]
		for _, s := range schedules {
			if s.ID == q.ScheduleID {
				filtered = append(filtered, s)
			}
		}
		schedules = filtered
	}
	if len(schedules) == 0 {
		return out, nil
	}

	assignment, err := m.catalog.AssignmentAsOf(ctx, q.PractitionerID, q.FacilityID, q.Date)
	if err != nil && !errors.Is(err, schedule.ErrAssignmentNotFound) {
		return nil, fmt.Errorf("load assignment: %w", err)
	}

	ids := make([]uuid.UUID, len(schedules))
	for i, s := range schedules {
		ids[i] = s.ID
	}
	blocks, err := m.catalog.BlocksFor(ctx, ids, q.Date)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}

	var cutoff *schedule.Cutoff
	if !q.Channel.Internal() {
		cutoff = &schedule.Cutoff{Now: m.now(), Lead: m.pipeline.lead}
	}

	inputs := make([]schedule.GenerateInput, 0, len(schedules))
	for _, s := range schedules {
		active, err := m.repo.ActiveForScheduleDate(ctx, s.ID, q.Date)
		if err != nil {
			return nil, fmt.Errorf("load active bookings: %w", err)
		}
		in := schedule.GenerateInput{
			Schedule:       s,
			Date:           q.Date,
			Capacity:       schedule.ResolveCapacity(s, assignment),
			Occupied:       occupancy(active),
			Blocks:         blocks,
			WalkinEligible: q.Channel.Internal(),
			Cutoff:         cutoff,
			Location:       m.loc,
		}
		if !s.Type.Partitioned() {
			out.Open = append(out.Open, m.pipeline.gen.Status(in))
			continue
		}
		inputs = append(inputs, in)
	}

	slots, err := m.pipeline.gen.GenerateDay(inputs)
	if err != nil {
		return nil, fmt.Errorf("generate slots: %w", err)
	}
	if q.AvailableOnly {
		kept := slots[:0]
		for _, s := range slots {
			if s.Available {
				kept = append(kept, s)
			}
		}
		slots = kept
	}
	out.Slots = slots
	return out, nil
}
