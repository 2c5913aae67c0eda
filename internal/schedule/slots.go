package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotPartitioned = errors.New("schedule type has no discrete slots")
	ErrNoCapacity     = errors.New("schedule has no slot capacity configured")
)

// Slot is derived on every request and never stored.
type Slot struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
	Date       time.Time `json:"date"`
	Number     int       `json:"number"`
	From       Clock     `json:"-"`
	To         Clock     `json:"-"`
	Available  bool      `json:"available"`
	Walkin     bool      `json:"walkin"`
	Blocked    bool      `json:"blocked"`
	Full       bool      `json:"full"`
}

type Window struct {
	From Clock
	To   Clock
}

// PartitionPolicy splits a schedule window into ordered slot windows.
type PartitionPolicy interface {
	Partition(from, to Clock, c Capacity) ([]Window, error)
}

// EqualPartition cuts [from, to) into Reservation+Walkin slots of equal
// whole-minute width. Leftover minutes stay unused at the end of the window.
type EqualPartition struct{}

func (EqualPartition) Partition(from, to Clock, c Capacity) ([]Window, error) {
	n := c.Slots()
	if n <= 0 {
		return nil, ErrNoCapacity
	}
	width := int(to-from) / n
	if width <= 0 {
		return nil, fmt.Errorf("window %s-%s too short for %d slots", from, to, n)
	}

	windows := make([]Window, n)
	for i := range windows {
		start := from + Clock(i*width)
		windows[i] = Window{From: start, To: start + Clock(width)}
	}
	return windows, nil
}

type GenerateInput struct {
	Schedule       Schedule
	Date           time.Time
	Capacity       Capacity
	Occupied       map[int]bool
	Blocks         []Block
	WalkinEligible bool
	// Cutoff is nil for internal channels and reschedules.
	Cutoff   *Cutoff
	Location *time.Location
}

// Cutoff excludes same-day slots that start (FCFS: end) no later than
// Now+Lead.
type Cutoff struct {
	Now  time.Time
	Lead time.Duration
}

type Generator struct {
	Partition PartitionPolicy
	Base      int
}

func NewGenerator(base int) *Generator {
	return &Generator{Partition: EqualPartition{}, Base: base}
}

// Generate materialises the slots of a FIXED or HOURLY schedule for one date.
func (g *Generator) Generate(in GenerateInput) ([]Slot, error) {
	if !in.Schedule.Type.Partitioned() {
		return nil, ErrNotPartitioned
	}

	windows, err := g.Partition.Partition(in.Schedule.From, in.Schedule.To, in.Capacity)
	if err != nil {
		return nil, err
	}

	slots := make([]Slot, 0, len(windows))
	for i, w := range windows {
		s := Slot{
			ScheduleID: in.Schedule.ID,
			Date:       in.Date,
			Number:     g.Base + i,
			From:       w.From,
			To:         w.To,
			Walkin:     i >= in.Capacity.Reservation,
			Blocked:    blocked(in.Blocks, in.Schedule.ID, in.Date, w.From, w.To),
		}
		s.Full = in.Occupied[s.Number]
		s.Available = !s.Blocked && !s.Full && (!s.Walkin || in.WalkinEligible) && !pastCutoff(in, w.From)
		slots = append(slots, s)
	}
	return slots, nil
}

// OpenStatus describes an FCFS schedule day, which has no discrete slots.
type OpenStatus struct {
	ScheduleID   uuid.UUID `json:"schedule_id"`
	Open         bool      `json:"open"`
	FullyBlocked bool      `json:"fully_blocked"`
	PastCutoff   bool      `json:"past_cutoff"`
}

func (g *Generator) Status(in GenerateInput) OpenStatus {
	st := OpenStatus{
		ScheduleID:   in.Schedule.ID,
		FullyBlocked: blocked(in.Blocks, in.Schedule.ID, in.Date, in.Schedule.From, in.Schedule.To),
		PastCutoff:   pastCutoff(in, in.Schedule.To),
	}
	st.Open = in.Schedule.Status == StatusActive &&
		in.Schedule.Day == in.Date.Weekday() &&
		!st.FullyBlocked && !st.PastCutoff
	return st
}

// GenerateDay runs Generate for every partitioned input and returns the
// union ordered by start time. FCFS inputs are skipped.
func (g *Generator) GenerateDay(inputs []GenerateInput) ([]Slot, error) {
	var all []Slot
	for _, in := range inputs {
		if !in.Schedule.Type.Partitioned() {
			continue
		}
		slots, err := g.Generate(in)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", in.Schedule.ID, err)
		}
		all = append(all, slots...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].From != all[j].From {
			return all[i].From < all[j].From
		}
		return all[i].Number < all[j].Number
	})
	return all, nil
}

func blocked(blocks []Block, scheduleID uuid.UUID, date time.Time, from, to Clock) bool {
	for _, b := range blocks {
		if b.ScheduleID == scheduleID && b.CoversWindow(date, from, to) {
			return true
		}
	}
	return false
}

func pastCutoff(in GenerateInput, at Clock) bool {
	return in.Cutoff.Excludes(in.Date, at, in.Location)
}

// Excludes reports whether a same-day appointment edge at clock at falls
// inside the lead time.
func (c *Cutoff) Excludes(date time.Time, at Clock, loc *time.Location) bool {
	if c == nil {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	if !SameDate(date, DateOf(c.Now, loc)) {
		return false
	}
	return !at.On(date, loc).After(c.Now.Add(c.Lead))
}
