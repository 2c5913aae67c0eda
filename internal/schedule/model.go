package schedule

import (
	"cmp"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	ErrScheduleNotFound   = errors.New("schedule not found")
	ErrAssignmentNotFound = errors.New("practitioner assignment not found")
)

type Type string

const (
	TypeFCFS   Type = "FCFS"
	TypeFixed  Type = "FIXED"
	TypeHourly Type = "HOURLY"
)

func (t Type) Partitioned() bool {
	return t == TypeFixed || t == TypeHourly
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type AssignmentStatus string

const (
	AssignmentActive   AssignmentStatus = "active"
	AssignmentNotShow  AssignmentStatus = "not_show"
	AssignmentInactive AssignmentStatus = "inactive"
)

type Capacity struct {
	Quota       int
	Reservation int
	Walkin      int
}

func (c Capacity) Slots() int {
	return c.Reservation + c.Walkin
}

// Schedule is one recurring weekly availability window. Rows are never
// edited once slots were issued; a newer row in the same series with a
// later EffectiveDate supersedes them, even when its window moved.
type Schedule struct {
	ID             uuid.UUID
	SeriesID       uuid.UUID
	PractitionerID uuid.UUID
	FacilityID     uuid.UUID
	Day            time.Weekday
	From           Clock
	To             Clock
	Type           Type
	Capacity       Capacity
	Status         Status
	EffectiveDate  time.Time
}

// Series identifies the chain of rows replacing one another. A row
// without an explicit series starts its own.
func (s Schedule) Series() uuid.UUID {
	if s.SeriesID == uuid.Nil {
		return s.ID
	}
	return s.SeriesID
}

// InEffect reports whether s is the row of its series that governs date
// among rows. Inactive rows still supersede older ones.
func (s Schedule) InEffect(rows []Schedule, date time.Time) bool {
	if s.EffectiveDate.After(date) {
		return false
	}
	for _, o := range rows {
		if o.ID == s.ID || o.Series() != s.Series() {
			continue
		}
		if o.EffectiveDate.After(s.EffectiveDate) && !o.EffectiveDate.After(date) {
			return false
		}
	}
	return true
}

// Effective keeps the active rows in effect on date, one per series,
// ordered by start time.
func Effective(rows []Schedule, date time.Time) []Schedule {
	var out []Schedule
	for _, s := range rows {
		if s.Status == StatusActive && s.Day == date.Weekday() && s.InEffect(rows, date) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Schedule) int { return cmp.Compare(a.From, b.From) })
	return out
}

func (s Schedule) Contains(t Clock) bool {
	return t >= s.From && t < s.To
}

type Block struct {
	ID         uuid.UUID
	ScheduleID uuid.UUID
	FromDate   time.Time
	ToDate     time.Time
	From       Clock
	To         Clock
	Active     bool
	Reason     string
}

// CoversWindow reports whether the block is active on date and its time
// range fully contains [from, to).
func (b Block) CoversWindow(date time.Time, from, to Clock) bool {
	return b.Active && Covers(b.FromDate, b.ToDate, date) && b.From <= from && b.To >= to
}

type Leave struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	FacilityID     uuid.UUID
	FromDate       time.Time
	ToDate         time.Time
	Reason         string
}

// Assignment is the practitioner-facility configuration in effect from
// EffectiveDate on.
type Assignment struct {
	PractitionerID   uuid.UUID
	FacilityID       uuid.UUID
	PractitionerName string
	Status           AssignmentStatus
	Type             Type
	Capacity         Capacity
	EffectiveDate    time.Time
}

func (a Assignment) Bookable() bool {
	return a.Status == AssignmentActive || a.Status == AssignmentNotShow
}

type Note struct {
	ID              uuid.UUID
	PractitionerID  uuid.UUID
	FacilityID      uuid.UUID
	FromDate        time.Time
	ToDate          time.Time
	Active          bool
	ImpactsSchedule bool
	Text            string
}

// ResolveCapacity prefers the schedule's own parameters and falls back to
// the practitioner assignment when the schedule carries none.
func ResolveCapacity(s Schedule, a *Assignment) Capacity {
	if s.Capacity.Slots() > 0 || a == nil {
		return s.Capacity
	}
	return a.Capacity
}
