package booking

import (
	"fmt"

	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

// Allocation is the number and time window a request resolved to.
type Allocation struct {
	Number int
	From   schedule.Clock
	To     schedule.Clock
}

// Allocator assigns appointment numbers. It only reads occupancy; the
// partial unique index on bookings is what actually prevents two ACTIVE
// records from sharing a number.
type Allocator struct {
	Base int
}

// NextFCFS returns one past the highest number in use, or Base for an
// empty day. Both tracks count.
func (a Allocator) NextFCFS(active []Booking) int {
	next := a.Base
	for _, b := range active {
		if b.Number >= next {
			next = b.Number + 1
		}
	}
	return next
}

// Allocate resolves the number for s. slots are the generated slots of a
// FIXED or HOURLY schedule and are ignored for FCFS. A non-nil number is a
// staff-chosen number that only needs to be free.
func (a Allocator) Allocate(s schedule.Schedule, slots []schedule.Slot, active []Booking, from schedule.Clock, number *int) (Allocation, error) {
	if !s.Type.Partitioned() {
		if number == nil {
			return Allocation{Number: a.NextFCFS(active), From: s.From, To: s.To}, nil
		}
		if *number < 0 || occupied(active, *number) {
			return Allocation{}, fmt.Errorf("%w: number %d", ErrNumberUnavailable, *number)
		}
		return Allocation{Number: *number, From: s.From, To: s.To}, nil
	}

	if number != nil {
		for _, slot := range slots {
			if slot.Number != *number {
				continue
			}
			if slot.Full || slot.Blocked {
				return Allocation{}, fmt.Errorf("%w: number %d", ErrNumberUnavailable, *number)
			}
			return Allocation{Number: slot.Number, From: slot.From, To: slot.To}, nil
		}
		return Allocation{}, fmt.Errorf("%w: no slot numbered %d", ErrSlotNotFound, *number)
	}

	for _, slot := range slots {
		if slot.From != from {
			continue
		}
		if !slot.Available {
			return Allocation{}, fmt.Errorf("%w: slot at %s", ErrNumberUnavailable, from)
		}
		return Allocation{Number: slot.Number, From: slot.From, To: slot.To}, nil
	}
	return Allocation{}, fmt.Errorf("%w: %s", ErrSlotNotFound, from)
}

func occupied(active []Booking, number int) bool {
	for _, b := range active {
		if b.Number == number {
			return true
		}
	}
	return false
}

func occupancy(active []Booking) map[int]bool {
	out := make(map[int]bool, len(active))
	for _, b := range active {
		out[b.Number] = true
	}
	return out
}
