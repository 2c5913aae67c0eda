package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Catalog is the read side of the scheduling configuration. Every query is
// filtered by active status and by inclusive date bounds. Schedule rows
// are only returned while they are the effective row of their series.
type Catalog interface {
	SchedulesForDay(ctx context.Context, practitionerID, facilityID uuid.UUID, date time.Time) ([]Schedule, error)
	ScheduleByID(ctx context.Context, id uuid.UUID, date time.Time) (*Schedule, error)
	BlocksFor(ctx context.Context, scheduleIDs []uuid.UUID, date time.Time) ([]Block, error)
	LeaveOn(ctx context.Context, practitionerID, facilityID uuid.UUID, date time.Time) (*Leave, error)
	AssignmentAsOf(ctx context.Context, practitionerID, facilityID uuid.UUID, date time.Time) (*Assignment, error)
	NotesOn(ctx context.Context, practitionerID, facilityID uuid.UUID, date time.Time) ([]Note, error)
}
