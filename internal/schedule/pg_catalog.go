package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgCatalog struct {
	pool *pgxpool.Pool
}

func NewPgCatalog(pool *pgxpool.Pool) *PgCatalog {
	return &PgCatalog{pool: pool}
}

// Helpers

// ClockFromPg converts a Postgres TIME value.
func ClockFromPg(t pgtype.Time) Clock {
	return Clock(t.Microseconds / int64(time.Minute/time.Microsecond))
}

// PgTime converts c for a Postgres TIME parameter.
func (c Clock) PgTime() pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * int64(time.Minute/time.Microsecond), Valid: true}
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	var from, to pgtype.Time
	var day int16

	err := row.Scan(
		&s.ID,
		&s.SeriesID,
		&s.PractitionerID,
		&s.FacilityID,
		&day,
		&from,
		&to,
		&s.Type,
		&s.Capacity.Quota,
		&s.Capacity.Reservation,
		&s.Capacity.Walkin,
		&s.Status,
		&s.EffectiveDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	s.Day = time.Weekday(day)
	s.From = ClockFromPg(from)
	s.To = ClockFromPg(to)
	return &s, nil
}

const scheduleColumns = `id, series_id, practitioner_id, facility_id, day_of_week, from_time, to_time, schedule_type,
	quota, reservation_count, walkin_count, status, effective_date`

// Interface methods

func (c *PgCatalog) SchedulesForDay(ctx context.Context, practitionerID, facilityID uuid.UUID, date time.Time) ([]Schedule, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT `+scheduleColumns+` FROM (
			SELECT DISTINCT ON (series_id) `+scheduleColumns+`
			FROM schedules
			WHERE practitioner_id = $1
			  AND facility_id = $2
			  AND day_of_week = $3
			  AND effective_date <= $4
			ORDER BY series_id, effective_date DESC
		) latest
		WHERE status = 'active'
		ORDER BY from_time
	`, practitionerID, facilityID, int16(date.Weekday()), date)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var result []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// ScheduleByID returns the row only while it governs date: already
// effective and not replaced by a later row of its series.
func (c *PgCatalog) ScheduleByID(ctx context.Context, id uuid.UUID, date time.Time) (*Schedule, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules s
		WHERE s.id = $1
		  AND s.status = 'active'
		  AND s.effective_date <= $2
		  AND NOT EXISTS (
			SELECT 1 FROM schedules n
			WHERE n.series_id = s.series_id
			  AND n.effective_date > s.effective_date
			  AND n.effective_date <= $2
		  )
	`, id, date)
	return scanSchedule(row)
}

func (c *PgCatalog) BlocksFor(ctx context.Context, scheduleIDs []uuid.UUID, date time.Time) ([]Block, error) {
	if len(scheduleIDs) == 0 {
		return nil, nil
	}

	rows, err := c.pool.Query(ctx, `
		SELECT id, schedule_id, from_date, to_date, from_time, to_time, is_active, reason
		FROM schedule_blocks
		WHERE schedule_id = ANY($1)
		  AND is_active
		  AND from_date <= $2
		  AND to_date >= $2
		ORDER BY from_time
	`, scheduleIDs, date)
	if err != nil {
		return nil, fmt.Errorf("query schedule blocks: %w", err)
	}
	defer rows.Close()

	var result []Block
	for rows.Next() {
		var b Block
		var from, to pgtype.Time
		if err := rows.Scan(&b.ID, &b.ScheduleID, &b.FromDate, &b.ToDate, &from, &to, &b.Active, &b.Reason); err != nil {
			return nil, err
		}
		b.From = ClockFromPg(from)
		b.To = ClockFromPg(to)
		result = append(result, b)
	}
	return result, rows.Err()
}

func (c *PgCatalog) LeaveOn(ctx context.Context, practitionerID, facilityID uuid.UUID, date time.Time) (*Leave, error) {
	var l Leave
	err := c.pool.QueryRow(ctx, `
		SELECT id, practitioner_id, facility_id, from_date, to_date, reason
		FROM practitioner_leaves
		WHERE practitioner_id = $1
		  AND facility_id = $2
		  AND is_active
		  AND from_date <= $3
		  AND to_date >= $3
		LIMIT 1
	`, practitionerID, facilityID, date).Scan(&l.ID, &l.PractitionerID, &l.FacilityID, &l.FromDate, &l.ToDate, &l.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query leave: %w", err)
	}
	return &l, nil
}

func (c *PgCatalog) AssignmentAsOf(ctx context.Context, practitionerID, facilityID uuid.UUID, date time.Time) (*Assignment, error) {
	var a Assignment
	err := c.pool.QueryRow(ctx, `
		SELECT practitioner_id, facility_id, practitioner_name, status, schedule_type,
		       quota, reservation_count, walkin_count, effective_date
		FROM practitioner_assignments
		WHERE practitioner_id = $1
		  AND facility_id = $2
		  AND effective_date <= $3
		ORDER BY effective_date DESC
		LIMIT 1
	`, practitionerID, facilityID, date).Scan(
		&a.PractitionerID,
		&a.FacilityID,
		&a.PractitionerName,
		&a.Status,
		&a.Type,
		&a.Capacity.Quota,
		&a.Capacity.Reservation,
		&a.Capacity.Walkin,
		&a.EffectiveDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("query assignment: %w", err)
	}
	return &a, nil
}

func (c *PgCatalog) NotesOn(ctx context.Context, practitionerID, facilityID uuid.UUID, date time.Time) ([]Note, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, practitioner_id, facility_id, from_date, to_date, is_active, impacts_schedule, note
		FROM practitioner_notes
		WHERE practitioner_id = $1
		  AND facility_id = $2
		  AND is_active
		  AND from_date <= $3
		  AND to_date >= $3
	`, practitionerID, facilityID, date)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var result []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.PractitionerID, &n.FacilityID, &n.FromDate, &n.ToDate, &n.Active, &n.ImpactsSchedule, &n.Text); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}
