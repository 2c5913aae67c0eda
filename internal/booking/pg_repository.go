package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const bookingColumns = `id, track, contact_id, contact_name, birth_date, phone, practitioner_id, facility_id,
	schedule_id, appointment_date, appointment_no, from_time, to_time, status, external_id, rescheduled_to,
	origin_id, admission_id, channel, created_by, created_at, modified_by, modified_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var from, to pgtype.Time

	err := row.Scan(
		&b.ID,
		&b.Track,
		&b.ContactID,
		&b.ContactName,
		&b.BirthDate,
		&b.Phone,
		&b.PractitionerID,
		&b.FacilityID,
		&b.ScheduleID,
		&b.Date,
		&b.Number,
		&from,
		&to,
		&b.Status,
		&b.ExternalID,
		&b.RescheduledTo,
		&b.OriginID,
		&b.AdmissionID,
		&b.Channel,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.ModifiedBy,
		&b.ModifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.From = schedule.ClockFromPg(from)
	b.To = schedule.ClockFromPg(to)
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// queryer is satisfied by both the pool and a transaction.
type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertBooking(ctx context.Context, q queryer, b Booking) (*Booking, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, now(), $21, now())
		RETURNING `+bookingColumns,
		b.ID, b.Track, b.ContactID, b.ContactName, b.BirthDate, b.Phone, b.PractitionerID, b.FacilityID,
		b.ScheduleID, b.Date, b.Number, b.From.PgTime(), b.To.PgTime(), b.Status, b.ExternalID, b.RescheduledTo,
		b.OriginID, b.AdmissionID, b.Channel, b.CreatedBy, b.ModifiedBy,
	)

	created, err := scanBooking(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: number %d on %s", ErrNumberUnavailable, b.Number, b.Date.Format(time.DateOnly))
		}
		return nil, err
	}
	return created, nil
}

// Interface methods

func (r *PgRepository) Insert(ctx context.Context, b Booking) (*Booking, error) {
	return insertBooking(ctx, r.pool, b)
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

// List orders by number, then by creation so a reused number shows its
// history in sequence.
func (r *PgRepository) List(ctx context.Context, f ListFilter) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE practitioner_id = $1
		  AND facility_id = $2
		  AND appointment_date = $3
		  AND ($4::text = '' OR status = $4)
		ORDER BY appointment_no, created_at
	`, f.PractitionerID, f.FacilityID, f.Date, string(f.Status))
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ActiveForScheduleDate(ctx context.Context, scheduleID uuid.UUID, date time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE schedule_id = $1
		  AND appointment_date = $2
		  AND status = 'ACTIVE'
		ORDER BY appointment_no
	`, scheduleID, date)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) FindActiveByContact(ctx context.Context, contactID, practitionerID uuid.UUID, date time.Time, track Track) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE contact_id = $1
		  AND practitioner_id = $2
		  AND appointment_date = $3
		  AND track = $4
		  AND status = 'ACTIVE'
		  AND admission_id IS NULL
	`, contactID, practitionerID, date, track)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) FindActiveProvisional(ctx context.Context, sig Signature, practitionerID uuid.UUID, date time.Time) ([]Booking, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if sig.ContactID != uuid.Nil {
		rows, err = r.pool.Query(ctx, `
			SELECT `+bookingColumns+`
			FROM bookings
			WHERE track = 'PROVISIONAL'
			  AND status = 'ACTIVE'
			  AND contact_id = $1
			  AND practitioner_id = $2
			  AND appointment_date = $3
		`, sig.ContactID, practitionerID, date)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+bookingColumns+`
			FROM bookings
			WHERE track = 'PROVISIONAL'
			  AND status = 'ACTIVE'
			  AND upper(contact_name) = $1
			  AND birth_date = $2
			  AND phone = $3
			  AND practitioner_id = $4
			  AND appointment_date = $5
		`, sig.Name, sig.BirthDate, sig.Phone, practitionerID, date)
	}
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) Transition(ctx context.Context, id uuid.UUID, from, to Status, actor string) (*Booking, error) {
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    modified_by = $4,
		    modified_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns,
		id, to, from, actor)

	b, err := scanBooking(row)
	if errors.Is(err, ErrBookingNotFound) {
		return nil, fmt.Errorf("%w: booking %s is not %s", ErrInvalidTransition, id, from)
	}
	return b, err
}

func (r *PgRepository) Replace(ctx context.Context, oldID uuid.UUID, from Status, b Booking) (*Booking, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The old row leaves ACTIVE before the insert so the new record may
	// take the same number.
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'RESCHEDULED',
		    rescheduled_to = $2,
		    modified_by = $4,
		    modified_at = now()
		WHERE id = $1
		  AND status = $3
		  AND rescheduled_to IS NULL
	`, oldID, b.ID, from, b.ModifiedBy)
	if err != nil {
		return nil, fmt.Errorf("mark rescheduled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: booking %s is no longer %s", ErrInvalidTransition, oldID, from)
	}

	created, err := insertBooking(ctx, tx, b)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrNumberUnavailable
		}
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

func (r *PgRepository) AttachAdmission(ctx context.Context, id uuid.UUID, admissionID, actor string) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET admission_id = $2,
		    modified_by = $3,
		    modified_at = now()
		WHERE id = $1
		  AND status = 'ACTIVE'
		  AND track = 'CONFIRMED'
		  AND admission_id IS NULL
		RETURNING `+bookingColumns,
		id, admissionID, actor)

	b, err := scanBooking(row)
	if errors.Is(err, ErrBookingNotFound) {
		return nil, fmt.Errorf("%w: booking %s cannot be checked in", ErrInvalidTransition, id)
	}
	return b, err
}

func (r *PgRepository) ListActiveConfirmedForSchedule(ctx context.Context, scheduleID uuid.UUID, fromDate time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE schedule_id = $1
		  AND appointment_date >= $2
		  AND track = 'CONFIRMED'
		  AND status = 'ACTIVE'
		ORDER BY appointment_date, appointment_no
	`, scheduleID, fromDate)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListActiveConfirmedByIDs(ctx context.Context, ids []uuid.UUID) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = ANY($1)
		  AND track = 'CONFIRMED'
		  AND status = 'ACTIVE'
		ORDER BY appointment_date, appointment_no
	`, ids)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) HasProvisionalCounterpart(ctx context.Context, b Booking) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE track = 'PROVISIONAL'
			  AND status = 'ACTIVE'
			  AND contact_id = $1
			  AND practitioner_id = $2
			  AND appointment_date = $3
		)
	`, b.ContactID, b.PractitionerID, b.Date).Scan(&exists)
	return exists, err
}

func optionalID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

func (r *PgRepository) ListWorklist(ctx context.Context, facilityID uuid.UUID, from, to time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'RESCHEDULED'
		  AND rescheduled_to IS NULL
		  AND appointment_date BETWEEN $1 AND $2
		  AND ($3::uuid IS NULL OR facility_id = $3)
		ORDER BY appointment_date, from_time, appointment_no
	`, from, to, optionalID(facilityID))
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) CountWorklist(ctx context.Context, facilityID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM bookings
		WHERE status = 'RESCHEDULED'
		  AND rescheduled_to IS NULL
		  AND appointment_date BETWEEN $1 AND $2
		  AND ($3::uuid IS NULL OR facility_id = $3)
	`, from, to, optionalID(facilityID)).Scan(&n)
	return n, err
}

func (r *PgRepository) CountActiveProvisional(ctx context.Context, facilityID uuid.UUID, date time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM bookings
		WHERE track = 'PROVISIONAL'
		  AND status = 'ACTIVE'
		  AND facility_id = $1
		  AND appointment_date = $2
	`, facilityID, date).Scan(&n)
	return n, err
}

func (r *PgRepository) ListExpiredProvisional(ctx context.Context, before time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE track = 'PROVISIONAL'
		  AND status = 'ACTIVE'
		  AND appointment_date < $1
	`, before)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, ev.EventType, ev.BookingID, ev.Payload, ev.CreatedAt)
	return err
}

// EventsFor returns the event log of one booking, newest first.
func (r *PgRepository) EventsFor(ctx context.Context, bookingID uuid.UUID) ([]EventLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, booking_id, payload, created_at
		FROM event_logs
		WHERE booking_id = $1
		ORDER BY created_at DESC, id DESC
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EventLog
	for rows.Next() {
		var ev EventLog
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.BookingID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}
