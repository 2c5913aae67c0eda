package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/practitioner-slot-booking/internal/booking"
)

// PgResolver maps booking requests onto contact records. Contacts are
// matched by id first, then by normalised name and birth date, and
// created when neither matches.
type PgResolver struct {
	pool *pgxpool.Pool
}

func NewPgResolver(pool *pgxpool.Pool) *PgResolver {
	return &PgResolver{pool: pool}
}

func (r *PgResolver) Resolve(ctx context.Context, q booking.ContactQuery) (*booking.Contact, error) {
	var (
		c   *booking.Contact
		err error
	)
	switch {
	case q.ContactID != uuid.Nil:
		c, err = r.byID(ctx, q.ContactID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: contact %s not found", booking.ErrIdentity, q.ContactID)
		}
	default:
		if err := validateQuery(q); err != nil {
			return nil, err
		}
		c, err = r.byIdentity(ctx, q.Name, q.BirthDate)
		if errors.Is(err, pgx.ErrNoRows) {
			c, err = r.insert(ctx, q)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", booking.ErrIdentity, err)
	}

	enrolled, err := r.enrolled(ctx, c.ID, q.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", booking.ErrIdentity, err)
	}
	c.Enrolled = enrolled
	return c, nil
}

func validateQuery(q booking.ContactQuery) error {
	if NormalizeName(q.Name) == "" {
		return fmt.Errorf("%w: contact name is required", booking.ErrIdentity)
	}
	if q.BirthDate.IsZero() {
		return fmt.Errorf("%w: birth date is required", booking.ErrIdentity)
	}
	return nil
}

// NormalizeName collapses whitespace and upper-cases the name, matching
// the contacts_identity_idx expression.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

func (r *PgResolver) byID(ctx context.Context, id uuid.UUID) (*booking.Contact, error) {
	return scanContact(r.pool.QueryRow(ctx, `
		SELECT id, name, birth_date, phone FROM contacts WHERE id = $1
	`, id))
}

func (r *PgResolver) byIdentity(ctx context.Context, name string, birthDate time.Time) (*booking.Contact, error) {
	return scanContact(r.pool.QueryRow(ctx, `
		SELECT id, name, birth_date, phone
		FROM contacts
		WHERE upper(name) = $1 AND birth_date = $2
		ORDER BY created_at
		LIMIT 1
	`, NormalizeName(name), birthDate))
}

func (r *PgResolver) insert(ctx context.Context, q booking.ContactQuery) (*booking.Contact, error) {
	c := &booking.Contact{
		ID:        uuid.New(),
		Name:      strings.Join(strings.Fields(q.Name), " "),
		BirthDate: q.BirthDate,
		Phone:     q.Phone,
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO contacts (id, name, birth_date, phone)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.Name, c.BirthDate, c.Phone)
	if err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}
	return c, nil
}

func (r *PgResolver) enrolled(ctx context.Context, contactID, facilityID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM contact_enrollments WHERE contact_id = $1 AND facility_id = $2
		)
	`, contactID, facilityID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return ok, nil
}

func scanContact(row pgx.Row) (*booking.Contact, error) {
	var c booking.Contact
	if err := row.Scan(&c.ID, &c.Name, &c.BirthDate, &c.Phone); err != nil {
		return nil, err
	}
	return &c, nil
}
