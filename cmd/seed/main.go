package main

import (
	"context"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-slot-booking/internal/config"
	"github.com/hackgods/practitioner-slot-booking/internal/db"
	"github.com/hackgods/practitioner-slot-booking/internal/logging"
	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

const (
	facilityCount     = 3
	practitionerCount = 40
	contactCount      = 5000
)

// window is one weekly session template handed out to practitioners.
type window struct {
	from, to    schedule.Clock
	typ         schedule.Type
	reservation int
	walkin      int
	quota       int
}

var templates = []window{
	{schedule.NewClock(8, 0), schedule.NewClock(10, 0), schedule.TypeFixed, 4, 0, 0},
	{schedule.NewClock(10, 0), schedule.NewClock(12, 0), schedule.TypeFixed, 6, 2, 0},
	{schedule.NewClock(13, 0), schedule.NewClock(16, 0), schedule.TypeHourly, 9, 3, 0},
	{schedule.NewClock(16, 0), schedule.NewClock(20, 0), schedule.TypeFCFS, 0, 0, 30},
}

var noteTexts = []string{
	"attending a seminar in the afternoon",
	"surgery list may overrun",
	"covering the emergency ward",
	"late start after night shift",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	facilities := make([]uuid.UUID, facilityCount)
	for i := range facilities {
		facilities[i] = uuid.New()
	}

	today := schedule.DateOf(time.Now(), cfg.Location)
	if err := seedPractitioners(ctx, pool, facilities, today, logger); err != nil {
		logger.Fatal("seed practitioners", zap.Error(err))
	}
	if err := seedContacts(ctx, pool, facilities, contactCount, logger); err != nil {
		logger.Fatal("seed contacts", zap.Error(err))
	}

	logger.Info("seed complete", zap.Strings("facilities", uuidStrings(facilities)))
}

func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, facilities []uuid.UUID, today time.Time, logger *zap.Logger) error {
	logger.Info("seeding practitioners", zap.Int("count", practitionerCount))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	effective := today.AddDate(0, 0, -30)
	for range practitionerCount {
		practitionerID := uuid.New()
		facilityID := facilities[gofakeit.Number(0, len(facilities)-1)]
		tpl := templates[gofakeit.Number(0, len(templates)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO practitioner_assignments
				(practitioner_id, facility_id, practitioner_name, status, schedule_type,
				 quota, reservation_count, walkin_count, effective_date)
			VALUES ($1, $2, $3, 'active', $4, $5, $6, $7, $8)
		`, practitionerID, facilityID, "dr. "+gofakeit.Name(), string(tpl.typ),
			tpl.quota, tpl.reservation, tpl.walkin, effective)
		if err != nil {
			return err
		}

		// two or three weekdays per practitioner
		days := gofakeit.Number(2, 3)
		first := gofakeit.Number(1, 5)
		for d := range days {
			if err := insertSchedule(ctx, tx, practitionerID, facilityID, time.Weekday((first+d*2-1)%5+1), tpl, effective); err != nil {
				return err
			}
		}

		if gofakeit.Number(1, 10) == 1 {
			from := today.AddDate(0, 0, gofakeit.Number(3, 20))
			_, err := tx.Exec(ctx, `
				INSERT INTO practitioner_leaves (id, practitioner_id, facility_id, from_date, to_date, reason)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, uuid.New(), practitionerID, facilityID, from, from.AddDate(0, 0, gofakeit.Number(0, 4)), "annual leave")
			if err != nil {
				return err
			}
		}

		if gofakeit.Number(1, 8) == 1 {
			on := today.AddDate(0, 0, gofakeit.Number(1, 14))
			_, err := tx.Exec(ctx, `
				INSERT INTO practitioner_notes (id, practitioner_id, facility_id, from_date, to_date, impacts_schedule, note)
				VALUES ($1, $2, $3, $4, $4, $5, $6)
			`, uuid.New(), practitionerID, facilityID, on, gofakeit.Bool(), gofakeit.RandomString(noteTexts))
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func insertSchedule(ctx context.Context, tx pgx.Tx, practitionerID, facilityID uuid.UUID, day time.Weekday, tpl window, effective time.Time) error {
	scheduleID := uuid.New()
	_, err := tx.Exec(ctx, `
		INSERT INTO schedules
			(id, series_id, practitioner_id, facility_id, day_of_week, from_time, to_time, schedule_type,
			 quota, reservation_count, walkin_count, status, effective_date, created_by, modified_by)
		VALUES ($1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'active', $11, 'seed', 'seed')
	`, scheduleID, practitionerID, facilityID, int(day), tpl.from.PgTime(), tpl.to.PgTime(), string(tpl.typ),
		tpl.quota, tpl.reservation, tpl.walkin, effective)
	if err != nil {
		return err
	}

	if gofakeit.Number(1, 6) != 1 {
		return nil
	}
	// block the first half hour of the session for a short period
	from := effective.AddDate(0, 0, 30+gofakeit.Number(0, 14))
	_, err = tx.Exec(ctx, `
		INSERT INTO schedule_blocks
			(id, schedule_id, from_date, to_date, from_time, to_time, reason, created_by, modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'seed', 'seed')
	`, uuid.New(), scheduleID, from, from.AddDate(0, 0, 7), tpl.from.PgTime(), (tpl.from + 30).PgTime(), "ward round")
	return err
}

func seedContacts(ctx context.Context, pool *pgxpool.Pool, facilities []uuid.UUID, count int, logger *zap.Logger) error {
	logger.Info("seeding contacts", zap.Int("count", count))

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for range end - offset {
			id := uuid.New()
			birth := gofakeit.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
			batch.Queue(`
				INSERT INTO contacts (id, name, birth_date, phone)
				VALUES ($1, $2, $3, $4)
			`, id, gofakeit.Name(), schedule.DateOf(birth, time.UTC), gofakeit.Phone())

			// roughly a third already have a record at one facility
			if gofakeit.Number(1, 3) == 1 {
				batch.Queue(`
					INSERT INTO contact_enrollments (contact_id, facility_id, mr_number)
					VALUES ($1, $2, $3)
				`, id, facilities[gofakeit.Number(0, len(facilities)-1)], gofakeit.Numerify("MR-########"))
			}
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		logger.Info("contacts seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
