package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-slot-booking/internal/booking"
	"github.com/hackgods/practitioner-slot-booking/internal/config"
	"github.com/hackgods/practitioner-slot-booking/internal/db"
	"github.com/hackgods/practitioner-slot-booking/internal/his"
	"github.com/hackgods/practitioner-slot-booking/internal/identity"
	"github.com/hackgods/practitioner-slot-booking/internal/notify"
	redisclient "github.com/hackgods/practitioner-slot-booking/internal/redis"
	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

// App holds the process-wide connections and the booking services built
// on them.
type App struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Holds    *redisclient.HoldCache
	Bookings *booking.Manager

	broker *amqp091.Connection
	log    *zap.Logger
}

type Options struct {
	// Migrate applies the embedded schema after connecting.
	Migrate bool
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger, opts Options) (*App, error) {
	a := &App{log: log}

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.Pool = pool
	log.Info("connected to postgres")

	if opts.Migrate {
		if err := db.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		log.Info("schema applied")
	}

	rdb, err := redisclient.Connect(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.Redis = rdb
	a.Holds = redisclient.NewHoldCache(rdb, cfg.HoldTTL)
	log.Info("connected to redis")

	var events booking.Publisher = notify.NewLogPublisher(log)
	if cfg.AMQPURL != "" {
		conn, pub, err := notify.Dial(cfg.AMQPURL, cfg.EventsQueue)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		a.broker = conn
		events = notify.Fanout{events, pub}
		log.Info("connected to rabbitmq", zap.String("queue", cfg.EventsQueue))
	}

	catalog := schedule.NewPgCatalog(pool)
	repo := booking.NewPgRepository(pool)
	pipeline := booking.NewPipeline(
		catalog,
		repo,
		a.Holds,
		schedule.NewGenerator(cfg.NumberingBase),
		cfg.LeadTime,
		cfg.Location,
		log.Named("validation"),
	)
	a.Bookings = booking.NewManager(
		repo,
		catalog,
		pipeline,
		his.NewClient(cfg.HISBaseURL, cfg.HISTimeout),
		events,
		identity.NewPgResolver(pool),
		booking.ManagerConfig{
			Location:        cfg.Location,
			WorklistHorizon: cfg.WorklistHorizon,
		},
		log.Named("booking"),
	)
	return a, nil
}

func (a *App) Close() {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.log.Warn("error closing rabbitmq", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.log.Warn("error closing redis", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
