package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Bookings    BookingService
	Holds       HoldStore
	Health      *HealthHandler
	Metrics     *Metrics
	Location    *time.Location
	CORSOrigins []string
	RateLimit   int // requests per second per IP on write endpoints
	Logger      *zap.Logger
	Now         func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &handler{
		svc:     cfg.Bookings,
		holds:   cfg.Holds,
		metrics: cfg.Metrics,
		loc:     cfg.Location,
		now:     cfg.Now,
		log:     cfg.Logger,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(cfg.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)
	r.Handle("/metrics", cfg.Metrics.Handler())

	r.Get("/slots", h.listSlots)
	r.Get("/holds", h.listHolds)
	r.Get("/bookings", h.listBookings)
	r.Get("/bookings/{id}", h.getBooking)
	r.Get("/bookings/{id}/history", h.bookingHistory)
	r.Get("/worklist", h.listWorklist)
	r.Get("/worklist/backlog", h.worklistBacklog)
	r.Get("/worklist/{id}/feasibility", h.worklistFeasibility)

	r.Group(func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimit, time.Second))
		}

		r.Post("/holds", h.createHold)
		r.Post("/bookings", h.createBooking)
		r.Post("/bookings/{id}/cancel", h.cancelBooking)
		r.Post("/bookings/{id}/reschedule", h.rescheduleBooking)
		r.Post("/bookings/{id}/promote", h.promoteBooking)
		r.Post("/bookings/{id}/check-in", h.checkInBooking)
		r.Post("/worklist", h.moveToWorklist)
	})

	return r
}
