package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-slot-booking/internal/api"
	"github.com/hackgods/practitioner-slot-booking/internal/app"
	"github.com/hackgods/practitioner-slot-booking/internal/config"
	"github.com/hackgods/practitioner-slot-booking/internal/logging"
	redisclient "github.com/hackgods/practitioner-slot-booking/internal/redis"
)

var version = "dev"

func main() {
	migrate := flag.Bool("migrate", false, "apply the database schema on startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, logger, app.Options{Migrate: *migrate})
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router := api.NewRouter(api.RouterConfig{
		Bookings: a.Bookings,
		Holds:    a.Holds,
		Health: api.NewHealthHandler(
			a.Pool.Ping,
			func(ctx context.Context) error { return redisclient.Ping(ctx, a.Redis) },
			cfg.Env,
			version,
		),
		Metrics:     api.NewMetrics(reg),
		Location:    cfg.Location,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
