package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-slot-booking/internal/config"
	"github.com/hackgods/practitioner-slot-booking/internal/db"
	"github.com/hackgods/practitioner-slot-booking/internal/logging"
	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	CancelRatio   float64
	ReadRatio     float64
	ScheduleLimit int
	DaysAhead     int
}

// target is one schedule occurrence the workers compete for.
type target struct {
	ScheduleID     uuid.UUID
	PractitionerID uuid.UUID
	FacilityID     uuid.UUID
	Date           time.Time
}

type DataPool struct {
	Targets  []target
	mu       sync.RWMutex
	bookings []uuid.UUID
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

// Record classifies a response: 2xx success, 409 lost race, other 4xx a
// business rejection, anything else an error.
func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status >= 400 && status < 500:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Slots   OperationMetrics
	Holds   OperationMetrics
	Booking OperationMetrics
	Cancel  OperationMetrics
	Read    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}
	logger, err := logging.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	today := schedule.DateOf(time.Now(), baseCfg.Location)
	dataPool, err := loadDataPool(ctx, pgPool, cfg, today)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("loaded targets", zap.Int("count", len(dataPool.Targets)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}
	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.6),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		ScheduleLimit: getInt("SIM_SCHEDULE_LIMIT", 200),
		DaysAhead:     getInt("SIM_DAYS_AHEAD", 14),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

// loadDataPool expands active partitioned schedules into concrete dates
// over the next DaysAhead days.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, today time.Time) (*DataPool, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, practitioner_id, facility_id, day_of_week, from_time
		FROM schedules
		WHERE status = 'active' AND schedule_type <> 'FCFS'
		LIMIT $1
	`, cfg.ScheduleLimit)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	defer rows.Close()

	dp := &DataPool{}
	for rows.Next() {
		var (
			t    target
			day  int16
			from pgtype.Time
		)
		if err := rows.Scan(&t.ScheduleID, &t.PractitionerID, &t.FacilityID, &day, &from); err != nil {
			return nil, err
		}
		for offset := 1; offset <= cfg.DaysAhead; offset++ {
			date := today.AddDate(0, 0, offset)
			if date.Weekday() == time.Weekday(day) {
				t.Date = date
				dp.Targets = append(dp.Targets, t)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dp.Targets) == 0 {
		return nil, fmt.Errorf("no schedules loaded, run the seed first")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := range s.config.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, i)
		}()
	}
	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	holder := fmt.Sprintf("sim-%d", workerID)

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng, holder)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

type slotView struct {
	Number    int    `json:"number"`
	From      string `json:"from"`
	Available bool   `json:"available"`
}

// doBooking walks the website flow: list slots, hold one, book it. Staff
// bookings are mixed in to contend on explicit numbers.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, holder string) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	channel := "WEBSITE"
	if rng.Intn(2) == 0 {
		channel = "FO"
	}

	var avail struct {
		Slots []slotView `json:"slots"`
	}
	status, _ := s.call(ctx, &s.metrics.Slots, http.MethodGet, fmt.Sprintf(
		"/slots?practitioner_id=%s&facility_id=%s&date=%s&schedule_id=%s&channel=%s&available=true",
		t.PractitionerID, t.FacilityID, t.Date.Format(time.DateOnly), t.ScheduleID, channel), nil, &avail)
	if status != http.StatusOK || len(avail.Slots) == 0 {
		return
	}
	slot := avail.Slots[rng.Intn(len(avail.Slots))]

	body := map[string]any{
		"practitioner_id": t.PractitionerID,
		"facility_id":     t.FacilityID,
		"schedule_id":     t.ScheduleID,
		"date":            t.Date.Format(time.DateOnly),
		"from":            slot.From,
		"name":            gofakeit.Name(),
		"birth_date":      gofakeit.DateRange(time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)).Format(time.DateOnly),
		"phone":           gofakeit.Phone(),
		"actor":           holder,
		"channel":         channel,
	}
	if channel == "FO" {
		body["number"] = slot.Number
	} else {
		hold := map[string]any{
			"schedule_id": t.ScheduleID,
			"date":        t.Date.Format(time.DateOnly),
			"number":      slot.Number,
			"holder_id":   holder,
		}
		if status, _ := s.call(ctx, &s.metrics.Holds, http.MethodPost, "/holds", hold, nil); status != http.StatusCreated {
			return
		}
		body["holder_id"] = holder
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	if status, _ := s.call(ctx, &s.metrics.Booking, http.MethodPost, "/bookings", body, &created); status == http.StatusCreated {
		s.pool.AddBooking(created.ID)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	s.call(ctx, &s.metrics.Cancel, http.MethodPost, "/bookings/"+id.String()+"/cancel", map[string]string{"actor": "sim"}, nil)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	s.call(ctx, &s.metrics.Read, http.MethodGet, "/bookings/"+id.String(), nil, nil)
}

// call performs one request and records it. Requests cut short by the end
// of the run are not recorded.
func (s *Simulator) call(ctx context.Context, om *OperationMetrics, method, path string, in, out any) (int, error) {
	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, 0)
		}
		return 0, err
	}
	defer resp.Body.Close()

	om.Record(latency, resp.StatusCode)
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("List slots", &s.metrics.Slots)
	printOperationReport("Place hold", &s.metrics.Holds)
	printOperationReport("Book", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
