package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"

	"github.com/hackgods/clearance-scheduling/internal/appointment"
	"github.com/hackgods/clearance-scheduling/internal/config"
	"github.com/hackgods/clearance-scheduling/internal/identity"
)

type SimConfig struct {
	APIBaseURL      string        `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
	Duration        time.Duration `envconfig:"DURATION" default:"30s"`
	Workers         int           `envconfig:"WORKERS" default:"10"`
	Students        int           `envconfig:"STUDENTS" default:"500"`
	Days            int           `envconfig:"DAYS" default:"3"`
	BookingRatio    float64       `envconfig:"BOOKING_RATIO" default:"0.5"`
	RescheduleRatio float64       `envconfig:"RESCHEDULE_RATIO" default:"0.15"`
	CancelRatio     float64       `envconfig:"CANCEL_RATIO" default:"0.05"`
	ReadRatio       float64       `envconfig:"READ_RATIO" default:"0.3"`
}

type student struct {
	UID   string
	Token string
}

// DataPool tracks the simulated students and the appointments they currently hold.
type DataPool struct {
	Students []student
	Dates    []string
	Windows  []string

	mu           sync.RWMutex
	appointments map[string]student // appointment id -> owner
}

func (dp *DataPool) AddAppointment(id string, owner student) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments[id] = owner
}

func (dp *DataPool) RemoveAppointment(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	delete(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (string, student, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return "", student{}, false
	}
	idx := rng.Intn(len(dp.appointments))
	for id, owner := range dp.appointments {
		if idx == 0 {
			return id, owner, true
		}
		idx--
	}
	return "", student{}, false
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex

	reasons sync.Map // abort reason -> *int64
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) RecordReason(reason string) {
	if reason == "" {
		return
	}
	n, _ := om.reasons.LoadOrStore(reason, new(int64))
	atomic.AddInt64(n.(*int64), 1)
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]

	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	Booking    OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	ListMine   OperationMetrics
	Slots      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}
	if baseCfg.AuthMode != config.AuthJWT {
		log.Fatalf("simulator mints its own tokens and needs AUTH_MODE=jwt")
	}

	var cfg SimConfig
	if err := envconfig.Process("SIM", &cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if err := validateConfig(&cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d students=%d days=%d booking=%.2f reschedule=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.Students, cfg.Days,
		cfg.BookingRatio, cfg.RescheduleRatio, cfg.CancelRatio, cfg.ReadRatio)

	dataPool, err := newDataPool(cfg, baseCfg)
	if err != nil {
		log.Fatalf("build data pool: %v", err)
	}
	log.Printf("prepared: %d students, %d dates, %d windows",
		len(dataPool.Students), len(dataPool.Dates), len(dataPool.Windows))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	// Run simulation
	sim.Run()

	// Print report
	sim.PrintReport()
}

func validateConfig(cfg *SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Students <= 0 || cfg.Days <= 0 {
		return fmt.Errorf("SIM_STUDENTS and SIM_DAYS must be > 0")
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total <= 0 {
		return fmt.Errorf("operation ratios must sum to a positive value")
	}
	cfg.BookingRatio /= total
	cfg.RescheduleRatio /= total
	cfg.CancelRatio /= total
	cfg.ReadRatio /= total
	return nil
}

// newDataPool mints a token per fake student so traffic spreads over many users the way
// a real enrolment rush does.
func newDataPool(cfg SimConfig, base config.Config) (*DataPool, error) {
	issuer := identity.NewJWTProvider(base.JWTSecret, cfg.Duration+time.Hour)
	domain := "school.edu"
	if len(base.StudentDomains) > 0 {
		domain = base.StudentDomains[0]
	}

	dp := &DataPool{
		Windows:      base.Windows,
		appointments: make(map[string]student),
	}

	for i := 0; i < cfg.Students; i++ {
		uid := uuid.NewString()
		email := strings.ToLower(gofakeit.Username()) + "@" + domain
		tok, err := issuer.Issue(identity.User{
			UID:         uid,
			Email:       email,
			DisplayName: gofakeit.Name(),
			Role:        identity.RoleStudent,
		})
		if err != nil {
			return nil, fmt.Errorf("issue token: %w", err)
		}
		dp.Students = append(dp.Students, student{UID: uid, Token: tok})
	}

	day := time.Now().UTC().AddDate(0, 0, 1)
	for i := 0; i < cfg.Days; i++ {
		dp.Dates = append(dp.Dates, day.AddDate(0, 0, i).Format(appointment.DateLayout))
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// Select operation based on ratios
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.RescheduleRatio:
				s.doReschedule(ctx, rng)
			case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doListMine(ctx, rng)
				} else {
					s.doSlots(ctx, rng)
				}
			}
		}
	}
}

type result struct {
	status int
	body   []byte
	err    error
}

func (s *Simulator) call(ctx context.Context, method, path, token string, payload any) (result, time.Duration) {
	var body io.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return result{err: err}, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return result{err: err}, latency
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	return result{status: resp.StatusCode, body: raw}, latency
}

func (s *Simulator) record(om *OperationMetrics, res result, latency time.Duration, ok int) {
	if res.err != nil {
		// requests cut off by the end of the run are not failures
		if errors.Is(res.err, context.DeadlineExceeded) {
			return
		}
		om.Record(latency, false, false)
		return
	}
	conflict := res.status == http.StatusConflict
	if conflict || res.status == http.StatusForbidden {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(res.body, &e)
		om.RecordReason(e.Error)
	}
	om.Record(latency, res.status == ok, conflict)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	st := s.pool.Students[rng.Intn(len(s.pool.Students))]
	req := map[string]string{
		"date":   s.pool.Dates[rng.Intn(len(s.pool.Dates))],
		"window": s.pool.Windows[rng.Intn(len(s.pool.Windows))],
	}

	res, latency := s.call(ctx, http.MethodPost, "/appointments", st.Token, req)
	s.record(&s.metrics.Booking, res, latency, http.StatusCreated)

	if res.err == nil && res.status == http.StatusCreated {
		var appt struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(res.body, &appt) == nil && appt.ID != "" {
			s.pool.AddAppointment(appt.ID, st)
		}
	}
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, owner, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	req := map[string]string{
		"date":   s.pool.Dates[rng.Intn(len(s.pool.Dates))],
		"window": s.pool.Windows[rng.Intn(len(s.pool.Windows))],
	}

	res, latency := s.call(ctx, http.MethodPost, "/appointments/"+id+"/reschedule", owner.Token, req)
	s.record(&s.metrics.Reschedule, res, latency, http.StatusOK)
	if res.err == nil && res.status == http.StatusNotFound {
		s.pool.RemoveAppointment(id)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, owner, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	res, latency := s.call(ctx, http.MethodDelete, "/appointments/"+id, owner.Token, nil)
	s.record(&s.metrics.Cancel, res, latency, http.StatusNoContent)
	if res.err == nil && res.status == http.StatusNoContent {
		s.pool.RemoveAppointment(id)
	}
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	st := s.pool.Students[rng.Intn(len(s.pool.Students))]
	res, latency := s.call(ctx, http.MethodGet, "/appointments?limit=20", st.Token, nil)
	s.record(&s.metrics.ListMine, res, latency, http.StatusOK)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	st := s.pool.Students[rng.Intn(len(s.pool.Students))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]
	res, latency := s.call(ctx, http.MethodGet, "/slots?date="+date, st.Token, nil)
	s.record(&s.metrics.Slots, res, latency, http.StatusOK)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Students: %d\n", len(s.pool.Students))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List mine", &s.metrics.ListMine)
	printOperationReport("Slot availability", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}

	var reasons []string
	om.reasons.Range(func(k, v any) bool {
		reasons = append(reasons, fmt.Sprintf("%s=%d", k, atomic.LoadInt64(v.(*int64))))
		return true
	})
	if len(reasons) > 0 {
		sort.Strings(reasons)
		fmt.Printf("  Reasons: %s\n", strings.Join(reasons, " "))
	}

	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
