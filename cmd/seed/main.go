package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/appointment"
	"github.com/hackgods/clearance-scheduling/internal/bootstrap"
	"github.com/hackgods/clearance-scheduling/internal/config"
	"github.com/hackgods/clearance-scheduling/internal/logging"
)

// seed books fake students into the configured store through the booking engine, so the
// ledgers and user counters it leaves behind are exactly what real traffic would produce.
func main() {
	students := flag.Int("students", 1000, "number of fake students to book")
	days := flag.Int("days", 5, "number of days, starting tomorrow, to spread bookings over")
	seed := flag.Uint64("seed", 0, "gofakeit seed, 0 for random")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	deps, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("dependency init error", zap.Error(err))
	}
	defer deps.Close()

	faker := gofakeit.New(*seed)
	svc := appointment.NewService(deps.Store, cfg, logger.Named("seed"))

	dates := make([]string, 0, *days)
	start := time.Now().UTC().AddDate(0, 0, 1)
	for i := 0; i < *days; i++ {
		dates = append(dates, start.AddDate(0, 0, i).Format(appointment.DateLayout))
	}

	logger.Info("seeding appointments", zap.Int("students", *students), zap.Strings("dates", dates))

	var booked, rejected int
	rejectedBy := map[appointment.Reason]int{}
	for i := 0; i < *students; i++ {
		uid := uuid.NewString()
		method := appointment.PaymentEWallet
		if faker.Bool() {
			method = appointment.PaymentPayAtSchool
		}

		_, err := svc.Book(ctx, appointment.BookRequest{
			UserID:        uid,
			Date:          dates[faker.Number(0, len(dates)-1)],
			Window:        cfg.Windows[faker.Number(0, len(cfg.Windows)-1)],
			PaymentMethod: method,
		})
		if reason, ok := appointment.ReasonOf(err); ok {
			rejected++
			rejectedBy[reason]++
			continue
		}
		if err != nil {
			logger.Fatal("book appointment", zap.String("user_id", uid), zap.Error(err))
		}
		booked++

		if booked%100 == 0 {
			logger.Info("appointments seeded", zap.Int("booked", booked), zap.Int("of", *students))
		}
	}

	fields := []zap.Field{zap.Int("booked", booked), zap.Int("rejected", rejected)}
	for reason, n := range rejectedBy {
		fields = append(fields, zap.Int(string(reason), n))
	}
	logger.Info("seed complete", fields...)
}
