// Package capacity answers read-only questions about slot usage: the per-day dashboard
// staff see and the per-window availability students pick from.
package capacity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/appointment"
	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

type WindowUsage struct {
	Window    string `json:"window"`
	Booked    int    `json:"booked"`
	Capacity  int    `json:"capacity"`
	Remaining int    `json:"remaining"`
}

type DaySummary struct {
	Date      string        `json:"date"`
	Booked    int           `json:"booked"`
	Capacity  int           `json:"capacity"`
	Remaining int           `json:"remaining"`
	Windows   []WindowUsage `json:"windows"`
}

type Service struct {
	store           docstore.Store
	windows         []string
	defaultCapacity int
	dailyCapacity   int
	cache           Cache
	ttl             time.Duration
	log             *zap.Logger
}

type Option func(*Service)

// WithDailyCapacity makes Daily report each day against a fixed daily quota instead of the
// sum of that day's slot capacities. Zero or less keeps the sum.
func WithDailyCapacity(n int) Option {
	return func(s *Service) { s.dailyCapacity = n }
}

func NewService(store docstore.Store, windows []string, defaultCapacity int, cache Cache, ttl time.Duration, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:           store,
		windows:         windows,
		defaultCapacity: defaultCapacity,
		cache:           cache,
		ttl:             ttl,
		log:             log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Daily sums every ledger per date within [from, to]; either bound may be empty. Dates with
// nothing booked are left out. A day's capacity is the daily quota when one is set, otherwise
// the sum of its ledgers' capacities.
func (s *Service) Daily(ctx context.Context, from, to string) ([]DaySummary, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("daily:%s:%s", from, to)
	if s.cache != nil {
		var cached []DaySummary
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn("capacity cache read failed", zap.String("key", key), zap.Error(err))
		} else if hit {
			return cached, nil
		}
	}

	snaps, err := s.store.Query(ctx, docstore.Collection(appointment.CollectionSlots))
	if err != nil {
		return nil, fmt.Errorf("load slot ledgers: %w", err)
	}

	byDate := make(map[string]*DaySummary)
	for _, snap := range snaps {
		l := appointment.LedgerFromSnapshot(snap, s.defaultCapacity)
		if l.Date == "" || (from != "" && l.Date < from) || (to != "" && l.Date > to) {
			continue
		}
		day, ok := byDate[l.Date]
		if !ok {
			day = &DaySummary{Date: l.Date}
			byDate[l.Date] = day
		}
		day.Booked += l.BookedCount
		day.Capacity += l.Capacity
		day.Windows = append(day.Windows, usage(l))
	}

	out := make([]DaySummary, 0, len(byDate))
	for _, day := range byDate {
		if day.Booked == 0 {
			continue
		}
		if s.dailyCapacity > 0 {
			day.Capacity = s.dailyCapacity
		}
		day.Remaining = max(day.Capacity-day.Booked, 0)
		s.sortWindows(day.Windows)
		out = append(out, *day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, out, s.ttl); err != nil {
			s.log.Warn("capacity cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

// Availability lists every configured window on date. Windows without a ledger report the
// default capacity and nothing booked.
func (s *Service) Availability(ctx context.Context, date string) ([]WindowUsage, error) {
	if _, err := time.Parse(appointment.DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", appointment.ErrValidation, date)
	}

	snaps, err := s.store.Query(ctx, appointment.LedgersOn(date))
	if err != nil {
		return nil, fmt.Errorf("load slot ledgers for %s: %w", date, err)
	}

	ledgers := make(map[string]appointment.SlotLedger, len(snaps))
	for _, snap := range snaps {
		l := appointment.LedgerFromSnapshot(snap, s.defaultCapacity)
		ledgers[l.Window] = l
	}

	out := make([]WindowUsage, 0, len(s.windows))
	for _, w := range s.windows {
		l, ok := ledgers[w]
		if !ok {
			l = appointment.SlotLedger{Window: w, Capacity: s.defaultCapacity}
		}
		out = append(out, usage(l))
	}
	return out, nil
}

func usage(l appointment.SlotLedger) WindowUsage {
	return WindowUsage{
		Window:    l.Window,
		Booked:    l.BookedCount,
		Capacity:  l.Capacity,
		Remaining: l.Remaining(),
	}
}

// sortWindows puts configured windows first in configured order, then any others by name.
func (s *Service) sortWindows(ws []WindowUsage) {
	rank := make(map[string]int, len(s.windows))
	for i, w := range s.windows {
		rank[w] = i
	}
	sort.SliceStable(ws, func(i, j int) bool {
		ri, iok := rank[ws[i].Window]
		rj, jok := rank[ws[j].Window]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return ws[i].Window < ws[j].Window
	})
}

func validateRange(from, to string) error {
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(appointment.DateLayout, d); err != nil {
			return fmt.Errorf("%w: date %q is not YYYY-MM-DD", appointment.ErrValidation, d)
		}
	}
	if from != "" && to != "" && from > to {
		return fmt.Errorf("%w: from %s is after to %s", appointment.ErrValidation, from, to)
	}
	return nil
}
