package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/config"
	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentRescheduled   = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled     = "APPOINTMENT_CANCELLED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
)

// Event describes a committed change to an appointment.
type Event struct {
	Type           string    `json:"type"`
	AppointmentID  string    `json:"appointment_id"`
	UserID         string    `json:"user_id"`
	Date           string    `json:"date"`
	Window         string    `json:"window"`
	Status         Status    `json:"status"`
	PreviousDate   string    `json:"previous_date,omitempty"`
	PreviousWindow string    `json:"previous_window,omitempty"`
	PreviousStatus Status    `json:"previous_status,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Service struct {
	store     docstore.Store
	publisher EventPublisher
	cfg       config.Config
	log       *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	windows map[string]struct{}
}

type Option func(*Service)

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store docstore.Store, cfg config.Config, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		cfg:     cfg,
		log:     log,
		tracer:  noop.NewTracerProvider().Tracer(""),
		now:     func() time.Time { return time.Now().UTC() },
		windows: make(map[string]struct{}, len(cfg.Windows)),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	for _, w := range cfg.Windows {
		s.windows[w] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Windows lists the bookable time windows in configured order.
func (s *Service) Windows() []string {
	out := make([]string, len(s.cfg.Windows))
	copy(out, s.cfg.Windows)
	return out
}

func (s *Service) DefaultCapacity() int {
	return s.cfg.DefaultCapacity
}

// Get loads one appointment.
func (s *Service) Get(ctx context.Context, id string) (*Appointment, error) {
	if id == "" {
		return nil, invalid("appointment id is required")
	}
	snap, err := s.store.Get(ctx, docstore.Doc(CollectionAppointments, id))
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !snap.Exists {
		return nil, ErrAppointmentNotFound
	}
	a := AppointmentFromSnapshot(snap)
	return &a, nil
}

// ListByUser returns a user's appointments, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]Appointment, error) {
	if userID == "" {
		return nil, invalid("user id is required")
	}
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}

	q := docstore.Collection(CollectionAppointments).
		Where(fieldUserID, userID).
		Order(fieldCreatedAt, true).
		Take(limit)
	snaps, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list appointments by user: %w", err)
	}

	out := make([]Appointment, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, AppointmentFromSnapshot(snap))
	}
	return out, nil
}

func (s *Service) validateSlot(date, window string) error {
	if date == "" {
		return invalid("date is required")
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return invalid("date %q is not YYYY-MM-DD", date)
	}
	if window == "" {
		return invalid("window is required")
	}
	if _, ok := s.windows[window]; !ok {
		return invalid("window %q is not offered", window)
	}
	return nil
}

func (s *Service) newAppointmentID(userID, slotID string) string {
	if s.cfg.DeterministicIDs {
		return userID + "_" + slotID
	}
	return uuid.NewString()
}

func (s *Service) userCapEnabled() bool {
	return s.cfg.MaxActivePerUser > 0
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finishSpan records the outcome. Abort reasons are expected outcomes, not span errors.
func finishSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		return
	}
	if reason, ok := ReasonOf(err); ok {
		span.SetAttributes(attribute.String("abort.reason", string(reason)))
		return
	}
	if errors.Is(err, ErrValidation) {
		span.SetAttributes(attribute.Bool("validation.failed", true))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (s *Service) logEvent(ctx context.Context, ev Event) {
	ev.OccurredAt = s.now()
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish appointment event",
			zap.String("event_type", ev.Type),
			zap.String("appointment_id", ev.AppointmentID),
			zap.Error(err),
		)
	}
}
