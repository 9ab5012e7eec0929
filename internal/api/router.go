package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/clearance-scheduling/internal/appointment"
	"github.com/hackgods/clearance-scheduling/internal/capacity"
	"github.com/hackgods/clearance-scheduling/internal/clearance"
	"github.com/hackgods/clearance-scheduling/internal/identity"
)

type RouterConfig struct {
	Service        *appointment.Service
	Capacity       *capacity.Service
	Clearance      *clearance.Service
	Reconciler     ReconcileRunner
	Identity       identity.Provider
	Logger         *zap.Logger
	Store          Pinger
	StoreBackend   string
	Redis          *redis.Client
	RateLimitRPS   float64
	RateLimitBurst int
	TrustProxy     bool
	RequestTimeout time.Duration
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(LoggingMiddleware(log))

	// Health endpoints
	health := NewHealthHandler(cfg.Store, cfg.StoreBackend, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(RateLimitMiddleware(NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)))
		}
		r.Use(TimeoutMiddleware(cfg.RequestTimeout))
		r.Use(AuthMiddleware(cfg.Identity))

		// Appointment endpoints
		r.Post("/appointments", bookAppointmentHandler(cfg.Service, log))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service, log))
		r.Get("/appointments/conflicts", conflictsHandler(cfg.Service, log))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service, log))
		r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service, log))
		r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Service, log))

		r.Get("/slots", slotsHandler(cfg.Capacity, log))
		r.Get("/windows", windowsHandler(cfg.Service))
		if cfg.Clearance != nil {
			r.Get("/clearance", myClearanceHandler(cfg.Clearance, log))
		}

		// Staff endpoints
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireStaff)
			r.Post("/appointments/{id}/status", setStatusHandler(cfg.Service, log))
			r.Get("/capacity", capacityHandler(cfg.Capacity, log))
			if cfg.Clearance != nil {
				r.Get("/clearance/{uid}", clearanceHandler(cfg.Clearance, log))
			}
			if cfg.Reconciler != nil {
				r.Post("/reconcile", reconcileHandler(cfg.Reconciler, log))
			}
		})
	})

	return r
}
