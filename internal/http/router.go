package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/showtime-seats/internal/idempotency"
	"github.com/robertarktes/showtime-seats/internal/observability"
	"github.com/robertarktes/showtime-seats/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(JWTMiddleware(h.cfg.JWTSecret))

		r.Get("/showtimes/{showtimeId}", h.GetShowtime)
		r.Get("/seats/{showtimeId}", h.GetSeats)
		r.Get("/bookings/{id}", h.GetBooking)
		r.Get("/users/{userId}/bookings", h.ListUserBookings)
		r.Post("/payments/callback", h.PaymentCallback)

		r.Group(func(r chi.Router) {
			if rl != nil {
				r.Use(RateLimitMiddleware(rl))
			}
			if idemp != nil {
				r.Use(IdempotencyMiddleware(idemp))
			}
			r.Post("/seats/reserve", h.ReserveSeat)
			r.Post("/seats/release", h.ReleaseSeat)
			r.Delete("/seats/{showtimeId}/{seatId}", h.ClearSeat)
			r.Post("/bookings", h.CreateBooking)
		})
	})

	return r
}
