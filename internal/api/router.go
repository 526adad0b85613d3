package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicware/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Slots      *scheduling.SlotManager
	Bookings   *scheduling.BookingEngine
	Ledger     *scheduling.InvoiceLedger
	Bridge     *scheduling.FeeBridge
	DefaultFee float64
	PgPool     *pgxpool.Pool
	Redis      *redis.Client
	Logger     zerolog.Logger
	Env        string
	Version    string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints stay outside the actor requirement.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Post("/slots", createSlotHandler(cfg.Slots))
		r.Get("/slots", listSlotsHandler(cfg.Slots))
		r.Get("/slots/{id}", getSlotHandler(cfg.Slots))
		r.Put("/slots/{id}", updateSlotHandler(cfg.Slots))
		r.Post("/slots/{id}/cancel", cancelSlotHandler(cfg.Slots))
		r.Get("/slots/{id}/bookings", listSlotBookingsHandler(cfg.Bookings))

		r.Post("/bookings", createBookingHandler(cfg.Bookings, cfg.Ledger, cfg.Logger))
		r.Get("/bookings", listBookingsHandler(cfg.Bookings))
		r.Get("/bookings/{id}", getBookingHandler(cfg.Bookings))
		r.Post("/bookings/{id}/cancel", cancelBookingHandler(cfg.Bookings))
		r.Post("/bookings/{id}/arrive", markArrivedHandler(cfg.Bookings))
		r.Post("/bookings/{id}/no-show", markNoShowHandler(cfg.Bookings))
		r.Post("/bookings/{id}/invoice", createInvoiceHandler(cfg.Ledger))

		r.Get("/invoices", listInvoicesHandler(cfg.Ledger))
		r.Get("/invoices/{id}", getInvoiceHandler(cfg.Ledger))
		r.Post("/invoices/{id}/pay", markInvoicePaidHandler(cfg.Ledger))

		r.Post("/diagnostics/results/completed", resultCompletedHandler(cfg.Bridge, cfg.DefaultFee))
	})

	return r
}
