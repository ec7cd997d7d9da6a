// Package handlers wires the per-component HTTP handlers onto one chi router.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jayple/booking-dispatch/pkg/handlers/bookings"
	ledgerhandler "github.com/jayple/booking-dispatch/pkg/handlers/ledger"
	paymenthandler "github.com/jayple/booking-dispatch/pkg/handlers/payments"
	"github.com/jayple/booking-dispatch/pkg/handlers/settlements"
	"github.com/jayple/booking-dispatch/pkg/middleware"
)

// Deps bundles the handlers mounted by NewRouter.
type Deps struct {
	Bookings    *bookings.Handler
	Payments    *paymenthandler.Handler
	Settlements *settlements.Handler
	Ledger      *ledgerhandler.Handler
	Logger      *slog.Logger
}

// NewRouter builds the service router with logging, recovery and identity
// middleware applied to every route.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewStructuredLogger(d.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Identity)

	r.Route("/cities/{cityID}/bookings", func(r chi.Router) {
		r.Post("/", d.Bookings.CreateBooking)
		r.Get("/", d.Bookings.ListMyBookings)
		r.Route("/{bookingID}", func(r chi.Router) {
			r.Get("/", d.Bookings.GetBooking)
			r.Get("/events", d.Bookings.GetBookingHistory)
			r.Post("/vendor-response", d.Bookings.VendorRespond)
			r.Post("/freelancer-response", d.Bookings.FreelancerRespond)
			r.Post("/start", d.Bookings.StartBooking)
			r.Post("/complete", d.Bookings.CompleteBooking)
			r.Post("/cancel", d.Bookings.CancelBooking)
			r.Post("/payment/authorize", d.Payments.Authorize)
			r.Post("/payment/fail", d.Payments.Fail)
			r.Post("/payment/refund", d.Payments.Refund)
		})
	})

	r.Post("/settlements/run", d.Settlements.Run)

	r.Route("/ledger", func(r chi.Router) {
		r.Post("/debt-payments", d.Ledger.PostDebtPayment)
		r.Get("/users/{userID}/balance", d.Ledger.GetBalance)
	})

	return r
}
