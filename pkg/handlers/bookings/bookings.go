// Package bookings exposes the booking lifecycle over HTTP.
package bookings

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jayple/booking-dispatch/pkg/booking"
	"github.com/jayple/booking-dispatch/pkg/fault"
	"github.com/jayple/booking-dispatch/pkg/middleware"
	"github.com/jayple/booking-dispatch/pkg/models"
)

// Handler holds the dependencies for booking-related handlers.
type Handler struct {
	Engine *booking.Engine
}

// NewHandler creates a new booking handler.
func NewHandler(engine *booking.Engine) *Handler {
	return &Handler{Engine: engine}
}

// CreateBookingRequest is the request body for creating a booking.
type CreateBookingRequest struct {
	ServiceID      string    `json:"service_id"`
	Type           string    `json:"type"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

// CreateBookingResponse wraps the created booking with the idempotency
// outcome.
type CreateBookingResponse struct {
	Booking       *models.Booking `json:"booking"`
	AlreadyExists bool            `json:"already_exists"`
}

// RespondRequest is the request body for a provider's accept or reject.
type RespondRequest struct {
	Action string `json:"action"`
}

// CreateBooking handles POST /cities/{cityID}/bookings.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireRole(r.Context(), middleware.RoleCustomer)
	if err != nil {
		writeError(w, err)
		return
	}

	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.InvalidArgument, "invalid request body: %v", err))
		return
	}

	b, alreadyExists, err := h.Engine.Create(r.Context(), booking.CreateRequest{
		CustomerID:     caller.ID,
		CityID:         chi.URLParam(r, "cityID"),
		ServiceID:      req.ServiceID,
		Type:           models.BookingType(req.Type),
		ScheduledAt:    req.ScheduledAt,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if alreadyExists {
		status = http.StatusOK
	}
	writeJSON(w, status, CreateBookingResponse{Booking: b, AlreadyExists: alreadyExists})
}

// GetBooking handles GET /cities/{cityID}/bookings/{bookingID}.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.CallerFrom(r.Context()); !ok {
		writeError(w, fault.New(fault.Unauthenticated, "no verified caller"))
		return
	}

	b, err := h.Engine.Get(r.Context(), chi.URLParam(r, "cityID"), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ListMyBookings handles GET /cities/{cityID}/bookings, returning the
// caller's own bookings.
func (h *Handler) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireRole(r.Context(), middleware.RoleCustomer)
	if err != nil {
		writeError(w, err)
		return
	}

	bs, err := h.Engine.ListByCustomer(r.Context(), chi.URLParam(r, "cityID"), caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bs)
}

// GetBookingHistory handles GET /cities/{cityID}/bookings/{bookingID}/events.
func (h *Handler) GetBookingHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.CallerFrom(r.Context()); !ok {
		writeError(w, fault.New(fault.Unauthenticated, "no verified caller"))
		return
	}

	events, err := h.Engine.History(r.Context(), chi.URLParam(r, "cityID"), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// VendorRespond handles POST /cities/{cityID}/bookings/{bookingID}/vendor-response.
func (h *Handler) VendorRespond(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireRole(r.Context(), middleware.RoleVendor)
	if err != nil {
		writeError(w, err)
		return
	}
	action, err := parseAction(r)
	if err != nil {
		writeError(w, err)
		return
	}

	b, err := h.Engine.VendorRespond(r.Context(), chi.URLParam(r, "cityID"), chi.URLParam(r, "bookingID"), caller.ID, action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// FreelancerRespond handles POST /cities/{cityID}/bookings/{bookingID}/freelancer-response.
func (h *Handler) FreelancerRespond(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireRole(r.Context(), middleware.RoleFreelancer)
	if err != nil {
		writeError(w, err)
		return
	}
	action, err := parseAction(r)
	if err != nil {
		writeError(w, err)
		return
	}

	b, err := h.Engine.FreelancerRespond(r.Context(), chi.URLParam(r, "cityID"), chi.URLParam(r, "bookingID"), caller.ID, action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// StartBooking handles POST /cities/{cityID}/bookings/{bookingID}/start.
func (h *Handler) StartBooking(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireRole(r.Context(), middleware.RoleVendor, middleware.RoleFreelancer)
	if err != nil {
		writeError(w, err)
		return
	}

	b, err := h.Engine.Start(r.Context(), chi.URLParam(r, "cityID"), chi.URLParam(r, "bookingID"), caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CompleteBooking handles POST /cities/{cityID}/bookings/{bookingID}/complete.
func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireRole(r.Context(), middleware.RoleVendor, middleware.RoleFreelancer)
	if err != nil {
		writeError(w, err)
		return
	}

	b, err := h.Engine.Complete(r.Context(), chi.URLParam(r, "cityID"), chi.URLParam(r, "bookingID"), caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CancelBooking handles POST /cities/{cityID}/bookings/{bookingID}/cancel.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireRole(r.Context(), middleware.RoleCustomer)
	if err != nil {
		writeError(w, err)
		return
	}

	b, err := h.Engine.Cancel(r.Context(), chi.URLParam(r, "cityID"), chi.URLParam(r, "bookingID"), caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func parseAction(r *http.Request) (booking.ResponseAction, error) {
	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", fault.New(fault.InvalidArgument, "invalid request body: %v", err)
	}
	switch booking.ResponseAction(req.Action) {
	case booking.Accept:
		return booking.Accept, nil
	case booking.Reject:
		return booking.Reject, nil
	}
	return "", fault.New(fault.InvalidArgument, "action must be ACCEPT or REJECT")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("Failed to write response: %v", err), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(fault.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(fault.CodeOf(err)),
		"error": err.Error(),
	})
}
