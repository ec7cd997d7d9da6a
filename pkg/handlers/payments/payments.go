// Package payments exposes the payment sub-state transitions over HTTP.
package payments

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jayple/booking-dispatch/pkg/fault"
	"github.com/jayple/booking-dispatch/pkg/middleware"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/payments"
)

// Handler holds the dependencies for payment-related handlers.
type Handler struct {
	Engine *payments.Engine
}

// NewHandler creates a new payments handler.
func NewHandler(engine *payments.Engine) *Handler {
	return &Handler{Engine: engine}
}

// Authorize handles POST /cities/{cityID}/bookings/{bookingID}/payment/authorize.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireRole(r.Context(), middleware.RoleCustomer)
	if err != nil {
		writeError(w, err)
		return
	}

	b, err := h.Engine.Authorize(r.Context(), chi.URLParam(r, "cityID"), chi.URLParam(r, "bookingID"), caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Fail handles POST /cities/{cityID}/bookings/{bookingID}/payment/fail. Both
// the customer and the operator (relaying a gateway callback) may report a
// failure.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireRole(r.Context(), middleware.RoleCustomer, middleware.RoleOperator)
	if err != nil {
		writeError(w, err)
		return
	}

	actor := models.ActorCustomer
	if caller.Role == middleware.RoleOperator {
		actor = models.ActorOperator
	}
	b, err := h.Engine.Fail(r.Context(), chi.URLParam(r, "cityID"), chi.URLParam(r, "bookingID"), actor, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Refund handles POST /cities/{cityID}/bookings/{bookingID}/payment/refund.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.RequireRole(r.Context(), middleware.RoleCustomer)
	if err != nil {
		writeError(w, err)
		return
	}

	b, err := h.Engine.Refund(r.Context(), chi.URLParam(r, "cityID"), chi.URLParam(r, "bookingID"), caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
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
