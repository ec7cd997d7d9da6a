// Package settlements exposes the settlement batch trigger over HTTP.
package settlements

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jayple/booking-dispatch/pkg/fault"
	"github.com/jayple/booking-dispatch/pkg/middleware"
	"github.com/jayple/booking-dispatch/pkg/settlement"
)

// Handler holds the dependencies for settlement handlers.
type Handler struct {
	Engine *settlement.Engine
}

// NewHandler creates a new settlements handler.
func NewHandler(engine *settlement.Engine) *Handler {
	return &Handler{Engine: engine}
}

// Run handles POST /settlements/run. The scheduled job is the usual trigger;
// this endpoint lets an operator run the batch on demand. Re-runs within the
// same period are no-ops per user.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	if _, err := middleware.RequireRole(r.Context(), middleware.RoleOperator); err != nil {
		writeError(w, err)
		return
	}

	summary, err := h.Engine.RunWeeklySettlements(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
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
