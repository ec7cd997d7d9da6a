// Package ledger exposes balance reads and manual debt settlement over HTTP.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jayple/booking-dispatch/pkg/fault"
	"github.com/jayple/booking-dispatch/pkg/ledger"
	"github.com/jayple/booking-dispatch/pkg/middleware"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/storage"
)

// Handler holds the dependencies for ledger handlers.
type Handler struct {
	Store  storage.Storage
	Engine *ledger.Engine
}

// NewHandler creates a new ledger handler.
func NewHandler(store storage.Storage, engine *ledger.Engine) *Handler {
	return &Handler{Store: store, Engine: engine}
}

// DebtPaymentRequest is the request body for recording a manual debt payment.
type DebtPaymentRequest struct {
	UserID    string `json:"user_id"`
	UserType  string `json:"user_type"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// BalanceResponse reports a user's recomputed payable balance.
type BalanceResponse struct {
	UserID         string `json:"user_id"`
	PayableBalance int64  `json:"payable_balance"`
}

// PostDebtPayment handles POST /ledger/debt-payments. Operators record money
// a provider paid back outside the platform; the credit can lift an
// outstanding-balance block.
func (h *Handler) PostDebtPayment(w http.ResponseWriter, r *http.Request) {
	if _, err := middleware.RequireRole(r.Context(), middleware.RoleOperator); err != nil {
		writeError(w, err)
		return
	}

	var req DebtPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.InvalidArgument, "invalid request body: %v", err))
		return
	}
	userType := models.UserType(req.UserType)
	if userType != models.UserTypeFreelancer && userType != models.UserTypeVendor {
		writeError(w, fault.New(fault.InvalidArgument, "user_type must be FREELANCER or VENDOR"))
		return
	}

	err := h.Store.WithTransaction(r.Context(), func(ctx context.Context, tx storage.Txn) error {
		return h.Engine.PostDebtPayment(ctx, tx, req.UserID, userType, req.Amount, req.Reference)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	balance, err := ledger.GetPayableBalance(r.Context(), h.Store, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, BalanceResponse{UserID: req.UserID, PayableBalance: balance})
}

// GetBalance handles GET /ledger/users/{userID}/balance. Operators can read
// anyone; providers can read their own.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, fault.New(fault.Unauthenticated, "no verified caller"))
		return
	}
	userID := chi.URLParam(r, "userID")
	if caller.Role != middleware.RoleOperator && caller.ID != userID {
		writeError(w, fault.New(fault.PermissionDenied, "cannot read another user's balance"))
		return
	}

	balance, err := ledger.GetPayableBalance(r.Context(), h.Store, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: userID, PayableBalance: balance})
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
