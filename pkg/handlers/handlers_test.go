package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jayple/booking-dispatch/pkg/assignment"
	"github.com/jayple/booking-dispatch/pkg/booking"
	"github.com/jayple/booking-dispatch/pkg/clock"
	"github.com/jayple/booking-dispatch/pkg/handlers/bookings"
	ledgerhandler "github.com/jayple/booking-dispatch/pkg/handlers/ledger"
	paymenthandler "github.com/jayple/booking-dispatch/pkg/handlers/payments"
	"github.com/jayple/booking-dispatch/pkg/handlers/settlements"
	"github.com/jayple/booking-dispatch/pkg/ledger"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/payments"
	"github.com/jayple/booking-dispatch/pkg/scheduler/mocks"
	"github.com/jayple/booking-dispatch/pkg/settlement"
	"github.com/jayple/booking-dispatch/pkg/storage/memory"
)

var testTime = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

type env struct {
	store  *memory.Store
	sched  *mocks.Scheduler
	router http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.New()
	sched := mocks.NewScheduler(t)
	clk := clock.NewFake(testTime)
	logger := slog.Default()

	ledgerEngine := ledger.NewEngine(clk)
	assignEngine := assignment.NewEngine(clk)
	paymentEngine := payments.NewEngine(store, ledgerEngine, clk)
	bookingEngine := booking.NewEngine(store, sched, assignEngine, ledgerEngine, paymentEngine, clk, logger)
	settlementEngine := settlement.NewEngine(store, ledgerEngine, clk, logger)

	router := NewRouter(Deps{
		Bookings:    bookings.NewHandler(bookingEngine),
		Payments:    paymenthandler.NewHandler(paymentEngine),
		Settlements: settlements.NewHandler(settlementEngine),
		Ledger:      ledgerhandler.NewHandler(store, ledgerEngine),
		Logger:      logger,
	})
	return &env{store: store, sched: sched, router: router}
}

func (e *env) do(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
		req.Header.Set("X-User-Role", role)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *env) seedCatalog() {
	e.store.SeedService(models.Service{
		ServiceID: "svc1",
		CityID:    "blr",
		Name:      "Haircut at home",
		Category:  "haircut",
		Type:      models.Home,
		Price:     1000,
	})
	e.store.SeedFreelancer(models.Freelancer{
		UserID:            "fl1",
		CityID:            "blr",
		Status:            models.FreelancerActive,
		IsOnline:          true,
		ServiceCategories: []string{"haircut"},
		PriorityTier:      "gold",
		LastActiveAt:      testTime.Add(-time.Hour),
	})
}

func createBody() bookings.CreateBookingRequest {
	return bookings.CreateBookingRequest{
		ServiceID:   "svc1",
		Type:        string(models.Home),
		ScheduledAt: testTime.Add(24 * time.Hour),
	}
}

func TestCreateBookingEndpoint(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		e := newEnv(t)
		e.seedCatalog()
		e.sched.On("ScheduleAssignmentTimeout", mock.Anything, mock.Anything).Return(nil)

		rr := e.do(t, http.MethodPost, "/cities/blr/bookings", "cust1", "customer", createBody())

		assert.Equal(t, http.StatusCreated, rr.Code)
		var resp bookings.CreateBookingResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.False(t, resp.AlreadyExists)
		assert.Equal(t, models.ASSIGNED, resp.Booking.Status)
		assert.Equal(t, "fl1", resp.Booking.FreelancerID)
	})

	t.Run("Replay Returns OK", func(t *testing.T) {
		e := newEnv(t)
		e.seedCatalog()
		e.sched.On("ScheduleAssignmentTimeout", mock.Anything, mock.Anything).Return(nil)

		body := createBody()
		body.IdempotencyKey = "idem-1"

		first := e.do(t, http.MethodPost, "/cities/blr/bookings", "cust1", "customer", body)
		assert.Equal(t, http.StatusCreated, first.Code)

		second := e.do(t, http.MethodPost, "/cities/blr/bookings", "cust1", "customer", body)
		assert.Equal(t, http.StatusOK, second.Code)
		var resp bookings.CreateBookingResponse
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
		assert.True(t, resp.AlreadyExists)
	})

	t.Run("No Identity", func(t *testing.T) {
		e := newEnv(t)
		rr := e.do(t, http.MethodPost, "/cities/blr/bookings", "", "", createBody())
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Wrong Role", func(t *testing.T) {
		e := newEnv(t)
		rr := e.do(t, http.MethodPost, "/cities/blr/bookings", "fl1", "freelancer", createBody())
		assert.Equal(t, http.StatusForbidden, rr.Code)

		var errResp map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
		assert.Equal(t, "PERMISSION_DENIED", errResp["code"])
		assert.NotEmpty(t, errResp["error"])
	})

	t.Run("Malformed Body", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/cities/blr/bookings", bytes.NewReader([]byte("{not json")))
		req.Header.Set("X-User-Id", "cust1")
		req.Header.Set("X-User-Role", "customer")
		rr := httptest.NewRecorder()
		e.router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Unknown Service", func(t *testing.T) {
		e := newEnv(t)
		rr := e.do(t, http.MethodPost, "/cities/blr/bookings", "cust1", "customer", createBody())
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	e.seedCatalog()
	e.sched.On("ScheduleAssignmentTimeout", mock.Anything, mock.Anything).Return(nil)

	rr := e.do(t, http.MethodPost, "/cities/blr/bookings", "cust1", "customer", createBody())
	require.Equal(t, http.StatusCreated, rr.Code)
	var created bookings.CreateBookingResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	base := "/cities/blr/bookings/" + created.Booking.BookingID

	rr = e.do(t, http.MethodPost, base+"/freelancer-response", "fl1", "freelancer", bookings.RespondRequest{Action: "ACCEPT"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(t, http.MethodPost, base+"/payment/authorize", "cust1", "customer", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(t, http.MethodPost, base+"/start", "fl1", "freelancer", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(t, http.MethodPost, base+"/complete", "fl1", "freelancer", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var completed models.Booking
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &completed))
	assert.Equal(t, models.COMPLETED, completed.Status)
	assert.Equal(t, models.PaymentCaptured, completed.Payment.Status)

	rr = e.do(t, http.MethodGet, base+"/events", "cust1", "customer", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var events []models.StatusEvent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &events))
	assert.Equal(t, models.COMPLETED, events[len(events)-1].To)

	// The freelancer's balance is visible to operators.
	rr = e.do(t, http.MethodGet, "/ledger/users/fl1/balance", "ops1", "operator", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var balance ledgerhandler.BalanceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &balance))
	assert.Equal(t, int64(900), balance.PayableBalance)
}

func TestFreelancerResponseValidation(t *testing.T) {
	e := newEnv(t)
	e.seedCatalog()
	e.sched.On("ScheduleAssignmentTimeout", mock.Anything, mock.Anything).Return(nil)

	rr := e.do(t, http.MethodPost, "/cities/blr/bookings", "cust1", "customer", createBody())
	require.Equal(t, http.StatusCreated, rr.Code)
	var created bookings.CreateBookingResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	base := "/cities/blr/bookings/" + created.Booking.BookingID

	rr = e.do(t, http.MethodPost, base+"/freelancer-response", "fl1", "freelancer", bookings.RespondRequest{Action: "MAYBE"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodPost, base+"/freelancer-response", "cust1", "customer", bookings.RespondRequest{Action: "ACCEPT"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestSettlementsRunEndpoint(t *testing.T) {
	t.Run("Operator Only", func(t *testing.T) {
		e := newEnv(t)
		rr := e.do(t, http.MethodPost, "/settlements/run", "cust1", "customer", nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("Empty Batch", func(t *testing.T) {
		e := newEnv(t)
		rr := e.do(t, http.MethodPost, "/settlements/run", "ops1", "operator", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var summary settlement.Summary
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
		assert.Equal(t, "2026-W36", summary.PeriodID)
		assert.Equal(t, 0, summary.Accounts)
	})
}

func TestDebtPaymentEndpoint(t *testing.T) {
	t.Run("Operator Posts Payment", func(t *testing.T) {
		e := newEnv(t)
		rr := e.do(t, http.MethodPost, "/ledger/debt-payments", "ops1", "operator", ledgerhandler.DebtPaymentRequest{
			UserID:    "fl1",
			UserType:  "FREELANCER",
			Amount:    5000,
			Reference: "upi-123",
		})
		require.Equal(t, http.StatusCreated, rr.Code)

		var balance ledgerhandler.BalanceResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &balance))
		assert.Equal(t, int64(5000), balance.PayableBalance)
	})

	t.Run("Non Operator Rejected", func(t *testing.T) {
		e := newEnv(t)
		rr := e.do(t, http.MethodPost, "/ledger/debt-payments", "fl1", "freelancer", ledgerhandler.DebtPaymentRequest{
			UserID:    "fl1",
			UserType:  "FREELANCER",
			Amount:    5000,
			Reference: "upi-123",
		})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("Invalid User Type", func(t *testing.T) {
		e := newEnv(t)
		rr := e.do(t, http.MethodPost, "/ledger/debt-payments", "ops1", "operator", ledgerhandler.DebtPaymentRequest{
			UserID:    "cust1",
			UserType:  "CUSTOMER",
			Amount:    5000,
			Reference: "upi-123",
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestBalanceEndpointAuthorization(t *testing.T) {
	e := newEnv(t)

	// A freelancer can read their own balance but nobody else's.
	rr := e.do(t, http.MethodGet, "/ledger/users/fl1/balance", "fl1", "freelancer", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(t, http.MethodGet, "/ledger/users/fl2/balance", "fl1", "freelancer", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
