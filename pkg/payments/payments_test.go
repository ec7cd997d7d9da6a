package payments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jayple/booking-dispatch/pkg/clock"
	"github.com/jayple/booking-dispatch/pkg/fault"
	"github.com/jayple/booking-dispatch/pkg/ledger"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/storage"
	"github.com/jayple/booking-dispatch/pkg/storage/memory"
)

var testTime = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

func newEngine(store *memory.Store) *Engine {
	clk := clock.NewFake(testTime)
	return NewEngine(store, ledger.NewEngine(clk), clk)
}

func seedBooking(t *testing.T, store *memory.Store, b models.Booking) {
	t.Helper()
	b.Version = 1
	b.CreatedAt = testTime
	b.UpdatedAt = testTime
	err := store.WithTransaction(context.Background(), func(ctx context.Context, tx storage.Txn) error {
		tx.CreateBooking(&b)
		return nil
	})
	require.NoError(t, err)
}

func onlineBooking(status models.BookingStatus, payStatus models.PaymentStatus) models.Booking {
	return models.Booking{
		BookingID:    "bk1",
		CityID:       "blr",
		CustomerID:   "cust1",
		ServiceID:    "svc1",
		Type:         models.Home,
		Status:       status,
		FreelancerID: "fl1",
		Payment: models.Payment{
			Mode:     models.Online,
			Status:   payStatus,
			Amount:   1000,
			Currency: "INR",
		},
	}
}

func TestAuthorize(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		store := memory.New()
		seedBooking(t, store, onlineBooking(models.CONFIRMED, models.PaymentPending))

		b, err := newEngine(store).Authorize(context.Background(), "blr", "bk1", "cust1")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentAuthorized, b.Payment.Status)
		assert.True(t, strings.HasPrefix(b.Payment.ProviderRef, "mockpay_"))

		events, err := store.ListStatusEvents(context.Background(), "bk1")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, events[0].From, events[0].To)
		assert.Equal(t, string(models.PaymentAuthorized), events[0].Metadata["payment_status"])
	})

	t.Run("wrong customer", func(t *testing.T) {
		store := memory.New()
		seedBooking(t, store, onlineBooking(models.CONFIRMED, models.PaymentPending))

		_, err := newEngine(store).Authorize(context.Background(), "blr", "bk1", "intruder")
		assert.Equal(t, fault.PermissionDenied, fault.CodeOf(err))
	})

	t.Run("unknown booking", func(t *testing.T) {
		_, err := newEngine(memory.New()).Authorize(context.Background(), "blr", "nope", "cust1")
		assert.Equal(t, fault.NotFound, fault.CodeOf(err))
	})

	t.Run("offline booking", func(t *testing.T) {
		store := memory.New()
		b := onlineBooking(models.CONFIRMED, models.PaymentNotRequired)
		b.Payment.Mode = models.Offline
		seedBooking(t, store, b)

		_, err := newEngine(store).Authorize(context.Background(), "blr", "bk1", "cust1")
		assert.Equal(t, fault.FailedPrecondition, fault.CodeOf(err))
	})

	t.Run("not yet confirmed", func(t *testing.T) {
		store := memory.New()
		seedBooking(t, store, onlineBooking(models.ASSIGNED, models.PaymentPending))

		_, err := newEngine(store).Authorize(context.Background(), "blr", "bk1", "cust1")
		assert.Equal(t, fault.FailedPrecondition, fault.CodeOf(err))
	})

	t.Run("already authorized", func(t *testing.T) {
		store := memory.New()
		seedBooking(t, store, onlineBooking(models.CONFIRMED, models.PaymentAuthorized))

		_, err := newEngine(store).Authorize(context.Background(), "blr", "bk1", "cust1")
		assert.Equal(t, fault.FailedPrecondition, fault.CodeOf(err))
	})
}

func TestFail(t *testing.T) {
	t.Run("authorized payment fails the booking", func(t *testing.T) {
		store := memory.New()
		seedBooking(t, store, onlineBooking(models.CONFIRMED, models.PaymentAuthorized))

		b, err := newEngine(store).Fail(context.Background(), "blr", "bk1", models.ActorOperator, "ops1")
		require.NoError(t, err)
		assert.Equal(t, models.FAILED, b.Status)
		assert.Equal(t, models.PaymentFailed, b.FailureReason)
		assert.Equal(t, models.PaymentFailedState, b.Payment.Status)

		events, err := store.ListStatusEvents(context.Background(), "bk1")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, events[0].From, events[0].To)
		assert.Equal(t, models.FAILED, events[1].To)
		assert.Equal(t, string(models.PaymentFailed), events[1].Metadata["reason"])
	})

	t.Run("pending payment cannot fail", func(t *testing.T) {
		store := memory.New()
		seedBooking(t, store, onlineBooking(models.CONFIRMED, models.PaymentPending))

		_, err := newEngine(store).Fail(context.Background(), "blr", "bk1", models.ActorCustomer, "cust1")
		assert.Equal(t, fault.FailedPrecondition, fault.CodeOf(err))
	})

	t.Run("completed booking keeps its money", func(t *testing.T) {
		store := memory.New()
		seedBooking(t, store, onlineBooking(models.COMPLETED, models.PaymentCaptured))

		_, err := newEngine(store).Fail(context.Background(), "blr", "bk1", models.ActorOperator, "ops1")
		assert.Equal(t, fault.FailedPrecondition, fault.CodeOf(err))
	})

	t.Run("terminal booking", func(t *testing.T) {
		store := memory.New()
		seedBooking(t, store, onlineBooking(models.CANCELLED, models.PaymentAuthorized))

		_, err := newEngine(store).Fail(context.Background(), "blr", "bk1", models.ActorOperator, "ops1")
		assert.Equal(t, fault.FailedPrecondition, fault.CodeOf(err))
	})
}

func TestRefund(t *testing.T) {
	t.Run("captured payment refunds and debits the provider", func(t *testing.T) {
		store := memory.New()
		seedBooking(t, store, onlineBooking(models.COMPLETED, models.PaymentCaptured))

		b, err := newEngine(store).Refund(context.Background(), "blr", "bk1", "cust1")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentRefunded, b.Payment.Status)
		assert.True(t, strings.HasPrefix(b.Payment.ProviderRef, "mockrefund_"))

		entries, err := store.ListLedgerEntriesByUser(context.Background(), "fl1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.EntryRefund, entries[0].EntryType)
		assert.Equal(t, models.Debit, entries[0].Direction)
		assert.Equal(t, int64(1000), entries[0].Amount)
	})

	t.Run("uncaptured payment", func(t *testing.T) {
		store := memory.New()
		seedBooking(t, store, onlineBooking(models.CONFIRMED, models.PaymentAuthorized))

		_, err := newEngine(store).Refund(context.Background(), "blr", "bk1", "cust1")
		assert.Equal(t, fault.FailedPrecondition, fault.CodeOf(err))
	})

	t.Run("wrong customer", func(t *testing.T) {
		store := memory.New()
		seedBooking(t, store, onlineBooking(models.COMPLETED, models.PaymentCaptured))

		_, err := newEngine(store).Refund(context.Background(), "blr", "bk1", "intruder")
		assert.Equal(t, fault.PermissionDenied, fault.CodeOf(err))
	})

	t.Run("in-shop refund debits the vendor", func(t *testing.T) {
		store := memory.New()
		b := onlineBooking(models.COMPLETED, models.PaymentCaptured)
		b.Type = models.InShop
		b.FreelancerID = ""
		b.VendorID = "vendor1"
		seedBooking(t, store, b)

		_, err := newEngine(store).Refund(context.Background(), "blr", "bk1", "cust1")
		require.NoError(t, err)

		entries, err := store.ListLedgerEntriesByUser(context.Background(), "vendor1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.UserTypeVendor, entries[0].UserType)
	})
}

func TestCapture(t *testing.T) {
	cases := []struct {
		name   string
		mode   models.PaymentMode
		status models.PaymentStatus
		want   bool
		after  models.PaymentStatus
	}{
		{"authorized online", models.Online, models.PaymentAuthorized, true, models.PaymentCaptured},
		{"pending online", models.Online, models.PaymentPending, false, models.PaymentPending},
		{"offline", models.Offline, models.PaymentNotRequired, false, models.PaymentNotRequired},
		{"already captured", models.Online, models.PaymentCaptured, false, models.PaymentCaptured},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := onlineBooking(models.IN_PROGRESS, tc.status)
			b.Payment.Mode = tc.mode
			assert.Equal(t, tc.want, Capture(&b))
			assert.Equal(t, tc.after, b.Payment.Status)
		})
	}
}
