// Package payments drives the payment sub-state machine embedded in online
// bookings. The gateway is mocked: authorize and refund mint provider
// references locally instead of calling out.
package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/jayple/booking-dispatch/pkg/clock"
	"github.com/jayple/booking-dispatch/pkg/fault"
	"github.com/jayple/booking-dispatch/pkg/ledger"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/storage"
)

// Engine applies payment transitions inside booking transactions.
type Engine struct {
	store  storage.TxRunner
	ledger *ledger.Engine
	clock  clock.Clock
}

// NewEngine creates a payments engine.
func NewEngine(store storage.TxRunner, led *ledger.Engine, clk clock.Clock) *Engine {
	return &Engine{store: store, ledger: led, clock: clk}
}

// Authorize places a hold on the customer's payment method for a confirmed
// online booking. Only the booking's customer may authorize, and only while
// the payment is still PENDING.
func (e *Engine) Authorize(ctx context.Context, cityID, bookingID, customerID string) (*models.Booking, error) {
	var out *models.Booking
	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Txn) error {
		b, err := tx.GetBooking(ctx, cityID, bookingID)
		if err != nil {
			return err
		}
		if b == nil {
			return fault.New(fault.NotFound, "booking %s not found", bookingID)
		}
		if b.CustomerID != customerID {
			return fault.New(fault.PermissionDenied, "only the booking customer can authorize payment")
		}
		if b.Payment.Mode != models.Online {
			return fault.New(fault.FailedPrecondition, "booking %s is not paid online", bookingID)
		}
		if b.Payment.Status != models.PaymentPending {
			return fault.New(fault.FailedPrecondition, "payment for booking %s is %s, expected PENDING", bookingID, b.Payment.Status)
		}
		if b.Status != models.CONFIRMED {
			return fault.New(fault.FailedPrecondition, "booking %s is %s, payment can only be authorized once confirmed", bookingID, b.Status)
		}

		now := e.clock.Now()
		b.Payment.Status = models.PaymentAuthorized
		b.Payment.ProviderRef = "mockpay_" + uuid.NewString()
		b.UpdatedAt = now
		b.Version++
		tx.UpdateBooking(b)
		tx.AppendStatusEvent(&models.StatusEvent{
			BookingID: b.BookingID,
			EventID:   models.EventID(b.Version, 0),
			From:      b.Status,
			To:        b.Status,
			Actor:     models.ActorCustomer,
			ActorID:   customerID,
			Timestamp: now,
			Metadata:  map[string]string{"payment_status": string(models.PaymentAuthorized)},
		})
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Fail records a payment failure reported for an online booking and fails the
// booking with it. Completed bookings keep their money; a failure after
// completion is rejected.
func (e *Engine) Fail(ctx context.Context, cityID, bookingID string, actor models.Actor, actorID string) (*models.Booking, error) {
	var out *models.Booking
	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Txn) error {
		b, err := tx.GetBooking(ctx, cityID, bookingID)
		if err != nil {
			return err
		}
		if b == nil {
			return fault.New(fault.NotFound, "booking %s not found", bookingID)
		}
		if b.Payment.Mode != models.Online {
			return fault.New(fault.FailedPrecondition, "booking %s is not paid online", bookingID)
		}
		if b.Status == models.COMPLETED {
			return fault.New(fault.FailedPrecondition, "booking %s is already completed", bookingID)
		}
		if b.Status.Terminal() {
			return fault.New(fault.FailedPrecondition, "booking %s is already %s", bookingID, b.Status)
		}
		if b.Payment.Status != models.PaymentAuthorized {
			return fault.New(fault.FailedPrecondition, "payment for booking %s is %s, only authorized payments can fail", bookingID, b.Payment.Status)
		}

		now := e.clock.Now()
		from := b.Status
		b.Payment.Status = models.PaymentFailedState
		b.Status = models.FAILED
		b.FailureReason = models.PaymentFailed
		b.UpdatedAt = now
		b.Version++
		tx.UpdateBooking(b)
		tx.AppendStatusEvent(&models.StatusEvent{
			BookingID: b.BookingID,
			EventID:   models.EventID(b.Version, 0),
			From:      from,
			To:        from,
			Actor:     actor,
			ActorID:   actorID,
			Timestamp: now,
			Metadata:  map[string]string{"payment_status": string(models.PaymentFailedState)},
		})
		tx.AppendStatusEvent(&models.StatusEvent{
			BookingID: b.BookingID,
			EventID:   models.EventID(b.Version, 1),
			From:      from,
			To:        models.FAILED,
			Actor:     actor,
			ActorID:   actorID,
			Timestamp: now,
			Metadata:  map[string]string{"reason": string(models.PaymentFailed)},
		})
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Refund reverses a captured online payment and posts the matching refund
// debit against the provider's ledger. Only the booking's customer may ask
// for one.
func (e *Engine) Refund(ctx context.Context, cityID, bookingID, customerID string) (*models.Booking, error) {
	var out *models.Booking
	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Txn) error {
		b, err := tx.GetBooking(ctx, cityID, bookingID)
		if err != nil {
			return err
		}
		if b == nil {
			return fault.New(fault.NotFound, "booking %s not found", bookingID)
		}
		if b.CustomerID != customerID {
			return fault.New(fault.PermissionDenied, "only the booking customer can request a refund")
		}

		if err := e.StageRefund(ctx, tx, b); err != nil {
			return err
		}

		now := e.clock.Now()
		b.UpdatedAt = now
		b.Version++
		tx.UpdateBooking(b)
		tx.AppendStatusEvent(&models.StatusEvent{
			BookingID: b.BookingID,
			EventID:   models.EventID(b.Version, 0),
			From:      b.Status,
			To:        b.Status,
			Actor:     models.ActorCustomer,
			ActorID:   customerID,
			Timestamp: now,
			Metadata:  map[string]string{"payment_status": string(models.PaymentRefunded)},
		})
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StageRefund is the shared refund transition used by the refund endpoint and
// by cancellation of a captured online booking. It posts the ledger debit and
// flips the payment sub-state on b in place; the caller stages the booking
// write and its audit events, so a transaction never writes the booking twice.
func (e *Engine) StageRefund(ctx context.Context, tx storage.Txn, b *models.Booking) error {
	if b.Payment.Mode != models.Online {
		return fault.New(fault.FailedPrecondition, "booking %s is not paid online", b.BookingID)
	}
	if b.Payment.Status != models.PaymentCaptured {
		return fault.New(fault.FailedPrecondition, "payment for booking %s is %s, only captured payments can be refunded", b.BookingID, b.Payment.Status)
	}

	userType := models.UserTypeFreelancer
	if b.Type == models.InShop {
		userType = models.UserTypeVendor
	}
	if err := e.ledger.PostRefund(ctx, tx, b, userType); err != nil {
		return err
	}

	b.Payment.Status = models.PaymentRefunded
	b.Payment.ProviderRef = "mockrefund_" + uuid.NewString()
	return nil
}

// Capture flips an authorized payment to captured. It mutates the booking in
// place and reports whether anything changed; the caller stages the booking
// write. Non-authorized payments are left alone so completion of offline or
// unauthorized bookings does not trip on payment state.
func Capture(b *models.Booking) bool {
	if b.Payment.Mode != models.Online || b.Payment.Status != models.PaymentAuthorized {
		return false
	}
	b.Payment.Status = models.PaymentCaptured
	return true
}
