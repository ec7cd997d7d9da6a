// Package booking owns the booking lifecycle: creation, provider responses,
// start, completion, and cancellation. Every mutation runs as one store
// transaction that writes the booking, its audit events, and any ledger
// postings together.
package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jayple/booking-dispatch/pkg/assignment"
	"github.com/jayple/booking-dispatch/pkg/clock"
	"github.com/jayple/booking-dispatch/pkg/fault"
	"github.com/jayple/booking-dispatch/pkg/ledger"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/payments"
	"github.com/jayple/booking-dispatch/pkg/scheduler"
	"github.com/jayple/booking-dispatch/pkg/storage"
)

// ResponseAction is a provider's answer to a pending booking.
type ResponseAction string

const (
	Accept ResponseAction = "ACCEPT"
	Reject ResponseAction = "REJECT"
)

// Engine coordinates the booking state machine with assignment, payments and
// the ledger.
type Engine struct {
	store    storage.Storage
	sched    scheduler.Scheduler
	assign   *assignment.Engine
	ledger   *ledger.Engine
	payments *payments.Engine
	clock    clock.Clock
	logger   *slog.Logger
}

// NewEngine creates a booking engine.
func NewEngine(store storage.Storage, sched scheduler.Scheduler, assign *assignment.Engine, led *ledger.Engine, pay *payments.Engine, clk clock.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		sched:    sched,
		assign:   assign,
		ledger:   led,
		payments: pay,
		clock:    clk,
		logger:   logger,
	}
}

// CreateRequest carries the validated inputs of a booking creation.
type CreateRequest struct {
	CustomerID     string
	CityID         string
	ServiceID      string
	Type           models.BookingType
	ScheduledAt    time.Time
	IdempotencyKey string
}

func (r *CreateRequest) validate() error {
	switch {
	case r.CustomerID == "":
		return fault.New(fault.InvalidArgument, "customerId is required")
	case r.CityID == "":
		return fault.New(fault.InvalidArgument, "cityId is required")
	case r.ServiceID == "":
		return fault.New(fault.InvalidArgument, "serviceId is required")
	case r.ScheduledAt.IsZero():
		return fault.New(fault.InvalidArgument, "scheduledAt is required")
	}
	if r.Type != models.InShop && r.Type != models.Home {
		return fault.New(fault.InvalidArgument, "type must be IN_SHOP or HOME")
	}
	return nil
}

// Create places a new booking. Home bookings get a freelancer assigned inside
// the creation transaction and a response timeout armed after commit. When no
// freelancer is available the booking persists as FAILED and the call returns
// ResourceExhausted; callers see the failure, the record keeps the evidence.
//
// With an idempotency key, a repeat call returns the original booking and
// reports alreadyExists.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (b *models.Booking, alreadyExists bool, err error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}

	var (
		out      *models.Booking
		existing *models.Booking
		assigned bool
	)
	err = e.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Txn) error {
		out, existing, assigned = nil, nil, false

		if req.IdempotencyKey != "" {
			found, err := tx.FindBookingByIdempotencyKey(ctx, req.CityID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if found != nil {
				existing = found
				return nil
			}
		}

		svc, err := tx.GetService(ctx, req.CityID, req.ServiceID)
		if err != nil {
			return err
		}
		if svc == nil {
			return fault.New(fault.NotFound, "service %s not found in city %s", req.ServiceID, req.CityID)
		}

		now := e.clock.Now()
		b := &models.Booking{
			BookingID:       uuid.NewString(),
			CityID:          req.CityID,
			IdempotencyKey:  req.IdempotencyKey,
			Type:            req.Type,
			ServiceID:       svc.ServiceID,
			ServiceCategory: svc.Category,
			CustomerID:      req.CustomerID,
			Status:          models.CREATED,
			ScheduledAt:     req.ScheduledAt,
			CreatedAt:       now,
			UpdatedAt:       now,
			Version:         1,
		}

		switch req.Type {
		case models.InShop:
			if svc.VendorID == "" {
				return fault.New(fault.FailedPrecondition, "service %s has no vendor to fulfil in-shop bookings", svc.ServiceID)
			}
			b.VendorID = svc.VendorID
			b.Payment = models.Payment{
				Mode:     models.Offline,
				Status:   models.PaymentNotRequired,
				Amount:   svc.Price,
				Currency: "INR",
			}
		case models.Home:
			b.Payment = models.Payment{
				Mode:     models.Online,
				Status:   models.PaymentPending,
				Amount:   svc.Price,
				Currency: "INR",
			}
		}

		// For home bookings the initial match happens here, before any write
		// is staged.
		var candidate *models.Freelancer
		if req.Type == models.Home {
			candidate, err = e.assign.FindBestFreelancer(ctx, tx, req.CityID, svc.Category, nil)
			if err != nil {
				return err
			}
			if candidate != nil {
				b.FreelancerID = candidate.UserID
				b.Status = models.ASSIGNED
				assigned = true
			} else {
				b.Status = models.FAILED
				b.FailureReason = models.NoFreelancerAvailable
			}
		}

		tx.CreateBooking(b)
		tx.AppendStatusEvent(&models.StatusEvent{
			BookingID: b.BookingID,
			EventID:   models.EventID(b.Version, 0),
			To:        models.CREATED,
			Actor:     models.ActorCustomer,
			ActorID:   req.CustomerID,
			Timestamp: now,
		})
		switch b.Status {
		case models.ASSIGNED:
			tx.AppendStatusEvent(&models.StatusEvent{
				BookingID: b.BookingID,
				EventID:   models.EventID(b.Version, 1),
				From:      models.CREATED,
				To:        models.ASSIGNED,
				Actor:     models.ActorSystem,
				Timestamp: now,
				Metadata:  map[string]string{"freelancer_id": b.FreelancerID},
			})
		case models.FAILED:
			tx.AppendStatusEvent(&models.StatusEvent{
				BookingID: b.BookingID,
				EventID:   models.EventID(b.Version, 1),
				From:      models.CREATED,
				To:        models.FAILED,
				Actor:     models.ActorSystem,
				Timestamp: now,
				Metadata:  map[string]string{"reason": string(models.NoFreelancerAvailable)},
			})
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	if assigned {
		e.armTimeout(ctx, out.CityID, out.BookingID, out.FreelancerID, 1)
	}
	if out.Status == models.FAILED {
		return out, false, fault.New(fault.ResourceExhausted, "no freelancer available for booking %s", out.BookingID)
	}
	return out, false, nil
}

// VendorRespond handles the owning vendor's accept or reject of an in-shop
// booking. Accept confirms; reject is terminal.
func (e *Engine) VendorRespond(ctx context.Context, cityID, bookingID, vendorID string, action ResponseAction) (*models.Booking, error) {
	var out *models.Booking
	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Txn) error {
		b, err := tx.GetBooking(ctx, cityID, bookingID)
		if err != nil {
			return err
		}
		if b == nil {
			return fault.New(fault.NotFound, "booking %s not found", bookingID)
		}
		if b.Type != models.InShop {
			return fault.New(fault.FailedPrecondition, "booking %s is not an in-shop booking", bookingID)
		}
		if b.Status != models.CREATED {
			return fault.New(fault.FailedPrecondition, "booking %s is %s, expected CREATED", bookingID, b.Status)
		}
		if b.VendorID != vendorID {
			return fault.New(fault.PermissionDenied, "booking %s belongs to another vendor", bookingID)
		}

		to := models.CONFIRMED
		if action == Reject {
			to = models.REJECTED
		}
		now := e.clock.Now()
		b.Status = to
		b.UpdatedAt = now
		b.Version++
		tx.UpdateBooking(b)
		tx.AppendStatusEvent(&models.StatusEvent{
			BookingID: b.BookingID,
			EventID:   models.EventID(b.Version, 0),
			From:      models.CREATED,
			To:        to,
			Actor:     models.ActorVendor,
			ActorID:   vendorID,
			Timestamp: now,
		})
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FreelancerRespond handles the assigned freelancer's accept or reject of a
// home booking. Blocked freelancers cannot respond. A reject triggers
// reassignment rather than terminating the booking.
func (e *Engine) FreelancerRespond(ctx context.Context, cityID, bookingID, freelancerID string, action ResponseAction) (*models.Booking, error) {
	var (
		out     *models.Booking
		outcome *assignment.Outcome
	)
	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Txn) error {
		out, outcome = nil, nil

		if err := ledger.EnforceBlock(ctx, tx, freelancerID); err != nil {
			return err
		}

		b, err := tx.GetBooking(ctx, cityID, bookingID)
		if err != nil {
			return err
		}
		if b == nil {
			return fault.New(fault.NotFound, "booking %s not found", bookingID)
		}
		if b.Type != models.Home {
			return fault.New(fault.FailedPrecondition, "booking %s is not a home booking", bookingID)
		}
		if b.Status != models.ASSIGNED {
			return fault.New(fault.FailedPrecondition, "booking %s is %s, expected ASSIGNED", bookingID, b.Status)
		}
		if b.FreelancerID != freelancerID {
			return fault.New(fault.PermissionDenied, "booking %s is assigned to another freelancer", bookingID)
		}

		now := e.clock.Now()
		if action == Accept {
			b.Status = models.CONFIRMED
			b.UpdatedAt = now
			b.Version++
			tx.UpdateBooking(b)
			tx.AppendStatusEvent(&models.StatusEvent{
				BookingID: b.BookingID,
				EventID:   models.EventID(b.Version, 0),
				From:      models.ASSIGNED,
				To:        models.CONFIRMED,
				Actor:     models.ActorFreelancer,
				ActorID:   freelancerID,
				Timestamp: now,
			})
			out = b
			return nil
		}

		outcome, err = e.assign.Reassign(ctx, tx, b, models.ActorFreelancer, freelancerID, "rejection")
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcome != nil && outcome.Reassigned {
		e.armTimeout(ctx, cityID, bookingID, outcome.FreelancerID, outcome.Attempt)
	}
	return out, nil
}

// Start moves a confirmed booking into IN_PROGRESS when the provider begins
// the service.
func (e *Engine) Start(ctx context.Context, cityID, bookingID, actorID string) (*models.Booking, error) {
	var out *models.Booking
	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Txn) error {
		b, err := tx.GetBooking(ctx, cityID, bookingID)
		if err != nil {
			return err
		}
		if b == nil {
			return fault.New(fault.NotFound, "booking %s not found", bookingID)
		}
		if b.ProviderID() != actorID {
			return fault.New(fault.PermissionDenied, "booking %s is not assigned to caller", bookingID)
		}
		if b.Status != models.CONFIRMED {
			return fault.New(fault.FailedPrecondition, "booking %s is %s, expected CONFIRMED", bookingID, b.Status)
		}

		now := e.clock.Now()
		b.Status = models.IN_PROGRESS
		b.UpdatedAt = now
		b.Version++
		tx.UpdateBooking(b)
		tx.AppendStatusEvent(&models.StatusEvent{
			BookingID: b.BookingID,
			EventID:   models.EventID(b.Version, 0),
			From:      models.CONFIRMED,
			To:        models.IN_PROGRESS,
			Actor:     actorOf(b, actorID),
			ActorID:   actorID,
			Timestamp: now,
		})
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete finishes a booking: the provider's earning and the platform
// commission are posted to the ledger and an authorized online payment is
// captured, all in the completion transaction. Re-invoking after completion
// fails precondition; the ledger postings themselves are idempotent.
func (e *Engine) Complete(ctx context.Context, cityID, bookingID, actorID string) (*models.Booking, error) {
	var out *models.Booking
	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Txn) error {
		b, err := tx.GetBooking(ctx, cityID, bookingID)
		if err != nil {
			return err
		}
		if b == nil {
			return fault.New(fault.NotFound, "booking %s not found", bookingID)
		}
		if b.ProviderID() != actorID {
			return fault.New(fault.PermissionDenied, "booking %s is not assigned to caller", bookingID)
		}
		if b.Status != models.CONFIRMED && b.Status != models.IN_PROGRESS {
			return fault.New(fault.FailedPrecondition, "booking %s is %s, expected CONFIRMED or IN_PROGRESS", bookingID, b.Status)
		}

		userType := models.UserTypeFreelancer
		if b.Type == models.InShop {
			userType = models.UserTypeVendor
		}
		if err := e.ledger.PostEarningAndCommission(ctx, tx, b, userType); err != nil {
			return err
		}

		captured := payments.Capture(b)

		now := e.clock.Now()
		from := b.Status
		b.Status = models.COMPLETED
		b.UpdatedAt = now
		b.Version++
		tx.UpdateBooking(b)
		tx.AppendStatusEvent(&models.StatusEvent{
			BookingID: b.BookingID,
			EventID:   models.EventID(b.Version, 0),
			From:      from,
			To:        models.COMPLETED,
			Actor:     actorOf(b, actorID),
			ActorID:   actorID,
			Timestamp: now,
		})
		if captured {
			tx.AppendStatusEvent(&models.StatusEvent{
				BookingID: b.BookingID,
				EventID:   models.EventID(b.Version, 1),
				From:      models.COMPLETED,
				To:        models.COMPLETED,
				Actor:     models.ActorSystem,
				Timestamp: now,
				Metadata:  map[string]string{"payment_status": string(models.PaymentCaptured)},
			})
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel lets the customer cancel a booking that has not already failed or
// been cancelled. A captured online payment is refunded in the same
// transaction, debiting the provider's ledger by the full amount.
func (e *Engine) Cancel(ctx context.Context, cityID, bookingID, customerID string) (*models.Booking, error) {
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
			return fault.New(fault.PermissionDenied, "booking %s belongs to another customer", bookingID)
		}
		if b.Status == models.FAILED || b.Status == models.CANCELLED {
			return fault.New(fault.FailedPrecondition, "booking %s is already %s", bookingID, b.Status)
		}

		refunded := false
		if b.Payment.Mode == models.Online && b.Payment.Status == models.PaymentCaptured {
			if err := e.payments.StageRefund(ctx, tx, b); err != nil {
				return err
			}
			refunded = true
		}

		now := e.clock.Now()
		from := b.Status
		b.Status = models.CANCELLED
		b.UpdatedAt = now
		b.Version++
		tx.UpdateBooking(b)
		tx.AppendStatusEvent(&models.StatusEvent{
			BookingID: b.BookingID,
			EventID:   models.EventID(b.Version, 0),
			From:      from,
			To:        models.CANCELLED,
			Actor:     models.ActorCustomer,
			ActorID:   customerID,
			Timestamp: now,
		})
		if refunded {
			tx.AppendStatusEvent(&models.StatusEvent{
				BookingID: b.BookingID,
				EventID:   models.EventID(b.Version, 1),
				From:      models.CANCELLED,
				To:        models.CANCELLED,
				Actor:     models.ActorSystem,
				Timestamp: now,
				Metadata:  map[string]string{"payment_status": string(models.PaymentRefunded)},
			})
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a booking by id.
func (e *Engine) Get(ctx context.Context, cityID, bookingID string) (*models.Booking, error) {
	b, err := e.store.GetBooking(ctx, cityID, bookingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fault.New(fault.NotFound, "booking %s not found", bookingID)
	}
	return b, nil
}

// ListByCustomer returns the customer's bookings in the city, newest first.
func (e *Engine) ListByCustomer(ctx context.Context, cityID, customerID string) ([]models.Booking, error) {
	return e.store.ListBookingsByCustomer(ctx, cityID, customerID)
}

// History returns a booking's audit trail in append order.
func (e *Engine) History(ctx context.Context, cityID, bookingID string) ([]models.StatusEvent, error) {
	b, err := e.store.GetBooking(ctx, cityID, bookingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fault.New(fault.NotFound, "booking %s not found", bookingID)
	}
	return e.store.ListStatusEvents(ctx, bookingID)
}

// armTimeout enqueues the assignment response timeout after a commit that
// assigned a freelancer. Failures are logged, never propagated: the booking
// write already happened.
func (e *Engine) armTimeout(ctx context.Context, cityID, bookingID, freelancerID string, attempt int) {
	task := scheduler.TimeoutTask{
		CityID:       cityID,
		BookingID:    bookingID,
		FreelancerID: freelancerID,
		Attempt:      attempt,
	}
	if err := e.sched.ScheduleAssignmentTimeout(ctx, task); err != nil {
		e.logger.ErrorContext(ctx, "CRITICAL: failed to schedule assignment timeout",
			"booking_id", bookingID, "freelancer_id", freelancerID, "error", err)
	}
}

func actorOf(b *models.Booking, actorID string) models.Actor {
	if b.Type == models.Home && b.FreelancerID == actorID {
		return models.ActorFreelancer
	}
	if b.Type == models.InShop && b.VendorID == actorID {
		return models.ActorVendor
	}
	return models.ActorSystem
}
