package assignment

import (
	"context"
	"log/slog"

	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/scheduler"
	"github.com/jayple/booking-dispatch/pkg/storage"
)

// TimeoutHandler processes delayed assignment-timeout tasks. Delivery is
// at-least-once and tasks can arrive after the freelancer already responded,
// so every task is validated against current booking state before acting.
type TimeoutHandler struct {
	store  storage.Storage
	engine *Engine
	sched  scheduler.Scheduler
	logger *slog.Logger
}

// NewTimeoutHandler creates a timeout handler.
func NewTimeoutHandler(store storage.Storage, engine *Engine, sched scheduler.Scheduler, logger *slog.Logger) *TimeoutHandler {
	return &TimeoutHandler{store: store, engine: engine, sched: sched, logger: logger}
}

// Handle runs one timeout task. Stale tasks (booking no longer ASSIGNED, or
// assigned to a different freelancer by now) are dropped without effect. A
// genuine timeout records the expiry in the audit trail and reassigns.
func (h *TimeoutHandler) Handle(ctx context.Context, task scheduler.TimeoutTask) error {
	var outcome *Outcome

	err := h.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Txn) error {
		outcome = nil

		b, err := tx.GetBooking(ctx, task.CityID, task.BookingID)
		if err != nil {
			return err
		}
		if b == nil {
			h.logger.WarnContext(ctx, "timeout task for unknown booking",
				"booking_id", task.BookingID, "city_id", task.CityID)
			return nil
		}
		if b.Status != models.ASSIGNED || b.FreelancerID != task.FreelancerID {
			// Already responded, reassigned, or cancelled. Nothing to do.
			return nil
		}

		expired := b.FreelancerID
		tx.AppendStatusEvent(&models.StatusEvent{
			BookingID: b.BookingID,
			EventID:   models.EventID(b.Version, 9),
			From:      models.ASSIGNED,
			To:        models.TIMEOUT,
			Actor:     models.ActorSystem,
			Timestamp: h.engine.clock.Now(),
			Metadata:  map[string]string{"freelancer_id": expired},
		})

		outcome, err = h.engine.Reassign(ctx, tx, b, models.ActorSystem, "", "timeout")
		return err
	})
	if err != nil {
		return err
	}

	if outcome != nil && outcome.Reassigned {
		task := scheduler.TimeoutTask{
			CityID:       task.CityID,
			BookingID:    task.BookingID,
			FreelancerID: outcome.FreelancerID,
			Attempt:      outcome.Attempt,
		}
		if err := h.sched.ScheduleAssignmentTimeout(ctx, task); err != nil {
			// The booking is committed as ASSIGNED but the timeout will never
			// fire. Flag loudly for operator intervention.
			h.logger.ErrorContext(ctx, "CRITICAL: failed to schedule assignment timeout",
				"booking_id", task.BookingID, "freelancer_id", task.FreelancerID, "error", err)
		}
	}
	return nil
}
