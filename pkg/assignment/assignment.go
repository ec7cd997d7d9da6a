// Package assignment selects freelancers for home bookings and handles the
// rejection/timeout reassignment path.
package assignment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jayple/booking-dispatch/pkg/clock"
	"github.com/jayple/booking-dispatch/pkg/fault"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/storage"
)

// MaxAttempts caps how many freelancers a booking may burn through before it
// fails for good.
const MaxAttempts = 3

// Engine runs the matching and reassignment logic inside a caller's
// transaction.
type Engine struct {
	clock clock.Clock
}

// NewEngine creates an assignment engine.
func NewEngine(clk clock.Clock) *Engine {
	return &Engine{clock: clk}
}

// better reports whether a should be picked over b. Higher tier wins; within
// a tier the oldest lastActiveAt wins, rotating work toward whoever has been
// idle longest. The ascending-timestamp rule is deliberate; do not invert it.
// User id breaks exact timestamp ties so selection never depends on read
// order.
func better(a, b *models.Freelancer) bool {
	if ra, rb := a.TierRank(), b.TierRank(); ra != rb {
		return ra > rb
	}
	if !a.LastActiveAt.Equal(b.LastActiveAt) {
		return a.LastActiveAt.Before(b.LastActiveAt)
	}
	return a.UserID < b.UserID
}

// FindBestFreelancer returns the best available candidate in the city for
// the category, or nil when none qualifies. Candidates must be active,
// online, serve the category, not be excluded, and not be blocked.
func (e *Engine) FindBestFreelancer(ctx context.Context, tx storage.Txn, cityID, category string, excluded map[string]bool) (*models.Freelancer, error) {
	freelancers, err := tx.ListFreelancers(ctx, cityID)
	if err != nil {
		return nil, err
	}

	var best *models.Freelancer
	for i := range freelancers {
		f := &freelancers[i]
		if f.Status != models.FreelancerActive || !f.IsOnline || !f.ServesCategory(category) {
			continue
		}
		if excluded[f.UserID] {
			continue
		}
		blocked, err := tx.GetBlockedAccount(ctx, f.UserID)
		if err != nil {
			return nil, err
		}
		if blocked != nil {
			continue
		}
		if best == nil || better(f, best) {
			best = f
		}
	}
	return best, nil
}

// FindReplacement picks a fresh candidate for a booking whose current
// assignment failed, excluding the current freelancer and everyone already
// tried. Returns ResourceExhausted once the attempt budget is spent, and
// (nil, nil) when nobody else is available.
func (e *Engine) FindReplacement(ctx context.Context, tx storage.Txn, b *models.Booking) (*models.Freelancer, error) {
	if len(b.AssignmentAttempts) >= MaxAttempts {
		return nil, fault.New(fault.ResourceExhausted, "booking %s exhausted its %d assignment attempts", b.BookingID, MaxAttempts)
	}
	excluded := map[string]bool{b.FreelancerID: true}
	for _, attempt := range b.AssignmentAttempts {
		excluded[attempt.FreelancerID] = true
	}
	return e.FindBestFreelancer(ctx, tx, b.CityID, b.ServiceCategory, excluded)
}

// Outcome describes what a reassignment did.
type Outcome struct {
	Reassigned   bool
	FreelancerID string
	Attempt      int
}

// Reassign moves a booking off its current freelancer after a rejection or
// timeout: it records the failed attempt, assigns the best replacement, and
// stages the booking update with its audit events. When no replacement exists
// (or the attempt budget is spent) the booking is failed instead. All decision
// reads happen before any staged write.
func (e *Engine) Reassign(ctx context.Context, tx storage.Txn, b *models.Booking, actor models.Actor, actorID string, trigger string) (*Outcome, error) {
	replacement, err := e.FindReplacement(ctx, tx, b)
	if err != nil && !fault.IsCode(err, fault.ResourceExhausted) {
		return nil, err
	}

	now := e.clock.Now()

	if replacement == nil {
		// Either the attempt budget is spent or nobody else is available. The
		// exhausted-budget failure does not record a fourth attempt, keeping
		// the attempt list capped at MaxAttempts.
		reason := models.MaxAssignmentAttempts
		if err == nil {
			reason = models.NoFreelancerAvailable
			b.AssignmentAttempts = append(b.AssignmentAttempts, models.AssignmentAttempt{
				FreelancerID: b.FreelancerID,
				AssignedAt:   b.UpdatedAt,
				FailedAt:     now,
			})
		}
		from := b.Status
		b.Status = models.FAILED
		b.FailureReason = reason
		b.UpdatedAt = now
		b.Version++
		tx.UpdateBooking(b)
		tx.AppendStatusEvent(&models.StatusEvent{
			BookingID: b.BookingID,
			EventID:   models.EventID(b.Version, 0),
			From:      from,
			To:        models.FAILED,
			Actor:     actor,
			ActorID:   actorID,
			Timestamp: now,
			Metadata:  map[string]string{"reason": string(reason), "trigger": trigger},
		})
		return &Outcome{Reassigned: false}, nil
	}

	b.AssignmentAttempts = append(b.AssignmentAttempts, models.AssignmentAttempt{
		FreelancerID: b.FreelancerID,
		AssignedAt:   b.UpdatedAt,
		FailedAt:     now,
	})
	from := b.Status
	b.FreelancerID = replacement.UserID
	b.Status = models.ASSIGNED
	b.UpdatedAt = now
	b.Version++
	// The initial assignment is attempt 1; each reassignment starts the next.
	attempt := len(b.AssignmentAttempts) + 1
	tx.UpdateBooking(b)
	tx.AppendStatusEvent(&models.StatusEvent{
		BookingID: b.BookingID,
		EventID:   models.EventID(b.Version, 0),
		From:      from,
		To:        models.REASSIGNED,
		Actor:     actor,
		ActorID:   actorID,
		Timestamp: now,
		Metadata: map[string]string{
			"attempt":        strconv.Itoa(attempt),
			"trigger":        trigger,
			"new_freelancer": replacement.UserID,
		},
	})
	tx.AppendStatusEvent(&models.StatusEvent{
		BookingID: b.BookingID,
		EventID:   models.EventID(b.Version, 1),
		From:      models.REASSIGNED,
		To:        models.ASSIGNED,
		Actor:     models.ActorSystem,
		Timestamp: now,
	})
	return &Outcome{Reassigned: true, FreelancerID: replacement.UserID, Attempt: attempt}, nil
}

// String implements a compact description for logs.
func (o *Outcome) String() string {
	if o.Reassigned {
		return fmt.Sprintf("reassigned to %s (attempt %d)", o.FreelancerID, o.Attempt)
	}
	return "failed"
}
