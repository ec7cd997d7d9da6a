package scheduler

import (
	"context"
	"time"
)

// AssignmentTimeoutDelay is how long an assigned freelancer has to respond
// before the timeout task fires.
const AssignmentTimeoutDelay = 30 * time.Second

// TimeoutTask is the payload of a delayed assignment-timeout check. The
// handler re-checks that the booking is still ASSIGNED to the same freelancer
// before acting, so duplicate or late delivery is harmless.
type TimeoutTask struct {
	CityID       string `json:"city_id"`
	BookingID    string `json:"booking_id"`
	FreelancerID string `json:"freelancer_id"`
	Attempt      int    `json:"attempt"`
}

// Scheduler defines the interface for a component that schedules a delayed
// assignment-timeout check. Enqueueing happens after the booking transaction
// commits and is best effort; delivery is at-least-once.
type Scheduler interface {
	// ScheduleAssignmentTimeout enqueues a timeout check to fire after
	// AssignmentTimeoutDelay.
	ScheduleAssignmentTimeout(ctx context.Context, task TimeoutTask) error
}
