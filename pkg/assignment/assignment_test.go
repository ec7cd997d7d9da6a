package assignment

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jayple/booking-dispatch/pkg/clock"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/scheduler"
	"github.com/jayple/booking-dispatch/pkg/scheduler/mocks"
	"github.com/jayple/booking-dispatch/pkg/storage"
	"github.com/jayple/booking-dispatch/pkg/storage/memory"
)

var testTime = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

func freelancer(id, tier string, lastActive time.Time) models.Freelancer {
	return models.Freelancer{
		UserID:            id,
		CityID:            "blr",
		Status:            models.FreelancerActive,
		IsOnline:          true,
		ServiceCategories: []string{"haircut"},
		PriorityTier:      tier,
		LastActiveAt:      lastActive,
	}
}

func findBest(t *testing.T, store *memory.Store, engine *Engine, excluded map[string]bool) *models.Freelancer {
	t.Helper()
	var best *models.Freelancer
	require.NoError(t, store.WithTransaction(context.Background(), func(ctx context.Context, tx storage.Txn) error {
		var err error
		best, err = engine.FindBestFreelancer(ctx, tx, "blr", "haircut", excluded)
		return err
	}))
	return best
}

func TestFindBestFreelancerOrdering(t *testing.T) {
	store := memory.New()
	engine := NewEngine(clock.NewFake(testTime))

	store.SeedFreelancer(freelancer("bronze1", "bronze", testTime.Add(-3*time.Hour)))
	store.SeedFreelancer(freelancer("silver1", "silver", testTime.Add(-2*time.Hour)))
	store.SeedFreelancer(freelancer("gold1", "gold", testTime.Add(-1*time.Hour)))

	best := findBest(t, store, engine, nil)
	require.NotNil(t, best)
	assert.Equal(t, "gold1", best.UserID)
}

func TestFindBestFreelancerIdleTieBreak(t *testing.T) {
	store := memory.New()
	engine := NewEngine(clock.NewFake(testTime))

	// Same tier: the freelancer idle longest wins.
	store.SeedFreelancer(freelancer("busy", "gold", testTime.Add(-10*time.Minute)))
	store.SeedFreelancer(freelancer("idle", "gold", testTime.Add(-5*time.Hour)))

	best := findBest(t, store, engine, nil)
	require.NotNil(t, best)
	assert.Equal(t, "idle", best.UserID)
}

func TestFindBestFreelancerUserIDTieBreak(t *testing.T) {
	store := memory.New()
	engine := NewEngine(clock.NewFake(testTime))

	lastActive := testTime.Add(-1 * time.Hour)
	store.SeedFreelancer(freelancer("fl_b", "gold", lastActive))
	store.SeedFreelancer(freelancer("fl_a", "gold", lastActive))

	best := findBest(t, store, engine, nil)
	require.NotNil(t, best)
	assert.Equal(t, "fl_a", best.UserID)
}

func TestFindBestFreelancerFilters(t *testing.T) {
	store := memory.New()
	engine := NewEngine(clock.NewFake(testTime))

	offline := freelancer("offline", "gold", testTime)
	offline.IsOnline = false
	store.SeedFreelancer(offline)

	inactive := freelancer("inactive", "gold", testTime)
	inactive.Status = models.FreelancerInactive
	store.SeedFreelancer(inactive)

	wrongCategory := freelancer("wrong_cat", "gold", testTime)
	wrongCategory.ServiceCategories = []string{"massage"}
	store.SeedFreelancer(wrongCategory)

	store.SeedFreelancer(freelancer("excluded", "gold", testTime))
	store.SeedFreelancer(freelancer("eligible", "bronze", testTime))

	best := findBest(t, store, engine, map[string]bool{"excluded": true})
	require.NotNil(t, best)
	assert.Equal(t, "eligible", best.UserID)
}

func TestFindBestFreelancerSkipsBlocked(t *testing.T) {
	store := memory.New()
	engine := NewEngine(clock.NewFake(testTime))

	store.SeedFreelancer(freelancer("blocked", "gold", testTime))
	store.SeedFreelancer(freelancer("clear", "bronze", testTime))

	require.NoError(t, store.WithTransaction(context.Background(), func(ctx context.Context, tx storage.Txn) error {
		tx.PutBlockedAccount(&models.BlockedAccount{
			UserID:   "blocked",
			UserType: models.UserTypeFreelancer,
			Reason:   models.OutstandingLimitExceeded,
		})
		return nil
	}))

	best := findBest(t, store, engine, nil)
	require.NotNil(t, best)
	assert.Equal(t, "clear", best.UserID)
}

func seedAssignedBooking(t *testing.T, store *memory.Store, freelancerID string) *models.Booking {
	t.Helper()
	b := &models.Booking{
		BookingID:       "bk1",
		CityID:          "blr",
		Type:            models.Home,
		ServiceCategory: "haircut",
		CustomerID:      "cust1",
		FreelancerID:    freelancerID,
		Status:          models.ASSIGNED,
		Payment:         models.Payment{Mode: models.Online, Status: models.PaymentPending, Amount: 500},
		CreatedAt:       testTime,
		UpdatedAt:       testTime,
		Version:         1,
	}
	require.NoError(t, store.WithTransaction(context.Background(), func(ctx context.Context, tx storage.Txn) error {
		tx.CreateBooking(b)
		return nil
	}))
	return b
}

func TestReassignPicksNextAndRecordsAttempt(t *testing.T) {
	store := memory.New()
	engine := NewEngine(clock.NewFake(testTime))

	store.SeedFreelancer(freelancer("gold1", "gold", testTime))
	store.SeedFreelancer(freelancer("silver1", "silver", testTime))
	seedAssignedBooking(t, store, "gold1")

	var outcome *Outcome
	require.NoError(t, store.WithTransaction(context.Background(), func(ctx context.Context, tx storage.Txn) error {
		b, err := tx.GetBooking(ctx, "blr", "bk1")
		require.NoError(t, err)
		outcome, err = engine.Reassign(ctx, tx, b, models.ActorFreelancer, "gold1", "rejection")
		return err
	}))

	require.True(t, outcome.Reassigned)
	assert.Equal(t, "silver1", outcome.FreelancerID)
	assert.Equal(t, 2, outcome.Attempt)

	b, err := store.GetBooking(context.Background(), "blr", "bk1")
	require.NoError(t, err)
	assert.Equal(t, models.ASSIGNED, b.Status)
	assert.Equal(t, "silver1", b.FreelancerID)
	require.Len(t, b.AssignmentAttempts, 1)
	assert.Equal(t, "gold1", b.AssignmentAttempts[0].FreelancerID)
}

func TestReassignFailsWhenNobodyLeft(t *testing.T) {
	store := memory.New()
	engine := NewEngine(clock.NewFake(testTime))

	store.SeedFreelancer(freelancer("gold1", "gold", testTime))
	seedAssignedBooking(t, store, "gold1")

	var outcome *Outcome
	require.NoError(t, store.WithTransaction(context.Background(), func(ctx context.Context, tx storage.Txn) error {
		b, err := tx.GetBooking(ctx, "blr", "bk1")
		require.NoError(t, err)
		outcome, err = engine.Reassign(ctx, tx, b, models.ActorFreelancer, "gold1", "rejection")
		return err
	}))

	assert.False(t, outcome.Reassigned)

	b, err := store.GetBooking(context.Background(), "blr", "bk1")
	require.NoError(t, err)
	assert.Equal(t, models.FAILED, b.Status)
	assert.Equal(t, models.NoFreelancerAvailable, b.FailureReason)
	assert.Len(t, b.AssignmentAttempts, 1)
}

func TestReassignExhaustsAttemptBudget(t *testing.T) {
	store := memory.New()
	engine := NewEngine(clock.NewFake(testTime))

	for _, id := range []string{"fl1", "fl2", "fl3", "fl4", "fl5"} {
		store.SeedFreelancer(freelancer(id, "gold", testTime))
	}
	seedAssignedBooking(t, store, "fl1")

	// Burn through the attempt budget with successive rejections.
	reject := func(current string) *Outcome {
		var outcome *Outcome
		require.NoError(t, store.WithTransaction(context.Background(), func(ctx context.Context, tx storage.Txn) error {
			b, err := tx.GetBooking(ctx, "blr", "bk1")
			require.NoError(t, err)
			outcome, err = engine.Reassign(ctx, tx, b, models.ActorFreelancer, current, "rejection")
			return err
		}))
		return outcome
	}

	// Three failed attempts fit the budget, so freelancers two through four
	// each get the booking in turn.
	current := "fl1"
	for attempt := 2; attempt <= MaxAttempts+1; attempt++ {
		outcome := reject(current)
		require.True(t, outcome.Reassigned)
		assert.Equal(t, attempt, outcome.Attempt)
		current = outcome.FreelancerID
	}

	// The next rejection exhausts the budget even though fl5 is still free.
	outcome := reject(current)
	assert.False(t, outcome.Reassigned)

	b, err := store.GetBooking(context.Background(), "blr", "bk1")
	require.NoError(t, err)
	assert.Equal(t, models.FAILED, b.Status)
	assert.Equal(t, models.MaxAssignmentAttempts, b.FailureReason)
	assert.LessOrEqual(t, len(b.AssignmentAttempts), MaxAttempts)

	// Nobody was ever offered the booking twice.
	seen := map[string]int{}
	for _, a := range b.AssignmentAttempts {
		seen[a.FreelancerID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "freelancer %s tried more than once", id)
	}
}

func TestTimeoutHandlerReassigns(t *testing.T) {
	store := memory.New()
	engine := NewEngine(clock.NewFake(testTime))
	sched := mocks.NewScheduler(t)
	handler := NewTimeoutHandler(store, engine, sched, slog.Default())

	store.SeedFreelancer(freelancer("gold1", "gold", testTime))
	store.SeedFreelancer(freelancer("silver1", "silver", testTime))
	seedAssignedBooking(t, store, "gold1")

	sched.On("ScheduleAssignmentTimeout", mock.Anything, scheduler.TimeoutTask{
		CityID:       "blr",
		BookingID:    "bk1",
		FreelancerID: "silver1",
		Attempt:      2,
	}).Once().Return(nil)

	err := handler.Handle(context.Background(), scheduler.TimeoutTask{
		CityID:       "blr",
		BookingID:    "bk1",
		FreelancerID: "gold1",
		Attempt:      1,
	})
	require.NoError(t, err)

	b, err := store.GetBooking(context.Background(), "blr", "bk1")
	require.NoError(t, err)
	assert.Equal(t, models.ASSIGNED, b.Status)
	assert.Equal(t, "silver1", b.FreelancerID)

	// The audit trail records the expiry.
	events, err := store.ListStatusEvents(context.Background(), "bk1")
	require.NoError(t, err)
	var sawTimeout bool
	for _, ev := range events {
		if ev.To == models.TIMEOUT {
			sawTimeout = true
			assert.Equal(t, models.ActorSystem, ev.Actor)
		}
	}
	assert.True(t, sawTimeout)
}

func TestTimeoutHandlerIgnoresStaleTask(t *testing.T) {
	store := memory.New()
	engine := NewEngine(clock.NewFake(testTime))
	sched := mocks.NewScheduler(t)
	handler := NewTimeoutHandler(store, engine, sched, slog.Default())

	store.SeedFreelancer(freelancer("gold1", "gold", testTime))
	b := seedAssignedBooking(t, store, "gold1")

	// Freelancer confirmed before the timeout fired.
	require.NoError(t, store.WithTransaction(context.Background(), func(ctx context.Context, tx storage.Txn) error {
		got, err := tx.GetBooking(ctx, "blr", b.BookingID)
		require.NoError(t, err)
		got.Status = models.CONFIRMED
		got.Version++
		tx.UpdateBooking(got)
		return nil
	}))

	err := handler.Handle(context.Background(), scheduler.TimeoutTask{
		CityID:       "blr",
		BookingID:    "bk1",
		FreelancerID: "gold1",
		Attempt:      1,
	})
	require.NoError(t, err)

	got, err := store.GetBooking(context.Background(), "blr", "bk1")
	require.NoError(t, err)
	assert.Equal(t, models.CONFIRMED, got.Status)
	sched.AssertNotCalled(t, "ScheduleAssignmentTimeout", mock.Anything, mock.Anything)
}

func TestTimeoutHandlerUnknownBooking(t *testing.T) {
	store := memory.New()
	engine := NewEngine(clock.NewFake(testTime))
	sched := mocks.NewScheduler(t)
	handler := NewTimeoutHandler(store, engine, sched, slog.Default())

	err := handler.Handle(context.Background(), scheduler.TimeoutTask{
		CityID:       "blr",
		BookingID:    "missing",
		FreelancerID: "gold1",
	})
	require.NoError(t, err)
}
