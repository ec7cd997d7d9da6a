package settlement

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jayple/booking-dispatch/pkg/clock"
	"github.com/jayple/booking-dispatch/pkg/ledger"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/storage"
	"github.com/jayple/booking-dispatch/pkg/storage/memory"
)

// A Tuesday, so period bounds have to reach back to Monday.
var testTime = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	engine *Engine
	ledger *ledger.Engine
	clock  *clock.Fake
}

func newFixture() *fixture {
	store := memory.New()
	clk := clock.NewFake(testTime)
	led := ledger.NewEngine(clk)
	return &fixture{
		store:  store,
		engine: NewEngine(store, led, clk, slog.Default()),
		ledger: led,
		clock:  clk,
	}
}

// earn posts a completed online booking's earning and commission for userID.
func (f *fixture) earn(t *testing.T, userID, bookingID string, amount int64) {
	t.Helper()
	b := &models.Booking{
		BookingID:    bookingID,
		CityID:       "blr",
		Type:         models.Home,
		FreelancerID: userID,
		Payment: models.Payment{
			Mode:   models.Online,
			Status: models.PaymentCaptured,
			Amount: amount,
		},
	}
	err := f.store.WithTransaction(context.Background(), func(ctx context.Context, tx storage.Txn) error {
		return f.ledger.PostEarningAndCommission(ctx, tx, b, models.UserTypeFreelancer)
	})
	require.NoError(t, err)
}

func TestPeriodID(t *testing.T) {
	assert.Equal(t, "2026-W36", PeriodID(testTime))
	// ISO weeks roll the year: 2027-01-01 is a Friday in week 53 of 2026.
	assert.Equal(t, "2026-W53", PeriodID(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestPeriodBounds(t *testing.T) {
	start, end := PeriodBounds(testTime)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, time.Monday, start.Weekday())

	// A Monday is its own period start.
	start, _ = PeriodBounds(time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), start)
}

func TestRunWeeklySettlementsPaysAboveThreshold(t *testing.T) {
	f := newFixture()
	f.earn(t, "fl1", "bk1", 1000) // payable 900 after commission

	summary, err := f.engine.RunWeeklySettlements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accounts)
	assert.Equal(t, 1, summary.Paid)
	assert.Equal(t, 0, summary.CarriedForward)

	s := f.store.Settlement(SettlementID("fl1", "2026-W36"))
	require.NotNil(t, s)
	assert.Equal(t, models.SettlementPayable, s.Status)
	assert.Equal(t, int64(900), s.PayoutAmount)

	// The payout debit zeroes the payable balance.
	balance, err := ledger.GetPayableBalance(context.Background(), f.store, "fl1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestRunWeeklySettlementsCarriesForwardBelowThreshold(t *testing.T) {
	f := newFixture()
	f.earn(t, "fl1", "bk1", 400) // payable 360

	summary, err := f.engine.RunWeeklySettlements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CarriedForward)
	assert.Equal(t, 0, summary.Paid)

	s := f.store.Settlement(SettlementID("fl1", "2026-W36"))
	require.NotNil(t, s)
	assert.Equal(t, models.SettlementCarriedForward, s.Status)
	assert.Equal(t, int64(360), s.CarryForwardAmount)

	// No payout entry, so the balance is untouched.
	balance, err := ledger.GetPayableBalance(context.Background(), f.store, "fl1")
	require.NoError(t, err)
	assert.Equal(t, int64(360), balance)
}

func TestRunWeeklySettlementsExactThresholdPays(t *testing.T) {
	f := newFixture()
	// 556 earns a commission of 55, leaving payable 501; use a round amount.
	f.earn(t, "fl1", "bk1", 556)

	balance, err := ledger.GetPayableBalance(context.Background(), f.store, "fl1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, balance, int64(MinPayoutAmount))

	summary, err := f.engine.RunWeeklySettlements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Paid)
}

func TestRunWeeklySettlementsNegativeBalanceCarriesForward(t *testing.T) {
	f := newFixture()
	b := &models.Booking{
		BookingID:    "bk1",
		CityID:       "blr",
		Type:         models.Home,
		FreelancerID: "fl1",
		Payment:      models.Payment{Mode: models.Offline, Status: models.PaymentNotRequired, Amount: 1000},
	}
	err := f.store.WithTransaction(context.Background(), func(ctx context.Context, tx storage.Txn) error {
		return f.ledger.PostEarningAndCommission(ctx, tx, b, models.UserTypeFreelancer)
	})
	require.NoError(t, err)

	summary, err := f.engine.RunWeeklySettlements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CarriedForward)

	s := f.store.Settlement(SettlementID("fl1", "2026-W36"))
	require.NotNil(t, s)
	assert.Equal(t, int64(-100), s.CarryForwardAmount)
}

func TestRunWeeklySettlementsIdempotent(t *testing.T) {
	f := newFixture()
	f.earn(t, "fl1", "bk1", 1000)

	first, err := f.engine.RunWeeklySettlements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Paid)

	second, err := f.engine.RunWeeklySettlements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Paid)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 1, f.store.SettlementCount())

	// Exactly one payout debit exists.
	entries, err := f.store.ListLedgerEntriesByUser(context.Background(), "fl1")
	require.NoError(t, err)
	payouts := 0
	for _, e := range entries {
		if e.EntryType == models.EntryPayout {
			payouts++
		}
	}
	assert.Equal(t, 1, payouts)
}

func TestRunWeeklySettlementsNewPeriodSettlesAgain(t *testing.T) {
	f := newFixture()
	f.earn(t, "fl1", "bk1", 1000)

	_, err := f.engine.RunWeeklySettlements(context.Background())
	require.NoError(t, err)

	f.clock.Advance(7 * 24 * time.Hour)
	f.earn(t, "fl1", "bk2", 2000)

	summary, err := f.engine.RunWeeklySettlements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-W37", summary.PeriodID)
	assert.Equal(t, 1, summary.Paid)

	s := f.store.Settlement(SettlementID("fl1", "2026-W37"))
	require.NotNil(t, s)
	assert.Equal(t, int64(1800), s.PayoutAmount)
	assert.Equal(t, 2, f.store.SettlementCount())
}

func TestRunWeeklySettlementsMultipleAccounts(t *testing.T) {
	f := newFixture()
	f.earn(t, "fl1", "bk1", 1000)
	f.earn(t, "fl2", "bk2", 300)

	summary, err := f.engine.RunWeeklySettlements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Accounts)
	assert.Equal(t, 1, summary.Paid)
	assert.Equal(t, 1, summary.CarriedForward)
}
