// Package settlement runs the weekly payout batch over all provider ledger
// accounts.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jayple/booking-dispatch/pkg/clock"
	"github.com/jayple/booking-dispatch/pkg/ledger"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/storage"
)

// MinPayoutAmount is the payable balance a provider must reach before a
// payout is issued. Anything below it carries forward to the next period.
const MinPayoutAmount = 500

// Engine runs settlement batches.
type Engine struct {
	store  storage.Storage
	ledger *ledger.Engine
	clock  clock.Clock
	logger *slog.Logger
}

// NewEngine creates a settlement engine.
func NewEngine(store storage.Storage, led *ledger.Engine, clk clock.Clock, logger *slog.Logger) *Engine {
	return &Engine{store: store, ledger: led, clock: clk, logger: logger}
}

// PeriodID formats the ISO week containing t, e.g. "2026-W36".
func PeriodID(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// PeriodBounds returns the UTC start (Monday 00:00) and end (next Monday
// 00:00, exclusive) of the ISO week containing t.
func PeriodBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -daysSinceMonday)
	return start, start.AddDate(0, 0, 7)
}

// SettlementID builds the deterministic per-(user, period) id that guards
// batch re-runs.
func SettlementID(userID, periodID string) string {
	return userID + "_" + periodID
}

// Summary reports what one batch run did.
type Summary struct {
	PeriodID       string `json:"period_id"`
	Accounts       int    `json:"accounts"`
	Paid           int    `json:"paid"`
	CarriedForward int    `json:"carried_forward"`
	Skipped        int    `json:"skipped"`
	Failed         int    `json:"failed"`
}

// RunWeeklySettlements settles every ledger account for the current period.
// Each account runs in its own transaction; one account's failure is logged
// and counted, never propagated, so the rest of the batch proceeds.
func (e *Engine) RunWeeklySettlements(ctx context.Context) (*Summary, error) {
	now := e.clock.Now()
	periodID := PeriodID(now)

	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	summary := &Summary{PeriodID: periodID, Accounts: len(accounts)}
	for _, account := range accounts {
		outcome, err := e.settleUser(ctx, account, periodID, now)
		if err != nil {
			summary.Failed++
			e.logger.ErrorContext(ctx, "settlement failed for user",
				"user_id", account.UserID, "period_id", periodID, "error", err)
			continue
		}
		switch outcome {
		case models.SettlementPayable:
			summary.Paid++
		case models.SettlementCarriedForward:
			summary.CarriedForward++
		default:
			summary.Skipped++
		}
	}

	e.logger.InfoContext(ctx, "settlement batch complete",
		"period_id", periodID,
		"accounts", summary.Accounts,
		"paid", summary.Paid,
		"carried_forward", summary.CarriedForward,
		"skipped", summary.Skipped,
		"failed", summary.Failed)
	return summary, nil
}

// settleUser settles one account for the period. Returns the settlement
// status written, or "" when a settlement for the period already existed.
func (e *Engine) settleUser(ctx context.Context, account models.Account, periodID string, now time.Time) (models.SettlementStatus, error) {
	settlementID := SettlementID(account.UserID, periodID)
	periodStart, periodEnd := PeriodBounds(now)

	var outcome models.SettlementStatus
	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Txn) error {
		outcome = ""

		existing, err := tx.GetSettlement(ctx, settlementID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		entries, err := tx.ListLedgerEntriesByUser(ctx, account.UserID)
		if err != nil {
			return err
		}
		balance := ledger.PayableBalance(entries)

		s := &models.Settlement{
			SettlementID: settlementID,
			UserID:       account.UserID,
			UserType:     account.UserType,
			PeriodID:     periodID,
			PeriodStart:  periodStart,
			PeriodEnd:    periodEnd,
			NetAmount:    balance,
			CreatedAt:    now,
		}

		if balance >= MinPayoutAmount {
			if _, err := e.ledger.PostPayout(ctx, tx, settlementID, account.UserID, account.UserType, balance); err != nil {
				return err
			}
			s.Status = models.SettlementPayable
			s.PayoutAmount = balance
		} else {
			s.Status = models.SettlementCarriedForward
			s.CarryForwardAmount = balance
		}

		tx.CreateSettlement(s)
		outcome = s.Status
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}
