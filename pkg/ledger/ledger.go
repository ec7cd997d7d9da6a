// Package ledger owns the append-only financial ledger: idempotent entry
// postings with per-user balance chaining, payable-balance computation, and
// the outstanding-balance blocking policy. No other component writes ledger
// or blocked-account records.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jayple/booking-dispatch/pkg/clock"
	"github.com/jayple/booking-dispatch/pkg/fault"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/storage"
)

// CommissionRatePercent is the platform's cut of every completed booking.
const CommissionRatePercent = 10

// Engine posts ledger entries inside a caller's transaction. All reads happen
// before any staged write, per the store's transaction discipline.
type Engine struct {
	clock clock.Clock
}

// NewEngine creates a ledger engine.
func NewEngine(clk clock.Clock) *Engine {
	return &Engine{clock: clk}
}

// EarningLedgerID returns the deterministic id of a booking's earning entry.
func EarningLedgerID(bookingID string) string { return bookingID + "_EARNING" }

// CommissionLedgerID returns the deterministic id of a booking's commission
// entry.
func CommissionLedgerID(bookingID string) string { return bookingID + "_COMMISSION" }

// RefundLedgerID returns the deterministic id of a booking's refund entry.
func RefundLedgerID(bookingID string) string { return bookingID + "_REFUND" }

// PayoutLedgerID returns the deterministic id of a settlement's payout entry.
func PayoutLedgerID(settlementID string) string { return settlementID + "_PAYOUT" }

// Commission computes the platform commission on amount using integer minor
// units.
func Commission(amount int64) int64 {
	return amount * CommissionRatePercent / 100
}

// PayableBalance recomputes the platform's net obligation to a user from the
// full entry history. Earnings count only when collected online (offline cash
// stays in the provider's pocket, so the commission on it is a debt, not a
// deduction from anything owed); DEBT_PAYMENT credits count; every debit
// subtracts.
func PayableBalance(entries []models.LedgerEntry) int64 {
	var balance int64
	for _, e := range entries {
		switch {
		case e.EntryType == models.EntryEarning:
			if e.PaymentMode == models.Online {
				balance += e.Amount
			}
		case e.EntryType == models.EntryDebtPayment:
			balance += e.Amount
		case e.Direction == models.Debit:
			balance -= e.Amount
		}
	}
	return balance
}

// chainHead captures the reads every posting needs: the user's account (its
// version serializes the chain) and the tail of the entry history.
type chainHead struct {
	account *models.Account
	latest  *models.LedgerEntry
	entries []models.LedgerEntry
}

func (e *Engine) readChain(ctx context.Context, tx storage.Txn, userID string) (*chainHead, error) {
	account, err := tx.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := tx.ListLedgerEntriesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	head := &chainHead{account: account, entries: entries}
	if len(entries) > 0 {
		head.latest = &entries[len(entries)-1]
	}
	return head, nil
}

func (h *chainHead) balance() int64 {
	if h.latest == nil {
		return 0
	}
	return h.latest.BalanceAfter
}

func (h *chainHead) nextSeq() int64 {
	if h.latest == nil {
		return 1
	}
	return h.latest.Seq + 1
}

// stageChain stages the new entries plus the account version bump that
// protects the chain from concurrent writers.
func (e *Engine) stageChain(tx storage.Txn, userID string, userType models.UserType, head *chainHead, entries ...*models.LedgerEntry) {
	for _, entry := range entries {
		tx.CreateLedgerEntry(entry)
	}
	account := head.account
	if account == nil {
		account = &models.Account{UserID: userID, UserType: userType}
	}
	account.Version++
	tx.PutAccount(account)
}

// PostEarningAndCommission credits the provider with the full booking amount
// and immediately debits the platform commission, chained strictly after the
// earning. Idempotent: if the booking's earning entry already exists the call
// is a no-op. It also re-evaluates the blocking policy with the new entries
// counted in.
func (e *Engine) PostEarningAndCommission(ctx context.Context, tx storage.Txn, b *models.Booking, userType models.UserType) error {
	amount := b.Payment.Amount
	if amount <= 0 {
		return nil
	}
	providerID := b.ProviderID()

	existing, err := tx.GetLedgerEntry(ctx, EarningLedgerID(b.BookingID))
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	head, err := e.readChain(ctx, tx, providerID)
	if err != nil {
		return err
	}
	blocked, err := tx.GetBlockedAccount(ctx, providerID)
	if err != nil {
		return err
	}

	commission := Commission(amount)
	now := e.clock.Now()
	balance := head.balance()
	seq := head.nextSeq()

	earning := &models.LedgerEntry{
		LedgerID:      EarningLedgerID(b.BookingID),
		UserID:        providerID,
		UserType:      userType,
		BookingID:     b.BookingID,
		EntryType:     models.EntryEarning,
		Direction:     models.Credit,
		Amount:        amount,
		BalanceBefore: balance,
		BalanceAfter:  balance + amount,
		PaymentMode:   b.Payment.Mode,
		Seq:           seq,
		CreatedAt:     now,
	}
	// The commission entry must sort strictly after the earning entry even
	// when both carry the same wall-clock instant.
	commissionEntry := &models.LedgerEntry{
		LedgerID:      CommissionLedgerID(b.BookingID),
		UserID:        providerID,
		UserType:      userType,
		BookingID:     b.BookingID,
		EntryType:     models.EntryCommission,
		Direction:     models.Debit,
		Amount:        commission,
		BalanceBefore: earning.BalanceAfter,
		BalanceAfter:  earning.BalanceAfter - commission,
		Seq:           seq + 1,
		CreatedAt:     now.Add(time.Millisecond),
	}

	e.stageChain(tx, providerID, userType, head, earning, commissionEntry)

	var pendingDelta int64 = -commission
	if b.Payment.Mode == models.Online {
		pendingDelta += amount
	}
	e.applyBlockingPolicy(tx, providerID, userType, blocked, PayableBalance(head.entries)+pendingDelta, now)
	return nil
}

// PostRefund debits the provider's balance by the full original amount of a
// cancelled online booking. Commission already taken is not returned.
// Idempotent by the refund entry's deterministic id.
func (e *Engine) PostRefund(ctx context.Context, tx storage.Txn, b *models.Booking, userType models.UserType) error {
	providerID := b.ProviderID()
	amount := b.Payment.Amount

	existing, err := tx.GetLedgerEntry(ctx, RefundLedgerID(b.BookingID))
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	head, err := e.readChain(ctx, tx, providerID)
	if err != nil {
		return err
	}
	blocked, err := tx.GetBlockedAccount(ctx, providerID)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	balance := head.balance()
	refund := &models.LedgerEntry{
		LedgerID:      RefundLedgerID(b.BookingID),
		UserID:        providerID,
		UserType:      userType,
		BookingID:     b.BookingID,
		EntryType:     models.EntryRefund,
		Direction:     models.Debit,
		Amount:        amount,
		BalanceBefore: balance,
		BalanceAfter:  balance - amount,
		Seq:           head.nextSeq(),
		CreatedAt:     now,
	}

	e.stageChain(tx, providerID, userType, head, refund)
	e.applyBlockingPolicy(tx, providerID, userType, blocked, PayableBalance(head.entries)-amount, now)
	return nil
}

// PostDebtPayment credits a manual settlement of outstanding provider debt.
// The caller supplies a reference that makes the entry id deterministic, so
// operator retries cannot double-credit.
func (e *Engine) PostDebtPayment(ctx context.Context, tx storage.Txn, userID string, userType models.UserType, amount int64, reference string) error {
	if amount <= 0 {
		return fault.New(fault.InvalidArgument, "debt payment amount must be positive")
	}
	if reference == "" {
		return fault.New(fault.InvalidArgument, "debt payment reference is required")
	}
	ledgerID := reference + "_DEBT_PAYMENT"

	existing, err := tx.GetLedgerEntry(ctx, ledgerID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	head, err := e.readChain(ctx, tx, userID)
	if err != nil {
		return err
	}
	blocked, err := tx.GetBlockedAccount(ctx, userID)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	balance := head.balance()
	entry := &models.LedgerEntry{
		LedgerID:      ledgerID,
		UserID:        userID,
		UserType:      userType,
		EntryType:     models.EntryDebtPayment,
		Direction:     models.Credit,
		Amount:        amount,
		BalanceBefore: balance,
		BalanceAfter:  balance + amount,
		Seq:           head.nextSeq(),
		CreatedAt:     now,
	}

	e.stageChain(tx, userID, userType, head, entry)
	e.applyBlockingPolicy(tx, userID, userType, blocked, PayableBalance(head.entries)+amount, now)
	return nil
}

// PostPayout debits a settlement payout against the provider's balance.
// Idempotent by the payout entry's deterministic id; returns whether an entry
// was actually staged.
func (e *Engine) PostPayout(ctx context.Context, tx storage.Txn, settlementID, userID string, userType models.UserType, amount int64) (bool, error) {
	ledgerID := PayoutLedgerID(settlementID)

	existing, err := tx.GetLedgerEntry(ctx, ledgerID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	head, err := e.readChain(ctx, tx, userID)
	if err != nil {
		return false, err
	}

	balance := head.balance()
	entry := &models.LedgerEntry{
		LedgerID:      ledgerID,
		UserID:        userID,
		UserType:      userType,
		EntryType:     models.EntryPayout,
		Direction:     models.Debit,
		Amount:        amount,
		BalanceBefore: balance,
		BalanceAfter:  balance - amount,
		Seq:           head.nextSeq(),
		CreatedAt:     e.clock.Now(),
	}

	e.stageChain(tx, userID, userType, head, entry)
	return true, nil
}

// GetPayableBalance recomputes a user's payable balance from the full entry
// history via the plain read surface.
func GetPayableBalance(ctx context.Context, reader storage.LedgerReader, userID string) (int64, error) {
	entries, err := reader.ListLedgerEntriesByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger entries for %s: %w", userID, err)
	}
	return PayableBalance(entries), nil
}
