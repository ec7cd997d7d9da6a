package ledger

import (
	"context"
	"time"

	"github.com/jayple/booking-dispatch/pkg/fault"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/storage"
)

// OutstandingLimit is the payable balance below which an account is
// suspended.
const OutstandingLimit = -10000

// applyBlockingPolicy stages the block/unblock decision for the given payable
// balance. The blocked record must have been read before any writes were
// staged in this transaction; postings pass it in along with the balance that
// includes their pending entries.
func (e *Engine) applyBlockingPolicy(tx storage.Txn, userID string, userType models.UserType, blocked *models.BlockedAccount, payable int64, now time.Time) {
	if payable < OutstandingLimit {
		if blocked != nil && blocked.Reason == models.OutstandingLimitExceeded {
			return
		}
		tx.PutBlockedAccount(&models.BlockedAccount{
			UserID:            userID,
			UserType:          userType,
			Reason:            models.OutstandingLimitExceeded,
			OutstandingAmount: -payable,
			BlockedAt:         now,
		})
		return
	}
	if blocked != nil && blocked.Reason == models.OutstandingLimitExceeded {
		tx.DeleteBlockedAccount(userID)
	}
}

// CheckOutstandingBalance re-evaluates the blocking policy for a user,
// optionally counting a pending balance delta that has not been posted yet.
// Standalone re-checks (outside a posting) run through here.
func (e *Engine) CheckOutstandingBalance(ctx context.Context, tx storage.Txn, userID string, userType models.UserType, pendingDelta int64) error {
	entries, err := tx.ListLedgerEntriesByUser(ctx, userID)
	if err != nil {
		return err
	}
	blocked, err := tx.GetBlockedAccount(ctx, userID)
	if err != nil {
		return err
	}
	e.applyBlockingPolicy(tx, userID, userType, blocked, PayableBalance(entries)+pendingDelta, e.clock.Now())
	return nil
}

// EnforceBlock rejects the call when the user's account is suspended. It is
// the hard gate at the start of every provider-facing mutation; blocked
// providers can still be read but cannot take on or respond to work.
func EnforceBlock(ctx context.Context, tx storage.Txn, userID string) error {
	blocked, err := tx.GetBlockedAccount(ctx, userID)
	if err != nil {
		return err
	}
	if blocked != nil {
		return fault.New(fault.PermissionDenied, "account %s is blocked: %s", userID, blocked.Reason)
	}
	return nil
}
