package storage

import (
	"context"

	"github.com/jayple/booking-dispatch/pkg/models"
)

// LedgerReader defines the plain read surface over ledger data.
type LedgerReader interface {
	// ListLedgerEntriesByUser returns the user's full entry history in chain
	// (seq ascending) order.
	ListLedgerEntriesByUser(ctx context.Context, userID string) ([]models.LedgerEntry, error)

	// ListAccounts returns every ledger account. The settlement batch uses it
	// to enumerate settlement candidates; customers never get an account, so
	// no further filtering is needed there.
	ListAccounts(ctx context.Context) ([]models.Account, error)
}
