package storage

import (
	"context"

	"github.com/jayple/booking-dispatch/pkg/models"
)

// Txn is one atomic unit of work against the store.
//
// Reads are snapshot reads executed immediately; each read of a versioned
// record registers a precondition that the commit re-validates, so two
// transactions racing on the same record cannot both commit. Writes are
// staged and applied in a single atomic commit when the transaction function
// returns nil.
//
// The store's transaction discipline requires every read needed for a
// decision to happen before the first staged write. Implementations are free
// to reject interleaving.
//
// Reads return (nil, nil) when the record does not exist; translating that
// into a NotFound fault is the caller's concern.
type Txn interface {
	// --- reads ---

	GetBooking(ctx context.Context, cityID, bookingID string) (*models.Booking, error)

	// FindBookingByIdempotencyKey looks up a booking by its client-supplied
	// idempotency key within a city.
	FindBookingByIdempotencyKey(ctx context.Context, cityID, key string) (*models.Booking, error)

	GetService(ctx context.Context, cityID, serviceID string) (*models.Service, error)

	// ListFreelancers returns every freelancer registered in the city.
	// Availability and category filtering is the assignment engine's job.
	ListFreelancers(ctx context.Context, cityID string) ([]models.Freelancer, error)

	GetAccount(ctx context.Context, userID string) (*models.Account, error)

	// GetLedgerEntry looks up one entry by its deterministic id. The posting
	// guards ("has this booking already earned?") read through this.
	GetLedgerEntry(ctx context.Context, ledgerID string) (*models.LedgerEntry, error)

	// ListLedgerEntriesByUser returns the user's full entry history in chain
	// (seq ascending) order.
	ListLedgerEntriesByUser(ctx context.Context, userID string) ([]models.LedgerEntry, error)

	// LatestLedgerEntry returns the newest entry in the user's chain.
	LatestLedgerEntry(ctx context.Context, userID string) (*models.LedgerEntry, error)

	GetBlockedAccount(ctx context.Context, userID string) (*models.BlockedAccount, error)

	GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error)

	// --- staged writes ---

	// CreateBooking stages a put that fails the commit if a booking with the
	// same key already exists.
	CreateBooking(b *models.Booking)

	// UpdateBooking stages a put conditioned on the version observed when the
	// booking was read in this transaction.
	UpdateBooking(b *models.Booking)

	AppendStatusEvent(ev *models.StatusEvent)

	// CreateLedgerEntry stages an append conditioned on the deterministic
	// ledger id not existing yet.
	CreateLedgerEntry(e *models.LedgerEntry)

	// PutAccount stages a version-conditioned upsert of the per-user account
	// record that serializes that user's ledger chain.
	PutAccount(a *models.Account)

	PutBlockedAccount(b *models.BlockedAccount)
	DeleteBlockedAccount(userID string)

	// CreateSettlement stages a put that fails the commit if the settlement
	// id already exists.
	CreateSettlement(s *models.Settlement)
}

// TxFunc is the body of a transaction. It must be free of external side
// effects other than its reads and staged writes: on an optimistic-concurrency
// conflict the whole function is re-run.
type TxFunc func(ctx context.Context, tx Txn) error

// TxRunner executes transaction functions with bounded conflict retry.
type TxRunner interface {
	// WithTransaction runs fn and atomically commits its staged writes.
	// Conflicts re-run fn from scratch; once attempts are exhausted the
	// error surfaces as Internal. Typed errors returned by fn abort the
	// transaction and pass through unchanged.
	WithTransaction(ctx context.Context, fn TxFunc) error
}
