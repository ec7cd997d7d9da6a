package dynamodb

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jayple/booking-dispatch/pkg/fault"
	"github.com/jayple/booking-dispatch/pkg/storage"
)

// DynamoDBAPI captures the subset of the DynamoDB client used by the store,
// so tests can substitute a mock.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Tables names the DynamoDB tables backing the engine.
type Tables struct {
	Bookings     string
	StatusEvents string
	Freelancers  string
	Services     string
	Ledger       string
	Accounts     string
	Blocked      string
	Settlements  string
}

// Store implements the storage interfaces using AWS DynamoDB. Atomicity
// comes from TransactWriteItems; read-set validation from per-item version
// condition expressions.
type Store struct {
	Client DynamoDBAPI
	Tables Tables
}

// New creates a new Store.
func New(client DynamoDBAPI, tables Tables) *Store {
	return &Store{Client: client, Tables: tables}
}

// Make sure we conform to the interface
var _ storage.Storage = (*Store)(nil)

// maxTxnAttempts bounds the optimistic-conflict retry loop.
const maxTxnAttempts = 3

// WithTransaction runs fn against a fresh snapshot and commits its staged
// writes in a single TransactWriteItems call. A commit whose version
// preconditions fail re-runs fn from scratch; after maxTxnAttempts the
// failure surfaces as Internal. Errors returned by fn itself pass through
// unchanged and nothing is written.
func (s *Store) WithTransaction(ctx context.Context, fn storage.TxFunc) error {
	var lastErr error
	for attempt := 1; attempt <= maxTxnAttempts; attempt++ {
		tx := newTxn(s)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := tx.commit(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrTxnConflict) {
			return fault.Wrap(fault.Internal, err, "transaction commit failed")
		}
		lastErr = err
	}
	return fault.Wrap(fault.Internal, lastErr, "transaction conflict after %d attempts", maxTxnAttempts)
}
