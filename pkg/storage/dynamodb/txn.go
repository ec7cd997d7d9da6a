package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/storage"
)

const (
	idempotencyKeyGSI = "idempotency-key-index"
	customerGSI       = "customer-index"
	userSeqGSI        = "user-seq-index"

	// idemMarkerPrefix keys the per-city idempotency marker items that live
	// alongside bookings. The marker's conditional put is what makes two
	// concurrent CreateBooking calls with the same key mutually exclusive;
	// the GSI lookup alone is only a snapshot read.
	idemMarkerPrefix = "IDEM#"
)

// txn implements storage.Txn. Reads execute immediately and record the
// version each record had when observed; writes are buffered and committed
// as one TransactWriteItems call whose condition expressions re-validate
// those versions.
type txn struct {
	store *Store

	bookingVersions map[string]int64
	accountVersions map[string]int64

	writes []types.TransactWriteItem
}

func newTxn(s *Store) *txn {
	return &txn{
		store:           s,
		bookingVersions: make(map[string]int64),
		accountVersions: make(map[string]int64),
	}
}

var _ storage.Txn = (*txn)(nil)

func bookingKey(cityID, bookingID string) string {
	return cityID + "/" + bookingID
}

// --- reads ---

func (t *txn) GetBooking(ctx context.Context, cityID, bookingID string) (*models.Booking, error) {
	out, err := t.store.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.store.Tables.Bookings),
		Key: map[string]types.AttributeValue{
			"city_id":    &types.AttributeValueMemberS{Value: cityID},
			"booking_id": &types.AttributeValueMemberS{Value: bookingID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var b models.Booking
	if err := attributevalue.UnmarshalMap(out.Item, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal booking: %w", err)
	}
	t.bookingVersions[bookingKey(cityID, bookingID)] = b.Version
	return &b, nil
}

func (t *txn) FindBookingByIdempotencyKey(ctx context.Context, cityID, key string) (*models.Booking, error) {
	out, err := t.store.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(t.store.Tables.Bookings),
		IndexName:              aws.String(idempotencyKeyGSI),
		KeyConditionExpression: aws.String("city_id = :city AND idempotency_key = :key"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":city": &types.AttributeValueMemberS{Value: cityID},
			":key":  &types.AttributeValueMemberS{Value: key},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings by idempotency key: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var b models.Booking
	if err := attributevalue.UnmarshalMap(out.Items[0], &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal booking: %w", err)
	}
	t.bookingVersions[bookingKey(b.CityID, b.BookingID)] = b.Version
	return &b, nil
}

func (t *txn) GetService(ctx context.Context, cityID, serviceID string) (*models.Service, error) {
	out, err := t.store.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.store.Tables.Services),
		Key: map[string]types.AttributeValue{
			"city_id":    &types.AttributeValueMemberS{Value: cityID},
			"service_id": &types.AttributeValueMemberS{Value: serviceID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var svc models.Service
	if err := attributevalue.UnmarshalMap(out.Item, &svc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal service: %w", err)
	}
	return &svc, nil
}

func (t *txn) ListFreelancers(ctx context.Context, cityID string) ([]models.Freelancer, error) {
	out, err := t.store.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(t.store.Tables.Freelancers),
		KeyConditionExpression: aws.String("city_id = :city"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":city": &types.AttributeValueMemberS{Value: cityID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query freelancers: %w", err)
	}
	var fls []models.Freelancer
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &fls); err != nil {
		return nil, fmt.Errorf("failed to unmarshal freelancers: %w", err)
	}
	return fls, nil
}

func (t *txn) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	out, err := t.store.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.store.Tables.Accounts),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if out.Item == nil {
		t.accountVersions[userID] = 0
		return nil, nil
	}
	var a models.Account
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	t.accountVersions[userID] = a.Version
	return &a, nil
}

func (t *txn) GetLedgerEntry(ctx context.Context, ledgerID string) (*models.LedgerEntry, error) {
	out, err := t.store.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.store.Tables.Ledger),
		Key: map[string]types.AttributeValue{
			"ledger_id": &types.AttributeValueMemberS{Value: ledgerID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var e models.LedgerEntry
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger entry: %w", err)
	}
	return &e, nil
}

func (t *txn) ListLedgerEntriesByUser(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	return queryLedgerByUser(ctx, t.store, userID, true, nil)
}

func (t *txn) LatestLedgerEntry(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	entries, err := queryLedgerByUser(ctx, t.store, userID, false, aws.Int32(1))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (t *txn) GetBlockedAccount(ctx context.Context, userID string) (*models.BlockedAccount, error) {
	out, err := t.store.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.store.Tables.Blocked),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get blocked account: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var b models.BlockedAccount
	if err := attributevalue.UnmarshalMap(out.Item, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal blocked account: %w", err)
	}
	return &b, nil
}

func (t *txn) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	out, err := t.store.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.store.Tables.Settlements),
		Key: map[string]types.AttributeValue{
			"settlement_id": &types.AttributeValueMemberS{Value: settlementID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var s models.Settlement
	if err := attributevalue.UnmarshalMap(out.Item, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}
	return &s, nil
}

// --- staged writes ---

func (t *txn) CreateBooking(b *models.Booking) {
	item := mustMarshalMap(b)
	t.writes = append(t.writes, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(t.store.Tables.Bookings),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(booking_id)"),
		},
	})
	if b.IdempotencyKey != "" {
		// Idempotency marker: its existence condition is what serializes
		// concurrent creates using the same key.
		marker := map[string]types.AttributeValue{
			"city_id":        &types.AttributeValueMemberS{Value: b.CityID},
			"booking_id":     &types.AttributeValueMemberS{Value: idemMarkerPrefix + b.IdempotencyKey},
			"ref_booking_id": &types.AttributeValueMemberS{Value: b.BookingID},
		}
		t.writes = append(t.writes, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(t.store.Tables.Bookings),
				Item:                marker,
				ConditionExpression: aws.String("attribute_not_exists(booking_id)"),
			},
		})
	}
}

func (t *txn) UpdateBooking(b *models.Booking) {
	observed, ok := t.bookingVersions[bookingKey(b.CityID, b.BookingID)]
	if !ok {
		observed = b.Version - 1
	}
	item := mustMarshalMap(b)
	t.writes = append(t.writes, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(t.store.Tables.Bookings),
			Item:                item,
			ConditionExpression: aws.String("version = :version"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", observed)},
			},
		},
	})
}

func (t *txn) AppendStatusEvent(ev *models.StatusEvent) {
	t.writes = append(t.writes, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(t.store.Tables.StatusEvents),
			Item:      mustMarshalMap(ev),
		},
	})
}

func (t *txn) CreateLedgerEntry(e *models.LedgerEntry) {
	t.writes = append(t.writes, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(t.store.Tables.Ledger),
			Item:                mustMarshalMap(e),
			ConditionExpression: aws.String("attribute_not_exists(ledger_id)"),
		},
	})
}

func (t *txn) PutAccount(a *models.Account) {
	observed, ok := t.accountVersions[a.UserID]
	if !ok {
		observed = a.Version - 1
	}
	put := &types.Put{
		TableName: aws.String(t.store.Tables.Accounts),
		Item:      mustMarshalMap(a),
	}
	if observed == 0 {
		put.ConditionExpression = aws.String("attribute_not_exists(user_id)")
	} else {
		put.ConditionExpression = aws.String("version = :version")
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", observed)},
		}
	}
	t.writes = append(t.writes, types.TransactWriteItem{Put: put})
}

func (t *txn) PutBlockedAccount(b *models.BlockedAccount) {
	t.writes = append(t.writes, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(t.store.Tables.Blocked),
			Item:      mustMarshalMap(b),
		},
	})
}

func (t *txn) DeleteBlockedAccount(userID string) {
	t.writes = append(t.writes, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(t.store.Tables.Blocked),
			Key: map[string]types.AttributeValue{
				"user_id": &types.AttributeValueMemberS{Value: userID},
			},
		},
	})
}

func (t *txn) CreateSettlement(s *models.Settlement) {
	t.writes = append(t.writes, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(t.store.Tables.Settlements),
			Item:                mustMarshalMap(s),
			ConditionExpression: aws.String("attribute_not_exists(settlement_id)"),
		},
	})
}

// commit applies the staged writes atomically. Any conditional check failure
// means a record changed (or appeared) after we read it, which is reported as
// a conflict for WithTransaction to retry.
func (t *txn) commit(ctx context.Context) error {
	if len(t.writes) == 0 {
		return nil
	}
	_, err := t.store.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: t.writes,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for _, reason := range tce.CancellationReasons {
				if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
					return storage.ErrTxnConflict
				}
			}
		}
		return fmt.Errorf("failed to execute transaction: %w", err)
	}
	return nil
}

func mustMarshalMap(v any) map[string]types.AttributeValue {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		// Marshalling our own structs only fails on programming errors.
		panic(fmt.Sprintf("dynamodb: marshal %T: %v", v, err))
	}
	return item
}
