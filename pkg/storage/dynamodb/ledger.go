package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jayple/booking-dispatch/pkg/models"
)

func queryLedgerByUser(ctx context.Context, s *Store, userID string, ascending bool, limit *int32) ([]models.LedgerEntry, error) {
	out, err := s.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.Ledger),
		IndexName:              aws.String(userSeqGSI),
		KeyConditionExpression: aws.String("user_id = :user"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(ascending),
		Limit:            limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	var entries []models.LedgerEntry
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger entries: %w", err)
	}
	return entries, nil
}

// ListLedgerEntriesByUser retrieves the user's full entry history in chain
// (seq ascending) order.
func (s *Store) ListLedgerEntriesByUser(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	return queryLedgerByUser(ctx, s, userID, true, nil)
}

// ListAccounts scans every ledger account. The accounts table only holds one
// small item per provider who has ever earned, so a scan is acceptable for
// the weekly batch.
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.Client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.Tables.Accounts),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan accounts: %w", err)
		}
		var page []models.Account
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal accounts: %w", err)
		}
		accounts = append(accounts, page...)
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return accounts, nil
}
