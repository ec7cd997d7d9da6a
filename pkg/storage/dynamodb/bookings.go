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

// GetBooking retrieves a booking outside of any transaction.
func (s *Store) GetBooking(ctx context.Context, cityID, bookingID string) (*models.Booking, error) {
	out, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.Tables.Bookings),
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
	return &b, nil
}

// ListBookingsByCustomer retrieves all bookings a customer placed in a city,
// newest first.
func (s *Store) ListBookingsByCustomer(ctx context.Context, cityID, customerID string) ([]models.Booking, error) {
	out, err := s.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.Bookings),
		IndexName:              aws.String(customerGSI),
		KeyConditionExpression: aws.String("customer_id = :customer"),
		FilterExpression:       aws.String("city_id = :city"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":customer": &types.AttributeValueMemberS{Value: customerID},
			":city":     &types.AttributeValueMemberS{Value: cityID},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings by customer: %w", err)
	}
	var bookings []models.Booking
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &bookings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bookings: %w", err)
	}
	return bookings, nil
}

// ListStatusEvents retrieves a booking's audit trail in append order.
func (s *Store) ListStatusEvents(ctx context.Context, bookingID string) ([]models.StatusEvent, error) {
	out, err := s.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.StatusEvents),
		KeyConditionExpression: aws.String("booking_id = :booking"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":booking": &types.AttributeValueMemberS{Value: bookingID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query status events: %w", err)
	}
	var events []models.StatusEvent
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status events: %w", err)
	}
	return events, nil
}
