package storage

import (
	"context"

	"github.com/jayple/booking-dispatch/pkg/models"
)

// BookingReader defines the plain (non-transactional) read surface used by
// the polling endpoints. Missing records are returned as (nil, nil).
type BookingReader interface {
	// GetBooking retrieves a booking by city and id.
	GetBooking(ctx context.Context, cityID, bookingID string) (*models.Booking, error)

	// ListBookingsByCustomer retrieves all bookings a customer has placed in
	// a city, newest first.
	ListBookingsByCustomer(ctx context.Context, cityID, customerID string) ([]models.Booking, error)

	// ListStatusEvents retrieves a booking's audit trail in append order.
	ListStatusEvents(ctx context.Context, bookingID string) ([]models.StatusEvent, error)
}
