package models

import (
	"fmt"
	"time"
)

// BookingType distinguishes in-shop bookings (fulfilled by a vendor at their
// salon) from home bookings (fulfilled by a dispatched freelancer).
type BookingType string

const (
	InShop BookingType = "IN_SHOP"
	Home   BookingType = "HOME"
)

// BookingStatus defines the possible states of a booking.
type BookingStatus string

const (
	CREATED     BookingStatus = "CREATED"
	ASSIGNED    BookingStatus = "ASSIGNED"
	REASSIGNED  BookingStatus = "REASSIGNED"
	CONFIRMED   BookingStatus = "CONFIRMED"
	IN_PROGRESS BookingStatus = "IN_PROGRESS"
	COMPLETED   BookingStatus = "COMPLETED"
	REJECTED    BookingStatus = "REJECTED"
	FAILED      BookingStatus = "FAILED"
	CANCELLED   BookingStatus = "CANCELLED"
	// TIMEOUT only ever appears as the target of an audit status event; the
	// booking record itself never rests in this state.
	TIMEOUT BookingStatus = "TIMEOUT"
)

// Terminal reports whether no further transition out of s is allowed.
func (s BookingStatus) Terminal() bool {
	switch s {
	case COMPLETED, CANCELLED, FAILED, REJECTED:
		return true
	}
	return false
}

// FailureReason explains why a booking ended up FAILED.
type FailureReason string

const (
	NoFreelancerAvailable FailureReason = "NO_FREELANCER_AVAILABLE"
	MaxAssignmentAttempts FailureReason = "MAX_ASSIGNMENT_ATTEMPTS"
	PaymentFailed         FailureReason = "PAYMENT_FAILED"
)

// PaymentMode defines how a booking is paid for. Home bookings collect online
// through the platform; in-shop bookings are settled in cash at the salon.
type PaymentMode string

const (
	Online  PaymentMode = "ONLINE"
	Offline PaymentMode = "OFFLINE"
)

// PaymentStatus defines the payment sub-state embedded in a booking.
type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "NOT_REQUIRED"
	PaymentPending     PaymentStatus = "PENDING"
	PaymentAuthorized  PaymentStatus = "AUTHORIZED"
	PaymentCaptured    PaymentStatus = "CAPTURED"
	PaymentFailedState PaymentStatus = "FAILED"
	PaymentRefunded    PaymentStatus = "REFUNDED"
)

// Payment is the payment sub-record embedded in a booking. Amounts are in
// minor currency units.
type Payment struct {
	Mode        PaymentMode   `json:"mode" dynamodbav:"mode"`
	Status      PaymentStatus `json:"status" dynamodbav:"status"`
	Amount      int64         `json:"amount" dynamodbav:"amount"`
	Currency    string        `json:"currency" dynamodbav:"currency"`
	ProviderRef string        `json:"provider_ref,omitempty" dynamodbav:"provider_ref,omitempty"`
}

// AssignmentAttempt records one freelancer who was assigned a home booking
// and failed to take it (rejected or timed out).
type AssignmentAttempt struct {
	FreelancerID string    `json:"freelancer_id" dynamodbav:"freelancer_id"`
	AssignedAt   time.Time `json:"assigned_at" dynamodbav:"assigned_at"`
	FailedAt     time.Time `json:"failed_at" dynamodbav:"failed_at"`
}

// Booking is the internal domain model for a service booking. It includes
// dynamodbav tags for marshalling.
type Booking struct {
	BookingID       string        `json:"booking_id" dynamodbav:"booking_id"`
	CityID          string        `json:"city_id" dynamodbav:"city_id"`
	IdempotencyKey  string        `json:"idempotency_key,omitempty" dynamodbav:"idempotency_key,omitempty"`
	Type            BookingType   `json:"type" dynamodbav:"type"`
	ServiceID       string        `json:"service_id" dynamodbav:"service_id"`
	ServiceCategory string        `json:"service_category" dynamodbav:"service_category"`
	CustomerID      string        `json:"customer_id" dynamodbav:"customer_id"`
	FreelancerID    string        `json:"freelancer_id,omitempty" dynamodbav:"freelancer_id,omitempty"`
	VendorID        string        `json:"vendor_id,omitempty" dynamodbav:"vendor_id,omitempty"`
	Status          BookingStatus `json:"status" dynamodbav:"status"`
	FailureReason   FailureReason `json:"failure_reason,omitempty" dynamodbav:"failure_reason,omitempty"`

	AssignmentAttempts []AssignmentAttempt `json:"assignment_attempts,omitempty" dynamodbav:"assignment_attempts,omitempty"`

	Payment Payment `json:"payment" dynamodbav:"payment"`

	ScheduledAt time.Time `json:"scheduled_at" dynamodbav:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" dynamodbav:"updated_at"`
	Version     int64     `json:"-" dynamodbav:"version"`
}

// ProviderID returns the identity of the party fulfilling the booking: the
// assigned freelancer for home bookings, the owning vendor otherwise.
func (b *Booking) ProviderID() string {
	if b.Type == Home {
		return b.FreelancerID
	}
	return b.VendorID
}

// Actor identifies who performed a status transition.
type Actor string

const (
	ActorCustomer   Actor = "customer"
	ActorVendor     Actor = "vendor"
	ActorFreelancer Actor = "freelancer"
	ActorSystem     Actor = "system"
	ActorOperator   Actor = "operator"
)

// StatusEvent is an append-only audit record of a single booking status
// transition. Events are never mutated or deleted.
type StatusEvent struct {
	BookingID string            `json:"booking_id" dynamodbav:"booking_id"`
	EventID   string            `json:"event_id" dynamodbav:"event_id"`
	From      BookingStatus     `json:"from,omitempty" dynamodbav:"from,omitempty"`
	To        BookingStatus     `json:"to" dynamodbav:"to"`
	Actor     Actor             `json:"actor" dynamodbav:"actor"`
	ActorID   string            `json:"actor_id,omitempty" dynamodbav:"actor_id,omitempty"`
	Timestamp time.Time         `json:"timestamp" dynamodbav:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
}

// EventID builds a sortable status-event id from the booking version that
// produced the event and the event's position within that transaction.
// Every status write bumps the booking version exactly once, so the pair is
// unique and ordered per booking.
func EventID(version int64, n int) string {
	return fmt.Sprintf("%010d", version*10+int64(n))
}

// FreelancerStatus is the admin-controlled activation state of a freelancer.
type FreelancerStatus string

const (
	FreelancerActive   FreelancerStatus = "active"
	FreelancerInactive FreelancerStatus = "inactive"
)

// Freelancer is a home-service provider registered in one city.
type Freelancer struct {
	UserID            string           `json:"user_id" dynamodbav:"user_id"`
	CityID            string           `json:"city_id" dynamodbav:"city_id"`
	Status            FreelancerStatus `json:"status" dynamodbav:"status"`
	IsOnline          bool             `json:"is_online" dynamodbav:"is_online"`
	ServiceCategories []string         `json:"service_categories" dynamodbav:"service_categories"`
	PriorityTier      string           `json:"priority_tier" dynamodbav:"priority_tier"`
	LastActiveAt      time.Time        `json:"last_active_at" dynamodbav:"last_active_at"`
}

// TierRank maps a priority tier to its ordering weight. Unknown tiers rank
// below bronze.
func (f *Freelancer) TierRank() int {
	switch f.PriorityTier {
	case "gold":
		return 3
	case "silver":
		return 2
	case "bronze":
		return 1
	}
	return 0
}

// ServesCategory reports whether the freelancer offers the given category.
func (f *Freelancer) ServesCategory(category string) bool {
	for _, c := range f.ServiceCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Service is a catalog record looked up at booking time. The catalog is owned
// by an external surface; this engine only reads it.
type Service struct {
	ServiceID string      `json:"service_id" dynamodbav:"service_id"`
	CityID    string      `json:"city_id" dynamodbav:"city_id"`
	Name      string      `json:"name" dynamodbav:"name"`
	Category  string      `json:"category" dynamodbav:"category"`
	Type      BookingType `json:"type" dynamodbav:"type"`
	Price     int64       `json:"price" dynamodbav:"price"`
	VendorID  string      `json:"vendor_id,omitempty" dynamodbav:"vendor_id,omitempty"`
}
