package models

import (
	"time"
)

// UserType classifies a ledger account holder.
type UserType string

const (
	UserTypeCustomer   UserType = "CUSTOMER"
	UserTypeFreelancer UserType = "FREELANCER"
	UserTypeVendor     UserType = "VENDOR"
)

// EntryType defines the kinds of ledger entries.
type EntryType string

const (
	EntryEarning     EntryType = "EARNING"
	EntryCommission  EntryType = "COMMISSION"
	EntryRefund      EntryType = "REFUND"
	EntryPayout      EntryType = "PAYOUT"
	EntryDebtPayment EntryType = "DEBT_PAYMENT"
)

// Direction defines whether an entry credits or debits the user's balance.
type Direction string

const (
	Credit Direction = "CREDIT"
	Debit  Direction = "DEBIT"
)

// LedgerEntry is a single append-only entry in the double-entry ledger.
//
// LedgerID is deterministic (bookingId + entry type, or settlementId +
// "_PAYOUT") and doubles as the idempotency key: a conditional put on
// ledger_id makes re-posting a no-op. For a fixed user, entries ordered by
// Seq form a chain where each BalanceBefore equals the previous entry's
// BalanceAfter.
type LedgerEntry struct {
	LedgerID      string    `json:"ledger_id" dynamodbav:"ledger_id"`
	UserID        string    `json:"user_id" dynamodbav:"user_id"`
	UserType      UserType  `json:"user_type" dynamodbav:"user_type"`
	BookingID     string    `json:"booking_id,omitempty" dynamodbav:"booking_id,omitempty"`
	EntryType     EntryType `json:"entry_type" dynamodbav:"entry_type"`
	Direction     Direction `json:"direction" dynamodbav:"direction"`
	Amount        int64     `json:"amount" dynamodbav:"amount"`
	BalanceBefore int64     `json:"balance_before" dynamodbav:"balance_before"`
	BalanceAfter  int64     `json:"balance_after" dynamodbav:"balance_after"`
	// PaymentMode of the originating booking. Only meaningful on EARNING
	// entries, where it decides whether the earning counts toward the payable
	// balance (offline cash stays with the provider).
	PaymentMode PaymentMode `json:"payment_mode,omitempty" dynamodbav:"payment_mode,omitempty"`
	Seq         int64       `json:"seq" dynamodbav:"seq"`
	CreatedAt   time.Time   `json:"created_at" dynamodbav:"created_at"`
}

// Account is the per-user serialization point for the ledger chain. Version
// is bumped by every posting transaction; it is both the optimistic-lock
// counter and the source of entry sequence numbers. The balance itself is
// never cached here.
type Account struct {
	UserID   string   `json:"user_id" dynamodbav:"user_id"`
	UserType UserType `json:"user_type" dynamodbav:"user_type"`
	Version  int64    `json:"-" dynamodbav:"version"`
}

// BlockReason explains why an account was suspended.
type BlockReason string

const (
	OutstandingLimitExceeded BlockReason = "OUTSTANDING_LIMIT_EXCEEDED"
)

// BlockedAccount marks a suspended provider. Presence of the record is the
// suspension; it is created and removed only by the blocking policy.
type BlockedAccount struct {
	UserID            string      `json:"user_id" dynamodbav:"user_id"`
	UserType          UserType    `json:"user_type" dynamodbav:"user_type"`
	Reason            BlockReason `json:"reason" dynamodbav:"reason"`
	OutstandingAmount int64       `json:"outstanding_amount" dynamodbav:"outstanding_amount"`
	BlockedAt         time.Time   `json:"blocked_at" dynamodbav:"blocked_at"`
}

// SettlementStatus defines the outcome of one user's settlement period.
type SettlementStatus string

const (
	SettlementPayable        SettlementStatus = "PAYABLE"
	SettlementCarriedForward SettlementStatus = "CARRIED_FORWARD"
)

// Settlement is the per-(user, period) record written by the weekly batch.
// SettlementID is deterministic (userId + periodId) and acts as the
// idempotency guard for re-runs.
type Settlement struct {
	SettlementID       string           `json:"settlement_id" dynamodbav:"settlement_id"`
	UserID             string           `json:"user_id" dynamodbav:"user_id"`
	UserType           UserType         `json:"user_type" dynamodbav:"user_type"`
	PeriodID           string           `json:"period_id" dynamodbav:"period_id"`
	PeriodStart        time.Time        `json:"period_start" dynamodbav:"period_start"`
	PeriodEnd          time.Time        `json:"period_end" dynamodbav:"period_end"`
	NetAmount          int64            `json:"net_amount" dynamodbav:"net_amount"`
	PayoutAmount       int64            `json:"payout_amount" dynamodbav:"payout_amount"`
	CarryForwardAmount int64            `json:"carry_forward_amount" dynamodbav:"carry_forward_amount"`
	Status             SettlementStatus `json:"status" dynamodbav:"status"`
	CreatedAt          time.Time        `json:"created_at" dynamodbav:"created_at"`
}
