// Package memory provides an in-memory Storage implementation with the same
// optimistic-concurrency semantics as the DynamoDB store. It backs engine and
// handler tests; nothing in the binaries uses it.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jayple/booking-dispatch/pkg/fault"
	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/storage"
)

// Store keeps every table as a map guarded by one mutex. A transaction holds
// the lock for its whole body, so conflicts only arise from staged writes
// whose preconditions were violated by the transaction itself re-running.
type Store struct {
	mu sync.Mutex

	bookings    map[string]models.Booking // city/id
	idemKeys    map[string]string         // city/key -> booking id
	events      map[string][]models.StatusEvent
	freelancers map[string][]models.Freelancer // city
	services    map[string]models.Service      // city/id
	accounts    map[string]models.Account
	ledger      map[string]models.LedgerEntry
	blocked     map[string]models.BlockedAccount
	settlements map[string]models.Settlement
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		bookings:    make(map[string]models.Booking),
		idemKeys:    make(map[string]string),
		events:      make(map[string][]models.StatusEvent),
		freelancers: make(map[string][]models.Freelancer),
		services:    make(map[string]models.Service),
		accounts:    make(map[string]models.Account),
		ledger:      make(map[string]models.LedgerEntry),
		blocked:     make(map[string]models.BlockedAccount),
		settlements: make(map[string]models.Settlement),
	}
}

var _ storage.Storage = (*Store)(nil)

func key(parts ...string) string {
	k := parts[0]
	for _, p := range parts[1:] {
		k += "/" + p
	}
	return k
}

func cloneBooking(b models.Booking) models.Booking {
	b.AssignmentAttempts = append([]models.AssignmentAttempt(nil), b.AssignmentAttempts...)
	return b
}

// --- seeding and inspection helpers for tests ---

// SeedService installs a catalog record.
func (s *Store) SeedService(svc models.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[key(svc.CityID, svc.ServiceID)] = svc
}

// SeedFreelancer installs a freelancer record, replacing any previous record
// with the same user id in the city.
func (s *Store) SeedFreelancer(f models.Freelancer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.freelancers[f.CityID]
	for i := range list {
		if list[i].UserID == f.UserID {
			list[i] = f
			return
		}
	}
	s.freelancers[f.CityID] = append(list, f)
}

// BlockedAccount returns the blocked record for a user, or nil.
func (s *Store) BlockedAccount(userID string) *models.BlockedAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blocked[userID]; ok {
		return &b
	}
	return nil
}

// Settlement returns a settlement by id, or nil.
func (s *Store) Settlement(settlementID string) *models.Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.settlements[settlementID]; ok {
		return &st
	}
	return nil
}

// SettlementCount reports how many settlement records exist.
func (s *Store) SettlementCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.settlements)
}

// --- plain readers ---

func (s *Store) GetBooking(_ context.Context, cityID, bookingID string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bookings[key(cityID, bookingID)]; ok {
		b = cloneBooking(b)
		return &b, nil
	}
	return nil, nil
}

func (s *Store) ListBookingsByCustomer(_ context.Context, cityID, customerID string) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if b.CityID == cityID && b.CustomerID == customerID {
			out = append(out, cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListStatusEvents(_ context.Context, bookingID string) ([]models.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.StatusEvent(nil), s.events[bookingID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (s *Store) ListLedgerEntriesByUser(_ context.Context, userID string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesByUserLocked(userID), nil
}

func (s *Store) entriesByUserLocked(userID string) []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *Store) ListAccounts(_ context.Context) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Account
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// --- transactions ---

const maxTxnAttempts = 3

// WithTransaction mirrors the DynamoDB store's retry contract.
func (s *Store) WithTransaction(ctx context.Context, fn storage.TxFunc) error {
	var lastErr error
	for attempt := 1; attempt <= maxTxnAttempts; attempt++ {
		s.mu.Lock()
		tx := &txn{store: s}
		err := fn(ctx, tx)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		err = tx.commit()
		s.mu.Unlock()
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
