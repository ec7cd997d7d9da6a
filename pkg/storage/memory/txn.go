package memory

import (
	"context"

	"github.com/jayple/booking-dispatch/pkg/models"
	"github.com/jayple/booking-dispatch/pkg/storage"
)

type stagedWrite struct {
	// validate checks the write's precondition against current state;
	// apply performs it. Commit runs every validate before any apply, so a
	// staged set either lands in full or not at all.
	validate func() error
	apply    func()
}

// txn implements storage.Txn over the locked store. Reads record observed
// versions; commit re-validates them so the memory store rejects the same
// writes DynamoDB's condition expressions would.
type txn struct {
	store *Store

	bookingVersions map[string]int64
	accountVersions map[string]int64

	writes []stagedWrite
}

var _ storage.Txn = (*txn)(nil)

func (t *txn) observedBookingVersion(k string, v int64) {
	if t.bookingVersions == nil {
		t.bookingVersions = make(map[string]int64)
	}
	t.bookingVersions[k] = v
}

func (t *txn) observedAccountVersion(userID string, v int64) {
	if t.accountVersions == nil {
		t.accountVersions = make(map[string]int64)
	}
	t.accountVersions[userID] = v
}

// --- reads ---

func (t *txn) GetBooking(_ context.Context, cityID, bookingID string) (*models.Booking, error) {
	if b, ok := t.store.bookings[key(cityID, bookingID)]; ok {
		t.observedBookingVersion(key(cityID, bookingID), b.Version)
		b = cloneBooking(b)
		return &b, nil
	}
	return nil, nil
}

func (t *txn) FindBookingByIdempotencyKey(ctx context.Context, cityID, idemKey string) (*models.Booking, error) {
	id, ok := t.store.idemKeys[key(cityID, idemKey)]
	if !ok {
		return nil, nil
	}
	return t.GetBooking(ctx, cityID, id)
}

func (t *txn) GetService(_ context.Context, cityID, serviceID string) (*models.Service, error) {
	if svc, ok := t.store.services[key(cityID, serviceID)]; ok {
		return &svc, nil
	}
	return nil, nil
}

func (t *txn) ListFreelancers(_ context.Context, cityID string) ([]models.Freelancer, error) {
	return append([]models.Freelancer(nil), t.store.freelancers[cityID]...), nil
}

func (t *txn) GetAccount(_ context.Context, userID string) (*models.Account, error) {
	if a, ok := t.store.accounts[userID]; ok {
		t.observedAccountVersion(userID, a.Version)
		return &a, nil
	}
	t.observedAccountVersion(userID, 0)
	return nil, nil
}

func (t *txn) GetLedgerEntry(_ context.Context, ledgerID string) (*models.LedgerEntry, error) {
	if e, ok := t.store.ledger[ledgerID]; ok {
		return &e, nil
	}
	return nil, nil
}

func (t *txn) ListLedgerEntriesByUser(_ context.Context, userID string) ([]models.LedgerEntry, error) {
	return t.store.entriesByUserLocked(userID), nil
}

func (t *txn) LatestLedgerEntry(_ context.Context, userID string) (*models.LedgerEntry, error) {
	entries := t.store.entriesByUserLocked(userID)
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[len(entries)-1], nil
}

func (t *txn) GetBlockedAccount(_ context.Context, userID string) (*models.BlockedAccount, error) {
	if b, ok := t.store.blocked[userID]; ok {
		return &b, nil
	}
	return nil, nil
}

func (t *txn) GetSettlement(_ context.Context, settlementID string) (*models.Settlement, error) {
	if s, ok := t.store.settlements[settlementID]; ok {
		return &s, nil
	}
	return nil, nil
}

// --- staged writes ---

func (t *txn) CreateBooking(b *models.Booking) {
	nb := cloneBooking(*b)
	t.writes = append(t.writes, stagedWrite{
		validate: func() error {
			if _, exists := t.store.bookings[key(nb.CityID, nb.BookingID)]; exists {
				return storage.ErrTxnConflict
			}
			if nb.IdempotencyKey != "" {
				if _, exists := t.store.idemKeys[key(nb.CityID, nb.IdempotencyKey)]; exists {
					return storage.ErrTxnConflict
				}
			}
			return nil
		},
		apply: func() {
			if nb.IdempotencyKey != "" {
				t.store.idemKeys[key(nb.CityID, nb.IdempotencyKey)] = nb.BookingID
			}
			t.store.bookings[key(nb.CityID, nb.BookingID)] = nb
		},
	})
}

func (t *txn) UpdateBooking(b *models.Booking) {
	nb := cloneBooking(*b)
	observed, ok := t.bookingVersions[key(nb.CityID, nb.BookingID)]
	if !ok {
		observed = nb.Version - 1
	}
	t.writes = append(t.writes, stagedWrite{
		validate: func() error {
			cur, exists := t.store.bookings[key(nb.CityID, nb.BookingID)]
			if !exists || cur.Version != observed {
				return storage.ErrTxnConflict
			}
			return nil
		},
		apply: func() { t.store.bookings[key(nb.CityID, nb.BookingID)] = nb },
	})
}

func (t *txn) AppendStatusEvent(ev *models.StatusEvent) {
	nev := *ev
	t.writes = append(t.writes, stagedWrite{
		apply: func() { t.store.events[nev.BookingID] = append(t.store.events[nev.BookingID], nev) },
	})
}

func (t *txn) CreateLedgerEntry(e *models.LedgerEntry) {
	ne := *e
	t.writes = append(t.writes, stagedWrite{
		validate: func() error {
			if _, exists := t.store.ledger[ne.LedgerID]; exists {
				return storage.ErrTxnConflict
			}
			return nil
		},
		apply: func() { t.store.ledger[ne.LedgerID] = ne },
	})
}

func (t *txn) PutAccount(a *models.Account) {
	na := *a
	observed, ok := t.accountVersions[na.UserID]
	if !ok {
		observed = na.Version - 1
	}
	t.writes = append(t.writes, stagedWrite{
		validate: func() error {
			cur, exists := t.store.accounts[na.UserID]
			if exists && cur.Version != observed {
				return storage.ErrTxnConflict
			}
			if !exists && observed != 0 {
				return storage.ErrTxnConflict
			}
			return nil
		},
		apply: func() { t.store.accounts[na.UserID] = na },
	})
}

func (t *txn) PutBlockedAccount(b *models.BlockedAccount) {
	nb := *b
	t.writes = append(t.writes, stagedWrite{
		apply: func() { t.store.blocked[nb.UserID] = nb },
	})
}

func (t *txn) DeleteBlockedAccount(userID string) {
	t.writes = append(t.writes, stagedWrite{
		apply: func() { delete(t.store.blocked, userID) },
	})
}

func (t *txn) CreateSettlement(s *models.Settlement) {
	ns := *s
	t.writes = append(t.writes, stagedWrite{
		validate: func() error {
			if _, exists := t.store.settlements[ns.SettlementID]; exists {
				return storage.ErrTxnConflict
			}
			return nil
		},
		apply: func() { t.store.settlements[ns.SettlementID] = ns },
	})
}

// commit validates every staged precondition before applying anything, so a
// transaction lands in full or not at all. The store lock is already held by
// WithTransaction.
func (t *txn) commit() error {
	for _, w := range t.writes {
		if w.validate != nil {
			if err := w.validate(); err != nil {
				return err
			}
		}
	}
	for _, w := range t.writes {
		w.apply()
	}
	return nil
}
