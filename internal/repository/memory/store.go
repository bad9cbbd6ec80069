// Package memory is an in-process implementation of repository.Store.
// A transaction holds one store-wide lock and works on a copy of the data
// that replaces the committed copy only when the callback succeeds, which
// gives the same all-or-nothing behaviour as the PostgreSQL store.
package memory

import (
	"context"
	"errors"
	"sync"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

// errCheckViolation mirrors the balance >= 0 table constraint.
var errCheckViolation = errors.New("check constraint violated")

type state struct {
	trips       map[string]*domain.Trip
	events      map[string][]*domain.TripEvent
	drivers     map[string]*domain.Driver
	assignments map[string][]*domain.Assignment
	wallets     map[string]*domain.Wallet
	txns        map[string][]*domain.WalletTransaction
}

func newState() *state {
	return &state{
		trips:       make(map[string]*domain.Trip),
		events:      make(map[string][]*domain.TripEvent),
		drivers:     make(map[string]*domain.Driver),
		assignments: make(map[string][]*domain.Assignment),
		wallets:     make(map[string]*domain.Wallet),
		txns:        make(map[string][]*domain.WalletTransaction),
	}
}

// clone copies everything a transaction may mutate. Events and wallet
// transactions are append-only, so their elements are shared.
func (s *state) clone() *state {
	c := newState()
	for id, t := range s.trips {
		c.trips[id] = t.Clone()
	}
	for id, evs := range s.events {
		c.events[id] = append([]*domain.TripEvent(nil), evs...)
	}
	for id, d := range s.drivers {
		dc := *d
		c.drivers[id] = &dc
	}
	for id, as := range s.assignments {
		cp := make([]*domain.Assignment, len(as))
		for i, a := range as {
			ac := *a
			cp[i] = &ac
		}
		c.assignments[id] = cp
	}
	for owner, w := range s.wallets {
		wc := *w
		c.wallets[owner] = &wc
	}
	for id, ts := range s.txns {
		c.txns[id] = append([]*domain.WalletTransaction(nil), ts...)
	}
	return c
}

type db struct {
	mu sync.Mutex
	st *state
}

// Store is an in-memory repository.Store.
type Store struct {
	db *db
	tx *state
}

var _ repository.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{db: &db{st: newState()}}
}

func (s *Store) Trips() repository.TripRepository             { return &tripRepo{s: s} }
func (s *Store) Drivers() repository.DriverRepository         { return &driverRepo{s: s} }
func (s *Store) Assignments() repository.AssignmentRepository { return &assignmentRepo{s: s} }
func (s *Store) Wallets() repository.WalletRepository         { return &walletRepo{s: s} }

// WithinTx runs fn against a private copy of the data and publishes the copy
// only if fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	work := s.db.st.clone()
	if err := fn(ctx, &Store{db: s.db, tx: work}); err != nil {
		return err
	}
	s.db.st = work
	return nil
}

// do runs fn on the transaction copy, or on the committed data under the lock.
// Single writes validate before mutating, so they are atomic on their own.
func (s *Store) do(fn func(st *state) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return fn(s.db.st)
}
