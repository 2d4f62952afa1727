// Package memory is an in-process ledger store. A transaction holds the
// whole store, so units of work are serialized; rollback restores a
// snapshot taken at Begin or at the savepoint.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/usecase"
)

// ErrForeignTransaction is returned when a transaction from another store is used.
var ErrForeignTransaction = errors.New("memory: transaction does not belong to this store")

type pairKey struct {
	userID   int64
	currency string
}

type state struct {
	balances      map[int64]domain.Balance
	pairs         map[pairKey]int64
	entries       []*domain.LedgerEntry
	entryIndex    map[string]int
	keys          map[string]string
	externalTxIDs map[string]string
	outbox        []*domain.OutboxEvent
	nextBalanceID int64
}

func newState() state {
	return state{
		balances:      make(map[int64]domain.Balance),
		pairs:         make(map[pairKey]int64),
		entryIndex:    make(map[string]int),
		keys:          make(map[string]string),
		externalTxIDs: make(map[string]string),
	}
}

func (s state) clone() state {
	c := state{
		balances:      make(map[int64]domain.Balance, len(s.balances)),
		pairs:         make(map[pairKey]int64, len(s.pairs)),
		entries:       make([]*domain.LedgerEntry, len(s.entries)),
		entryIndex:    make(map[string]int, len(s.entryIndex)),
		keys:          make(map[string]string, len(s.keys)),
		externalTxIDs: make(map[string]string, len(s.externalTxIDs)),
		outbox:        make([]*domain.OutboxEvent, len(s.outbox)),
		nextBalanceID: s.nextBalanceID,
	}

	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.pairs {
		c.pairs[k] = v
	}
	for i, e := range s.entries {
		c.entries[i] = copyEntry(e)
	}
	for k, v := range s.entryIndex {
		c.entryIndex[k] = v
	}
	for k, v := range s.keys {
		c.keys[k] = v
	}
	for k, v := range s.externalTxIDs {
		c.externalTxIDs[k] = v
	}
	for i, e := range s.outbox {
		copied := *e
		c.outbox[i] = &copied
	}

	return c
}

// Store holds balances, entries and outbox events in memory.
type Store struct {
	// lock is a one-slot semaphore held by the open transaction.
	lock chan struct{}
	mu   sync.RWMutex
	data state
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		lock: make(chan struct{}, 1),
		data: newState(),
	}
}

// Tx is a memory transaction or savepoint.
type Tx struct {
	store    *Store
	snapshot state
	nested   bool
	done     bool
}

// Commit keeps the changes. Committing a finished transaction is a no-op.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}

	t.done = true
	if !t.nested {
		<-t.store.lock
	}

	return nil
}

// Rollback restores the snapshot. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}

	t.store.mu.Lock()
	t.store.data = t.snapshot
	t.store.mu.Unlock()

	t.done = true
	if !t.nested {
		<-t.store.lock
	}

	return nil
}

// TxManager implements usecase.TransactionManager.
type TxManager struct {
	store *Store
}

// TxManager returns the transaction manager of the store.
func (s *Store) TxManager() *TxManager {
	return &TxManager{store: s}
}

// Begin waits for exclusive access to the store.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	select {
	case m.store.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &Tx{store: m.store, snapshot: m.store.snapshot()}, nil
}

// BeginNested opens a savepoint in tx.
func (m *TxManager) BeginNested(ctx context.Context, tx usecase.Transaction) (usecase.Transaction, error) {
	if _, err := m.store.own(tx); err != nil {
		return nil, err
	}

	return &Tx{store: m.store, snapshot: m.store.snapshot(), nested: true}, nil
}

func (s *Store) snapshot() state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.clone()
}

func (s *Store) own(tx usecase.Transaction) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t.store != s || t.done {
		return nil, ErrForeignTransaction
	}
	return t, nil
}

// committed runs fn outside any transaction. It waits for the open
// transaction so readers never observe uncommitted changes.
func (s *Store) committed(ctx context.Context, fn func(d *state) error) error {
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.lock }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(&s.data)
}

// write runs fn against the data of an open transaction.
func (s *Store) write(tx usecase.Transaction, fn func(d *state) error) error {
	if _, err := s.own(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(&s.data)
}

func copyEntry(e *domain.LedgerEntry) *domain.LedgerEntry {
	c := *e
	c.Settlement.Metadata = make(map[string]any, len(e.Settlement.Metadata))
	for k, v := range e.Settlement.Metadata {
		c.Settlement.Metadata[k] = v
	}
	return &c
}
