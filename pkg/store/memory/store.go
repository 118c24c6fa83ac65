package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"trade-ledger/pkg/ledger"
)

// Store is an in-process ledger.Store. Each account has its own mutex, so
// settlements for one account are serialized while different accounts
// proceed in parallel.
type Store struct {
	mapMu    sync.RWMutex
	accounts map[string]*record
	nextID   int64
}

type record struct {
	mu      sync.Mutex
	account ledger.Account
	history []ledger.Transaction
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{accounts: make(map[string]*record)}
}

func (s *Store) lookup(id string) (*record, error) {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()

	rec, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return rec, nil
}

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if _, exists := s.accounts[acct.ID]; exists {
		return ledger.ErrAccountExists
	}
	s.accounts[acct.ID] = &record{account: acct.Clone()}
	return nil
}

func (s *Store) Account(ctx context.Context, id string) (ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Account{}, err
	}

	rec, err := s.lookup(id)
	if err != nil {
		return ledger.Account{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.account.Clone(), nil
}

// Apply holds the account mutex from read to write.
func (s *Store) Apply(ctx context.Context, id string, fn ledger.ApplyFunc) (ledger.Account, ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Account{}, ledger.Transaction{}, err
	}

	rec, err := s.lookup(id)
	if err != nil {
		return ledger.Account{}, ledger.Transaction{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	next, tx, err := fn(rec.account.Clone())
	if err != nil {
		return ledger.Account{}, ledger.Transaction{}, err
	}

	tx.ID = atomic.AddInt64(&s.nextID, 1)
	tx.UserID = id
	rec.account = next.Clone()
	rec.history = append(rec.history, tx)

	return next, tx, nil
}

func (s *Store) Snapshot(ctx context.Context, id string) (ledger.Account, []ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Account{}, nil, err
	}

	rec, err := s.lookup(id)
	if err != nil {
		return ledger.Account{}, nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	history := make([]ledger.Transaction, len(rec.history))
	copy(history, rec.history)
	return rec.account.Clone(), history, nil
}

func (s *Store) Transactions(ctx context.Context, id string) ([]ledger.Transaction, error) {
	_, history, err := s.Snapshot(ctx, id)
	return history, err
}

// Close is a no-op; the store lives as long as the process.
func (s *Store) Close() error {
	return nil
}
