package ledger

import "context"

// ApplyFunc computes the next account state and the transaction for it.
// Returning an error aborts the write.
type ApplyFunc func(acct Account) (Account, Transaction, error)

// Store persists accounts and their append-only transaction history.
//
// Implementations serialize Apply per account: no two Apply calls for the
// same account may interleave between reading the account and writing the
// result.
type Store interface {
	// CreateAccount stores a new account. ErrAccountExists if the ID is taken.
	CreateAccount(ctx context.Context, acct Account) error

	// Account returns a copy of the account. ErrAccountNotFound if missing.
	Account(ctx context.Context, id string) (Account, error)

	// Apply runs fn against the current account under the account's write
	// lock. On success the new state and the transaction are stored together,
	// the transaction receives the next ID, and both are returned. If fn fails
	// nothing is written and its error is returned unchanged.
	Apply(ctx context.Context, id string, fn ApplyFunc) (Account, Transaction, error)

	// Snapshot returns the account and its history as of one point in time.
	Snapshot(ctx context.Context, id string) (Account, []Transaction, error)

	// Transactions returns the account's history in insertion order.
	Transactions(ctx context.Context, id string) ([]Transaction, error)

	Close() error
}
