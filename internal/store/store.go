// Package store keeps accounts, users and the append-only transaction log.
//
// Balance mutations happen only inside InTx. A Tx holds exclusive per-account
// locks until the unit ends; either every change made through it becomes
// visible or none does.
package store

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/fxledger/internal/catalog"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Tx is the view of the store inside one atomic unit.
type Tx interface {
	// LockAccounts locks the given accounts in ascending id order and returns
	// them in the order requested.
	LockAccounts(ctx context.Context, ids ...uuid.UUID) ([]domain.Account, error)
	// Withdraw decrements the balance, refusing to go below the minimum balance.
	Withdraw(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	// Deposit increments the balance.
	Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	// InsertTransaction appends the record, filling in Seq. A duplicate
	// idempotency key fails with domain.ErrBusy.
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	// TransactionByIdempotencyKey returns domain.ErrTransactionNotFound when the key is unused.
	TransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
}

// Ledger is what the transfer engine needs from a store.
type Ledger interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Account(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	TransactionsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error)
}

// Provisioner creates users and their accounts.
type Provisioner interface {
	// CreateUser creates the user and one account per supported currency,
	// each seeded with its initial balance (zero when absent).
	CreateUser(ctx context.Context, username string, initial map[domain.Currency]decimal.Decimal) (*domain.User, []domain.Account, error)
	User(ctx context.Context, id uuid.UUID) (*domain.User, error)
	AccountsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)
}

// ReferenceStore maintains the admin-managed reference tables.
type ReferenceStore interface {
	LoadReference(ctx context.Context) (*catalog.Reference, error)
	SetRate(ctx context.Context, from, to domain.Currency, rate decimal.Decimal) error
	SetCommission(ctx context.Context, kind domain.TxKind, rate decimal.Decimal) error
}

// Options tune the locking and balance rules of a store.
type Options struct {
	// LockTimeout bounds how long a unit waits for an account lock.
	LockTimeout time.Duration
	// MinimumBalance is the floor Withdraw enforces.
	MinimumBalance decimal.Decimal
}

const defaultLockTimeout = 2 * time.Second

func (o Options) lockTimeout() time.Duration {
	if o.LockTimeout <= 0 {
		return defaultLockTimeout
	}
	return o.LockTimeout
}

// sortedIDs returns the distinct ids in ascending byte order, the global
// lock order. PostgreSQL orders uuid columns the same way.
func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(out)
}
