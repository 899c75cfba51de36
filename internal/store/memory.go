package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/fxledger/internal/catalog"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Memory is an in-process store with the same locking and atomicity rules as
// Postgres. Each account has a one-slot semaphore standing in for its row
// lock; changes are staged per unit and published under a single write lock.
type Memory struct {
	opts Options

	mu          sync.RWMutex
	users       map[uuid.UUID]domain.User
	usernames   map[string]uuid.UUID
	accounts    map[uuid.UUID]domain.Account
	rowLocks    map[uuid.UUID]chan struct{}
	log         []domain.Transaction
	byID        map[uuid.UUID]int
	byKey       map[string]int
	rates       map[[2]domain.Currency]decimal.Decimal
	commissions map[domain.TxKind]decimal.Decimal
}

func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:        opts,
		users:       make(map[uuid.UUID]domain.User),
		usernames:   make(map[string]uuid.UUID),
		accounts:    make(map[uuid.UUID]domain.Account),
		rowLocks:    make(map[uuid.UUID]chan struct{}),
		byID:        make(map[uuid.UUID]int),
		byKey:       make(map[string]int),
		rates:       make(map[[2]domain.Currency]decimal.Decimal),
		commissions: make(map[domain.TxKind]decimal.Decimal),
	}
}

func (m *Memory) CreateUser(ctx context.Context, username string, initial map[domain.Currency]decimal.Decimal) (*domain.User, []domain.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil, fmt.Errorf("create user: empty username")
	}
	for cur, bal := range initial {
		if bal.LessThan(m.opts.MinimumBalance) {
			return nil, nil, fmt.Errorf("create user: initial %s balance %s below minimum", cur, bal)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usernames[username]; ok {
		return nil, nil, fmt.Errorf("create user %q: %w", username, domain.ErrUserExists)
	}

	now := time.Now().UTC()
	user := domain.User{ID: uuid.New(), Username: username, CreatedAt: now}
	m.users[user.ID] = user
	m.usernames[username] = user.ID

	accounts := make([]domain.Account, 0, len(domain.Currencies()))
	for _, cur := range domain.Currencies() {
		acc := domain.Account{
			ID:        uuid.New(),
			UserID:    user.ID,
			Currency:  cur,
			Balance:   cur.Round(initial[cur]),
			CreatedAt: now,
		}
		m.accounts[acc.ID] = acc
		m.rowLocks[acc.ID] = make(chan struct{}, 1)
		accounts = append(accounts, acc)
	}
	return &user, accounts, nil
}

func (m *Memory) User(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrUserNotFound)
	}
	return &u, nil
}

func (m *Memory) AccountsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.users[userID]; !ok {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrUserNotFound)
	}
	var out []domain.Account
	for _, cur := range domain.Currencies() {
		for _, acc := range m.accounts {
			if acc.UserID == userID && acc.Currency == cur {
				out = append(out, acc)
			}
		}
	}
	return out, nil
}

func (m *Memory) Account(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrAccountNotFound)
	}
	return &acc, nil
}

func (m *Memory) Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrTransactionNotFound)
	}
	t := m.log[i]
	return &t, nil
}

func (m *Memory) TransactionsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.users[userID]; !ok {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrUserNotFound)
	}
	out := []domain.Transaction{}
	for _, t := range m.log {
		if t.Involves(userID) {
			out = append(out, t)
		}
	}
	return out, nil
}

// InTx runs fn as one unit. Account locks taken by fn are released when it
// returns; staged balances and records are published only if fn succeeds.
func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		m:       m,
		timeout: m.opts.lockTimeout(),
		held:    make(map[uuid.UUID]chan struct{}),
		staged:  make(map[uuid.UUID]decimal.Decimal),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type memTx struct {
	m       *Memory
	timeout time.Duration
	held    map[uuid.UUID]chan struct{}
	staged  map[uuid.UUID]decimal.Decimal
	pending []*domain.Transaction
}

// lock takes the account's row lock, waiting at most the lock timeout.
func (tx *memTx) lock(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	tx.m.mu.RLock()
	rowLock, ok := tx.m.rowLocks[id]
	tx.m.mu.RUnlock()
	if !ok {
		return domain.Account{}, fmt.Errorf("account %s: %w", id, domain.ErrAccountNotFound)
	}

	if _, held := tx.held[id]; !held {
		if err := acquire(ctx, rowLock, tx.timeout); err != nil {
			return domain.Account{}, fmt.Errorf("lock account %s: %w", id, err)
		}
		tx.held[id] = rowLock
	}

	tx.m.mu.RLock()
	acc := tx.m.accounts[id]
	tx.m.mu.RUnlock()
	if bal, ok := tx.staged[id]; ok {
		acc.Balance = bal
	}
	return acc, nil
}

func acquire(ctx context.Context, rowLock chan struct{}, timeout time.Duration) error {
	select {
	case rowLock <- struct{}{}:
		return nil
	default:
	}
	wait := time.NewTimer(timeout)
	defer wait.Stop()
	select {
	case rowLock <- struct{}{}:
		return nil
	case <-wait.C:
		return domain.ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (tx *memTx) release() {
	for id, rowLock := range tx.held {
		<-rowLock
		delete(tx.held, id)
	}
}

func (tx *memTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) ([]domain.Account, error) {
	locked := make(map[uuid.UUID]domain.Account, len(ids))
	for _, id := range sortedIDs(ids) {
		acc, err := tx.lock(ctx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = acc
	}
	out := make([]domain.Account, len(ids))
	for i, id := range ids {
		out[i] = locked[id]
	}
	return out, nil
}

func (tx *memTx) Withdraw(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("withdraw %s: %w", amount, domain.ErrInvalidAmount)
	}
	acc, err := tx.lock(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	next := acc.Balance.Sub(amount)
	if next.LessThan(tx.m.opts.MinimumBalance) {
		return decimal.Zero, fmt.Errorf("withdraw %s from %s: %w", amount, id, domain.ErrInsufficientFunds)
	}
	tx.staged[id] = next
	return next, nil
}

func (tx *memTx) Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("deposit %s: %w", amount, domain.ErrInvalidAmount)
	}
	acc, err := tx.lock(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	next := acc.Balance.Add(amount)
	tx.staged[id] = next
	return next, nil
}

func (tx *memTx) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	if t.IdempotencyKey != "" {
		if _, err := tx.TransactionByIdempotencyKey(ctx, t.IdempotencyKey); err == nil {
			return fmt.Errorf("idempotency key %q: %w", t.IdempotencyKey, domain.ErrBusy)
		}
	}
	tx.pending = append(tx.pending, t)
	return nil
}

func (tx *memTx) TransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	for _, t := range tx.pending {
		if t.IdempotencyKey == key {
			cp := *t
			return &cp, nil
		}
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	i, ok := tx.m.byKey[key]
	if !ok {
		return nil, fmt.Errorf("idempotency key %q: %w", key, domain.ErrTransactionNotFound)
	}
	t := tx.m.log[i]
	return &t, nil
}

func (tx *memTx) commit() error {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tx.pending {
		if t.IdempotencyKey == "" {
			continue
		}
		if _, taken := m.byKey[t.IdempotencyKey]; taken {
			return fmt.Errorf("idempotency key %q: %w", t.IdempotencyKey, domain.ErrBusy)
		}
	}

	for id, bal := range tx.staged {
		acc := m.accounts[id]
		acc.Balance = bal
		m.accounts[id] = acc
	}
	for _, t := range tx.pending {
		t.Seq = int64(len(m.log) + 1)
		m.log = append(m.log, *t)
		m.byID[t.ID] = len(m.log) - 1
		if t.IdempotencyKey != "" {
			m.byKey[t.IdempotencyKey] = len(m.log) - 1
		}
	}
	return nil
}

// LoadReference builds a snapshot of the rates and commissions set so far.
func (m *Memory) LoadReference(ctx context.Context) (*catalog.Reference, error) {
	m.mu.RLock()
	entries := make([]catalog.Rate, 0, len(m.rates))
	for p, r := range m.rates {
		entries = append(entries, catalog.Rate{From: p[0], To: p[1], Rate: r})
	}
	commissions := make(map[domain.TxKind]decimal.Decimal, len(m.commissions))
	for k, r := range m.commissions {
		commissions[k] = r
	}
	m.mu.RUnlock()

	rates, err := catalog.NewRates(entries...)
	if err != nil {
		return nil, err
	}
	comm, err := catalog.NewCommissions(commissions)
	if err != nil {
		return nil, err
	}
	return &catalog.Reference{Rates: rates, Commissions: comm}, nil
}

func (m *Memory) SetRate(ctx context.Context, from, to domain.Currency, rate decimal.Decimal) error {
	if err := validateRate(from, to, rate); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[[2]domain.Currency{from, to}] = rate
	return nil
}

func (m *Memory) SetCommission(ctx context.Context, kind domain.TxKind, rate decimal.Decimal) error {
	if err := validateCommission(kind, rate); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commissions[kind] = rate
	return nil
}
