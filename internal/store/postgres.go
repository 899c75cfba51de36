package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/fxledger/internal/catalog"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/shopspring/decimal"
)

// PostgreSQL error codes the store maps to domain errors.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

type Postgres struct {
	Db   *pgxpool.Pool
	opts Options
}

func NewPostgres(ctx context.Context, connString string, opts Options) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool, opts: opts}, nil
}

func (s *Postgres) Close() {
	s.Db.Close()
}

// mapError translates contention failures into domain.ErrBusy.
func mapError(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure, codeQueryCanceled:
			return fmt.Errorf("%w: %s", domain.ErrBusy, pgErr.Message)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// InTx runs fn inside a READ COMMITTED transaction. Row locks come from
// SELECT ... FOR UPDATE and are bounded by lock_timeout.
func (s *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", mapError(ctx, err))
	}
	defer tx.Rollback(ctx)

	timeout := fmt.Sprintf("%dms", s.opts.lockTimeout().Milliseconds())
	if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", timeout); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if err := fn(&pgTx{tx: tx, min: s.opts.MinimumBalance}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", mapError(ctx, err))
	}
	return nil
}

type pgTx struct {
	tx  pgx.Tx
	min decimal.Decimal
}

type scanner interface {
	Scan(dest ...any) error
}

const accountColumns = "id, user_id, currency, balance, created_at"

func scanAccount(row scanner) (domain.Account, error) {
	var (
		acc  domain.Account
		code string
	)
	if err := row.Scan(&acc.ID, &acc.UserID, &code, &acc.Balance, &acc.CreatedAt); err != nil {
		return domain.Account{}, err
	}
	cur, err := domain.ParseCurrency(code)
	if err != nil {
		return domain.Account{}, err
	}
	acc.Currency = cur
	return acc, nil
}

// LockAccounts acquires the row locks one by one in id order so two units
// locking the same pair can never wait on each other in a cycle.
func (t *pgTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) ([]domain.Account, error) {
	locked := make(map[uuid.UUID]domain.Account, len(ids))
	for _, id := range sortedIDs(ids) {
		acc, err := scanAccount(t.tx.QueryRow(ctx,
			"SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("account %s: %w", id, domain.ErrAccountNotFound)
			}
			return nil, fmt.Errorf("lock acquisition failed: %w", mapError(ctx, err))
		}
		locked[id] = acc
	}
	out := make([]domain.Account, len(ids))
	for i, id := range ids {
		out[i] = locked[id]
	}
	return out, nil
}

func (t *pgTx) lockBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", id).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("account %s: %w", id, domain.ErrAccountNotFound)
		}
		return decimal.Zero, fmt.Errorf("lock acquisition failed: %w", mapError(ctx, err))
	}
	return balance, nil
}

func (t *pgTx) Withdraw(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("withdraw %s: %w", amount, domain.ErrInvalidAmount)
	}
	balance, err := t.lockBalance(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if balance.Sub(amount).LessThan(t.min) {
		return decimal.Zero, fmt.Errorf("withdraw %s from %s: %w", amount, id, domain.ErrInsufficientFunds)
	}

	var next decimal.Decimal
	err = t.tx.QueryRow(ctx,
		"UPDATE accounts SET balance = balance - $1 WHERE id = $2 RETURNING balance", amount, id,
	).Scan(&next)
	if err != nil {
		return decimal.Zero, fmt.Errorf("withdraw from %s: %w", id, mapError(ctx, err))
	}
	return next, nil
}

func (t *pgTx) Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("deposit %s: %w", amount, domain.ErrInvalidAmount)
	}
	if _, err := t.lockBalance(ctx, id); err != nil {
		return decimal.Zero, err
	}

	var next decimal.Decimal
	err := t.tx.QueryRow(ctx,
		"UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance", amount, id,
	).Scan(&next)
	if err != nil {
		return decimal.Zero, fmt.Errorf("deposit into %s: %w", id, mapError(ctx, err))
	}
	return next, nil
}

const transactionColumns = `id, seq, sender_account_id, receiver_account_id, sender_user_id, receiver_user_id,
	transaction_type, created_at, sent_amount, sender_currency, receiver_currency,
	commission_rate, commission, conversion_rate, received_amount,
	COALESCE(idempotency_key, ''), COALESCE(request_hash, '')`

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		t                      domain.Transaction
		kind, sender, receiver string
	)
	err := row.Scan(&t.ID, &t.Seq, &t.SenderAccountID, &t.ReceiverAccountID, &t.SenderUserID, &t.ReceiverUserID,
		&kind, &t.CreatedAt, &t.SentAmount, &sender, &receiver,
		&t.CommissionRate, &t.Commission, &t.ConversionRate, &t.ReceivedAmount,
		&t.IdempotencyKey, &t.RequestHash)
	if err != nil {
		return nil, err
	}
	if t.Type, err = domain.ParseTxKind(kind); err != nil {
		return nil, err
	}
	if t.SenderCurrency, err = domain.ParseCurrency(sender); err != nil {
		return nil, err
	}
	if t.ReceiverCurrency, err = domain.ParseCurrency(receiver); err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (t *pgTx) InsertTransaction(ctx context.Context, rec *domain.Transaction) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (
			id, sender_account_id, receiver_account_id, sender_user_id, receiver_user_id,
			transaction_type, created_at, sent_amount, sender_currency, receiver_currency,
			commission_rate, commission, conversion_rate, received_amount,
			idempotency_key, request_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING seq`,
		rec.ID, rec.SenderAccountID, rec.ReceiverAccountID, rec.SenderUserID, rec.ReceiverUserID,
		rec.Type.String(), rec.CreatedAt, rec.SentAmount, rec.SenderCurrency.String(), rec.ReceiverCurrency.String(),
		rec.CommissionRate, rec.Commission, rec.ConversionRate, rec.ReceivedAmount,
		nullable(rec.IdempotencyKey), nullable(rec.RequestHash),
	).Scan(&rec.Seq)
	if err != nil {
		if isUniqueViolation(err) && rec.IdempotencyKey != "" {
			return fmt.Errorf("idempotency key %q: %w", rec.IdempotencyKey, domain.ErrBusy)
		}
		return fmt.Errorf("transaction insert failed: %w", mapError(ctx, err))
	}
	return nil
}

func (t *pgTx) TransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	rec, err := scanTransaction(t.tx.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE idempotency_key = $1", key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("idempotency key %q: %w", key, domain.ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("idempotency query failed: %w", mapError(ctx, err))
	}
	return rec, nil
}

// Account retrieves a single account by ID.
func (s *Postgres) Account(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	acc, err := scanAccount(s.Db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", id, domain.ErrAccountNotFound)
		}
		return nil, err
	}
	return &acc, nil
}

// Transaction retrieves transfer details.
func (s *Postgres) Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	rec, err := scanTransaction(s.Db.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrTransactionNotFound)
		}
		return nil, err
	}
	return rec, nil
}

func (s *Postgres) userExists(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("user %s: %w", id, domain.ErrUserNotFound)
	}
	return nil
}

// TransactionsForUser lists every transfer the user sent or received, oldest first.
func (s *Postgres) TransactionsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	if err := s.userExists(ctx, userID); err != nil {
		return nil, err
	}

	rows, err := s.Db.Query(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE sender_user_id = $1 OR receiver_user_id = $1 ORDER BY seq",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Transaction{}
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// CreateUser inserts the user and its accounts in one transaction.
func (s *Postgres) CreateUser(ctx context.Context, username string, initial map[domain.Currency]decimal.Decimal) (*domain.User, []domain.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil, fmt.Errorf("create user: empty username")
	}
	for cur, bal := range initial {
		if bal.LessThan(s.opts.MinimumBalance) {
			return nil, nil, fmt.Errorf("create user: initial %s balance %s below minimum", cur, bal)
		}
	}

	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	user := domain.User{ID: uuid.New(), Username: username}
	err = tx.QueryRow(ctx,
		"INSERT INTO users (id, username) VALUES ($1, $2) RETURNING created_at", user.ID, username,
	).Scan(&user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("create user %q: %w", username, domain.ErrUserExists)
		}
		return nil, nil, fmt.Errorf("user insert failed: %w", err)
	}

	accounts := make([]domain.Account, 0, len(domain.Currencies()))
	for _, cur := range domain.Currencies() {
		acc := domain.Account{ID: uuid.New(), UserID: user.ID, Currency: cur, Balance: cur.Round(initial[cur])}
		err := tx.QueryRow(ctx,
			"INSERT INTO accounts (id, user_id, currency, balance) VALUES ($1, $2, $3, $4) RETURNING created_at",
			acc.ID, acc.UserID, cur.String(), acc.Balance,
		).Scan(&acc.CreatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("account insert failed: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return &user, accounts, nil
}

func (s *Postgres) User(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := s.Db.QueryRow(ctx, "SELECT id, username, created_at FROM users WHERE id = $1", id).
		Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, domain.ErrUserNotFound)
		}
		return nil, err
	}
	return &u, nil
}

func (s *Postgres) AccountsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	if err := s.userExists(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := s.Db.Query(ctx, "SELECT "+accountColumns+" FROM accounts WHERE user_id = $1", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byCurrency := make(map[domain.Currency]domain.Account)
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		byCurrency[acc.Currency] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []domain.Account
	for _, cur := range domain.Currencies() {
		if acc, ok := byCurrency[cur]; ok {
			out = append(out, acc)
		}
	}
	return out, nil
}

// LoadReference reads the rate and commission tables into one snapshot.
func (s *Postgres) LoadReference(ctx context.Context) (*catalog.Reference, error) {
	rows, err := s.Db.Query(ctx, "SELECT from_currency, to_currency, rate FROM conversion_rates")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []catalog.Rate
	for rows.Next() {
		var (
			from, to string
			rate     decimal.Decimal
		)
		if err := rows.Scan(&from, &to, &rate); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		e := catalog.Rate{Rate: rate}
		if e.From, err = domain.ParseCurrency(from); err != nil {
			return nil, err
		}
		if e.To, err = domain.ParseCurrency(to); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	kinds, err := s.Db.Query(ctx, "SELECT kind, commission FROM transaction_types")
	if err != nil {
		return nil, err
	}
	defer kinds.Close()

	commissions := make(map[domain.TxKind]decimal.Decimal)
	for kinds.Next() {
		var (
			name string
			rate decimal.Decimal
		)
		if err := kinds.Scan(&name, &rate); err != nil {
			return nil, fmt.Errorf("scan transaction type: %w", err)
		}
		kind, err := domain.ParseTxKind(name)
		if err != nil {
			return nil, err
		}
		commissions[kind] = rate
	}
	if err := kinds.Err(); err != nil {
		return nil, err
	}

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

func (s *Postgres) SetRate(ctx context.Context, from, to domain.Currency, rate decimal.Decimal) error {
	if err := validateRate(from, to, rate); err != nil {
		return err
	}
	_, err := s.Db.Exec(ctx, `
		INSERT INTO conversion_rates (from_currency, to_currency, rate) VALUES ($1, $2, $3)
		ON CONFLICT (from_currency, to_currency) DO UPDATE SET rate = EXCLUDED.rate, updated_at = now()`,
		from.String(), to.String(), rate)
	return err
}

func (s *Postgres) SetCommission(ctx context.Context, kind domain.TxKind, rate decimal.Decimal) error {
	if err := validateCommission(kind, rate); err != nil {
		return err
	}
	_, err := s.Db.Exec(ctx, `
		INSERT INTO transaction_types (kind, commission) VALUES ($1, $2)
		ON CONFLICT (kind) DO UPDATE SET commission = EXCLUDED.commission`,
		kind.String(), rate)
	return err
}

// Fractional digits the reference columns hold; finer values would be
// silently rounded by NUMERIC(20,10) and NUMERIC(10,6).
const (
	rateScale       = 10
	commissionScale = 6
)

func validateRate(from, to domain.Currency, rate decimal.Decimal) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("set rate: %w", domain.ErrUnsupportedCurrency)
	}
	if from == to {
		return fmt.Errorf("set rate %s->%s: identity rate is always 1", from, to)
	}
	if rate.IsNegative() {
		return fmt.Errorf("set rate %s->%s: negative rate %s", from, to, rate)
	}
	if !rate.Equal(rate.Truncate(rateScale)) {
		return fmt.Errorf("set rate %s->%s: %s has more than %d fractional digits", from, to, rate, rateScale)
	}
	return nil
}

func validateCommission(kind domain.TxKind, rate decimal.Decimal) error {
	if kind != domain.KindSelf && kind != domain.KindOther {
		return fmt.Errorf("set commission: %w", domain.ErrUnknownTransactionType)
	}
	if rate.IsNegative() {
		return fmt.Errorf("set commission %s: negative rate %s", kind, rate)
	}
	if !rate.Equal(rate.Truncate(commissionScale)) {
		return fmt.Errorf("set commission %s: %s has more than %d fractional digits", kind, rate, commissionScale)
	}
	return nil
}
