package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/shopspring/decimal"
)

// BulkCreateUsers provisions n users named prefix-0 .. prefix-(n-1), each with
// one account per currency, using COPY. It returns the created accounts.
// Any existing username fails the whole batch.
func (s *Postgres) BulkCreateUsers(ctx context.Context, prefix string, n int, initial map[domain.Currency]decimal.Decimal) ([]domain.Account, error) {
	for cur, bal := range initial {
		if bal.LessThan(s.opts.MinimumBalance) {
			return nil, fmt.Errorf("bulk create: initial %s balance %s below minimum", cur, bal)
		}
	}

	now := time.Now().UTC()
	users := make([][]interface{}, 0, n)
	accounts := make([]domain.Account, 0, n*len(domain.Currencies()))
	for i := 0; i < n; i++ {
		id := uuid.New()
		users = append(users, []interface{}{id, fmt.Sprintf("%s-%d", prefix, i), now})
		for _, cur := range domain.Currencies() {
			accounts = append(accounts, domain.Account{
				ID:        uuid.New(),
				UserID:    id,
				Currency:  cur,
				Balance:   cur.Round(initial[cur]),
				CreatedAt: now,
			})
		}
	}

	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"users"},
		[]string{"id", "username", "created_at"},
		pgx.CopyFromRows(users),
	); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("bulk create %q: %w", prefix, domain.ErrUserExists)
		}
		return nil, fmt.Errorf("bulk user insert failed: %w", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"accounts"},
		[]string{"id", "user_id", "currency", "balance", "created_at"},
		pgx.CopyFromSlice(len(accounts), func(i int) ([]interface{}, error) {
			a := accounts[i]
			return []interface{}{a.ID, a.UserID, a.Currency.String(), a.Balance, a.CreatedAt}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("bulk account insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return accounts, nil
}

// CountAccounts returns the number of accounts in the ledger.
func (s *Postgres) CountAccounts(ctx context.Context) (int, error) {
	var n int
	if err := s.Db.QueryRow(ctx, "SELECT COUNT(*) FROM accounts").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
