package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/fxledger/internal/catalog"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/punchamoorthee/fxledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store *store.Memory
	ref   *catalog.Reference
	svc   *TransferService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory(store.Options{LockTimeout: 5 * time.Second})
	require.NoError(t, store.SeedReference(ctx, m))
	ref, err := m.LoadReference(ctx)
	require.NoError(t, err)
	return &fixture{store: m, ref: ref, svc: NewTransferService(m, ref)}
}

// user provisions a user and returns its accounts keyed by currency.
func (f *fixture) user(t *testing.T, name string, initial map[domain.Currency]string) map[domain.Currency]domain.Account {
	t.Helper()
	balances := make(map[domain.Currency]decimal.Decimal, len(initial))
	for c, v := range initial {
		balances[c] = d(v)
	}
	_, accounts, err := f.store.CreateUser(context.Background(), name, balances)
	require.NoError(t, err)
	out := make(map[domain.Currency]domain.Account, len(accounts))
	for _, a := range accounts {
		out[a.Currency] = a
	}
	return out
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	acc, err := f.store.Account(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func (f *fixture) history(t *testing.T, userID uuid.UUID) []domain.Transaction {
	t.Helper()
	txs, err := f.svc.TransactionsFor(context.Background(), userID)
	require.NoError(t, err)
	return txs
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "want %s, got %s", want, got)
}

func TestPrice(t *testing.T) {
	ref := newFixture(t).ref
	alice, bob := uuid.New(), uuid.New()
	acc := func(owner uuid.UUID, c domain.Currency) domain.Account {
		return domain.Account{ID: uuid.New(), UserID: owner, Currency: c}
	}

	tests := []struct {
		name       string
		sender     domain.Account
		receiver   domain.Account
		amount     string
		kind       domain.TxKind
		rate       string
		commission string
		received   string
		err        error
	}{
		{"self same currency", acc(alice, domain.USD), acc(alice, domain.USD), "40.00", domain.KindSelf, "1", "0", "40.00", nil},
		{"other with conversion", acc(alice, domain.USD), acc(bob, domain.EUR), "50.00", domain.KindOther, "0.90", "1.00", "44.00", nil},
		{"self with conversion is free", acc(alice, domain.EUR), acc(alice, domain.CNY), "10.00", domain.KindSelf, "7.80", "0", "78.00", nil},
		{"commission rounds up", acc(alice, domain.USD), acc(bob, domain.USD), "0.25", domain.KindOther, "1", "0.01", "0.24", nil},
		{"converted amount truncates", acc(alice, domain.USD), acc(alice, domain.EUR), "0.05", domain.KindSelf, "0.90", "0", "0.04", nil},
		{"converted back truncates", acc(alice, domain.EUR), acc(alice, domain.USD), "0.05", domain.KindSelf, "1.11", "0", "0.05", nil},
		{"truncated credit less rounded up commission", acc(alice, domain.USD), acc(bob, domain.EUR), "0.05", domain.KindOther, "0.90", "0.01", "0.03", nil},
		{"nothing left to receive", acc(alice, domain.CNY), acc(bob, domain.USD), "0.01", domain.KindOther, "0.14", "", "", domain.ErrNegativeReceivedAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := price(ref, tt.sender, tt.receiver, d(tt.amount))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, p.Type.Kind)
			assertAmount(t, tt.rate, p.ConversionRate)
			assertAmount(t, tt.commission, p.Commission)
			assertAmount(t, tt.received, p.Received)
			exact := d(tt.amount).Mul(p.ConversionRate).Sub(d(tt.amount).Mul(p.Type.CommissionRate))
			assert.True(t, p.Received.LessThanOrEqual(exact), "credit %s exceeds %s", p.Received, exact)
		})
	}
}

func TestTransfer_RoundTripDoesNotCreateMoney(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", map[domain.Currency]string{domain.USD: "0.05"})
	usd, eur := alice[domain.USD].ID, alice[domain.EUR].ID
	ctx := context.Background()

	move := func(from, to uuid.UUID) error {
		_, _, err := f.svc.Transfer(ctx, domain.TransferRequest{SenderID: from, ReceiverID: to, Amount: f.balance(t, from)})
		return err
	}

	rounds := 0
	for ; rounds < 100; rounds++ {
		err := move(usd, eur)
		if errors.Is(err, domain.ErrNegativeReceivedAmount) {
			break
		}
		require.NoError(t, err)
		assert.True(t, f.balance(t, eur).LessThanOrEqual(d("0.045")), "round %d: EUR %s", rounds, f.balance(t, eur))

		err = move(eur, usd)
		if errors.Is(err, domain.ErrNegativeReceivedAmount) {
			break
		}
		require.NoError(t, err)
		assert.True(t, f.balance(t, usd).LessThanOrEqual(d("0.05")), "round %d: USD %s", rounds, f.balance(t, usd))
	}
	assert.Less(t, rounds, 100, "round trips never ran dry")

	// 0.05 -> 0.04 -> 0.04 -> 0.03 -> 0.03 -> 0.02 -> 0.02 -> 0.01 -> 0.01 -> nothing
	assertAmount(t, "0.01", f.balance(t, usd))
	assertAmount(t, "0", f.balance(t, eur))
}

func TestTransfer_SelfAcrossCurrencies(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", map[domain.Currency]string{domain.USD: "100"})

	rec, replayed, err := f.svc.Transfer(context.Background(), domain.TransferRequest{
		SenderID:   alice[domain.USD].ID,
		ReceiverID: alice[domain.CNY].ID,
		Amount:     d("40.00"),
	})
	require.NoError(t, err)
	assert.False(t, replayed)

	assert.Equal(t, domain.KindSelf, rec.Type)
	assert.Equal(t, domain.USD, rec.SenderCurrency)
	assert.Equal(t, domain.CNY, rec.ReceiverCurrency)
	assertAmount(t, "0", rec.Commission)
	assertAmount(t, "284.00", rec.ReceivedAmount)
	assertAmount(t, "60", f.balance(t, alice[domain.USD].ID))
	assertAmount(t, "284", f.balance(t, alice[domain.CNY].ID))
}

func TestTransfer_OtherWithConversion(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", map[domain.Currency]string{domain.USD: "100"})
	bob := f.user(t, "bob", nil)

	rec, _, err := f.svc.Transfer(context.Background(), domain.TransferRequest{
		SenderID:   alice[domain.USD].ID,
		ReceiverID: bob[domain.EUR].ID,
		Amount:     d("50.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.KindOther, rec.Type)
	assertAmount(t, "0.02", rec.CommissionRate)
	assertAmount(t, "1.00", rec.Commission)
	assertAmount(t, "0.90", rec.ConversionRate)
	assertAmount(t, "44.00", rec.ReceivedAmount)
	assert.True(t, rec.ReceivedAmount.Equal(rec.SentAmount.Mul(rec.ConversionRate).Sub(rec.Commission)))
	assertAmount(t, "50", f.balance(t, alice[domain.USD].ID))
	assertAmount(t, "44", f.balance(t, bob[domain.EUR].ID))

	// both parties see it, and it is what the store returns by id
	got, err := f.svc.Transaction(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.SenderUserID, got.SenderUserID)
	require.Len(t, f.history(t, rec.SenderUserID), 1)
	require.Len(t, f.history(t, rec.ReceiverUserID), 1)
}

func TestTransfer_Rejections(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", map[domain.Currency]string{domain.USD: "10"})
	bob := f.user(t, "bob", nil)
	from, to := alice[domain.USD].ID, bob[domain.USD].ID

	tests := []struct {
		name string
		req  domain.TransferRequest
		err  error
	}{
		{"insufficient funds", domain.TransferRequest{SenderID: from, ReceiverID: to, Amount: d("20.00")}, domain.ErrInsufficientFunds},
		{"zero amount", domain.TransferRequest{SenderID: from, ReceiverID: to, Amount: decimal.Zero}, domain.ErrInvalidAmount},
		{"negative amount", domain.TransferRequest{SenderID: from, ReceiverID: to, Amount: d("-5")}, domain.ErrInvalidAmount},
		{"sub-cent amount", domain.TransferRequest{SenderID: from, ReceiverID: to, Amount: d("1.001")}, domain.ErrInvalidAmount},
		{"invalid amount before lookup", domain.TransferRequest{SenderID: uuid.New(), ReceiverID: uuid.New(), Amount: decimal.Zero}, domain.ErrInvalidAmount},
		{"same account", domain.TransferRequest{SenderID: from, ReceiverID: from, Amount: d("1")}, domain.ErrSameAccount},
		{"unknown sender", domain.TransferRequest{SenderID: uuid.New(), ReceiverID: to, Amount: d("1")}, domain.ErrAccountNotFound},
		{"unknown receiver", domain.TransferRequest{SenderID: from, ReceiverID: uuid.New(), Amount: d("1")}, domain.ErrAccountNotFound},
		{"received rounds to nothing", domain.TransferRequest{SenderID: alice[domain.CNY].ID, ReceiverID: to, Amount: d("0.01")}, domain.ErrNegativeReceivedAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _, err := f.svc.Transfer(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.err)
			assert.Nil(t, rec)
			assertAmount(t, "10", f.balance(t, from))
			assertAmount(t, "0", f.balance(t, to))
		})
	}
	assert.Empty(t, f.history(t, bob[domain.USD].UserID))
}

func TestTransfer_MissingReferenceData(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", map[domain.Currency]string{domain.USD: "100"})
	bob := f.user(t, "bob", nil)

	noRates, err := catalog.NewRates()
	require.NoError(t, err)
	selfOnly, err := catalog.NewCommissions(map[domain.TxKind]decimal.Decimal{domain.KindSelf: decimal.Zero})
	require.NoError(t, err)

	tests := []struct {
		name     string
		ref      *catalog.Reference
		receiver uuid.UUID
		err      error
	}{
		{"missing rate", &catalog.Reference{Rates: noRates, Commissions: f.ref.Commissions}, bob[domain.EUR].ID, domain.ErrRateNotFound},
		{"identity needs no rate", &catalog.Reference{Rates: noRates, Commissions: f.ref.Commissions}, bob[domain.USD].ID, nil},
		{"missing commission", &catalog.Reference{Rates: f.ref.Rates, Commissions: selfOnly}, bob[domain.EUR].ID, domain.ErrUnknownTransactionType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewTransferService(f.store, tt.ref)
			before := f.balance(t, alice[domain.USD].ID)
			_, _, err := svc.Transfer(context.Background(), domain.TransferRequest{
				SenderID:   alice[domain.USD].ID,
				ReceiverID: tt.receiver,
				Amount:     d("10"),
			})
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, domain.IsMisconfiguration(err))
			assert.False(t, domain.IsUserError(err))
			assert.True(t, before.Equal(f.balance(t, alice[domain.USD].ID)))
		})
	}
}

func TestTransfer_Idempotency(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", map[domain.Currency]string{domain.USD: "100"})
	bob := f.user(t, "bob", nil)
	req := domain.TransferRequest{
		SenderID:       alice[domain.USD].ID,
		ReceiverID:     bob[domain.USD].ID,
		Amount:         d("10.00"),
		IdempotencyKey: "order-42",
	}

	first, replayed, err := f.svc.Transfer(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, replayed)

	again, replayed, err := f.svc.Transfer(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)
	assertAmount(t, "90", f.balance(t, alice[domain.USD].ID))

	req.Amount = d("11.00")
	_, _, err = f.svc.Transfer(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrIdempotencyMismatch)
	assertAmount(t, "90", f.balance(t, alice[domain.USD].ID))
	assert.Len(t, f.history(t, bob[domain.USD].UserID), 1)

	// a reused key still reports the mismatch when the new request names a missing account
	missing := req
	missing.ReceiverID = uuid.New()
	_, _, err = f.svc.Transfer(context.Background(), missing)
	assert.ErrorIs(t, err, domain.ErrIdempotencyMismatch)

	// without a prior key the missing account is reported as such
	missing.IdempotencyKey = "order-43"
	_, _, err = f.svc.Transfer(context.Background(), missing)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

// faultLedger fails the deposit leg of every unit it runs.
type faultLedger struct {
	store.Ledger
	err error
}

type faultTx struct {
	store.Tx
	err error
}

func (l *faultLedger) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return l.Ledger.InTx(ctx, func(tx store.Tx) error {
		return fn(&faultTx{Tx: tx, err: l.err})
	})
}

func (tx *faultTx) Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, tx.err
}

func TestTransfer_FailedDepositLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", map[domain.Currency]string{domain.USD: "100"})
	bob := f.user(t, "bob", nil)

	boom := errors.New("disk on fire")
	svc := NewTransferService(&faultLedger{Ledger: f.store, err: boom}, f.ref)
	_, _, err := svc.Transfer(context.Background(), domain.TransferRequest{
		SenderID:   alice[domain.USD].ID,
		ReceiverID: bob[domain.EUR].ID,
		Amount:     d("50"),
	})
	require.ErrorIs(t, err, boom)

	assertAmount(t, "100", f.balance(t, alice[domain.USD].ID))
	assertAmount(t, "0", f.balance(t, bob[domain.EUR].ID))
	assert.Empty(t, f.history(t, alice[domain.USD].UserID))
}

func TestTransfer_ConcurrentDisjointPairs(t *testing.T) {
	f := newFixture(t)
	const pairs = 20

	type pair struct{ from, to domain.Account }
	ps := make([]pair, pairs)
	for i := range ps {
		a := f.user(t, fmt.Sprintf("sender-%d", i), map[domain.Currency]string{domain.USD: "100"})
		b := f.user(t, fmt.Sprintf("receiver-%d", i), nil)
		ps[i] = pair{a[domain.USD], b[domain.USD]}
	}

	var wg sync.WaitGroup
	errs := make(chan error, pairs*5)
	for _, p := range ps {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func(p pair) {
				defer wg.Done()
				_, _, err := f.svc.Transfer(context.Background(), domain.TransferRequest{SenderID: p.from.ID, ReceiverID: p.to.ID, Amount: d("10")})
				errs <- err
			}(p)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, p := range ps {
		assertAmount(t, "50", f.balance(t, p.from.ID))
		assertAmount(t, "49", f.balance(t, p.to.ID))
	}
}

func TestTransfer_ConcurrentOverdraw(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", map[domain.Currency]string{domain.USD: "100.00"})
	bob := f.user(t, "bob", nil)
	from, to := alice[domain.USD].ID, bob[domain.USD].ID

	const attempts = 30
	type result struct {
		rec *domain.Transaction
		err error
	}
	var wg sync.WaitGroup
	results := make(chan result, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, _, err := f.svc.Transfer(context.Background(), domain.TransferRequest{SenderID: from, ReceiverID: to, Amount: d("10.00")})
			results <- result{rec, err}
		}()
	}
	wg.Wait()
	close(results)

	ok, credited := 0, decimal.Zero
	for r := range results {
		if r.err != nil {
			require.ErrorIs(t, r.err, domain.ErrInsufficientFunds)
			continue
		}
		ok++
		credited = credited.Add(r.rec.ReceivedAmount)
	}
	assert.Equal(t, 10, ok)
	assertAmount(t, "0", f.balance(t, from))
	assertAmount(t, "98", credited)
	assert.True(t, credited.Equal(f.balance(t, to)))
	assert.Len(t, f.history(t, bob[domain.USD].UserID), 10)
}

func TestTransfer_OpposingTransfersDoNotDeadlock(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", map[domain.Currency]string{domain.USD: "1000"})
	bob := f.user(t, "bob", map[domain.Currency]string{domain.USD: "1000"})
	a, b := alice[domain.USD].ID, bob[domain.USD].ID

	const rounds = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.Transfer(context.Background(), domain.TransferRequest{SenderID: a, ReceiverID: b, Amount: d("1.50")})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, _, err := f.svc.Transfer(context.Background(), domain.TransferRequest{SenderID: b, ReceiverID: a, Amount: d("1.50")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// conservation: balances plus collected commission equal what was provisioned
	total := f.balance(t, a).Add(f.balance(t, b))
	for _, tx := range f.history(t, alice[domain.USD].UserID) {
		total = total.Add(tx.Commission)
	}
	assertAmount(t, "2000", total)
	assert.Len(t, f.history(t, alice[domain.USD].UserID), 2*rounds)
}

func TestTransfer_HistoryOrder(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", map[domain.Currency]string{domain.USD: "100"})
	bob := f.user(t, "bob", map[domain.Currency]string{domain.EUR: "100"})

	for _, req := range []domain.TransferRequest{
		{SenderID: alice[domain.USD].ID, ReceiverID: bob[domain.USD].ID, Amount: d("1")},
		{SenderID: bob[domain.EUR].ID, ReceiverID: alice[domain.EUR].ID, Amount: d("2")},
		{SenderID: alice[domain.USD].ID, ReceiverID: alice[domain.EUR].ID, Amount: d("3")},
	} {
		_, _, err := f.svc.Transfer(context.Background(), req)
		require.NoError(t, err)
	}

	txs := f.history(t, alice[domain.USD].UserID)
	require.Len(t, txs, 3)
	for i, want := range []string{"1", "2", "3"} {
		assertAmount(t, want, txs[i].SentAmount)
		assert.Equal(t, int64(i+1), txs[i].Seq)
	}
	assert.Len(t, f.history(t, bob[domain.USD].UserID), 2)
}
