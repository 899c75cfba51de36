package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/fxledger/internal/catalog"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/punchamoorthee/fxledger/internal/store"
	"github.com/shopspring/decimal"
)

// Service is the ledger engine's surface towards its callers.
type Service interface {
	// Transfer moves funds between two accounts. replayed is true when the
	// idempotency key matched an earlier identical request and nothing moved.
	Transfer(ctx context.Context, req domain.TransferRequest) (rec *domain.Transaction, replayed bool, err error)
	Account(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// TransactionsFor lists the user's transfers, sent or received, oldest first.
	TransactionsFor(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error)
}

type TransferService struct {
	ledger store.Ledger
	ref    catalog.Provider
	now    func() time.Time
}

func NewTransferService(ledger store.Ledger, ref catalog.Provider) *TransferService {
	return &TransferService{
		ledger: ledger,
		ref:    ref,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// pricing is everything computed about a transfer before money moves.
type pricing struct {
	Type           domain.TransactionType
	ConversionRate decimal.Decimal
	Commission     decimal.Decimal
	Received       decimal.Decimal
}

// price charges commission on the amount as sent, before conversion, and
// rejects transfers that would credit nothing. The credit is truncated and
// the commission rounded up, so the ledger never pays out more than the
// exact converted amount.
func price(ref *catalog.Reference, sender, receiver domain.Account, amount decimal.Decimal) (pricing, error) {
	txType, err := ResolveType(ref.Commissions, sender, receiver)
	if err != nil {
		return pricing{}, err
	}
	rate, err := ref.Rates.Rate(sender.Currency, receiver.Currency)
	if err != nil {
		return pricing{}, err
	}

	commission := sender.Currency.RoundUp(amount.Mul(txType.CommissionRate))
	received := receiver.Currency.RoundDown(amount.Mul(rate)).Sub(commission)
	if !received.IsPositive() {
		return pricing{}, fmt.Errorf("%w: %s after %s commission", domain.ErrNegativeReceivedAmount, received, commission)
	}
	return pricing{Type: txType, ConversionRate: rate, Commission: commission, Received: received}, nil
}

// Transfer executes the transfer as one unit: both accounts are locked in id
// order, the sender is debited the sent amount, the receiver credited the
// received amount and the record appended. Any failure leaves no trace.
func (s *TransferService) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.Transaction, bool, error) {
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, false, err
	}
	if req.SenderID == req.ReceiverID {
		return nil, false, fmt.Errorf("transfer %s: %w", req.SenderID, domain.ErrSameAccount)
	}

	// one snapshot for the whole transfer
	ref := s.ref.Current()

	var (
		rec      *domain.Transaction
		replayed bool
	)
	err := s.ledger.InTx(ctx, func(tx store.Tx) error {
		accounts, err := tx.LockAccounts(ctx, req.SenderID, req.ReceiverID)
		if err != nil {
			// a reused key is a mismatch even when the new request names a missing account
			if req.IdempotencyKey != "" && errors.Is(err, domain.ErrAccountNotFound) {
				if _, kerr := tx.TransactionByIdempotencyKey(ctx, req.IdempotencyKey); kerr == nil {
					return fmt.Errorf("key %q: %w", req.IdempotencyKey, domain.ErrIdempotencyMismatch)
				}
			}
			return err
		}
		sender, receiver := accounts[0], accounts[1]

		if req.IdempotencyKey != "" {
			prior, err := tx.TransactionByIdempotencyKey(ctx, req.IdempotencyKey)
			switch {
			case err == nil:
				if prior.RequestHash != req.Hash() {
					return fmt.Errorf("key %q: %w", req.IdempotencyKey, domain.ErrIdempotencyMismatch)
				}
				rec, replayed = prior, true
				return nil
			case !errors.Is(err, domain.ErrTransactionNotFound):
				return err
			}
		}

		p, err := price(ref, sender, receiver, req.Amount)
		if err != nil {
			return err
		}

		if _, err := tx.Withdraw(ctx, sender.ID, req.Amount); err != nil {
			return err
		}
		if _, err := tx.Deposit(ctx, receiver.ID, p.Received); err != nil {
			return err
		}

		rec = &domain.Transaction{
			ID:                uuid.New(),
			SenderAccountID:   sender.ID,
			ReceiverAccountID: receiver.ID,
			SenderUserID:      sender.UserID,
			ReceiverUserID:    receiver.UserID,
			Type:              p.Type.Kind,
			CreatedAt:         s.now(),
			SentAmount:        req.Amount,
			SenderCurrency:    sender.Currency,
			ReceiverCurrency:  receiver.Currency,
			CommissionRate:    p.Type.CommissionRate,
			Commission:        p.Commission,
			ConversionRate:    p.ConversionRate,
			ReceivedAmount:    p.Received,
			IdempotencyKey:    req.IdempotencyKey,
		}
		if req.IdempotencyKey != "" {
			rec.RequestHash = req.Hash()
		}
		return tx.InsertTransaction(ctx, rec)
	})
	if err != nil {
		return nil, false, fmt.Errorf("transfer %s -> %s: %w", req.SenderID, req.ReceiverID, err)
	}
	return rec, replayed, nil
}

func (s *TransferService) Account(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.ledger.Account(ctx, id)
}

func (s *TransferService) Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.ledger.Transaction(ctx, id)
}

func (s *TransferService) TransactionsFor(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	return s.ledger.TransactionsForUser(ctx, userID)
}
