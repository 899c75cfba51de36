package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User owns one account per supported currency.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Account represents a user's balance in a single currency.
// Balance only changes through the store's Withdraw and Deposit.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Currency  Currency        `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// TxKind classifies a transfer by account ownership.
type TxKind uint8

const (
	// KindSelf is a transfer between two accounts of the same user.
	KindSelf TxKind = iota + 1
	// KindOther is a transfer to another user's account.
	KindOther
)

func TxKinds() []TxKind { return []TxKind{KindSelf, KindOther} }

func ParseTxKind(s string) (TxKind, error) {
	switch s {
	case "SELF":
		return KindSelf, nil
	case "OTHER":
		return KindOther, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTransactionType, s)
}

func (k TxKind) String() string {
	switch k {
	case KindSelf:
		return "SELF"
	case KindOther:
		return "OTHER"
	}
	return fmt.Sprintf("TxKind(%d)", uint8(k))
}

func (k TxKind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

func (k *TxKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTxKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// TransactionType is a classification together with the commission rate bound to it.
type TransactionType struct {
	Kind           TxKind          `json:"kind"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
}

// TransferRequest is the engine's input.
type TransferRequest struct {
	SenderID       uuid.UUID
	ReceiverID     uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
}

// Transaction is the immutable record of a completed transfer.
// Currencies and rates are snapshotted at execution time.
// ReceivedAmount = round(SentAmount * ConversionRate) - Commission.
type Transaction struct {
	ID                uuid.UUID       `json:"id"`
	Seq               int64           `json:"seq"`
	SenderAccountID   uuid.UUID       `json:"sender_account_id"`
	ReceiverAccountID uuid.UUID       `json:"receiver_account_id"`
	SenderUserID      uuid.UUID       `json:"sender_user_id"`
	ReceiverUserID    uuid.UUID       `json:"receiver_user_id"`
	Type              TxKind          `json:"transaction_type"`
	CreatedAt         time.Time       `json:"created_at"`
	SentAmount        decimal.Decimal `json:"sent_amount"`
	SenderCurrency    Currency        `json:"sender_currency"`
	ReceiverCurrency  Currency        `json:"receiver_currency"`
	CommissionRate    decimal.Decimal `json:"commission_rate"`
	Commission        decimal.Decimal `json:"commission"`
	ConversionRate    decimal.Decimal `json:"conversion_rate"`
	ReceivedAmount    decimal.Decimal `json:"received_amount"`
	IdempotencyKey    string          `json:"idempotency_key,omitempty"`
	RequestHash       string          `json:"-"`
}

// Involves reports whether the user is on either side of the transaction.
func (t *Transaction) Involves(userID uuid.UUID) bool {
	return t.SenderUserID == userID || t.ReceiverUserID == userID
}
