// Package models holds the HTTP request and response payloads.
package models

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/punchamoorthee/fxledger/internal/catalog"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/shopspring/decimal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of a request payload.
func Validate(v interface{}) error {
	return validate.Struct(v)
}

// CreateUserRequest is the signup payload.
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50,alphanum"`
}

// TransferRequest is the payload from the client. Amount may be sent as a
// JSON number or a string; strings avoid float rounding on the client side.
type TransferRequest struct {
	SenderAccountID   string      `json:"sender_account_id" validate:"required,uuid"`
	ReceiverAccountID string      `json:"receiver_account_id" validate:"required,uuid"`
	Amount            json.Number `json:"amount" validate:"required"`
}

// ToDomain converts a validated request.
func (r TransferRequest) ToDomain(idempotencyKey string) (domain.TransferRequest, error) {
	amount, err := domain.ParseAmount(r.Amount.String())
	if err != nil {
		return domain.TransferRequest{}, err
	}
	return domain.TransferRequest{
		SenderID:       uuid.MustParse(r.SenderAccountID),
		ReceiverID:     uuid.MustParse(r.ReceiverAccountID),
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
	}, nil
}

// Account is an account with its balance rendered for display.
type Account struct {
	domain.Account
	Display string `json:"display"`
}

func NewAccount(a domain.Account) Account {
	return Account{Account: a, Display: a.Currency.Format(a.Balance)}
}

func NewAccounts(accounts []domain.Account) []Account {
	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, NewAccount(a))
	}
	return out
}

// UserResponse is returned on signup.
type UserResponse struct {
	User     domain.User `json:"user"`
	Accounts []Account   `json:"accounts"`
}

// TransferResponse is the canonical response structure for a transfer.
type TransferResponse struct {
	Transaction domain.Transaction `json:"transaction"`
	Replayed    bool               `json:"replayed"`
	Sent        string             `json:"sent"`
	Received    string             `json:"received"`
	Commission  string             `json:"commission"`
}

func NewTransferResponse(t domain.Transaction, replayed bool) TransferResponse {
	return TransferResponse{
		Transaction: t,
		Replayed:    replayed,
		Sent:        t.SenderCurrency.Format(t.SentAmount),
		Received:    t.ReceiverCurrency.Format(t.ReceivedAmount),
		Commission:  t.SenderCurrency.Format(t.Commission),
	}
}

// RatesResponse lists the reference data in effect.
type RatesResponse struct {
	Rates       []catalog.Rate             `json:"rates"`
	Missing     []catalog.Rate             `json:"missing,omitempty"`
	Commissions map[string]decimal.Decimal `json:"commissions"`
}

func NewRatesResponse(ref *catalog.Reference) RatesResponse {
	resp := RatesResponse{
		Rates:       ref.Rates.Entries(),
		Missing:     ref.Rates.Missing(),
		Commissions: make(map[string]decimal.Decimal),
	}
	for _, kind := range domain.TxKinds() {
		if rate, err := ref.Commissions.Commission(kind); err == nil {
			resp.Commissions[kind.String()] = rate
		}
	}
	return resp
}

type ErrorResponse struct {
	Error string `json:"error"`
}
