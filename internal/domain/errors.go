package domain

import "errors"

// Input errors, reported to the end user as-is.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrSameAccount            = errors.New("sender and receiver are the same account")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrNegativeReceivedAmount = errors.New("received amount would not be positive")
	ErrUnsupportedCurrency    = errors.New("unsupported currency")
	ErrIdempotencyMismatch    = errors.New("idempotency key reused with a different request")
)

// Lookup errors.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrUserExists          = errors.New("user already exists")
)

// Reference data gaps. These are server-side misconfiguration, not caller mistakes.
var (
	ErrRateNotFound           = errors.New("conversion rate not found")
	ErrUnknownTransactionType = errors.New("unknown transaction type")
)

// ErrBusy means a lock could not be acquired in time or the store aborted the
// unit because of contention. Nothing was applied; the caller may retry.
var ErrBusy = errors.New("ledger busy, retry")

// IsUserError reports whether err is caused by the caller's input.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount,
		ErrSameAccount,
		ErrInsufficientFunds,
		ErrNegativeReceivedAmount,
		ErrUnsupportedCurrency,
		ErrIdempotencyMismatch,
		ErrAccountNotFound,
		ErrUserNotFound,
		ErrTransactionNotFound,
		ErrUserExists,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsMisconfiguration reports whether err points at missing reference data.
func IsMisconfiguration(err error) bool {
	return errors.Is(err, ErrRateNotFound) || errors.Is(err, ErrUnknownTransactionType)
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
