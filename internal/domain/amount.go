package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits every ledger amount carries.
const AmountScale = 2

// MinAmount is the smallest transferable amount, one cent.
var MinAmount = decimal.New(1, -AmountScale)

// ValidateAmount rejects non-positive amounts, amounts below one cent and
// amounts with sub-cent precision.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}
	if amount.LessThan(MinAmount) {
		return fmt.Errorf("%w: %s is below %s", ErrInvalidAmount, amount, MinAmount)
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: %s has more than %d fractional digits", ErrInvalidAmount, amount, AmountScale)
	}
	return nil
}

// ParseAmount parses a decimal string and validates it as a transfer amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Hash fingerprints the request so a reused idempotency key can be matched
// against the request it was first used with.
func (r TransferRequest) Hash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", r.SenderID, r.ReceiverID, r.Amount.StringFixed(AmountScale))))
	return hex.EncodeToString(sum[:])
}
