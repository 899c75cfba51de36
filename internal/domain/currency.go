package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency is one of the currencies the ledger holds balances in.
// The zero value is not a valid currency.
type Currency uint8

const (
	USD Currency = iota + 1
	EUR
	CNY
)

var currencyCodes = [...]string{
	USD: "USD",
	EUR: "EUR",
	CNY: "CNY",
}

// Currencies lists every supported currency in declaration order.
func Currencies() []Currency {
	return []Currency{USD, EUR, CNY}
}

// ParseCurrency maps an ISO code to a supported Currency.
func ParseCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for c := USD; c <= CNY; c++ {
		if currencyCodes[c] == code {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
}

func (c Currency) Valid() bool { return c >= USD && c <= CNY }

func (c Currency) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Currency(%d)", uint8(c))
	}
	return currencyCodes[c]
}

// Fraction is the number of minor-unit digits of the currency.
func (c Currency) Fraction() int32 {
	cur := money.GetCurrency(c.String())
	if cur == nil {
		return 2
	}
	return int32(cur.Fraction)
}

// Round rounds an amount to the currency's minor unit.
func (c Currency) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(c.Fraction())
}

// RoundDown truncates an amount to the currency's minor unit, toward zero.
func (c Currency) RoundDown(d decimal.Decimal) decimal.Decimal {
	return d.RoundDown(c.Fraction())
}

// RoundUp rounds an amount away from zero to the currency's minor unit.
func (c Currency) RoundUp(d decimal.Decimal) decimal.Decimal {
	return d.RoundUp(c.Fraction())
}

// Format renders an amount with the currency symbol, e.g. "$40.00".
func (c Currency) Format(d decimal.Decimal) string {
	cur := money.GetCurrency(c.String())
	if cur == nil {
		return d.StringFixed(2) + " " + c.String()
	}
	minor := d.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}

func (c Currency) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCurrency, uint8(c))
	}
	return json.Marshal(c.String())
}

func (c *Currency) UnmarshalJSON(b []byte) error {
	var code string
	if err := json.Unmarshal(b, &code); err != nil {
		return err
	}
	parsed, err := ParseCurrency(code)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
