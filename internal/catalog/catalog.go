// Package catalog holds the reference data the ledger engine reads: pairwise
// currency conversion rates and the commission bound to each transaction type.
//
// A Reference is immutable once built. Maintenance happens in the backing
// store; a Source swaps in a freshly loaded Reference so every transfer sees
// one consistent snapshot.
package catalog

import (
	"fmt"

	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/shopspring/decimal"
)

type pair struct {
	from, to domain.Currency
}

// Rates maps ordered currency pairs to conversion rates.
type Rates struct {
	rates map[pair]decimal.Decimal
}

// Rate is one stored conversion rate entry.
type Rate struct {
	From domain.Currency `json:"from"`
	To   domain.Currency `json:"to"`
	Rate decimal.Decimal `json:"rate"`
}

// NewRates builds a rate table. Identity pairs are ignored: they are always 1.
func NewRates(entries ...Rate) (*Rates, error) {
	r := &Rates{rates: make(map[pair]decimal.Decimal, len(entries))}
	for _, e := range entries {
		if !e.From.Valid() || !e.To.Valid() {
			return nil, fmt.Errorf("rate %s->%s: %w", e.From, e.To, domain.ErrUnsupportedCurrency)
		}
		if e.Rate.IsNegative() {
			return nil, fmt.Errorf("rate %s->%s: negative rate %s", e.From, e.To, e.Rate)
		}
		if e.From == e.To {
			continue
		}
		r.rates[pair{e.From, e.To}] = e.Rate
	}
	return r, nil
}

// Rate returns the multiplier that expresses an amount in from as an amount in to.
func (r *Rates) Rate(from, to domain.Currency) (decimal.Decimal, error) {
	if !from.Valid() || !to.Valid() {
		return decimal.Zero, fmt.Errorf("rate %s->%s: %w", from, to, domain.ErrUnsupportedCurrency)
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := r.rates[pair{from, to}]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate %s->%s: %w", from, to, domain.ErrRateNotFound)
	}
	return rate, nil
}

// Entries lists stored rates in currency order.
func (r *Rates) Entries() []Rate {
	var out []Rate
	for _, from := range domain.Currencies() {
		for _, to := range domain.Currencies() {
			if rate, ok := r.rates[pair{from, to}]; ok {
				out = append(out, Rate{From: from, To: to, Rate: rate})
			}
		}
	}
	return out
}

// Missing lists the distinct ordered pairs that have no rate.
func (r *Rates) Missing() []Rate {
	var out []Rate
	for _, from := range domain.Currencies() {
		for _, to := range domain.Currencies() {
			if from == to {
				continue
			}
			if _, ok := r.rates[pair{from, to}]; !ok {
				out = append(out, Rate{From: from, To: to})
			}
		}
	}
	return out
}

// Commissions maps transaction kinds to commission rates.
type Commissions struct {
	rates map[domain.TxKind]decimal.Decimal
}

// NewCommissions builds the commission table. Rates are fractions, 0.02 is 2%.
func NewCommissions(rates map[domain.TxKind]decimal.Decimal) (*Commissions, error) {
	c := &Commissions{rates: make(map[domain.TxKind]decimal.Decimal, len(rates))}
	for kind, rate := range rates {
		if kind != domain.KindSelf && kind != domain.KindOther {
			return nil, fmt.Errorf("commission %s: %w", kind, domain.ErrUnknownTransactionType)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("commission %s: negative rate %s", kind, rate)
		}
		c.rates[kind] = rate
	}
	return c, nil
}

// Commission returns the rate bound to kind.
func (c *Commissions) Commission(kind domain.TxKind) (decimal.Decimal, error) {
	rate, ok := c.rates[kind]
	if !ok {
		return decimal.Zero, fmt.Errorf("commission %s: %w", kind, domain.ErrUnknownTransactionType)
	}
	return rate, nil
}

// Reference is one consistent snapshot of all reference data.
type Reference struct {
	Rates       *Rates
	Commissions *Commissions
}

// Current lets a fixed Reference be used wherever a Provider is expected.
func (r *Reference) Current() *Reference { return r }

// Provider hands out the reference snapshot in effect.
type Provider interface {
	Current() *Reference
}
