package store

import (
	"context"

	"github.com/punchamoorthee/fxledger/internal/catalog"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultRates covers every distinct ordered pair of supported currencies.
var DefaultRates = []catalog.Rate{
	{From: domain.USD, To: domain.EUR, Rate: decimal.RequireFromString("0.90")},
	{From: domain.EUR, To: domain.USD, Rate: decimal.RequireFromString("1.11")},
	{From: domain.USD, To: domain.CNY, Rate: decimal.RequireFromString("7.10")},
	{From: domain.CNY, To: domain.USD, Rate: decimal.RequireFromString("0.14")},
	{From: domain.EUR, To: domain.CNY, Rate: decimal.RequireFromString("7.80")},
	{From: domain.CNY, To: domain.EUR, Rate: decimal.RequireFromString("0.13")},
}

// DefaultCommissions: transfers between a user's own accounts are free.
var DefaultCommissions = map[domain.TxKind]decimal.Decimal{
	domain.KindSelf:  decimal.Zero,
	domain.KindOther: decimal.RequireFromString("0.02"),
}

// SeedReference writes the default reference data into rs.
func SeedReference(ctx context.Context, rs ReferenceStore) error {
	for _, r := range DefaultRates {
		if err := rs.SetRate(ctx, r.From, r.To, r.Rate); err != nil {
			return err
		}
	}
	for _, kind := range domain.TxKinds() {
		if err := rs.SetCommission(ctx, kind, DefaultCommissions[kind]); err != nil {
			return err
		}
	}
	return nil
}
