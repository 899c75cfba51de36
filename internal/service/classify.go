package service

import (
	"github.com/punchamoorthee/fxledger/internal/catalog"
	"github.com/punchamoorthee/fxledger/internal/domain"
)

// Classify depends only on ownership: currencies play no part.
func Classify(sender, receiver domain.Account) domain.TxKind {
	if sender.UserID == receiver.UserID {
		return domain.KindSelf
	}
	return domain.KindOther
}

// ResolveType classifies the transfer and binds the commission rate of its kind.
// A missing commission record fails with domain.ErrUnknownTransactionType.
func ResolveType(commissions *catalog.Commissions, sender, receiver domain.Account) (domain.TransactionType, error) {
	kind := Classify(sender, receiver)
	rate, err := commissions.Commission(kind)
	if err != nil {
		return domain.TransactionType{}, err
	}
	return domain.TransactionType{Kind: kind, CommissionRate: rate}, nil
}
