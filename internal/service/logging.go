package service

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/punchamoorthee/fxledger/internal/domain"
)

// loggingService decorates a Service with logging
type loggingService struct {
	logger log.Logger
	next   Service
}

// NewLoggingService returns a Service that logs every call made to s
func NewLoggingService(logger log.Logger, s Service) Service {
	return &loggingService{logger: logger, next: s}
}

// leveled picks the level for a finished call: rejected requests are info,
// anything else failing is an error.
func (s *loggingService) leveled(err error) log.Logger {
	switch {
	case err == nil, domain.IsUserError(err), domain.IsRetryable(err):
		return level.Info(s.logger)
	default:
		return level.Error(s.logger)
	}
}

func (s *loggingService) Transfer(ctx context.Context, req domain.TransferRequest) (rec *domain.Transaction, replayed bool, err error) {
	defer func(begin time.Time) {
		kv := []interface{}{
			"method", "transfer",
			"sender", req.SenderID,
			"receiver", req.ReceiverID,
			"amount", req.Amount,
			"key", req.IdempotencyKey,
		}
		if rec != nil {
			kv = append(kv,
				"tx", rec.ID,
				"type", rec.Type,
				"commission", rec.Commission,
				"rate", rec.ConversionRate,
				"received", rec.ReceivedAmount,
				"replayed", replayed,
			)
		}
		kv = append(kv, "took", time.Since(begin), "err", err)
		s.leveled(err).Log(kv...)
	}(time.Now())
	return s.next.Transfer(ctx, req)
}

func (s *loggingService) Account(ctx context.Context, id uuid.UUID) (acc *domain.Account, err error) {
	defer func(begin time.Time) {
		level.Debug(s.logger).Log("method", "account", "id", id, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Account(ctx, id)
}

func (s *loggingService) Transaction(ctx context.Context, id uuid.UUID) (rec *domain.Transaction, err error) {
	defer func(begin time.Time) {
		level.Debug(s.logger).Log("method", "transaction", "id", id, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Transaction(ctx, id)
}

func (s *loggingService) TransactionsFor(ctx context.Context, userID uuid.UUID) (txs []domain.Transaction, err error) {
	defer func(begin time.Time) {
		level.Debug(s.logger).Log("method", "transactions_for", "user", userID, "count", len(txs), "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.TransactionsFor(ctx, userID)
}
