package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/fxledger/internal/domain"
)

// Transfer outcomes as reported on the transfers counter.
const (
	OutcomeCommitted = "committed"
	OutcomeReplayed  = "replayed"
	OutcomeRejected  = "rejected"
	OutcomeBusy      = "busy"
	OutcomeFailed    = "failed"
)

type instrumentingService struct {
	transfers  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	commission *prometheus.CounterVec
	next       Service
}

// NewInstrumentingService registers the ledger metrics with reg and returns a
// Service that records them for every transfer.
func NewInstrumentingService(reg prometheus.Registerer, s Service) Service {
	f := promauto.With(reg)
	return &instrumentingService{
		transfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transfers_total",
			Help: "Transfers processed, labeled by outcome and transaction type",
		}, []string{"outcome", "type"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_transfer_duration_seconds",
			Help:    "Latency distribution of transfers",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"outcome"}),
		commission: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commission_total",
			Help: "Commission collected, in units of the sender currency",
		}, []string{"currency"}),
		next: s,
	}
}

func outcome(replayed bool, err error) string {
	switch {
	case err == nil && replayed:
		return OutcomeReplayed
	case err == nil:
		return OutcomeCommitted
	case errors.Is(err, domain.ErrBusy):
		return OutcomeBusy
	case domain.IsUserError(err):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

func (s *instrumentingService) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.Transaction, bool, error) {
	timer := time.Now()
	rec, replayed, err := s.next.Transfer(ctx, req)

	o := outcome(replayed, err)
	kind := "unknown"
	if rec != nil {
		kind = rec.Type.String()
	}
	s.transfers.WithLabelValues(o, kind).Inc()
	s.duration.WithLabelValues(o).Observe(time.Since(timer).Seconds())
	if o == OutcomeCommitted {
		c, _ := rec.Commission.Float64()
		s.commission.WithLabelValues(rec.SenderCurrency.String()).Add(c)
	}
	return rec, replayed, err
}

func (s *instrumentingService) Account(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.next.Account(ctx, id)
}

func (s *instrumentingService) Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.next.Transaction(ctx, id)
}

func (s *instrumentingService) TransactionsFor(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	return s.next.TransactionsFor(ctx, userID)
}
