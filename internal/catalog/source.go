package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// LoadFunc reads a full Reference from wherever it is maintained.
// Implementations must be safe for concurrent use.
type LoadFunc func(ctx context.Context) (*Reference, error)

// Source serves the latest successfully loaded Reference.
type Source struct {
	current atomic.Pointer[Reference]
	load    LoadFunc
	logger  log.Logger
}

// NewSource loads the first snapshot eagerly so the engine never starts
// without reference data.
func NewSource(ctx context.Context, load LoadFunc, logger log.Logger) (*Source, error) {
	s := &Source{load: load, logger: logger}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) Current() *Reference { return s.current.Load() }

// Refresh replaces the snapshot. On error the previous snapshot stays in effect.
func (s *Source) Refresh(ctx context.Context) error {
	ref, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}
	if ref == nil || ref.Rates == nil || ref.Commissions == nil {
		return errors.New("load reference data: incomplete snapshot")
	}
	for _, m := range ref.Rates.Missing() {
		level.Warn(s.logger).Log("msg", "no conversion rate", "from", m.From, "to", m.To)
	}
	s.current.Store(ref)
	return nil
}

// Watch reloads the snapshot every interval until ctx is done.
// Expected to run in its own goroutine.
func (s *Source) Watch(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				// keep serving the previous snapshot
				level.Error(s.logger).Log("msg", "periodic reference refresh failed", "err", err)
			}
		case <-ctx.Done():
			level.Debug(s.logger).Log("msg", "stopping reference refresh")
			return
		}
	}
}
