package worker

import (
	"context"
	"time"

	"github.com/rookgm/orderflow/internal/logger"
	"go.uber.org/zap"
)

type OrderRecoverer interface {
	FailStalePending(ctx context.Context) (int, error)
}

// StaleOrderSweeper is worker that fails and compensates orders stuck
// in PENDING after a crash between order creation and payment resolution
type StaleOrderSweeper struct {
	svc      OrderRecoverer
	interval time.Duration
}

// NewStaleOrderSweeper creates new sweeper
func NewStaleOrderSweeper(svc OrderRecoverer, interval time.Duration) *StaleOrderSweeper {
	return &StaleOrderSweeper{svc: svc, interval: interval}
}

// Run sweeps stale orders until context is cancelled
func (s *StaleOrderSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Debug("stale order sweeper is done")
			return
		case <-ticker.C:
			recovered, err := s.svc.FailStalePending(ctx)
			if err != nil {
				logger.Log.Error("error sweeping stale orders", zap.Error(err))
				continue
			}
			if recovered > 0 {
				logger.Log.Info("recovered stale orders", zap.Int("count", recovered))
			}
		}
	}
}
