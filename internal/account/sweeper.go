package account

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TokenPurger deletes reset tokens that expired before now.
type TokenPurger interface {
	DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically purges expired reset tokens. Expiry is still
// enforced at read time; sweeping only keeps the table small.
type Sweeper struct {
	store    TokenPurger
	interval time.Duration
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewSweeper(store TokenPurger, interval time.Duration, logger *zap.SugaredLogger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sweeper{store: store, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps once immediately and then every interval until ctx is done.
// A non-positive interval returns at once.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infow("reset token sweeper started", "interval", s.interval.String())
	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reset token sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.store.DeleteExpiredResetTokens(ctx, s.now())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Errorw("sweep expired reset tokens", "err", err)
		}
		return
	}
	if n > 0 {
		s.logger.Infow("expired reset tokens removed", "count", n)
	}
}
