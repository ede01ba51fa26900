// Package sweeper periodically removes records that can no longer be used:
// expired access sessions, expired one-time codes and payment sessions past
// their deadline. Correctness never depends on it; every expiry is also
// checked when the record is read.
//
// One-time codes are kept for a retention window after they expire so a late
// but correct entry is still reported as expired rather than invalid.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hongminglow/qrpay/internal/clock"
)

const (
	DefaultInterval     = time.Minute
	DefaultOtpRetention = time.Hour
	offerBatch          = 200
)

// Store deletes expired rows.
type Store interface {
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
	DeleteExpiredOtps(ctx context.Context, before time.Time) (int64, error)
}

// OfferExpirer closes payment sessions past their deadline.
type OfferExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

type Sweeper struct {
	store        Store
	offers       OfferExpirer
	clock        clock.Clock
	log          *zap.Logger
	interval     time.Duration
	otpRetention time.Duration
}

// Option adjusts a Sweeper.
type Option func(*Sweeper)

// WithOtpRetention sets how long an expired code is kept before removal.
func WithOtpRetention(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.otpRetention = d
		}
	}
}

func New(store Store, offers OfferExpirer, clk clock.Clock, log *zap.Logger, interval time.Duration, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sweeper{store: store, offers: offers, clock: clk, log: log, interval: interval, otpRetention: DefaultOtpRetention}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result counts what one pass removed.
type Result struct {
	Sessions int64
	Otps     int64
	Offers   int
}

// Run sweeps once per interval until ctx is cancelled. A failed pass is
// logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("sweeper started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs a single pass. Offers are drained in batches so a backlog
// clears within one pass.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var (
		res Result
		err error
	)
	now := s.clock.Now()
	if res.Sessions, err = s.store.DeleteExpiredSessions(ctx, now); err != nil {
		return res, err
	}
	if res.Otps, err = s.store.DeleteExpiredOtps(ctx, now.Add(-s.otpRetention)); err != nil {
		return res, err
	}
	for {
		n, err := s.offers.ExpireStale(ctx, offerBatch)
		res.Offers += n
		if err != nil {
			return res, err
		}
		if n < offerBatch {
			break
		}
	}
	if res.Sessions+res.Otps > 0 || res.Offers > 0 {
		s.log.Info("sweep finished",
			zap.Int64("sessions", res.Sessions),
			zap.Int64("otps", res.Otps),
			zap.Int("offers", res.Offers),
		)
	}
	return res, nil
}
