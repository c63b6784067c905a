package expiry

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/signflow/internal/config"
	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	"github.com/smallbiznis/signflow/internal/ratelimit"
	"github.com/smallbiznis/signflow/pkg/apperror"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type locker interface {
	Acquire(ctx context.Context, name ratelimit.LockName, ttl time.Duration) (*ratelimit.Lease, error)
	Release(ctx context.Context, lease *ratelimit.Lease) (bool, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Config    config.Config
	Envelopes envelopedomain.Service
	Locker    *ratelimit.Locker `optional:"true"`
}

// Sweeper moves sent envelopes past their expiry into expired.
type Sweeper struct {
	log          *zap.Logger
	envelopes    envelopedomain.Service
	locker       locker
	enabled      bool
	batchSize    int
	pollInterval time.Duration
}

type Stats struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
	Locked  bool
}

func New(p Params) *Sweeper {
	s := &Sweeper{
		log:          p.Log.Named("expiry.sweeper"),
		envelopes:    p.Envelopes,
		enabled:      p.Config.Expiry.Enabled,
		batchSize:    p.Config.Expiry.BatchSize,
		pollInterval: p.Config.Expiry.PollInterval,
	}
	if s.batchSize <= 0 {
		s.batchSize = 50
	}
	if s.pollInterval <= 0 {
		s.pollInterval = time.Minute
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("expiry sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce expires one batch. Envelopes that changed status since they were
// listed are skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, ratelimit.LockExpirySweeper, s.pollInterval)
		if err != nil {
			return stats, err
		}
		if lease == nil {
			stats.Locked = true
			return stats, nil
		}
		defer func() {
			released, err := s.locker.Release(context.WithoutCancel(ctx), lease)
			switch {
			case err != nil:
				s.log.Warn("release expiry lock", zap.Error(err))
			case !released:
				s.log.Warn("expiry lock lapsed before the sweep finished", zap.Time("expires_at", lease.ExpiresAt))
			}
		}()
	}

	envelopes, err := s.envelopes.ListExpirable(ctx, s.batchSize)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(envelopes)

	for _, envelope := range envelopes {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		_, err := s.envelopes.Expire(ctx, envelope.TenantID, envelope.ID)
		switch {
		case err == nil:
			stats.Expired++
		case errors.Is(err, apperror.ErrConflict):
			stats.Skipped++
		default:
			stats.Failed++
			s.log.Warn("expire envelope",
				zap.String("envelope_id", envelope.ID.String()),
				zap.String("tenant_id", envelope.TenantID.String()),
				zap.Error(err),
			)
		}
	}

	if stats.Expired > 0 {
		s.log.Info("expired envelopes", zap.Int("count", stats.Expired), zap.Int("skipped", stats.Skipped))
	}
	return stats, nil
}
