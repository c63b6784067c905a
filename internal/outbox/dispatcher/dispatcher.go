package dispatcher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/signflow/internal/bus"
	"github.com/smallbiznis/signflow/internal/clock"
	outboxdomain "github.com/smallbiznis/signflow/internal/outbox/domain"
	"github.com/smallbiznis/signflow/internal/ratelimit"
	"github.com/smallbiznis/signflow/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type locker interface {
	Acquire(ctx context.Context, name ratelimit.LockName, ttl time.Duration) (*ratelimit.Lease, error)
	Release(ctx context.Context, lease *ratelimit.Lease) (bool, error)
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      outboxdomain.Repository
	Publisher bus.Publisher
	Metrics   *telemetry.Metrics `optional:"true"`
	Locker    *ratelimit.Locker  `optional:"true"`
	Config    Config             `optional:"true"`
}

// Dispatcher drains pending outbox events to the bus.
type Dispatcher struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      outboxdomain.Repository
	publisher bus.Publisher
	metrics   *telemetry.Metrics
	locker    locker
	cfg       Config
}

// Stats summarizes one dispatch run.
type Stats struct {
	Leased    int
	Delivered int
	Failed    int
	Dead      int
	Deferred  int
	Skipped   bool
}

func New(p Params) *Dispatcher {
	cfg := p.Config.withDefaults()
	if cfg.Owner == "" {
		cfg.Owner = "dispatcher-" + uuid.NewString()
	}
	d := &Dispatcher{
		db:        p.DB,
		log:       p.Log.Named("outbox.dispatcher"),
		clock:     p.Clock,
		repo:      p.Repo,
		publisher: p.Publisher,
		metrics:   p.Metrics,
		cfg:       cfg,
	}
	if p.Locker != nil {
		d.locker = p.Locker
	}
	return d
}

func (d *Dispatcher) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("outbox dispatch run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) RunOnce(parentCtx context.Context) (Stats, error) {
	ctx, cancel := context.WithTimeout(parentCtx, d.cfg.RunTimeout)
	defer cancel()

	if d.locker != nil {
		lease, err := d.locker.Acquire(ctx, d.cfg.LockName, d.cfg.LeaseTTL)
		if err != nil {
			return Stats{}, err
		}
		if lease == nil {
			return Stats{Skipped: true}, nil
		}
		defer func() {
			if _, err := d.locker.Release(context.WithoutCancel(ctx), lease); err != nil {
				d.log.Warn("release dispatcher lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	stats, err := d.dispatchBatch(ctx)
	elapsed := time.Since(start)

	d.metrics.RecordOutboxBatch("delivered", stats.Delivered, elapsed)
	d.metrics.RecordOutboxBatch("failed", stats.Failed, elapsed)
	d.metrics.RecordOutboxDead(stats.Dead)
	if pending, countErr := d.repo.CountPending(ctx, d.db); countErr == nil {
		d.metrics.SetOutboxBacklog(float64(pending))
	}

	if stats.Leased > 0 {
		d.log.Debug("outbox batch dispatched",
			zap.Int("leased", stats.Leased),
			zap.Int("delivered", stats.Delivered),
			zap.Int("failed", stats.Failed),
			zap.Int("dead", stats.Dead),
			zap.Int("deferred", stats.Deferred),
		)
	}
	return stats, err
}

func (d *Dispatcher) dispatchBatch(ctx context.Context) (Stats, error) {
	var stats Stats

	now := d.clock.Now()
	events, err := d.repo.Lease(ctx, d.db, d.cfg.Owner, d.cfg.BatchSize, now, d.cfg.LeaseTTL)
	if err != nil {
		return stats, err
	}
	stats.Leased = len(events)

	// A failed event blocks later events of the same aggregate in this batch
	// so consumers observe them in order.
	blocked := map[string]struct{}{}
	for _, event := range events {
		key := event.AggregateType + ":" + event.AggregateID
		if _, ok := blocked[key]; ok {
			if err := d.repo.Release(ctx, d.db, event.ID, d.cfg.Owner); err != nil {
				return stats, err
			}
			stats.Deferred++
			continue
		}

		pubErr := d.publisher.Publish(ctx, toMessage(event))
		if pubErr == nil {
			if err := d.repo.MarkDelivered(ctx, d.db, event.ID, d.cfg.Owner, d.clock.Now()); err != nil {
				d.log.Warn("mark outbox event delivered", zap.String("event_id", event.ID.String()), zap.Error(err))
				continue
			}
			stats.Delivered++
			continue
		}

		blocked[key] = struct{}{}
		attempts := event.AttemptCount + 1
		failure := outboxdomain.Failure{
			ID:            event.ID,
			Owner:         d.cfg.Owner,
			AttemptCount:  attempts,
			NextAttemptAt: now.Add(d.cfg.Backoff(attempts)),
			LastError:     truncate(pubErr.Error(), 1024),
			Dead:          attempts >= d.cfg.MaxAttempts,
		}
		if err := d.repo.MarkFailed(ctx, d.db, failure); err != nil {
			d.log.Warn("mark outbox event failed", zap.String("event_id", event.ID.String()), zap.Error(err))
			continue
		}
		if failure.Dead {
			stats.Dead++
			d.log.Error("outbox event exhausted delivery attempts",
				zap.String("event_id", event.ID.String()),
				zap.String("type", event.Type),
				zap.Int("attempts", attempts),
				zap.Error(pubErr),
			)
			continue
		}
		stats.Failed++
		d.log.Warn("outbox event delivery failed",
			zap.String("event_id", event.ID.String()),
			zap.String("type", event.Type),
			zap.Int("attempts", attempts),
			zap.Time("next_attempt_at", failure.NextAttemptAt),
			zap.Error(pubErr),
		)
	}
	return stats, nil
}

func toMessage(event outboxdomain.OutboxEvent) bus.Message {
	payload, err := json.Marshal(event.Payload)
	if err != nil || len(event.Payload) == 0 {
		payload = []byte("{}")
	}
	headers := map[string]string{}
	for k, v := range event.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return bus.Message{
		ID:            event.ID.String(),
		Type:          event.Type,
		TenantID:      event.TenantID.String(),
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
		OccurredAt:    event.CreatedAt,
		Headers:       headers,
	}
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
