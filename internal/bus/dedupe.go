package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/signflow/pkg/telemetry"
)

const defaultDedupeTTL = 7 * 24 * time.Hour

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Deduper remembers message ids per consumer so redeliveries are dropped.
type Deduper struct {
	client  setNXer
	ttl     time.Duration
	metrics *telemetry.Metrics
}

func NewDeduper(client *redis.Client, ttl time.Duration, metrics *telemetry.Metrics) (*Deduper, error) {
	if client == nil {
		return nil, errors.New("redis client is required for dedupe")
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &Deduper{client: client, ttl: ttl, metrics: metrics}, nil
}

// FirstDelivery reports whether id has not been seen by consumer before and
// claims it.
func (d *Deduper) FirstDelivery(ctx context.Context, consumer, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyMessageID
	}
	ok, err := d.client.SetNX(ctx, dedupeKey(consumer, id), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe claim: %w", err)
	}
	return ok, nil
}

// Forget releases a claim so a failed handler can see the message again.
func (d *Deduper) Forget(ctx context.Context, consumer, id string) error {
	return d.client.Del(ctx, dedupeKey(consumer, id)).Err()
}

// Handle runs fn once per message id for consumer. Duplicates return
// (false, nil). A failing fn releases the claim.
func (d *Deduper) Handle(ctx context.Context, consumer string, msg Message, fn func(context.Context, Message) error) (bool, error) {
	first, err := d.FirstDelivery(ctx, consumer, msg.ID)
	if err != nil {
		return false, err
	}
	if !first {
		d.metrics.RecordConsumerDuplicate(consumer)
		return false, nil
	}
	if err := fn(ctx, msg); err != nil {
		if forgetErr := d.Forget(context.WithoutCancel(ctx), consumer, msg.ID); forgetErr != nil {
			return false, errors.Join(err, forgetErr)
		}
		return false, err
	}
	return true, nil
}

func dedupeKey(consumer, id string) string {
	return "signflow:dedupe:" + consumer + ":" + id
}
