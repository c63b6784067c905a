package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/signflow/internal/config"
	"github.com/smallbiznis/signflow/pkg/apperror"
	"go.uber.org/zap"
)

const keyOperation = "signflow:ratelimit:%s:%s"

var ErrRateLimited = apperror.RateLimited("rate_limited", "too many requests")

// OperationLimiter throttles orchestrator operations per tenant and
// operation. Without redis every call is allowed.
type OperationLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger
}

func NewOperationLimiter(client *redis.Client, cfg config.Config, log *zap.Logger) *OperationLimiter {
	limiter := &OperationLimiter{
		rate:  cfg.RateLimit.Rate,
		burst: cfg.RateLimit.Burst,
		log:   log.Named("ratelimit"),
	}
	if client != nil && cfg.Features.RateLimit && limiter.rate > 0 && limiter.burst > 0 {
		limiter.bucket = NewTokenBucket(client)
	}
	return limiter
}

func (l *OperationLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow consumes one token for tenant/operation. Redis failures fail open.
func (l *OperationLimiter) Allow(ctx context.Context, tenantID, operation string) error {
	if !l.Enabled() {
		return nil
	}
	key := OperationKey(tenantID, operation)
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !res.Allowed {
		return ErrRateLimited.
			With("operation", operation).
			With("retry_after_ms", res.RetryAfter.Milliseconds())
	}
	return nil
}

func OperationKey(tenantID, operation string) string {
	return fmt.Sprintf(keyOperation, strings.TrimSpace(tenantID), strings.TrimSpace(operation))
}
