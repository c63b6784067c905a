package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/signflow/internal/authorization"
	"github.com/smallbiznis/signflow/internal/config"
	"github.com/smallbiznis/signflow/internal/ids"
	"github.com/smallbiznis/signflow/internal/observability/logger"
	"github.com/smallbiznis/signflow/internal/observability/tracing"
	"github.com/smallbiznis/signflow/pkg/apperror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/smallbiznis/signflow/internal/orchestrator"

// Features selects the cross-cutting concerns wrapped around every
// operation.
type Features struct {
	AccessControl bool
	RateLimit     bool
	Tracing       bool
	Metrics       bool
	Logging       bool
}

func FeaturesFrom(cfg config.FeatureConfig) Features {
	return Features{
		AccessControl: cfg.AccessControl,
		RateLimit:     cfg.RateLimit,
		Tracing:       cfg.Tracing,
		Metrics:       cfg.Metrics,
		Logging:       cfg.Logging,
	}
}

// call is one invocation flowing through the middleware chain.
type call struct {
	kind       OperationKind
	actor      authorization.Actor
	tenantID   ids.TenantID
	envelopeID ids.EnvelopeID
	exec       func(ctx context.Context) error
}

type handler func(ctx context.Context, c *call) error

type middleware func(next handler) handler

func execute(ctx context.Context, c *call) error {
	return c.exec(ctx)
}

// chain applies middleware in declaration order; the first wraps the rest.
func chain(h handler, mws ...middleware) handler {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// buildChain composes the enabled concerns once at construction.
func (o *Orchestrator) buildChain() handler {
	var mws []middleware
	if o.features.Tracing {
		mws = append(mws, o.withTracing())
	}
	if o.features.Logging {
		mws = append(mws, o.withLogging())
	}
	if o.features.Metrics && o.metrics != nil {
		mws = append(mws, o.withMetrics())
	}
	if o.features.RateLimit && o.limiter.Enabled() {
		mws = append(mws, o.withRateLimit())
	}
	if o.features.AccessControl && o.access != nil {
		mws = append(mws, o.withAccessControl())
	}
	return chain(execute, mws...)
}

func (o *Orchestrator) withTracing() middleware {
	tracer := otel.Tracer(tracerName)
	return func(next handler) handler {
		return func(ctx context.Context, c *call) error {
			attrs := []attribute.KeyValue{
				attribute.String("signflow.operation", c.kind.String()),
				attribute.String("signflow.tenant_id", c.tenantID.String()),
				attribute.String("signflow.actor_kind", string(c.actor.Kind)),
			}
			if c.envelopeID.Valid() {
				attrs = append(attrs, attribute.String("signflow.envelope_id", c.envelopeID.String()))
			}
			ctx, span := tracer.Start(ctx, "orchestrator."+c.kind.String(),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(tracing.SafeAttributes(attrs...)...),
			)
			defer span.End()

			err := next(ctx, c)
			if err != nil {
				span.RecordError(tracing.SafeError(err))
				span.SetStatus(codes.Error, apperror.KindOf(err).String())
			}
			return err
		}
	}
}

func (o *Orchestrator) withLogging() middleware {
	return func(next handler) handler {
		return func(ctx context.Context, c *call) error {
			start := o.clock.Now()
			err := next(ctx, c)
			log := logger.WithContext(ctx, o.log)
			fields := []zap.Field{
				zap.String("operation", c.kind.String()),
				zap.Int64("duration_ms", o.clock.Now().Sub(start).Milliseconds()),
			}
			if c.envelopeID.Valid() {
				fields = append(fields, zap.String("envelope_id", c.envelopeID.String()))
			}
			switch {
			case err == nil:
				log.Debug("operation completed", fields...)
			case isClientError(err):
				log.Info("operation refused", append(fields, zap.String("error_kind", apperror.KindOf(err).String()), zap.Error(err))...)
			default:
				log.Error("operation failed", append(fields, zap.Error(err))...)
			}
			return err
		}
	}
}

func (o *Orchestrator) withMetrics() middleware {
	return func(next handler) handler {
		return func(ctx context.Context, c *call) error {
			start := time.Now()
			err := next(ctx, c)
			result := "ok"
			if err != nil {
				result = apperror.KindOf(err).String()
			}
			o.metrics.RecordOperation(ctx, c.kind.String(), result, time.Since(start))
			return err
		}
	}
}

func (o *Orchestrator) withRateLimit() middleware {
	return func(next handler) handler {
		return func(ctx context.Context, c *call) error {
			if err := o.limiter.Allow(ctx, c.tenantID.String(), c.kind.String()); err != nil {
				if errors.Is(err, apperror.ErrRateLimited) {
					o.metrics.RecordRateLimitDenied(ctx, c.tenantID.String(), c.kind.String())
				}
				return err
			}
			return next(ctx, c)
		}
	}
}

func (o *Orchestrator) withAccessControl() middleware {
	return func(next handler) handler {
		return func(ctx context.Context, c *call) error {
			object, action := c.kind.Access()
			err := o.access.Authorize(ctx, authorization.Request{
				Actor:      c.actor,
				TenantID:   c.tenantID,
				EnvelopeID: c.envelopeID,
				Object:     object,
				Action:     action,
			})
			if err != nil {
				return err
			}
			return next(ctx, c)
		}
	}
}

func isClientError(err error) bool {
	switch apperror.KindOf(err) {
	case apperror.KindUnknown, apperror.KindSigningUnavailable:
		return false
	default:
		return true
	}
}
