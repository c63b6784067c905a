package bus

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/signflow/internal/config"
	"github.com/smallbiznis/signflow/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("bus",
	fx.Provide(NewPublisher),
	fx.Provide(provideDeduper),
)

// provideDeduper returns nil when redis is not configured.
func provideDeduper(client *redis.Client, metrics *telemetry.Metrics) (*Deduper, error) {
	if client == nil {
		return nil, nil
	}
	return NewDeduper(client, 0, metrics)
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Redis     *redis.Client `optional:"true"`
}

// NewPublisher builds the publisher selected by BUS_DRIVER.
func NewPublisher(p Params) (Publisher, error) {
	var (
		publisher Publisher
		err       error
	)
	cfg := p.Config.Bus
	switch cfg.Driver {
	case "kafka":
		publisher, err = NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	case "redis":
		publisher, err = NewRedisStreamPublisher(p.Redis, cfg.RedisStream, cfg.StreamMaxLen)
	case "log", "":
		publisher = NewLogPublisher(p.Log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	p.Log.Info("bus publisher configured", zap.String("driver", cfg.Driver))
	return publisher, nil
}
