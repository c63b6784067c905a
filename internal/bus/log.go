package bus

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes messages to the log. It is the development default
// when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("bus.log")}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	p.log.Info("event published",
		zap.String("event_id", msg.ID),
		zap.String("event_type", msg.Type),
		zap.String("aggregate_id", msg.AggregateID),
		zap.Time("occurred_at", msg.OccurredAt),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
