package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/signflow/internal/clock"
	outboxdomain "github.com/smallbiznis/signflow/internal/outbox/domain"
	"github.com/smallbiznis/signflow/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  outboxdomain.Repository
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  outboxdomain.Repository
}

func NewService(p Params) outboxdomain.Service {
	return &Service{
		log:   p.Log.Named("outbox.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) PublishTx(ctx context.Context, tx *gorm.DB, event outboxdomain.Event) (*outboxdomain.OutboxEvent, error) {
	if tx == nil {
		return nil, outboxdomain.ErrInvalidEvent
	}
	eventType := strings.TrimSpace(event.Type)
	aggregateID := strings.TrimSpace(event.AggregateID)
	if eventType == "" || aggregateID == "" || !event.TenantID.Valid() {
		return nil, outboxdomain.ErrInvalidEvent
	}
	aggregateType := strings.TrimSpace(event.AggregateType)
	if aggregateType == "" {
		aggregateType = outboxdomain.AggregateEnvelope
	}
	dedupeKey := strings.TrimSpace(event.DedupeKey)
	if dedupeKey == "" {
		dedupeKey = eventType + ":" + aggregateID
	}

	payload := datatypes.JSONMap{}
	for k, v := range event.Payload {
		if k != "" {
			payload[k] = v
		}
	}

	var headers datatypes.JSONMap
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		headers = datatypes.JSONMap{"correlation_id": cid}
	}

	now := s.clock.Now()
	row := &outboxdomain.OutboxEvent{
		ID:            s.genID.Generate(),
		TenantID:      event.TenantID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       payload,
		Headers:       headers,
		DedupeKey:     dedupeKey,
		Status:        outboxdomain.StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}

	inserted, err := s.repo.Insert(ctx, tx, row)
	if err != nil {
		return nil, err
	}
	if !inserted {
		s.log.Debug("outbox event deduplicated",
			zap.String("type", eventType),
			zap.String("dedupe_key", dedupeKey),
		)
		return nil, nil
	}
	return row, nil
}
