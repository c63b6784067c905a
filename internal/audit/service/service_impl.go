package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	"github.com/smallbiznis/signflow/internal/audit/masking"
	"github.com/smallbiznis/signflow/internal/clock"
	obscontext "github.com/smallbiznis/signflow/internal/observability/context"
	"github.com/smallbiznis/signflow/pkg/db/pagination"
	"github.com/smallbiznis/signflow/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, db *gorm.DB, entry auditdomain.Entry) (*auditdomain.AuditEvent, error) {
	event, err := s.build(ctx, entry)
	if err != nil {
		return nil, err
	}
	if db == nil {
		db = s.db
	}
	if err := s.repo.Insert(ctx, db, event); err != nil {
		s.log.Warn("failed to write audit event",
			zap.String("type", event.Type),
			zap.String("envelope_id", event.EnvelopeID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return event, nil
}

func (s *Service) RecordDetached(ctx context.Context, entry auditdomain.Entry) (*auditdomain.AuditEvent, error) {
	ctx = context.WithoutCancel(ctx)
	var event *auditdomain.AuditEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		recorded, err := s.Record(ctx, tx, entry)
		if err != nil {
			return err
		}
		event = recorded
		return nil
	})
	if err != nil {
		s.log.Error("failed to persist forensic audit event",
			zap.String("type", string(entry.Type)),
			zap.String("envelope_id", entry.EnvelopeID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return event, nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	if !req.TenantID.Valid() {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTenant
	}
	if !req.EnvelopeID.Valid() {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidEnvelope
	}

	var afterID snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil || id <= 0 {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		afterID = id
	}

	limit := req.Limit()
	items, err := s.repo.ListByEnvelope(ctx, s.db, auditdomain.ListFilter{
		TenantID:   req.TenantID,
		EnvelopeID: req.EnvelopeID,
		AfterID:    afterID,
		Limit:      limit,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	page, info, err := pagination.Trim(items, limit, func(item auditdomain.AuditEvent) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String()}
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}
	return auditdomain.ListResponse{PageInfo: info, Events: page}, nil
}

func (s *Service) build(ctx context.Context, entry auditdomain.Entry) (*auditdomain.AuditEvent, error) {
	eventType := strings.TrimSpace(string(entry.Type))
	if eventType == "" {
		return nil, auditdomain.ErrInvalidEventType
	}
	if !entry.EnvelopeID.Valid() {
		return nil, auditdomain.ErrInvalidEnvelope
	}
	if !entry.TenantID.Valid() {
		return nil, auditdomain.ErrInvalidTenant
	}

	actorType, actorID := resolveActor(ctx, entry.ActorType, entry.ActorID)

	payload := masking.Redact(entry.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	event := &auditdomain.AuditEvent{
		ID:         s.genID.Generate(),
		TenantID:   entry.TenantID,
		EnvelopeID: entry.EnvelopeID,
		Type:       eventType,
		ActorType:  actorType,
		ActorID:    normalize(actorID),
		IPAddress:  normalize(entry.IPAddress),
		UserAgent:  normalize(entry.UserAgent),
		Payload:    datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now(),
	}
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		event.CorrelationID = &cid
	}
	return event, nil
}

func resolveActor(ctx context.Context, actorType auditdomain.ActorType, actorID string) (string, string) {
	if actorType == "" {
		if ctxType, ctxID := obscontext.ActorFromContext(ctx); ctxType != "" {
			actorType = auditdomain.ActorType(ctxType)
			if strings.TrimSpace(actorID) == "" {
				actorID = ctxID
			}
		}
	}
	if actorType == "" {
		actorType = auditdomain.ActorTypeSystem
	}
	return string(actorType), actorID
}

func normalize(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

