package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/config"
	consentdomain "github.com/smallbiznis/signflow/internal/consent/domain"
	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	"github.com/smallbiznis/signflow/internal/ids"
	outboxdomain "github.com/smallbiznis/signflow/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Policy *config.PolicyHolder
	Audit  auditdomain.Service
	Outbox outboxdomain.Service
	Repo   consentdomain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	policy *config.PolicyHolder
	audit  auditdomain.Service
	outbox outboxdomain.Service
	repo   consentdomain.Repository
}

func NewService(p Params) consentdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("consent.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		policy: p.Policy,
		audit:  p.Audit,
		outbox: p.Outbox,
		repo:   p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, req consentdomain.RecordRequest) (*consentdomain.Consent, error) {
	var consent *consentdomain.Consent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		consent, err = s.RecordTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return consent, nil
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, req consentdomain.RecordRequest) (*consentdomain.Consent, error) {
	if tx == nil || !req.TenantID.Valid() || !req.EnvelopeID.Valid() || !req.SignerID.Valid() {
		return nil, consentdomain.ErrInvalidRequest
	}
	text := strings.TrimSpace(req.Text)
	if req.Given && text == "" {
		return nil, consentdomain.ErrEmptyText
	}
	version := strings.TrimSpace(req.Version)
	if version == "" {
		version = s.policy.Get().ConsentVersion
	}

	now := s.clock.Now()
	at := req.At.UTC()
	if req.At.IsZero() {
		at = now
	}
	if at.After(now) {
		return nil, consentdomain.ErrFutureTimestamp
	}

	if err := s.ensureOpen(ctx, tx, req); err != nil {
		return nil, err
	}

	consent := &consentdomain.Consent{
		ID:             s.genID.Generate(),
		TenantID:       req.TenantID,
		EnvelopeID:     req.EnvelopeID,
		SignerID:       req.SignerID,
		Given:          req.Given,
		ConsentText:    text,
		ConsentVersion: version,
		IPAddress:      optional(req.IPAddress),
		UserAgent:      optional(req.UserAgent),
		Locale:         optional(req.Locale),
		CreatedAt:      now,
	}
	if req.Given {
		consent.GivenAt = &at
	}

	if err := s.repo.Insert(ctx, tx, consent); err != nil {
		return nil, err
	}

	eventType := auditdomain.EventConsentWithheld
	if req.Given {
		attached, err := s.repo.AttachToSigner(ctx, tx, req.TenantID, req.EnvelopeID, req.SignerID, consent.ID, now)
		if err != nil {
			return nil, err
		}
		if !attached {
			return nil, consentdomain.ErrSignerNotOpen.With("signer_id", req.SignerID.String())
		}
		eventType = auditdomain.EventConsentRecorded
	}

	payload := map[string]any{
		"consent_id":      consent.ID.String(),
		"signer_id":       req.SignerID.String(),
		"given":           req.Given,
		"consent_version": version,
	}
	if _, err := s.audit.Record(ctx, tx, auditdomain.Entry{
		TenantID:   req.TenantID,
		EnvelopeID: req.EnvelopeID,
		Type:       eventType,
		ActorType:  auditdomain.ActorTypeSigner,
		ActorID:    req.SignerID.String(),
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		Payload:    payload,
	}); err != nil {
		return nil, err
	}

	if _, err := s.outbox.PublishTx(ctx, tx, outboxdomain.Event{
		TenantID:    req.TenantID,
		AggregateID: req.EnvelopeID.String(),
		Type:        outboxdomain.TypeConsentRecorded,
		Payload:     payload,
		DedupeKey:   outboxdomain.TypeConsentRecorded + ":" + consent.ID.String(),
	}); err != nil {
		return nil, err
	}

	s.log.Debug("consent recorded",
		zap.String("envelope_id", req.EnvelopeID.String()),
		zap.String("signer_id", req.SignerID.String()),
		zap.Bool("given", req.Given),
	)
	return consent, nil
}

// ensureOpen runs before any write. A settled signer is reported ahead of
// the envelope status so signing retries stay recognisable.
func (s *Service) ensureOpen(ctx context.Context, tx *gorm.DB, req consentdomain.RecordRequest) error {
	party, err := s.repo.FindParty(ctx, tx, req.TenantID, req.EnvelopeID, req.SignerID)
	if err != nil {
		return err
	}
	if party == nil {
		return consentdomain.ErrEnvelopeMissing.With("envelope_id", req.EnvelopeID.String())
	}
	if party.SignerStatus == "" {
		return consentdomain.ErrSignerMissing.With("signer_id", req.SignerID.String())
	}
	if envelopedomain.Role(party.Role) == envelopedomain.RoleViewer {
		return consentdomain.ErrViewerConsent.With("signer_id", req.SignerID.String())
	}
	if !envelopedomain.SignerStatus(party.SignerStatus).Open() {
		return consentdomain.ErrSignerNotOpen.With("signer_id", req.SignerID.String())
	}
	if envelopedomain.Status(party.EnvelopeStatus) != envelopedomain.StatusSent {
		return consentdomain.ErrEnvelopeNotSent.With("status", party.EnvelopeStatus)
	}
	return nil
}

func (s *Service) Latest(ctx context.Context, db *gorm.DB, signerID ids.SignerID) (*consentdomain.Consent, error) {
	if !signerID.Valid() {
		return nil, consentdomain.ErrInvalidRequest
	}
	if db == nil {
		db = s.db
	}
	return s.repo.Latest(ctx, db, signerID)
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
