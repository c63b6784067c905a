package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/config"
	"github.com/smallbiznis/signflow/internal/digest"
	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	"github.com/smallbiznis/signflow/internal/ids"
	invitationdomain "github.com/smallbiznis/signflow/internal/invitation/domain"
	"github.com/smallbiznis/signflow/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/signflow/internal/outbox/domain"
	signdb "github.com/smallbiznis/signflow/pkg/db"
	"github.com/smallbiznis/signflow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxTitleLength     = 200
	defaultContentType = "application/pdf"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Tx          *signdb.TxManager
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Policy      *config.PolicyHolder
	Audit       auditdomain.Service
	Outbox      outboxdomain.Service
	Invitations invitationdomain.Service
	Repo        envelopedomain.Repository
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	tx          *signdb.TxManager
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	policy      *config.PolicyHolder
	audit       auditdomain.Service
	outbox      outboxdomain.Service
	invitations invitationdomain.Service
	repo        envelopedomain.Repository
	metrics     *metrics.Metrics
}

func NewService(p Params) envelopedomain.Service {
	return &Service{
		db:          p.DB,
		tx:          p.Tx,
		log:         p.Log.Named("envelope.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		policy:      p.Policy,
		audit:       p.Audit,
		outbox:      p.Outbox,
		invitations: p.Invitations,
		repo:        p.Repo,
		metrics:     p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req envelopedomain.CreateRequest) (*envelopedomain.View, error) {
	if !req.TenantID.Valid() || strings.TrimSpace(req.DocumentKey) == "" {
		return nil, envelopedomain.ErrInvalidRequest
	}
	title, err := normalizeTitle(req.Title)
	if err != nil {
		return nil, err
	}
	mode, err := parseMode(req.SigningMode)
	if err != nil {
		return nil, err
	}
	docDigest, err := digest.Normalize(req.Digest)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, envelopedomain.ErrInvalidExpiry
	}

	envelopeID := req.EnvelopeID
	if !envelopeID.Valid() {
		envelopeID = ids.NewEnvelopeID(s.genID)
	}
	signers, err := s.buildRoster(req.TenantID, envelopeID, req.Signers, now)
	if err != nil {
		return nil, err
	}

	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	envelope := envelopedomain.Envelope{
		ID:              envelopeID,
		TenantID:        req.TenantID,
		Title:           title,
		Description:     optional(req.Description),
		Status:          envelopedomain.StatusDraft,
		SigningMode:     mode,
		DigestAlgorithm: string(docDigest.Algorithm),
		DigestValue:     docDigest.Value,
		DocumentKey:     strings.TrimSpace(req.DocumentKey),
		ContentType:     contentType,
		ExpiresAt:       utcPtr(req.ExpiresAt),
		Version:         1,
		CreatedBy:       strings.TrimSpace(req.CreatedBy),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.tx.Do(ctx, func(ctx context.Context, uow *signdb.UnitOfWork) error {
		tx := uow.DB()
		if err := s.repo.InsertEnvelope(ctx, tx, &envelope); err != nil {
			return err
		}
		if err := s.repo.InsertSigners(ctx, tx, signers); err != nil {
			return err
		}
		payload := map[string]any{
			"title":            envelope.Title,
			"signing_mode":     string(envelope.SigningMode),
			"digest_algorithm": envelope.DigestAlgorithm,
			"digest_value":     envelope.DigestValue,
			"signer_count":     len(signers),
		}
		return s.record(ctx, tx, envelope, auditdomain.EventEnvelopeCreated, outboxdomain.TypeEnvelopeCreated, payload, "")
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("envelope created",
		zap.String("envelope_id", envelope.ID.String()),
		zap.String("tenant_id", envelope.TenantID.String()),
		zap.Int("signers", len(signers)),
	)
	return envelopedomain.NewView(envelope, signers), nil
}

func (s *Service) Get(ctx context.Context, tenantID ids.TenantID, envelopeID ids.EnvelopeID) (*envelopedomain.View, error) {
	if !tenantID.Valid() || !envelopeID.Valid() {
		return nil, envelopedomain.ErrInvalidRequest
	}
	return s.loadView(ctx, s.db, tenantID, envelopeID)
}

func (s *Service) List(ctx context.Context, req envelopedomain.ListRequest) (envelopedomain.ListResponse, error) {
	if !req.TenantID.Valid() {
		return envelopedomain.ListResponse{}, envelopedomain.ErrInvalidRequest
	}

	var beforeID ids.EnvelopeID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return envelopedomain.ListResponse{}, envelopedomain.ErrInvalidPageToken
		}
		id, err := ids.ParseEnvelopeID(cursor.ID)
		if err != nil {
			return envelopedomain.ListResponse{}, envelopedomain.ErrInvalidPageToken
		}
		beforeID = id
	}

	limit := req.Limit()
	items, err := s.repo.ListEnvelopes(ctx, s.db, envelopedomain.ListFilter{
		TenantID: req.TenantID,
		Status:   req.Status,
		BeforeID: beforeID,
		Limit:    limit,
	})
	if err != nil {
		return envelopedomain.ListResponse{}, err
	}

	page, info, err := pagination.Trim(items, limit, func(item envelopedomain.Envelope) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String()}
	})
	if err != nil {
		return envelopedomain.ListResponse{}, err
	}
	return envelopedomain.ListResponse{PageInfo: info, Envelopes: page}, nil
}

func (s *Service) Update(ctx context.Context, req envelopedomain.UpdateRequest) (*envelopedomain.View, error) {
	if !req.TenantID.Valid() || !req.EnvelopeID.Valid() {
		return nil, envelopedomain.ErrInvalidRequest
	}

	var view *envelopedomain.View
	err := s.tx.Do(ctx, func(ctx context.Context, uow *signdb.UnitOfWork) error {
		tx := uow.DB()
		envelope, err := s.findEnvelope(ctx, tx, req.TenantID, req.EnvelopeID)
		if err != nil {
			return err
		}
		if envelope.Status != envelopedomain.StatusDraft {
			return envelopedomain.ErrNotDraft.With("current_status", string(envelope.Status))
		}
		expected := envelope.Version
		if req.ExpectedVersion != 0 && req.ExpectedVersion != expected {
			return envelopedomain.ErrVersionMismatch.
				With("expected_version", req.ExpectedVersion).
				With("current_version", expected)
		}

		now := s.clock.Now()
		changed, err := applyUpdate(envelope, req, now)
		if err != nil {
			return err
		}

		var roster []envelopedomain.Signer
		if req.Signers != nil {
			roster, err = s.buildRoster(envelope.TenantID, envelope.ID, *req.Signers, now)
			if err != nil {
				return err
			}
			changed = append(changed, "signers")
		}
		if len(changed) == 0 {
			signers, err := s.repo.ListSigners(ctx, tx, envelope.ID)
			if err != nil {
				return err
			}
			view = envelopedomain.NewView(*envelope, signers)
			return nil
		}

		envelope.UpdatedAt = now
		ok, err := s.repo.UpdateDraft(ctx, tx, envelope, expected)
		if err != nil {
			return err
		}
		if !ok {
			return envelopedomain.ErrVersionMismatch.With("expected_version", expected)
		}
		envelope.Version = expected + 1

		if req.Signers != nil {
			if err := s.repo.RemoveSigners(ctx, tx, envelope.ID, now); err != nil {
				return err
			}
			if err := s.repo.InsertSigners(ctx, tx, roster); err != nil {
				return err
			}
		}

		payload := map[string]any{
			"changed": changed,
			"version": envelope.Version,
		}
		if err := s.record(ctx, tx, *envelope, auditdomain.EventEnvelopeUpdated, outboxdomain.TypeEnvelopeUpdated, payload,
			outboxdomain.TypeEnvelopeUpdated+":"+envelope.ID.String()+":"+strconv.FormatInt(envelope.Version, 10)); err != nil {
			return err
		}

		signers, err := s.repo.ListSigners(ctx, tx, envelope.ID)
		if err != nil {
			return err
		}
		view = envelopedomain.NewView(*envelope, signers)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) Send(ctx context.Context, req envelopedomain.SendRequest) (*envelopedomain.SendResult, error) {
	if !req.TenantID.Valid() || !req.EnvelopeID.Valid() || req.TokenTTL < 0 {
		return nil, envelopedomain.ErrInvalidRequest
	}

	var result *envelopedomain.SendResult
	err := s.tx.Do(ctx, func(ctx context.Context, uow *signdb.UnitOfWork) error {
		tx := uow.DB()
		envelope, err := s.findEnvelope(ctx, tx, req.TenantID, req.EnvelopeID)
		if err != nil {
			return err
		}
		if envelope.Status != envelopedomain.StatusDraft {
			return envelopedomain.TransitionError(envelope.Status, envelopedomain.StatusSent)
		}

		signers, err := s.repo.ListSigners(ctx, tx, envelope.ID)
		if err != nil {
			return err
		}
		if err := validateRoster(envelope.SigningMode, signers); err != nil {
			return err
		}

		now := s.clock.Now()
		expiresAt := envelope.ExpiresAt
		if req.ExpiresAt != nil {
			expiresAt = utcPtr(req.ExpiresAt)
		}
		if expiresAt != nil && !expiresAt.After(now) {
			return envelopedomain.ErrInvalidExpiry
		}

		ok, err := s.repo.MarkSent(ctx, tx, envelope.ID, envelope.Version, now, expiresAt)
		if err != nil {
			return err
		}
		if !ok {
			return envelopedomain.ErrVersionMismatch.With("expected_version", envelope.Version)
		}
		if err := s.repo.MarkSignersInvited(ctx, tx, envelope.ID, now); err != nil {
			return err
		}

		invitations := make([]invitationdomain.Issued, 0, len(signers))
		parties := make([]map[string]any, 0, len(signers))
		for _, signer := range signers {
			issued, err := s.invitations.IssueTx(ctx, tx, invitationdomain.IssueRequest{
				TenantID:   envelope.TenantID,
				EnvelopeID: envelope.ID,
				SignerID:   signer.ID,
				TTL:        req.TokenTTL,
				IPAddress:  req.IPAddress,
				UserAgent:  req.UserAgent,
			})
			if err != nil {
				return err
			}
			invitations = append(invitations, *issued)
			parties = append(parties, map[string]any{
				"signer_id":  signer.ID.String(),
				"email":      signer.Email,
				"role":       string(signer.Role),
				"sequence":   signer.Sequence,
				"expires_at": issued.ExpiresAt,
			})
		}

		envelope.Status = envelopedomain.StatusSent
		envelope.SentAt = &now
		envelope.ExpiresAt = expiresAt
		envelope.Version++
		envelope.UpdatedAt = now

		payload := map[string]any{
			"parties": parties,
			"sent_at": now,
		}
		if expiresAt != nil {
			payload["expires_at"] = *expiresAt
		}
		if err := s.record(ctx, tx, *envelope, auditdomain.EventEnvelopeSent, outboxdomain.TypeEnvelopeSent, payload, ""); err != nil {
			return err
		}

		refreshed, err := s.repo.ListSigners(ctx, tx, envelope.ID)
		if err != nil {
			return err
		}
		result = &envelopedomain.SendResult{
			View:        envelopedomain.NewView(*envelope, refreshed),
			Invitations: invitations,
		}
		uow.AfterCommit(s.transitionRecorded(envelopedomain.StatusSent))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("envelope sent",
		zap.String("envelope_id", req.EnvelopeID.String()),
		zap.Int("invitations", len(result.Invitations)),
	)
	return result, nil
}

func (s *Service) Cancel(ctx context.Context, req envelopedomain.CancelRequest) (*envelopedomain.View, error) {
	if !req.TenantID.Valid() || !req.EnvelopeID.Valid() {
		return nil, envelopedomain.ErrInvalidRequest
	}
	reason, err := s.normalizeReason(req.Reason)
	if err != nil {
		return nil, err
	}

	var view *envelopedomain.View
	err = s.tx.Do(ctx, func(ctx context.Context, uow *signdb.UnitOfWork) error {
		tx := uow.DB()
		envelope, err := s.terminate(ctx, tx, req.TenantID, req.EnvelopeID, envelopedomain.StatusCanceled, reason, nil)
		if err != nil {
			return err
		}

		payload := map[string]any{}
		if reason != nil {
			payload["reason"] = *reason
		}
		if err := s.recordWithMeta(ctx, tx, *envelope, auditdomain.EventEnvelopeCanceled, outboxdomain.TypeEnvelopeCanceled, payload,
			auditdomain.Entry{IPAddress: req.IPAddress, UserAgent: req.UserAgent}); err != nil {
			return err
		}

		view, err = s.viewOf(ctx, tx, *envelope)
		if err != nil {
			return err
		}
		uow.AfterCommit(s.transitionRecorded(envelopedomain.StatusCanceled))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) Decline(ctx context.Context, req envelopedomain.DeclineRequest) (*envelopedomain.View, error) {
	if !req.TenantID.Valid() || !req.EnvelopeID.Valid() || !req.SignerID.Valid() {
		return nil, envelopedomain.ErrInvalidRequest
	}
	reason, err := s.normalizeReason(req.Reason)
	if err != nil {
		return nil, err
	}

	var view *envelopedomain.View
	err = s.tx.Do(ctx, func(ctx context.Context, uow *signdb.UnitOfWork) error {
		tx := uow.DB()
		envelope, err := s.findEnvelope(ctx, tx, req.TenantID, req.EnvelopeID)
		if err != nil {
			return err
		}
		if envelope.Status != envelopedomain.StatusSent {
			return envelopedomain.TransitionError(envelope.Status, envelopedomain.StatusDeclined)
		}

		signer, err := s.repo.FindSigner(ctx, tx, envelope.ID, req.SignerID)
		if err != nil {
			return err
		}
		if signer == nil {
			return envelopedomain.ErrSignerNotFound.With("signer_id", req.SignerID.String())
		}
		if signer.Role != envelopedomain.RoleSigner {
			return envelopedomain.ErrViewerAction.With("signer_id", signer.ID.String())
		}
		if !signer.Status.Open() {
			return envelopedomain.ErrSignerNotOpen.With("signer_status", string(signer.Status))
		}

		now := s.clock.Now()
		ok, err := s.repo.MarkSignerDeclined(ctx, tx, signer.ID, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return envelopedomain.ErrSignerNotOpen.With("signer_id", signer.ID.String())
		}

		envelope, err = s.terminate(ctx, tx, req.TenantID, req.EnvelopeID, envelopedomain.StatusDeclined, reason, nil)
		if err != nil {
			return err
		}

		payload := map[string]any{"signer_id": signer.ID.String()}
		if reason != nil {
			payload["reason"] = *reason
		}
		if err := s.recordWithMeta(ctx, tx, *envelope, auditdomain.EventEnvelopeDeclined, outboxdomain.TypeEnvelopeDeclined, payload,
			auditdomain.Entry{
				ActorType: auditdomain.ActorTypeSigner,
				ActorID:   signer.ID.String(),
				IPAddress: req.IPAddress,
				UserAgent: req.UserAgent,
			}); err != nil {
			return err
		}

		view, err = s.viewOf(ctx, tx, *envelope)
		if err != nil {
			return err
		}
		uow.AfterCommit(s.transitionRecorded(envelopedomain.StatusDeclined))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) Expire(ctx context.Context, tenantID ids.TenantID, envelopeID ids.EnvelopeID) (*envelopedomain.View, error) {
	if !tenantID.Valid() || !envelopeID.Valid() {
		return nil, envelopedomain.ErrInvalidRequest
	}

	var view *envelopedomain.View
	err := s.tx.Do(ctx, func(ctx context.Context, uow *signdb.UnitOfWork) error {
		tx := uow.DB()
		now := s.clock.Now()
		envelope, err := s.terminate(ctx, tx, tenantID, envelopeID, envelopedomain.StatusExpired, nil, &now)
		if err != nil {
			return err
		}

		payload := map[string]any{}
		if envelope.ExpiresAt != nil {
			payload["expires_at"] = *envelope.ExpiresAt
		}
		if err := s.recordWithMeta(ctx, tx, *envelope, auditdomain.EventEnvelopeExpired, outboxdomain.TypeEnvelopeExpired, payload,
			auditdomain.Entry{ActorType: auditdomain.ActorTypeSystem}); err != nil {
			return err
		}

		view, err = s.viewOf(ctx, tx, *envelope)
		if err != nil {
			return err
		}
		uow.AfterCommit(s.transitionRecorded(envelopedomain.StatusExpired))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) CompleteTx(ctx context.Context, tx *gorm.DB, tenantID ids.TenantID, envelopeID ids.EnvelopeID) (bool, error) {
	if tx == nil || !tenantID.Valid() || !envelopeID.Valid() {
		return false, envelopedomain.ErrInvalidRequest
	}

	envelope, err := s.findEnvelope(ctx, tx, tenantID, envelopeID)
	if err != nil {
		return false, err
	}
	if envelope.Status == envelopedomain.StatusCompleted {
		return false, nil
	}
	if envelope.Status != envelopedomain.StatusSent {
		return false, envelopedomain.TransitionError(envelope.Status, envelopedomain.StatusCompleted)
	}

	signers, err := s.repo.ListSigners(ctx, tx, envelope.ID)
	if err != nil {
		return false, err
	}
	progress := envelopedomain.ComputeProgress(signers)
	if !progress.Complete() {
		return false, envelopedomain.ErrIncomplete.
			With("signed", progress.Signed).
			With("total", progress.Total)
	}

	now := s.clock.Now()
	ok, err := s.repo.TransitionFromSent(ctx, tx, envelopedomain.Transition{
		EnvelopeID: envelope.ID,
		To:         envelopedomain.StatusCompleted,
		At:         now,
	})
	if err != nil {
		return false, err
	}
	if !ok {
		current, err := s.findEnvelope(ctx, tx, tenantID, envelopeID)
		if err != nil {
			return false, err
		}
		if current.Status == envelopedomain.StatusCompleted {
			return false, nil
		}
		return false, envelopedomain.TransitionError(current.Status, envelopedomain.StatusCompleted)
	}

	envelope.Status = envelopedomain.StatusCompleted
	envelope.CompletedAt = &now
	envelope.Version++

	payload := map[string]any{
		"completed_at":     now,
		"signer_count":     progress.Total,
		"digest_algorithm": envelope.DigestAlgorithm,
		"digest_value":     envelope.DigestValue,
	}
	if err := s.recordWithMeta(ctx, tx, *envelope, auditdomain.EventEnvelopeCompleted, outboxdomain.TypeEnvelopeCompleted, payload,
		auditdomain.Entry{ActorType: auditdomain.ActorTypeSystem}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) ListExpirable(ctx context.Context, limit int) ([]envelopedomain.Envelope, error) {
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	return s.repo.ListExpirable(ctx, s.db, s.clock.Now(), limit)
}

func (s *Service) AttachCertificate(ctx context.Context, tenantID ids.TenantID, envelopeID ids.EnvelopeID, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if !tenantID.Valid() || !envelopeID.Valid() || key == "" {
		return false, envelopedomain.ErrInvalidRequest
	}
	envelope, err := s.findEnvelope(ctx, s.db, tenantID, envelopeID)
	if err != nil {
		return false, err
	}
	if envelope.Status != envelopedomain.StatusCompleted {
		return false, envelopedomain.TransitionError(envelope.Status, envelopedomain.StatusCompleted)
	}
	return s.repo.AttachCertificate(ctx, s.db, envelope.ID, key, s.clock.Now())
}

// terminate moves a sent envelope to status and revokes outstanding tokens.
func (s *Service) terminate(ctx context.Context, tx *gorm.DB, tenantID ids.TenantID, envelopeID ids.EnvelopeID, status envelopedomain.Status, reason *string, dueBy *time.Time) (*envelopedomain.Envelope, error) {
	envelope, err := s.findEnvelope(ctx, tx, tenantID, envelopeID)
	if err != nil {
		return nil, err
	}
	if envelope.Status != envelopedomain.StatusSent {
		return nil, envelopedomain.TransitionError(envelope.Status, status)
	}
	now := s.clock.Now()
	if dueBy != nil && (envelope.ExpiresAt == nil || envelope.ExpiresAt.After(*dueBy)) {
		return nil, envelopedomain.ErrNotYetExpired.With("envelope_id", envelope.ID.String())
	}

	ok, err := s.repo.TransitionFromSent(ctx, tx, envelopedomain.Transition{
		EnvelopeID: envelope.ID,
		To:         status,
		At:         now,
		Reason:     reason,
		DueBy:      dueBy,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.findEnvelope(ctx, tx, tenantID, envelopeID)
		if err != nil {
			return nil, err
		}
		return nil, envelopedomain.TransitionError(current.Status, status)
	}
	if err := s.invitations.RevokeEnvelopeTx(ctx, tx, envelope.ID); err != nil {
		return nil, err
	}

	envelope.Status = status
	envelope.StatusReason = reason
	envelope.Version++
	envelope.UpdatedAt = now
	switch status {
	case envelopedomain.StatusCanceled:
		envelope.CanceledAt = &now
	case envelopedomain.StatusDeclined:
		envelope.DeclinedAt = &now
	case envelopedomain.StatusExpired:
		envelope.ExpiredAt = &now
	}
	return envelope, nil
}

func (s *Service) findEnvelope(ctx context.Context, db *gorm.DB, tenantID ids.TenantID, envelopeID ids.EnvelopeID) (*envelopedomain.Envelope, error) {
	envelope, err := s.repo.FindEnvelope(ctx, db, tenantID, envelopeID)
	if err != nil {
		return nil, err
	}
	if envelope == nil {
		return nil, envelopedomain.ErrEnvelopeNotFound.With("envelope_id", envelopeID.String())
	}
	return envelope, nil
}

func (s *Service) loadView(ctx context.Context, db *gorm.DB, tenantID ids.TenantID, envelopeID ids.EnvelopeID) (*envelopedomain.View, error) {
	envelope, err := s.findEnvelope(ctx, db, tenantID, envelopeID)
	if err != nil {
		return nil, err
	}
	return s.viewOf(ctx, db, *envelope)
}

func (s *Service) viewOf(ctx context.Context, db *gorm.DB, envelope envelopedomain.Envelope) (*envelopedomain.View, error) {
	signers, err := s.repo.ListSigners(ctx, db, envelope.ID)
	if err != nil {
		return nil, err
	}
	return envelopedomain.NewView(envelope, signers), nil
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, envelope envelopedomain.Envelope, auditType auditdomain.EventType, eventType string, payload map[string]any, dedupeKey string) error {
	if _, err := s.audit.Record(ctx, tx, auditdomain.Entry{
		TenantID:   envelope.TenantID,
		EnvelopeID: envelope.ID,
		Type:       auditType,
		Payload:    payload,
	}); err != nil {
		return err
	}
	_, err := s.outbox.PublishTx(ctx, tx, outboxdomain.Event{
		TenantID:    envelope.TenantID,
		AggregateID: envelope.ID.String(),
		Type:        eventType,
		Payload:     payload,
		DedupeKey:   dedupeKey,
	})
	return err
}

func (s *Service) recordWithMeta(ctx context.Context, tx *gorm.DB, envelope envelopedomain.Envelope, auditType auditdomain.EventType, eventType string, payload map[string]any, meta auditdomain.Entry) error {
	meta.TenantID = envelope.TenantID
	meta.EnvelopeID = envelope.ID
	meta.Type = auditType
	meta.Payload = payload
	if _, err := s.audit.Record(ctx, tx, meta); err != nil {
		return err
	}
	_, err := s.outbox.PublishTx(ctx, tx, outboxdomain.Event{
		TenantID:    envelope.TenantID,
		AggregateID: envelope.ID.String(),
		Type:        eventType,
		Payload:     payload,
	})
	return err
}

func (s *Service) transitionRecorded(status envelopedomain.Status) func(context.Context) {
	return func(ctx context.Context) {
		s.metrics.RecordEnvelopeTransition(ctx, string(status))
	}
}

func (s *Service) normalizeReason(reason *string) (*string, error) {
	if reason == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*reason)
	limit := s.policy.Get().MaxReasonLength
	if trimmed == "" || utf8.RuneCountInString(trimmed) > limit {
		return nil, envelopedomain.ErrInvalidReason.With("max_length", limit)
	}
	return &trimmed, nil
}

func (s *Service) buildRoster(tenantID ids.TenantID, envelopeID ids.EnvelopeID, inputs []envelopedomain.SignerInput, now time.Time) ([]envelopedomain.Signer, error) {
	if limit := s.policy.Get().MaxSigners; len(inputs) > limit {
		return nil, envelopedomain.ErrTooManySigners.With("max_signers", limit)
	}

	seen := make(map[string]struct{}, len(inputs))
	signers := make([]envelopedomain.Signer, 0, len(inputs))
	for i, input := range inputs {
		email := strings.ToLower(strings.TrimSpace(input.Email))
		if !validEmail(email) {
			return nil, envelopedomain.ErrInvalidSigner.With("index", i).With("field", "email")
		}
		if _, dup := seen[email]; dup {
			return nil, envelopedomain.ErrDuplicateSigner.With("index", i)
		}
		seen[email] = struct{}{}

		role := input.Role
		if role == "" {
			role = envelopedomain.RoleSigner
		}
		sequence := input.Sequence
		switch role {
		case envelopedomain.RoleSigner:
			if sequence < 0 {
				return nil, envelopedomain.ErrInvalidSigner.With("index", i).With("field", "sequence")
			}
		case envelopedomain.RoleViewer:
			sequence = 0
		default:
			return nil, envelopedomain.ErrInvalidSigner.With("index", i).With("field", "role")
		}

		name := strings.TrimSpace(input.DisplayName)
		if name == "" {
			name = email
		}

		signers = append(signers, envelopedomain.Signer{
			ID:          ids.NewSignerID(s.genID),
			EnvelopeID:  envelopeID,
			TenantID:    tenantID,
			Email:       email,
			DisplayName: name,
			Role:        role,
			Sequence:    sequence,
			Status:      envelopedomain.SignerPending,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return signers, nil
}

// validateRoster checks the roster is sendable: at least one signer-role
// party and, in sequential mode, sequences 1..n without gaps or duplicates.
func validateRoster(mode envelopedomain.SigningMode, signers []envelopedomain.Signer) error {
	sequences := make([]int, 0, len(signers))
	for _, signer := range signers {
		if signer.Role == envelopedomain.RoleSigner {
			sequences = append(sequences, signer.Sequence)
		}
	}
	if len(sequences) == 0 {
		return envelopedomain.ErrNoSigners
	}
	if mode != envelopedomain.SigningModeSequential {
		return nil
	}
	sort.Ints(sequences)
	for i, seq := range sequences {
		if seq != i+1 {
			return envelopedomain.ErrInvalidSequence.With("position", i+1).With("sequence", seq)
		}
	}
	return nil
}

func applyUpdate(envelope *envelopedomain.Envelope, req envelopedomain.UpdateRequest, now time.Time) ([]string, error) {
	var changed []string
	if req.Title != nil {
		title, err := normalizeTitle(*req.Title)
		if err != nil {
			return nil, err
		}
		envelope.Title = title
		changed = append(changed, "title")
	}
	if req.Description != nil {
		envelope.Description = optional(*req.Description)
		changed = append(changed, "description")
	}
	if req.SigningMode != nil {
		mode, err := parseMode(*req.SigningMode)
		if err != nil {
			return nil, err
		}
		envelope.SigningMode = mode
		changed = append(changed, "signing_mode")
	}
	if req.Digest != nil {
		d, err := digest.Normalize(*req.Digest)
		if err != nil {
			return nil, err
		}
		envelope.DigestAlgorithm = string(d.Algorithm)
		envelope.DigestValue = d.Value
		changed = append(changed, "digest")
	}
	if req.DocumentKey != nil {
		key := strings.TrimSpace(*req.DocumentKey)
		if key == "" {
			return nil, envelopedomain.ErrInvalidRequest
		}
		envelope.DocumentKey = key
		changed = append(changed, "document_key")
	}
	if req.ContentType != nil {
		if ct := strings.TrimSpace(*req.ContentType); ct != "" {
			envelope.ContentType = ct
			changed = append(changed, "content_type")
		}
	}
	switch {
	case req.ClearExpiry:
		envelope.ExpiresAt = nil
		changed = append(changed, "expires_at")
	case req.ExpiresAt != nil:
		if !req.ExpiresAt.After(now) {
			return nil, envelopedomain.ErrInvalidExpiry
		}
		envelope.ExpiresAt = utcPtr(req.ExpiresAt)
		changed = append(changed, "expires_at")
	}
	return changed, nil
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
		return "", envelopedomain.ErrInvalidTitle.With("max_length", maxTitleLength)
	}
	return title, nil
}

func parseMode(mode envelopedomain.SigningMode) (envelopedomain.SigningMode, error) {
	switch envelopedomain.SigningMode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case "", envelopedomain.SigningModeSequential:
		return envelopedomain.SigningModeSequential, nil
	case envelopedomain.SigningModeParallel:
		return envelopedomain.SigningModeParallel, nil
	default:
		return "", envelopedomain.ErrInvalidMode.With("signing_mode", string(mode))
	}
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
