package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/config"
	"github.com/smallbiznis/signflow/internal/ids"
	invitationdomain "github.com/smallbiznis/signflow/internal/invitation/domain"
	signdb "github.com/smallbiznis/signflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tokenBytes = 32

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Policy *config.PolicyHolder
	Audit  auditdomain.Service
	Repo   invitationdomain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	policy *config.PolicyHolder
	audit  auditdomain.Service
	repo   invitationdomain.Repository
}

func NewService(p Params) invitationdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("invitation.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		policy: p.Policy,
		audit:  p.Audit,
		repo:   p.Repo,
	}
}

func (s *Service) Issue(ctx context.Context, req invitationdomain.IssueRequest) (*invitationdomain.Issued, error) {
	var issued *invitationdomain.Issued
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		issued, err = s.IssueTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

func (s *Service) IssueTx(ctx context.Context, tx *gorm.DB, req invitationdomain.IssueRequest) (*invitationdomain.Issued, error) {
	if tx == nil || !req.TenantID.Valid() || !req.EnvelopeID.Valid() || !req.SignerID.Valid() || req.TTL < 0 {
		return nil, invitationdomain.ErrInvalidRequest
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = s.policy.Get().InvitationTTL
	}

	now := s.clock.Now()
	token := &invitationdomain.InvitationToken{
		ID:              ids.NewInvitationTokenID(s.genID),
		TenantID:        req.TenantID,
		EnvelopeID:      req.EnvelopeID,
		SignerID:        req.SignerID,
		ExpiresAt:       now.Add(ttl),
		IssuedIP:        optional(req.IPAddress),
		IssuedUserAgent: optional(req.UserAgent),
		CreatedAt:       now,
	}

	// A hash collision is retried once with a fresh value. The insert runs
	// in a savepoint so a failed attempt leaves the outer transaction usable.
	var plain string
	for attempt := 0; ; attempt++ {
		raw, err := generateToken()
		if err != nil {
			return nil, err
		}
		token.TokenHash = invitationdomain.HashToken(raw)
		err = tx.Transaction(func(sp *gorm.DB) error {
			return s.repo.Insert(ctx, sp, token)
		})
		if err == nil {
			plain = raw
			break
		}
		if attempt == 0 && signdb.IsDuplicateKeyErr(err) {
			s.log.Warn("invitation token collision, retrying", zap.String("signer_id", req.SignerID.String()))
			continue
		}
		return nil, err
	}

	return &invitationdomain.Issued{
		TokenID:   token.ID,
		SignerID:  token.SignerID,
		Token:     plain,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

func (s *Service) ValidateAndConsume(ctx context.Context, token string, meta invitationdomain.ClientMeta) (*invitationdomain.Claims, error) {
	raw := strings.TrimSpace(token)
	if raw == "" {
		return nil, invitationdomain.ErrInvalidToken
	}
	hash := invitationdomain.HashToken(raw)

	var (
		found  *invitationdomain.InvitationToken
		claims *invitationdomain.Claims
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.repo.FindByHash(ctx, tx, hash)
		if err != nil {
			return err
		}
		if row == nil {
			return invitationdomain.ErrNotFound
		}
		found = row

		now := s.clock.Now()
		if !now.Before(row.ExpiresAt) {
			return invitationdomain.ErrExpired
		}
		if row.RevokedAt != nil {
			return invitationdomain.ErrRevoked
		}

		consumed, err := s.repo.Consume(ctx, tx, row.ID, now)
		if err != nil {
			return err
		}
		if !consumed {
			return invitationdomain.ErrAlreadyUsed
		}

		if _, err := s.audit.Record(ctx, tx, auditdomain.Entry{
			TenantID:   row.TenantID,
			EnvelopeID: row.EnvelopeID,
			Type:       auditdomain.EventInvitationAccepted,
			ActorType:  auditdomain.ActorTypeSigner,
			ActorID:    row.SignerID.String(),
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
			Payload: map[string]any{
				"invitation_id": row.ID.String(),
				"signer_id":     row.SignerID.String(),
			},
		}); err != nil {
			return err
		}

		claims = &invitationdomain.Claims{
			TokenID:    row.ID,
			TenantID:   row.TenantID,
			EnvelopeID: row.EnvelopeID,
			SignerID:   row.SignerID,
		}
		return nil
	})
	if err != nil {
		if found != nil && (errors.Is(err, invitationdomain.ErrAlreadyUsed) || errors.Is(err, invitationdomain.ErrRevoked)) {
			s.recordReuse(ctx, found, meta, err)
		}
		return nil, err
	}
	return claims, nil
}

func (s *Service) recordReuse(ctx context.Context, token *invitationdomain.InvitationToken, meta invitationdomain.ClientMeta, cause error) {
	reason := "already_used"
	if errors.Is(cause, invitationdomain.ErrRevoked) {
		reason = "revoked"
	}
	s.log.Warn("invitation token reuse attempt",
		zap.String("token_id", token.ID.String()),
		zap.String("envelope_id", token.EnvelopeID.String()),
		zap.String("reason", reason),
	)
	_, _ = s.audit.RecordDetached(ctx, auditdomain.Entry{
		TenantID:   token.TenantID,
		EnvelopeID: token.EnvelopeID,
		Type:       auditdomain.EventInvitationReuse,
		ActorType:  auditdomain.ActorTypeGuest,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		Payload: map[string]any{
			"invitation_id": token.ID.String(),
			"signer_id":     token.SignerID.String(),
			"reason":        reason,
		},
	})
}

func (s *Service) Revoke(ctx context.Context, signerID ids.SignerID) error {
	if !signerID.Valid() {
		return invitationdomain.ErrInvalidRequest
	}
	revoked, err := s.repo.RevokeBySigner(ctx, s.db, signerID, s.clock.Now())
	if err != nil {
		return err
	}
	s.log.Debug("revoked signer invitations", zap.String("signer_id", signerID.String()), zap.Int64("count", revoked))
	return nil
}

func (s *Service) RevokeEnvelopeTx(ctx context.Context, tx *gorm.DB, envelopeID ids.EnvelopeID) error {
	if tx == nil || !envelopeID.Valid() {
		return invitationdomain.ErrInvalidRequest
	}
	_, err := s.repo.RevokeByEnvelope(ctx, tx, envelopeID, s.clock.Now())
	return err
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
