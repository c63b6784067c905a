package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/signflow/internal/ids"
	"github.com/smallbiznis/signflow/internal/invitation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, token *domain.InvitationToken) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invitation_tokens (
			id, tenant_id, envelope_id, signer_id, token_hash, expires_at,
			consumed, issued_ip, issued_user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token.ID,
		token.TenantID,
		token.EnvelopeID,
		token.SignerID,
		token.TokenHash,
		token.ExpiresAt,
		false,
		token.IssuedIP,
		token.IssuedUserAgent,
		token.CreatedAt,
	).Error
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string) (*domain.InvitationToken, error) {
	var token domain.InvitationToken
	err := db.WithContext(ctx).
		Where("token_hash = ?", hash).
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *repo) Consume(ctx context.Context, db *gorm.DB, id ids.InvitationTokenID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE invitation_tokens SET consumed = ?, consumed_at = ?
		WHERE id = ? AND consumed = ?`,
		true, at, id, false,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) RevokeBySigner(ctx context.Context, db *gorm.DB, signerID ids.SignerID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE invitation_tokens SET consumed = ?, revoked_at = ?
		WHERE signer_id = ? AND consumed = ?`,
		true, at, signerID, false,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) RevokeByEnvelope(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE invitation_tokens SET consumed = ?, revoked_at = ?
		WHERE envelope_id = ? AND consumed = ?`,
		true, at, envelopeID, false,
	)
	return result.RowsAffected, result.Error
}
