package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/signflow/internal/envelope/domain"
	"github.com/smallbiznis/signflow/internal/ids"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEnvelope(ctx context.Context, db *gorm.DB, envelope *domain.Envelope) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO envelopes (
			id, tenant_id, title, description, status, signing_mode,
			digest_algorithm, digest_value, document_key, content_type,
			expires_at, version, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		envelope.ID,
		envelope.TenantID,
		envelope.Title,
		envelope.Description,
		envelope.Status,
		envelope.SigningMode,
		envelope.DigestAlgorithm,
		envelope.DigestValue,
		envelope.DocumentKey,
		envelope.ContentType,
		envelope.ExpiresAt,
		envelope.Version,
		envelope.CreatedBy,
		envelope.CreatedAt,
		envelope.UpdatedAt,
	).Error
}

func (r *repo) InsertSigners(ctx context.Context, db *gorm.DB, signers []domain.Signer) error {
	for _, s := range signers {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO signers (
				id, envelope_id, tenant_id, email, display_name, role, sequence,
				status, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID,
			s.EnvelopeID,
			s.TenantID,
			s.Email,
			s.DisplayName,
			s.Role,
			s.Sequence,
			s.Status,
			s.Version,
			s.CreatedAt,
			s.UpdatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindEnvelope(ctx context.Context, db *gorm.DB, tenantID ids.TenantID, id ids.EnvelopeID) (*domain.Envelope, error) {
	var envelope domain.Envelope
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&envelope).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}

func (r *repo) ListEnvelopes(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Envelope, error) {
	var envelopes []domain.Envelope
	stmt := db.WithContext(ctx).Model(&domain.Envelope{}).
		Where("tenant_id = ?", filter.TenantID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&envelopes).Error; err != nil {
		return nil, err
	}
	return envelopes, nil
}

func (r *repo) ListSigners(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID) ([]domain.Signer, error) {
	var signers []domain.Signer
	err := db.WithContext(ctx).
		Where("envelope_id = ? AND removed_at IS NULL", envelopeID).
		Order("sequence asc, id asc").
		Find(&signers).Error
	if err != nil {
		return nil, err
	}
	return signers, nil
}

func (r *repo) FindSigner(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID, signerID ids.SignerID) (*domain.Signer, error) {
	var signer domain.Signer
	err := db.WithContext(ctx).
		Where("envelope_id = ? AND id = ? AND removed_at IS NULL", envelopeID, signerID).
		First(&signer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &signer, nil
}

func (r *repo) UpdateDraft(ctx context.Context, db *gorm.DB, envelope *domain.Envelope, expectedVersion int64) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE envelopes SET
			title = ?, description = ?, signing_mode = ?, digest_algorithm = ?,
			digest_value = ?, document_key = ?, content_type = ?, expires_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND status = ? AND version = ?`,
		envelope.Title,
		envelope.Description,
		envelope.SigningMode,
		envelope.DigestAlgorithm,
		envelope.DigestValue,
		envelope.DocumentKey,
		envelope.ContentType,
		envelope.ExpiresAt,
		envelope.UpdatedAt,
		envelope.ID,
		domain.StatusDraft,
		expectedVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) RemoveSigners(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE signers SET removed_at = ?, updated_at = ?, version = version + 1
		WHERE envelope_id = ? AND removed_at IS NULL`,
		at, at, envelopeID,
	).Error
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id ids.EnvelopeID, expectedVersion int64, sentAt time.Time, expiresAt *time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE envelopes SET status = ?, sent_at = ?, expires_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND status = ? AND version = ?`,
		domain.StatusSent, sentAt, expiresAt, sentAt,
		id, domain.StatusDraft, expectedVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) MarkSignersInvited(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE signers SET status = ?, updated_at = ?, version = version + 1
		WHERE envelope_id = ? AND removed_at IS NULL AND status = ?`,
		domain.SignerInvited, at, envelopeID, domain.SignerPending,
	).Error
}

func (r *repo) MarkSignerSigned(ctx context.Context, db *gorm.DB, signerID ids.SignerID, signatureID ids.SignatureID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE signers SET status = ?, signature_id = ?, signed_at = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND role = ? AND removed_at IS NULL AND status IN (?, ?)`,
		domain.SignerSigned, signatureID, at, at,
		signerID, domain.RoleSigner, domain.SignerPending, domain.SignerInvited,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) MarkSignerDeclined(ctx context.Context, db *gorm.DB, signerID ids.SignerID, reason *string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE signers SET status = ?, decline_reason = ?, declined_at = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND role = ? AND removed_at IS NULL AND status IN (?, ?)`,
		domain.SignerDeclined, reason, at, at,
		signerID, domain.RoleSigner, domain.SignerPending, domain.SignerInvited,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id ids.EnvelopeID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE envelopes SET version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		at, id, domain.StatusSent,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func transitionColumn(status domain.Status) (string, error) {
	switch status {
	case domain.StatusCompleted:
		return "completed_at", nil
	case domain.StatusCanceled:
		return "canceled_at", nil
	case domain.StatusDeclined:
		return "declined_at", nil
	case domain.StatusExpired:
		return "expired_at", nil
	default:
		return "", fmt.Errorf("no terminal transition to %q", status)
	}
}

func (r *repo) TransitionFromSent(ctx context.Context, db *gorm.DB, transition domain.Transition) (bool, error) {
	column, err := transitionColumn(transition.To)
	if err != nil {
		return false, err
	}

	query := `UPDATE envelopes SET status = ?, ` + column + ` = ?, status_reason = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?`
	args := []any{
		transition.To, transition.At, transition.Reason, transition.At,
		transition.EnvelopeID, domain.StatusSent,
	}
	if transition.DueBy != nil {
		query += ` AND expires_at IS NOT NULL AND expires_at <= ?`
		args = append(args, *transition.DueBy)
	}

	result := db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListExpirable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Envelope, error) {
	var envelopes []domain.Envelope
	err := db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", domain.StatusSent, now).
		Order("expires_at asc, id asc").
		Limit(limit).
		Find(&envelopes).Error
	if err != nil {
		return nil, err
	}
	return envelopes, nil
}

func (r *repo) AttachCertificate(ctx context.Context, db *gorm.DB, id ids.EnvelopeID, key string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE envelopes SET certificate_key = ?, updated_at = ?
		WHERE id = ? AND status = ? AND certificate_key IS NULL`,
		key, at, id, domain.StatusCompleted,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
