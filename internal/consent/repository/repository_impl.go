package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/signflow/internal/consent/domain"
	"github.com/smallbiznis/signflow/internal/ids"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, consent *domain.Consent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO consents (
			id, tenant_id, envelope_id, signer_id, given, given_at, consent_text,
			consent_version, ip_address, user_agent, locale, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		consent.ID,
		consent.TenantID,
		consent.EnvelopeID,
		consent.SignerID,
		consent.Given,
		consent.GivenAt,
		consent.ConsentText,
		consent.ConsentVersion,
		consent.IPAddress,
		consent.UserAgent,
		consent.Locale,
		consent.CreatedAt,
	).Error
}

func (r *repo) Latest(ctx context.Context, db *gorm.DB, signerID ids.SignerID) (*domain.Consent, error) {
	var consent domain.Consent
	err := db.WithContext(ctx).
		Where("signer_id = ?", signerID).
		Order("id desc").
		First(&consent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &consent, nil
}

type partyRow struct {
	EnvelopeStatus string
	SignerStatus   *string
	Role           *string
}

func (r *repo) FindParty(ctx context.Context, db *gorm.DB, tenantID ids.TenantID, envelopeID ids.EnvelopeID, signerID ids.SignerID) (*domain.Party, error) {
	var rows []partyRow
	err := db.WithContext(ctx).Raw(
		`SELECT e.status AS envelope_status, s.status AS signer_status, s.role AS role
		FROM envelopes e
		LEFT JOIN signers s ON s.envelope_id = e.id AND s.id = ? AND s.removed_at IS NULL
		WHERE e.id = ? AND e.tenant_id = ?`,
		signerID, envelopeID, tenantID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	party := &domain.Party{EnvelopeStatus: rows[0].EnvelopeStatus}
	if rows[0].SignerStatus != nil {
		party.SignerStatus = *rows[0].SignerStatus
	}
	if rows[0].Role != nil {
		party.Role = *rows[0].Role
	}
	return party, nil
}

func (r *repo) AttachToSigner(ctx context.Context, db *gorm.DB, tenantID ids.TenantID, envelopeID ids.EnvelopeID, signerID ids.SignerID, consentID snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE signers SET consent_id = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND envelope_id = ? AND tenant_id = ? AND removed_at IS NULL
		AND status IN ('pending', 'invited')
		AND EXISTS (
			SELECT 1 FROM envelopes e
			WHERE e.id = signers.envelope_id AND e.tenant_id = ? AND e.status = 'sent'
		)`,
		consentID, at, signerID, envelopeID, tenantID, tenantID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
