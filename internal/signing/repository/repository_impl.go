package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/signflow/internal/ids"
	"github.com/smallbiznis/signflow/internal/signing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, signature *domain.Signature) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "envelope_id"}, {Name: "signer_id"}},
			DoNothing: true,
		}).
		Create(signature)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindBySigner(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID, signerID ids.SignerID) (*domain.Signature, error) {
	var signature domain.Signature
	err := db.WithContext(ctx).
		Where("envelope_id = ? AND signer_id = ?", envelopeID, signerID).
		First(&signature).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &signature, nil
}

func (r *repo) ListByEnvelope(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID) ([]domain.Signature, error) {
	var signatures []domain.Signature
	if err := db.WithContext(ctx).
		Where("envelope_id = ?", envelopeID).
		Order("id asc").
		Find(&signatures).Error; err != nil {
		return nil, err
	}
	return signatures, nil
}
