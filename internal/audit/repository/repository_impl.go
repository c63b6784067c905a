package repository

import (
	"context"

	"github.com/smallbiznis/signflow/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditEvent) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_events (
			id, tenant_id, envelope_id, type, actor_type, actor_id,
			ip_address, user_agent, correlation_id, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.TenantID,
		entry.EnvelopeID,
		entry.Type,
		entry.ActorType,
		entry.ActorID,
		entry.IPAddress,
		entry.UserAgent,
		entry.CorrelationID,
		entry.Payload,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListByEnvelope(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent
	stmt := db.WithContext(ctx).Model(&domain.AuditEvent{}).
		Where("tenant_id = ? AND envelope_id = ?", filter.TenantID, filter.EnvelopeID)
	if filter.AfterID != 0 {
		stmt = stmt.Where("id > ?", filter.AfterID)
	}
	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
