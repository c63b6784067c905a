package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/signflow/internal/outbox/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.OutboxEvent) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Lease claims due events in creation order. Each candidate is claimed with
// a conditional update so competing dispatchers never share an event. An
// event waiting behind an earlier undelivered event of the same aggregate
// (backing off, or leased elsewhere) is not a candidate.
func (r *repo) Lease(ctx context.Context, db *gorm.DB, owner string, limit int, now time.Time, ttl time.Duration) ([]domain.OutboxEvent, error) {
	var leased []domain.OutboxEvent
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []snowflake.ID
		if err := tx.Model(&domain.OutboxEvent{}).
			Where("status = ? AND next_attempt_at <= ?", domain.StatusPending, now).
			Where("lease_expires_at IS NULL OR lease_expires_at <= ?", now).
			Where(`NOT EXISTS (
				SELECT 1 FROM outbox_events prior
				WHERE prior.aggregate_type = outbox_events.aggregate_type
				AND prior.aggregate_id = outbox_events.aggregate_id
				AND prior.status = ? AND prior.id < outbox_events.id
				AND (prior.next_attempt_at > ? OR prior.lease_expires_at > ?)
			)`, domain.StatusPending, now, now).
			Order("id asc").
			Limit(limit).
			Pluck("id", &candidates).Error; err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		expiresAt := now.Add(ttl)
		claimed := make([]snowflake.ID, 0, len(candidates))
		for _, id := range candidates {
			result := tx.Exec(
				`UPDATE outbox_events
				SET lease_owner = ?, lease_expires_at = ?
				WHERE id = ? AND status = ?
				AND (lease_expires_at IS NULL OR lease_expires_at <= ?)`,
				owner, expiresAt, id, domain.StatusPending, now,
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 1 {
				claimed = append(claimed, id)
			}
		}
		if len(claimed) == 0 {
			return nil
		}
		return tx.Where("id IN ?", claimed).Order("id asc").Find(&leased).Error
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

func (r *repo) MarkDelivered(ctx context.Context, db *gorm.DB, id snowflake.ID, owner string, at time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		SET status = ?, delivered_at = ?, lease_owner = NULL, lease_expires_at = NULL,
			attempt_count = attempt_count + 1, last_error = NULL
		WHERE id = ? AND status = ? AND lease_owner = ?`,
		domain.StatusDelivered, at, id, domain.StatusPending, owner,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, failure domain.Failure) error {
	status := domain.StatusPending
	if failure.Dead {
		status = domain.StatusDead
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		SET status = ?, attempt_count = ?, next_attempt_at = ?, last_error = ?,
			lease_owner = NULL, lease_expires_at = NULL
		WHERE id = ? AND status = ? AND lease_owner = ?`,
		status, failure.AttemptCount, failure.NextAttemptAt, failure.LastError,
		failure.ID, domain.StatusPending, failure.Owner,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

func (r *repo) Release(ctx context.Context, db *gorm.DB, id snowflake.ID, owner string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_events SET lease_owner = NULL, lease_expires_at = NULL
		WHERE id = ? AND status = ? AND lease_owner = ?`,
		id, domain.StatusPending, owner,
	).Error
}

func (r *repo) CountPending(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.OutboxEvent{}).
		Where("status = ?", domain.StatusPending).
		Count(&count).Error
	return count, err
}
