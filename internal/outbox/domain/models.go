package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/signflow/internal/ids"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusDead      Status = "dead"
)

const (
	TypeEnvelopeCreated   = "envelope.created"
	TypeEnvelopeUpdated   = "envelope.updated"
	TypeEnvelopeSent      = "envelope.sent"
	TypeEnvelopeCompleted = "envelope.completed"
	TypeEnvelopeCanceled  = "envelope.canceled"
	TypeEnvelopeDeclined  = "envelope.declined"
	TypeEnvelopeExpired   = "envelope.expired"
	TypeSignerSigned      = "signer.signed"
	TypeConsentRecorded   = "consent.recorded"
	TypeDocumentShared    = "document.shared"
)

const AggregateEnvelope = "envelope"

type OutboxEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	TenantID       ids.TenantID      `gorm:"not null;index"`
	AggregateType  string            `gorm:"type:text;not null"`
	AggregateID    string            `gorm:"size:64;not null;index"`
	Type           string            `gorm:"type:text;not null"`
	Payload        datatypes.JSONMap `gorm:"type:json"`
	Headers        datatypes.JSONMap `gorm:"type:json"`
	DedupeKey      string            `gorm:"size:255;not null;uniqueIndex"`
	Status         Status            `gorm:"size:32;not null;index"`
	AttemptCount   int               `gorm:"not null;default:0"`
	NextAttemptAt  time.Time         `gorm:"not null"`
	LeaseOwner     *string           `gorm:"type:text"`
	LeaseExpiresAt *time.Time
	LastError      *string   `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null"`
	DeliveredAt    *time.Time
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// Event is the input to PublishTx.
type Event struct {
	TenantID      ids.TenantID
	AggregateType string
	AggregateID   string
	Type          string
	Payload       map[string]any
	// DedupeKey makes the write idempotent. Empty keys default to
	// "<type>:<aggregate id>".
	DedupeKey string
}

// Failure describes a failed delivery attempt.
type Failure struct {
	ID            snowflake.ID
	Owner         string
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	Dead          bool
}

type Repository interface {
	// Insert reports false when an event with the same dedupe key exists.
	Insert(ctx context.Context, db *gorm.DB, event *OutboxEvent) (bool, error)
	Lease(ctx context.Context, db *gorm.DB, owner string, limit int, now time.Time, ttl time.Duration) ([]OutboxEvent, error)
	MarkDelivered(ctx context.Context, db *gorm.DB, id snowflake.ID, owner string, at time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, failure Failure) error
	Release(ctx context.Context, db *gorm.DB, id snowflake.ID, owner string) error
	CountPending(ctx context.Context, db *gorm.DB) (int64, error)
}

type Service interface {
	// PublishTx stages event in tx. It must be called inside the transaction
	// that performs the state change the event describes.
	PublishTx(ctx context.Context, tx *gorm.DB, event Event) (*OutboxEvent, error)
}

var (
	ErrInvalidEvent = errors.New("invalid_outbox_event")
	ErrLeaseLost    = errors.New("outbox_lease_lost")
)
