package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/signflow/internal/ids"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeOwner  ActorType = "owner"
	ActorTypeSigner ActorType = "signer"
	ActorTypeViewer ActorType = "viewer"
	ActorTypeGuest  ActorType = "guest"
)

// EventType names an audit entry. Values are stable and appear in exported
// audit trails.
type EventType string

const (
	EventEnvelopeCreated    EventType = "envelope.created"
	EventEnvelopeUpdated    EventType = "envelope.updated"
	EventEnvelopeSent       EventType = "envelope.sent"
	EventEnvelopeCompleted  EventType = "envelope.completed"
	EventEnvelopeCanceled   EventType = "envelope.canceled"
	EventEnvelopeDeclined   EventType = "envelope.declined"
	EventEnvelopeExpired    EventType = "envelope.expired"
	EventSignerSigned       EventType = "signer.signed"
	EventConsentRecorded    EventType = "consent.recorded"
	EventConsentWithheld    EventType = "consent.withheld"
	EventInvitationAccepted EventType = "invitation.accepted"
	EventInvitationReuse    EventType = "invitation.reuse_attempt"
	EventIntegrityViolation EventType = "signing.integrity_violation"
	EventDocumentDownloaded EventType = "document.downloaded"
	EventDocumentShared     EventType = "document.shared"
	EventCertificateIssued  EventType = "certificate.issued"
	EventAccessDenied       EventType = "authorization.denied"
)

// AuditEvent is an append-only ledger row. Rows are never updated.
type AuditEvent struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID      ids.TenantID      `gorm:"not null;index" json:"tenant_id"`
	EnvelopeID    ids.EnvelopeID    `gorm:"not null;index:idx_audit_events_envelope,priority:1" json:"envelope_id"`
	Type          string            `gorm:"type:text;not null" json:"type"`
	ActorType     string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID       *string           `gorm:"type:text" json:"actor_id,omitempty"`
	IPAddress     *string           `gorm:"type:text" json:"ip_address,omitempty"`
	UserAgent     *string           `gorm:"type:text" json:"user_agent,omitempty"`
	CorrelationID *string           `gorm:"type:text" json:"correlation_id,omitempty"`
	Payload       datatypes.JSONMap `gorm:"type:json" json:"payload,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
}

func (AuditEvent) TableName() string { return "audit_events" }

// Entry is the input for recording an audit event. Zero actor fields are
// resolved from the request context.
type Entry struct {
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	Type       EventType
	ActorType  ActorType
	ActorID    string
	IPAddress  string
	UserAgent  string
	Payload    map[string]any
}

type ListFilter struct {
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	AfterID    snowflake.ID
	Limit      int
}
