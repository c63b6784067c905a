package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/signflow/internal/ids"
)

// Consent records a signer's agreement (or refusal) to sign electronically.
// Rows are append-only; the most recent row per signer is authoritative.
type Consent struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	TenantID       ids.TenantID   `gorm:"not null;index" json:"tenant_id"`
	EnvelopeID     ids.EnvelopeID `gorm:"not null;index" json:"envelope_id"`
	SignerID       ids.SignerID   `gorm:"not null;index" json:"signer_id"`
	Given          bool           `gorm:"not null" json:"given"`
	GivenAt        *time.Time     `json:"given_at,omitempty"`
	ConsentText    string         `gorm:"type:text;not null" json:"consent_text"`
	ConsentVersion string         `gorm:"type:text;not null" json:"consent_version"`
	IPAddress      *string        `gorm:"type:text" json:"ip_address,omitempty"`
	UserAgent      *string        `gorm:"type:text" json:"user_agent,omitempty"`
	Locale         *string        `gorm:"type:text" json:"locale,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
}

func (Consent) TableName() string { return "consents" }

// Party is the signer a consent is recorded for, read together with its
// envelope. Signer fields are empty when the signer is not on the envelope.
type Party struct {
	EnvelopeStatus string
	SignerStatus   string
	Role           string
}

type RecordRequest struct {
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	SignerID   ids.SignerID
	Given      bool
	Text       string
	// Version defaults to the policy consent version.
	Version   string
	IPAddress string
	UserAgent string
	Locale    string
	// At defaults to now and may not lie in the future.
	At time.Time
}
