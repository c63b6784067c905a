package domain

import (
	"time"

	"github.com/smallbiznis/signflow/internal/ids"
)

// InvitationToken grants a single signing or viewing session. Only the
// sha256 hash of the opaque value is stored.
type InvitationToken struct {
	ID              ids.InvitationTokenID `gorm:"primaryKey" json:"id"`
	TenantID        ids.TenantID          `gorm:"not null;index" json:"tenant_id"`
	EnvelopeID      ids.EnvelopeID        `gorm:"not null;index" json:"envelope_id"`
	SignerID        ids.SignerID          `gorm:"not null;index" json:"signer_id"`
	TokenHash       string                `gorm:"size:128;not null;uniqueIndex" json:"-"`
	ExpiresAt       time.Time             `gorm:"not null" json:"expires_at"`
	Consumed        bool                  `gorm:"not null;default:false" json:"consumed"`
	ConsumedAt      *time.Time            `json:"consumed_at,omitempty"`
	RevokedAt       *time.Time            `json:"revoked_at,omitempty"`
	IssuedIP        *string               `gorm:"type:text" json:"-"`
	IssuedUserAgent *string               `gorm:"type:text" json:"-"`
	CreatedAt       time.Time             `gorm:"not null" json:"created_at"`
}

func (InvitationToken) TableName() string { return "invitation_tokens" }

// IssueRequest describes a token to mint. A zero TTL uses the policy default.
type IssueRequest struct {
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	SignerID   ids.SignerID
	TTL        time.Duration
	IPAddress  string
	UserAgent  string
}

// Issued carries the plaintext token. It is returned once and never stored.
type Issued struct {
	TokenID   ids.InvitationTokenID `json:"token_id"`
	SignerID  ids.SignerID          `json:"signer_id"`
	Token     string                `json:"token"`
	ExpiresAt time.Time             `json:"expires_at"`
}

// Claims identifies the party a consumed token was issued to.
type Claims struct {
	TokenID    ids.InvitationTokenID
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	SignerID   ids.SignerID
}

// ClientMeta describes the caller presenting a token.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}
