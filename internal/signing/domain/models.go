package domain

import (
	"time"

	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	"github.com/smallbiznis/signflow/internal/ids"
)

// Signature is the cryptographic proof produced for one signer of one
// envelope. At most one row exists per (envelope_id, signer_id).
type Signature struct {
	ID                 ids.SignatureID `gorm:"primaryKey" json:"id"`
	TenantID           ids.TenantID    `gorm:"not null;index" json:"tenant_id"`
	EnvelopeID         ids.EnvelopeID  `gorm:"not null;uniqueIndex:ux_signatures_envelope_signer" json:"envelope_id"`
	SignerID           ids.SignerID    `gorm:"not null;uniqueIndex:ux_signatures_envelope_signer" json:"signer_id"`
	DigestAlgorithm    string          `gorm:"type:text;not null" json:"digest_algorithm"`
	DigestValue        string          `gorm:"type:text;not null" json:"digest_value"`
	SignatureAlgorithm string          `gorm:"type:text;not null" json:"signature_algorithm"`
	KeyID              string          `gorm:"type:text;not null" json:"key_id"`
	SignatureKey       string          `gorm:"type:text;not null" json:"signature_key"`
	SignedAt           time.Time       `gorm:"not null" json:"signed_at"`
	CreatedAt          time.Time       `gorm:"not null" json:"created_at"`
}

func (Signature) TableName() string { return "signatures" }

// ProofOfPresence describes how the signer was present when signing.
type ProofOfPresence struct {
	IPAddress string
	UserAgent string
	Method    string
}

type CompleteRequest struct {
	TenantID        ids.TenantID
	EnvelopeID      ids.EnvelopeID
	SignerID        ids.SignerID
	DigestAlgorithm string
	DigestValue     string
	// Algorithm is the signature algorithm requested from the authority.
	Algorithm string
	// KeyID may be empty to use the authority's default key.
	KeyID    string
	Presence ProofOfPresence
}

type SignatureMeta struct {
	ID          ids.SignatureID `json:"id"`
	DigestValue string          `json:"digest_value"`
	SignedAt    time.Time       `json:"signed_at"`
	Algorithm   string          `json:"algorithm"`
	KeyID       string          `json:"key_id"`
}

type Result struct {
	EnvelopeID    ids.EnvelopeID          `json:"envelope_id"`
	Status        envelopedomain.Status   `json:"status"`
	Phase         envelopedomain.Phase    `json:"phase,omitempty"`
	Progress      envelopedomain.Progress `json:"progress"`
	Signature     SignatureMeta           `json:"signature"`
	AlreadySigned bool                    `json:"already_signed"`
	// Completed is true only for the call that transitioned the envelope.
	Completed bool `json:"completed"`
}

func MetaOf(sig Signature) SignatureMeta {
	return SignatureMeta{
		ID:          sig.ID,
		DigestValue: sig.DigestValue,
		SignedAt:    sig.SignedAt,
		Algorithm:   sig.SignatureAlgorithm,
		KeyID:       sig.KeyID,
	}
}
