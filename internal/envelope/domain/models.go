package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/signflow/internal/ids"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusDeclined  Status = "declined"
	StatusExpired   Status = "expired"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusDeclined, StatusExpired:
		return true
	default:
		return false
	}
}

type SigningMode string

const (
	SigningModeSequential SigningMode = "sequential"
	SigningModeParallel   SigningMode = "parallel"
)

// Phase is derived from signer statuses while an envelope is sent. It is
// never stored.
type Phase string

const (
	PhaseInProgress      Phase = "in_progress"
	PhaseReadyToFinalize Phase = "ready_to_finalize"
)

type Role string

const (
	RoleSigner Role = "signer"
	RoleViewer Role = "viewer"
)

type SignerStatus string

const (
	SignerPending  SignerStatus = "pending"
	SignerInvited  SignerStatus = "invited"
	SignerSigned   SignerStatus = "signed"
	SignerDeclined SignerStatus = "declined"
)

// Open reports whether the signer may still sign or decline.
func (s SignerStatus) Open() bool {
	return s == SignerPending || s == SignerInvited
}

type Envelope struct {
	ID              ids.EnvelopeID `gorm:"primaryKey" json:"id"`
	TenantID        ids.TenantID   `gorm:"not null;index" json:"tenant_id"`
	Title           string         `gorm:"type:text;not null" json:"title"`
	Description     *string        `gorm:"type:text" json:"description,omitempty"`
	Status          Status         `gorm:"size:32;not null;index" json:"status"`
	SigningMode     SigningMode    `gorm:"type:text;not null" json:"signing_mode"`
	DigestAlgorithm string         `gorm:"type:text;not null" json:"digest_algorithm"`
	DigestValue     string         `gorm:"type:text;not null" json:"digest_value"`
	DocumentKey     string         `gorm:"type:text;not null" json:"document_key"`
	ContentType     string         `gorm:"type:text;not null" json:"content_type"`
	CertificateKey  *string        `gorm:"type:text" json:"certificate_key,omitempty"`
	ExpiresAt       *time.Time     `gorm:"index" json:"expires_at,omitempty"`
	SentAt          *time.Time     `json:"sent_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CanceledAt      *time.Time     `json:"canceled_at,omitempty"`
	DeclinedAt      *time.Time     `json:"declined_at,omitempty"`
	ExpiredAt       *time.Time     `json:"expired_at,omitempty"`
	StatusReason    *string        `gorm:"type:text" json:"status_reason,omitempty"`
	Version         int64          `gorm:"not null;default:1" json:"version"`
	CreatedBy       string         `gorm:"type:text;not null" json:"created_by"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (Envelope) TableName() string { return "envelopes" }

type Signer struct {
	ID            ids.SignerID     `gorm:"primaryKey" json:"id"`
	EnvelopeID    ids.EnvelopeID   `gorm:"not null;index" json:"envelope_id"`
	TenantID      ids.TenantID     `gorm:"not null;index" json:"tenant_id"`
	Email         string           `gorm:"type:text;not null" json:"email"`
	DisplayName   string           `gorm:"type:text;not null" json:"display_name"`
	Role          Role             `gorm:"type:text;not null" json:"role"`
	Sequence      int              `gorm:"not null;default:0" json:"sequence"`
	Status        SignerStatus     `gorm:"type:text;not null" json:"status"`
	ConsentID     *snowflake.ID    `json:"consent_id,omitempty"`
	SignatureID   *ids.SignatureID `json:"signature_id,omitempty"`
	SignedAt      *time.Time       `json:"signed_at,omitempty"`
	DeclinedAt    *time.Time       `json:"declined_at,omitempty"`
	DeclineReason *string          `gorm:"type:text" json:"decline_reason,omitempty"`
	RemovedAt     *time.Time       `json:"-"`
	Version       int64            `gorm:"not null;default:1" json:"version"`
	CreatedAt     time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"not null" json:"updated_at"`
}

func (Signer) TableName() string { return "signers" }

// Progress counts signer-role parties only.
type Progress struct {
	Signed   int     `json:"signed"`
	Total    int     `json:"total"`
	Fraction float64 `json:"fraction"`
}

func ComputeProgress(signers []Signer) Progress {
	var p Progress
	for _, s := range signers {
		if s.Role != RoleSigner || s.RemovedAt != nil {
			continue
		}
		p.Total++
		if s.Status == SignerSigned {
			p.Signed++
		}
	}
	if p.Total > 0 {
		p.Fraction = float64(p.Signed) / float64(p.Total)
	}
	return p
}

// Complete reports whether every signer-role party has signed.
func (p Progress) Complete() bool {
	return p.Total > 0 && p.Signed == p.Total
}

// DerivePhase returns the sent sub-status, or "" for any other status.
func DerivePhase(status Status, progress Progress) Phase {
	if status != StatusSent {
		return ""
	}
	if progress.Complete() {
		return PhaseReadyToFinalize
	}
	return PhaseInProgress
}

// View is an envelope with its active roster and derived state.
type View struct {
	Envelope Envelope `json:"envelope"`
	Signers  []Signer `json:"signers"`
	Progress Progress `json:"progress"`
	Phase    Phase    `json:"phase,omitempty"`
}

func NewView(envelope Envelope, signers []Signer) *View {
	progress := ComputeProgress(signers)
	return &View{
		Envelope: envelope,
		Signers:  signers,
		Progress: progress,
		Phase:    DerivePhase(envelope.Status, progress),
	}
}

type ListFilter struct {
	TenantID ids.TenantID
	Status   Status
	BeforeID ids.EnvelopeID
	Limit    int
}
