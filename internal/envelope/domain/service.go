package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/signflow/internal/digest"
	"github.com/smallbiznis/signflow/internal/ids"
	invitationdomain "github.com/smallbiznis/signflow/internal/invitation/domain"
	"github.com/smallbiznis/signflow/pkg/apperror"
	"github.com/smallbiznis/signflow/pkg/db/pagination"
	"gorm.io/gorm"
)

type SignerInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	Sequence    int    `json:"sequence"`
}

type CreateRequest struct {
	TenantID    ids.TenantID
	CreatedBy   string
	Title       string
	Description string
	SigningMode SigningMode
	Digest      digest.Digest
	DocumentKey string
	ContentType string
	ExpiresAt   *time.Time
	Signers     []SignerInput
	// EnvelopeID lets callers that stage the document first reserve the id.
	EnvelopeID ids.EnvelopeID
}

// UpdateRequest changes a draft. Nil fields are left untouched; a non-nil
// Signers replaces the roster.
type UpdateRequest struct {
	TenantID        ids.TenantID
	EnvelopeID      ids.EnvelopeID
	ExpectedVersion int64
	Title           *string
	Description     *string
	SigningMode     *SigningMode
	Digest          *digest.Digest
	DocumentKey     *string
	ContentType     *string
	ExpiresAt       *time.Time
	ClearExpiry     bool
	Signers         *[]SignerInput
}

type SendRequest struct {
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	ExpiresAt  *time.Time
	TokenTTL   time.Duration
	IPAddress  string
	UserAgent  string
}

type SendResult struct {
	View        *View                     `json:"view"`
	Invitations []invitationdomain.Issued `json:"invitations"`
}

type CancelRequest struct {
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	Reason     *string
	IPAddress  string
	UserAgent  string
}

type DeclineRequest struct {
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	SignerID   ids.SignerID
	Reason     *string
	IPAddress  string
	UserAgent  string
}

type ListRequest struct {
	pagination.Pagination
	TenantID ids.TenantID
	Status   Status
}

type ListResponse struct {
	pagination.PageInfo
	Envelopes []Envelope `json:"envelopes"`
}

// Transition moves a sent envelope into a terminal status.
type Transition struct {
	EnvelopeID ids.EnvelopeID
	To         Status
	At         time.Time
	Reason     *string
	// DueBy guards expiry: the envelope must have expires_at <= DueBy.
	DueBy *time.Time
}

type Repository interface {
	InsertEnvelope(ctx context.Context, db *gorm.DB, envelope *Envelope) error
	InsertSigners(ctx context.Context, db *gorm.DB, signers []Signer) error
	FindEnvelope(ctx context.Context, db *gorm.DB, tenantID ids.TenantID, id ids.EnvelopeID) (*Envelope, error)
	ListEnvelopes(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Envelope, error)
	// ListSigners returns the active roster ordered by sequence then id.
	ListSigners(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID) ([]Signer, error)
	FindSigner(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID, signerID ids.SignerID) (*Signer, error)
	UpdateDraft(ctx context.Context, db *gorm.DB, envelope *Envelope, expectedVersion int64) (bool, error)
	RemoveSigners(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID, at time.Time) error
	MarkSent(ctx context.Context, db *gorm.DB, id ids.EnvelopeID, expectedVersion int64, sentAt time.Time, expiresAt *time.Time) (bool, error)
	MarkSignersInvited(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID, at time.Time) error
	MarkSignerSigned(ctx context.Context, db *gorm.DB, signerID ids.SignerID, signatureID ids.SignatureID, at time.Time) (bool, error)
	MarkSignerDeclined(ctx context.Context, db *gorm.DB, signerID ids.SignerID, reason *string, at time.Time) (bool, error)
	// Touch bumps the version of a sent envelope. Concurrent writers on the
	// same envelope serialize on this row.
	Touch(ctx context.Context, db *gorm.DB, id ids.EnvelopeID, at time.Time) (bool, error)
	TransitionFromSent(ctx context.Context, db *gorm.DB, transition Transition) (bool, error)
	ListExpirable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Envelope, error)
	AttachCertificate(ctx context.Context, db *gorm.DB, id ids.EnvelopeID, key string, at time.Time) (bool, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*View, error)
	Get(ctx context.Context, tenantID ids.TenantID, envelopeID ids.EnvelopeID) (*View, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Update(ctx context.Context, req UpdateRequest) (*View, error)
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
	Cancel(ctx context.Context, req CancelRequest) (*View, error)
	Decline(ctx context.Context, req DeclineRequest) (*View, error)
	Expire(ctx context.Context, tenantID ids.TenantID, envelopeID ids.EnvelopeID) (*View, error)
	// CompleteTx finalizes a sent envelope inside tx. It reports false when
	// the envelope was already completed by a concurrent caller.
	CompleteTx(ctx context.Context, tx *gorm.DB, tenantID ids.TenantID, envelopeID ids.EnvelopeID) (bool, error)
	ListExpirable(ctx context.Context, limit int) ([]Envelope, error)
	AttachCertificate(ctx context.Context, tenantID ids.TenantID, envelopeID ids.EnvelopeID, key string) (bool, error)
}

var (
	ErrInvalidRequest    = apperror.Validation("invalid_envelope_request", "envelope request is incomplete")
	ErrInvalidTitle      = apperror.Validation("invalid_title", "title cannot be empty")
	ErrInvalidSigner     = apperror.Validation("invalid_signer", "signer entry is invalid")
	ErrDuplicateSigner   = apperror.Validation("duplicate_signer", "signer email appears more than once")
	ErrTooManySigners    = apperror.Validation("too_many_signers", "roster exceeds the allowed number of parties")
	ErrInvalidMode       = apperror.Validation("invalid_signing_mode", "signing mode must be sequential or parallel")
	ErrNoSigners         = apperror.Validation("no_signers", "at least one signer-role party is required")
	ErrInvalidSequence   = apperror.Validation("invalid_sequence", "sequential signers must be numbered 1..n without gaps")
	ErrInvalidReason     = apperror.Validation("invalid_reason", "reason must be non-blank and within the length limit")
	ErrInvalidExpiry     = apperror.Validation("invalid_expiry", "expiry must lie in the future")
	ErrInvalidPageToken  = apperror.Validation("invalid_page_token", "page token is malformed")
	ErrEnvelopeNotFound  = apperror.NotFound("envelope_not_found", "envelope not found")
	ErrSignerNotFound    = apperror.NotFound("signer_not_found", "signer not found")
	ErrNotDraft          = apperror.Conflict("envelope_not_draft", "envelope can only be modified while draft")
	ErrVersionMismatch   = apperror.Conflict("version_mismatch", "envelope was modified concurrently")
	ErrInvalidTransition = apperror.Conflict("invalid_transition", "envelope cannot transition from its current status")
	ErrTerminal          = apperror.Conflict("envelope_terminal", "envelope is in a terminal status")
	ErrNotYetExpired     = apperror.Conflict("envelope_not_expired", "envelope expiry has not been reached")
	ErrSignerNotOpen     = apperror.Conflict("signer_not_pending", "signer is no longer awaiting signature")
	ErrViewerAction      = apperror.Conflict("viewer_not_signer", "viewers cannot sign or decline")
	ErrIncomplete        = apperror.IntegrityViolation("envelope_incomplete", "envelope cannot complete while signer-role parties are unsigned")
)

// TransitionError describes a refused transition from current to attempted.
func TransitionError(current, attempted Status) error {
	base := ErrInvalidTransition
	if current.Terminal() {
		base = ErrTerminal
	}
	return base.
		With("current_status", string(current)).
		With("attempted_status", string(attempted))
}
