package orchestrator

import (
	"time"

	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	"github.com/smallbiznis/signflow/internal/authorization"
	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	"github.com/smallbiznis/signflow/internal/ids"
	invitationdomain "github.com/smallbiznis/signflow/internal/invitation/domain"
	signingdomain "github.com/smallbiznis/signflow/internal/signing/domain"
	"github.com/smallbiznis/signflow/pkg/db/pagination"
)

// ClientInfo describes the device an actor is using.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

type CreateEnvelopeRequest struct {
	Actor       authorization.Actor
	TenantID    ids.TenantID
	Title       string
	Description string
	SigningMode envelopedomain.SigningMode
	// Document is hashed and stored; DigestAlgorithm defaults to the policy.
	Document        []byte
	FileName        string
	ContentType     string
	DigestAlgorithm string
	ExpiresAt       *time.Time
	Signers         []envelopedomain.SignerInput
}

// UpdateEnvelopeRequest edits a draft. A non-empty Document replaces the
// stored document and its digest.
type UpdateEnvelopeRequest struct {
	Actor           authorization.Actor
	TenantID        ids.TenantID
	EnvelopeID      ids.EnvelopeID
	ExpectedVersion int64
	Title           *string
	Description     *string
	SigningMode     *envelopedomain.SigningMode
	Document        []byte
	FileName        string
	ContentType     string
	DigestAlgorithm string
	ExpiresAt       *time.Time
	ClearExpiry     bool
	Signers         *[]envelopedomain.SignerInput
}

type SendEnvelopeRequest struct {
	Actor      authorization.Actor
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	ExpiresAt  *time.Time
	// TokenTTL overrides the policy invitation lifetime when positive.
	TokenTTL time.Duration
	Client   ClientInfo
}

type ConsentInput struct {
	Given   bool
	Text    string
	Version string
	Locale  string
}

type SignDocumentRequest struct {
	Actor           authorization.Actor
	TenantID        ids.TenantID
	EnvelopeID      ids.EnvelopeID
	SignerID        ids.SignerID
	DigestAlgorithm string
	DigestValue     string
	Algorithm       string
	KeyID           string
	// Consent is recorded before signing when present.
	Consent *ConsentInput
	Client  ClientInfo
}

type DeclineSignerRequest struct {
	Actor      authorization.Actor
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	SignerID   ids.SignerID
	Reason     *string
	Client     ClientInfo
}

type CancelEnvelopeRequest struct {
	Actor      authorization.Actor
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	Reason     *string
	Client     ClientInfo
}

type DownloadDocumentRequest struct {
	Actor      authorization.Actor
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	Client     ClientInfo
}

type GetAuditTrailRequest struct {
	pagination.Pagination
	Actor      authorization.Actor
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
}

type ShareDocumentViewRequest struct {
	Actor      authorization.Actor
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
	// TTL defaults to the policy maximum and may not exceed it.
	TTL       time.Duration
	Recipient string
	Client    ClientInfo
}

type AcceptInvitationRequest struct {
	TenantID ids.TenantID
	Token    string
	Client   ClientInfo
}

type GetEnvelopeRequest struct {
	Actor      authorization.Actor
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
}

type SignerDTO struct {
	ID          ids.SignerID                `json:"id"`
	Email       string                      `json:"email"`
	DisplayName string                      `json:"display_name"`
	Role        envelopedomain.Role         `json:"role"`
	Sequence    int                         `json:"sequence"`
	Status      envelopedomain.SignerStatus `json:"status"`
	SignedAt    *time.Time                  `json:"signed_at,omitempty"`
	DeclinedAt  *time.Time                  `json:"declined_at,omitempty"`
}

type EnvelopeDTO struct {
	ID              ids.EnvelopeID             `json:"id"`
	TenantID        ids.TenantID               `json:"tenant_id"`
	Title           string                     `json:"title"`
	Status          envelopedomain.Status      `json:"status"`
	Phase           envelopedomain.Phase       `json:"phase,omitempty"`
	SigningMode     envelopedomain.SigningMode `json:"signing_mode"`
	DigestAlgorithm string                     `json:"digest_algorithm"`
	DigestValue     string                     `json:"digest_value"`
	Version         int64                      `json:"version"`
	Progress        envelopedomain.Progress    `json:"progress"`
	ExpiresAt       *time.Time                 `json:"expires_at,omitempty"`
	SentAt          *time.Time                 `json:"sent_at,omitempty"`
	CompletedAt     *time.Time                 `json:"completed_at,omitempty"`
	StatusReason    *string                    `json:"status_reason,omitempty"`
	Signers         []SignerDTO                `json:"signers"`
}

type InvitationDTO struct {
	SignerID  ids.SignerID `json:"signer_id"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type SendEnvelopeResult struct {
	Envelope    EnvelopeDTO     `json:"envelope"`
	Invitations []InvitationDTO `json:"invitations"`
}

type SignDocumentResult struct {
	EnvelopeID    ids.EnvelopeID              `json:"envelope_id"`
	Status        envelopedomain.Status       `json:"status"`
	Phase         envelopedomain.Phase        `json:"phase,omitempty"`
	Progress      envelopedomain.Progress     `json:"progress"`
	Signature     signingdomain.SignatureMeta `json:"signature"`
	AlreadySigned bool                        `json:"already_signed"`
	Completed     bool                        `json:"completed"`
}

type DownloadResult struct {
	DocumentURL    string    `json:"document_url"`
	CertificateURL string    `json:"certificate_url,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type AuditTrailResult struct {
	pagination.PageInfo
	Events []auditdomain.AuditEvent `json:"events"`
}

type ShareResult struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AcceptInvitationResult identifies the party the token was issued to. Actor
// is the identity to present on follow-up operations.
type AcceptInvitationResult struct {
	Actor       authorization.Actor `json:"-"`
	EnvelopeID  ids.EnvelopeID      `json:"envelope_id"`
	SignerID    ids.SignerID        `json:"signer_id"`
	Role        envelopedomain.Role `json:"role"`
	Envelope    EnvelopeDTO         `json:"envelope"`
	DocumentURL string              `json:"document_url"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

func toEnvelopeDTO(view *envelopedomain.View) EnvelopeDTO {
	env := view.Envelope
	signers := make([]SignerDTO, 0, len(view.Signers))
	for _, s := range view.Signers {
		signers = append(signers, SignerDTO{
			ID:          s.ID,
			Email:       s.Email,
			DisplayName: s.DisplayName,
			Role:        s.Role,
			Sequence:    s.Sequence,
			Status:      s.Status,
			SignedAt:    s.SignedAt,
			DeclinedAt:  s.DeclinedAt,
		})
	}
	return EnvelopeDTO{
		ID:              env.ID,
		TenantID:        env.TenantID,
		Title:           env.Title,
		Status:          env.Status,
		Phase:           view.Phase,
		SigningMode:     env.SigningMode,
		DigestAlgorithm: env.DigestAlgorithm,
		DigestValue:     env.DigestValue,
		Version:         env.Version,
		Progress:        view.Progress,
		ExpiresAt:       env.ExpiresAt,
		SentAt:          env.SentAt,
		CompletedAt:     env.CompletedAt,
		StatusReason:    env.StatusReason,
		Signers:         signers,
	}
}

func toInvitationDTOs(issued []invitationdomain.Issued) []InvitationDTO {
	out := make([]InvitationDTO, 0, len(issued))
	for _, i := range issued {
		out = append(out, InvitationDTO{SignerID: i.SignerID, Token: i.Token, ExpiresAt: i.ExpiresAt})
	}
	return out
}
