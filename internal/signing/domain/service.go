package domain

import (
	"context"

	"github.com/smallbiznis/signflow/internal/ids"
	"github.com/smallbiznis/signflow/pkg/apperror"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when a signature for the same signer already
	// exists.
	Insert(ctx context.Context, db *gorm.DB, signature *Signature) (bool, error)
	FindBySigner(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID, signerID ids.SignerID) (*Signature, error)
	ListByEnvelope(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID) ([]Signature, error)
}

type Service interface {
	CompleteSigning(ctx context.Context, req CompleteRequest) (*Result, error)
	ListSignatures(ctx context.Context, tenantID ids.TenantID, envelopeID ids.EnvelopeID) ([]Signature, error)
}

var (
	ErrInvalidRequest   = apperror.Validation("invalid_signing_request", "signing request is incomplete")
	ErrInvalidAlgorithm = apperror.Validation("invalid_signature_algorithm", "signature algorithm is required")
	ErrNotSent          = apperror.Conflict("envelope_not_sent", "envelope is not awaiting signatures")
	ErrOutOfOrder       = apperror.Conflict("signing_out_of_order", "an earlier signer has not signed yet")
	ErrDigestMismatch   = apperror.IntegrityViolation("digest_mismatch", "document digest does not match the envelope")
	ErrAlgorithmBlocked = apperror.InvalidAlgorithm("signature_algorithm_not_allowed", "signature algorithm is not allowed")
)
