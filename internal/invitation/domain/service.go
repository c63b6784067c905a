package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/smallbiznis/signflow/internal/ids"
	"github.com/smallbiznis/signflow/pkg/apperror"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, token *InvitationToken) error
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*InvitationToken, error)
	// Consume flips consumed from false to true. It reports false when
	// another caller won.
	Consume(ctx context.Context, db *gorm.DB, id ids.InvitationTokenID, at time.Time) (bool, error)
	RevokeBySigner(ctx context.Context, db *gorm.DB, signerID ids.SignerID, at time.Time) (int64, error)
	RevokeByEnvelope(ctx context.Context, db *gorm.DB, envelopeID ids.EnvelopeID, at time.Time) (int64, error)
}

type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*Issued, error)
	// IssueTx mints a token inside the caller's transaction.
	IssueTx(ctx context.Context, tx *gorm.DB, req IssueRequest) (*Issued, error)
	ValidateAndConsume(ctx context.Context, token string, meta ClientMeta) (*Claims, error)
	Revoke(ctx context.Context, signerID ids.SignerID) error
	RevokeEnvelopeTx(ctx context.Context, tx *gorm.DB, envelopeID ids.EnvelopeID) error
}

// HashToken hashes the opaque token value for lookup.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

var (
	ErrInvalidRequest = apperror.Validation("invalid_invitation_request", "invitation request is incomplete")
	ErrInvalidToken   = apperror.Validation("invalid_invitation_token", "invitation token is empty")
	ErrNotFound       = apperror.NotFound("invitation_not_found", "invitation token not found")
	ErrExpired        = apperror.Expired("invitation_expired", "invitation token has expired")
	ErrAlreadyUsed    = apperror.AlreadyUsed("invitation_already_used", "invitation token was already used")
	ErrRevoked        = apperror.AlreadyUsed("invitation_revoked", "invitation token was revoked")
)
