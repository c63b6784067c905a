package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/signflow/internal/ids"
	"github.com/smallbiznis/signflow/pkg/apperror"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, consent *Consent) error
	Latest(ctx context.Context, db *gorm.DB, signerID ids.SignerID) (*Consent, error)
	// FindParty returns nil when the envelope does not exist in the tenant.
	FindParty(ctx context.Context, db *gorm.DB, tenantID ids.TenantID, envelopeID ids.EnvelopeID, signerID ids.SignerID) (*Party, error)
	// AttachToSigner links consentID to a signer still awaiting signature on
	// a sent envelope of the tenant.
	AttachToSigner(ctx context.Context, db *gorm.DB, tenantID ids.TenantID, envelopeID ids.EnvelopeID, signerID ids.SignerID, consentID snowflake.ID, at time.Time) (bool, error)
}

type Service interface {
	Record(ctx context.Context, req RecordRequest) (*Consent, error)
	RecordTx(ctx context.Context, tx *gorm.DB, req RecordRequest) (*Consent, error)
	Latest(ctx context.Context, db *gorm.DB, signerID ids.SignerID) (*Consent, error)
}

// EnsureGiven checks that consent was given after the envelope was sent and
// not later than now.
func EnsureGiven(consent *Consent, sentAt time.Time, now time.Time) error {
	if consent == nil {
		return ErrConsentMissing
	}
	if !consent.Given || consent.GivenAt == nil {
		return ErrConsentNotGiven
	}
	givenAt := *consent.GivenAt
	if givenAt.After(now) || !givenAt.After(sentAt) {
		return ErrConsentStale.
			With("given_at", givenAt.UTC().Format(time.RFC3339Nano)).
			With("sent_at", sentAt.UTC().Format(time.RFC3339Nano))
	}
	return nil
}

var (
	ErrInvalidRequest  = apperror.Validation("invalid_consent_request", "consent request is incomplete")
	ErrEmptyText       = apperror.Validation("consent_text_required", "consent text cannot be empty")
	ErrFutureTimestamp = apperror.Validation("consent_in_future", "consent timestamp lies in the future")
	ErrSignerNotOpen   = apperror.Conflict("signer_not_pending", "signer is no longer awaiting signature")
	ErrEnvelopeMissing = apperror.NotFound("envelope_not_found", "envelope not found")
	ErrSignerMissing   = apperror.NotFound("signer_not_found", "signer not found")
	ErrEnvelopeNotSent = apperror.Conflict("envelope_not_sent", "envelope is not awaiting signatures")
	ErrViewerConsent   = apperror.Conflict("viewer_not_signer", "viewers do not record signing consent")
	ErrConsentMissing  = apperror.ConsentRequired("consent_missing", "signer has not recorded consent")
	ErrConsentNotGiven = apperror.ConsentRequired("consent_not_given", "signer withheld consent")
	ErrConsentStale    = apperror.ConsentRequired("consent_out_of_window", "consent was not given for the current sending")
)
