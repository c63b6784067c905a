package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/config"
	consentdomain "github.com/smallbiznis/signflow/internal/consent/domain"
	"github.com/smallbiznis/signflow/internal/digest"
	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	"github.com/smallbiznis/signflow/internal/ids"
	"github.com/smallbiznis/signflow/internal/objectstore"
	"github.com/smallbiznis/signflow/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/signflow/internal/outbox/domain"
	"github.com/smallbiznis/signflow/internal/signing/authority"
	signingdomain "github.com/smallbiznis/signflow/internal/signing/domain"
	signdb "github.com/smallbiznis/signflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const signatureContentType = "application/octet-stream"

type Params struct {
	fx.In

	DB           *gorm.DB
	Tx           *signdb.TxManager
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       config.Config
	Policy       *config.PolicyHolder
	Audit        auditdomain.Service
	Outbox       outboxdomain.Service
	Consents     consentdomain.Service
	Envelopes    envelopedomain.Service
	EnvelopeRepo envelopedomain.Repository
	Repo         signingdomain.Repository
	Authority    authority.Authority
	Store        objectstore.Store
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	tx           *signdb.TxManager
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	bucket       string
	policy       *config.PolicyHolder
	audit        auditdomain.Service
	outbox       outboxdomain.Service
	consents     consentdomain.Service
	envelopes    envelopedomain.Service
	envelopeRepo envelopedomain.Repository
	repo         signingdomain.Repository
	authority    authority.Authority
	store        objectstore.Store
	metrics      *metrics.Metrics
}

func NewService(p Params) signingdomain.Service {
	return &Service{
		db:           p.DB,
		tx:           p.Tx,
		log:          p.Log.Named("signing.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		bucket:       p.Config.ObjectStore.Bucket,
		policy:       p.Policy,
		audit:        p.Audit,
		outbox:       p.Outbox,
		consents:     p.Consents,
		envelopes:    p.Envelopes,
		envelopeRepo: p.EnvelopeRepo,
		repo:         p.Repo,
		authority:    p.Authority,
		store:        p.Store,
		metrics:      p.Metrics,
	}
}

// CompleteSigning records one signer's signature over the envelope digest and
// completes the envelope when the last signer-role party signs. Replays for a
// signer that already signed return the stored signature.
func (s *Service) CompleteSigning(ctx context.Context, req signingdomain.CompleteRequest) (*signingdomain.Result, error) {
	presented, algorithm, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	envelope, signer, err := s.load(ctx, s.db, req.TenantID, req.EnvelopeID, req.SignerID)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.FindBySigner(ctx, s.db, envelope.ID, signer.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replay(ctx, req.TenantID, *existing)
	}

	if envelope.Status != envelopedomain.StatusSent || envelope.SentAt == nil {
		return nil, signingdomain.ErrNotSent.With("current_status", string(envelope.Status))
	}
	if signer.Role != envelopedomain.RoleSigner {
		return nil, envelopedomain.ErrViewerAction.With("signer_id", signer.ID.String())
	}
	if !signer.Status.Open() {
		return nil, envelopedomain.ErrSignerNotOpen.With("signer_status", string(signer.Status))
	}
	if envelope.SigningMode == envelopedomain.SigningModeSequential {
		roster, err := s.envelopeRepo.ListSigners(ctx, s.db, envelope.ID)
		if err != nil {
			return nil, err
		}
		if err := checkOrder(roster, *signer); err != nil {
			return nil, err
		}
	}

	expected := digest.Digest{Algorithm: digest.Algorithm(envelope.DigestAlgorithm), Value: envelope.DigestValue}
	if !digest.Equal(expected, presented) {
		s.recordIntegrityViolation(ctx, req, *envelope, presented)
		return nil, signingdomain.ErrDigestMismatch.With("signer_id", signer.ID.String())
	}

	consent, err := s.consents.Latest(ctx, s.db, signer.ID)
	if err != nil {
		return nil, err
	}
	if err := consentdomain.EnsureGiven(consent, *envelope.SentAt, s.clock.Now()); err != nil {
		return nil, err
	}

	digestBytes, err := presented.Bytes()
	if err != nil {
		return nil, err
	}
	signed, err := s.authority.Sign(ctx, digestBytes, algorithm, strings.TrimSpace(req.KeyID))
	if err != nil {
		s.log.Warn("signing authority call failed",
			zap.String("envelope_id", envelope.ID.String()),
			zap.String("signer_id", signer.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	publicKey, err := s.authority.PublicKey(ctx, signed.KeyID)
	if err != nil {
		return nil, err
	}
	if err := authority.Verify(signed.Algorithm, publicKey, digestBytes, signed.Signature); err != nil {
		return nil, err
	}

	signatureID := ids.NewSignatureID(s.genID)
	objectKey := objectstore.Key("signatures", req.TenantID.String(), envelope.ID.String(), signer.ID.String(), signatureID.String()+".sig")
	if _, err := s.store.PutObject(ctx, s.bucket, objectKey, signed.Signature, signatureContentType); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	signature := signingdomain.Signature{
		ID:                 signatureID,
		TenantID:           req.TenantID,
		EnvelopeID:         envelope.ID,
		SignerID:           signer.ID,
		DigestAlgorithm:    string(presented.Algorithm),
		DigestValue:        presented.Value,
		SignatureAlgorithm: signed.Algorithm,
		KeyID:              signed.KeyID,
		SignatureKey:       objectKey,
		SignedAt:           now,
		CreatedAt:          now,
	}

	var (
		winner    *signingdomain.Signature
		completed bool
	)
	err = s.tx.Do(ctx, func(ctx context.Context, uow *signdb.UnitOfWork) error {
		tx := uow.DB()

		touched, err := s.envelopeRepo.Touch(ctx, tx, envelope.ID, now)
		if err != nil {
			return err
		}
		if !touched {
			current, err := s.envelopeRepo.FindEnvelope(ctx, tx, req.TenantID, envelope.ID)
			if err != nil {
				return err
			}
			status := envelopedomain.Status("")
			if current != nil {
				status = current.Status
			}
			return signingdomain.ErrNotSent.With("current_status", string(status))
		}

		inserted, err := s.repo.Insert(ctx, tx, &signature)
		if err != nil {
			return err
		}
		if !inserted {
			winner, err = s.repo.FindBySigner(ctx, tx, envelope.ID, signer.ID)
			if err != nil {
				return err
			}
			if winner == nil {
				return envelopedomain.ErrSignerNotOpen.With("signer_id", signer.ID.String())
			}
			return nil
		}

		ok, err := s.envelopeRepo.MarkSignerSigned(ctx, tx, signer.ID, signature.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return envelopedomain.ErrSignerNotOpen.With("signer_id", signer.ID.String())
		}

		roster, err := s.envelopeRepo.ListSigners(ctx, tx, envelope.ID)
		if err != nil {
			return err
		}
		if envelope.SigningMode == envelopedomain.SigningModeSequential {
			if err := checkOrder(roster, *signer); err != nil {
				return err
			}
		}

		if err := s.recordSigned(ctx, tx, req, signature); err != nil {
			return err
		}

		if envelopedomain.ComputeProgress(roster).Complete() {
			completed, err = s.envelopes.CompleteTx(ctx, tx, req.TenantID, envelope.ID)
			if err != nil {
				return err
			}
		}

		uow.AfterCommit(func(ctx context.Context) {
			s.metrics.RecordSignature(ctx, signature.SignatureAlgorithm)
			if completed {
				s.metrics.RecordEnvelopeTransition(ctx, string(envelopedomain.StatusCompleted))
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if winner != nil {
		return s.replay(ctx, req.TenantID, *winner)
	}

	s.log.Info("signer signed",
		zap.String("envelope_id", envelope.ID.String()),
		zap.String("signer_id", signer.ID.String()),
		zap.String("signature_id", signature.ID.String()),
		zap.Bool("envelope_completed", completed),
	)

	result, err := s.result(ctx, req.TenantID, signature)
	if err != nil {
		return nil, err
	}
	result.Completed = completed
	return result, nil
}

func (s *Service) ListSignatures(ctx context.Context, tenantID ids.TenantID, envelopeID ids.EnvelopeID) ([]signingdomain.Signature, error) {
	if !tenantID.Valid() || !envelopeID.Valid() {
		return nil, signingdomain.ErrInvalidRequest
	}
	envelope, err := s.envelopeRepo.FindEnvelope(ctx, s.db, tenantID, envelopeID)
	if err != nil {
		return nil, err
	}
	if envelope == nil {
		return nil, envelopedomain.ErrEnvelopeNotFound.With("envelope_id", envelopeID.String())
	}
	return s.repo.ListByEnvelope(ctx, s.db, envelope.ID)
}

func (s *Service) validate(req signingdomain.CompleteRequest) (digest.Digest, string, error) {
	if !req.TenantID.Valid() || !req.EnvelopeID.Valid() || !req.SignerID.Valid() {
		return digest.Digest{}, "", signingdomain.ErrInvalidRequest
	}
	presented, err := digest.Normalize(digest.Digest{
		Algorithm: digest.Algorithm(req.DigestAlgorithm),
		Value:     req.DigestValue,
	})
	if err != nil {
		return digest.Digest{}, "", err
	}
	if strings.TrimSpace(req.Algorithm) == "" {
		return digest.Digest{}, "", signingdomain.ErrInvalidAlgorithm
	}
	algorithm := authority.CanonicalAlgorithm(req.Algorithm)
	if algorithm == "" {
		return digest.Digest{}, "", authority.ErrUnsupportedAlgorithm.With("algorithm", req.Algorithm)
	}
	if !s.policy.Get().AllowsSigningAlgorithm(algorithm) {
		return digest.Digest{}, "", signingdomain.ErrAlgorithmBlocked.With("algorithm", algorithm)
	}
	return presented, algorithm, nil
}

func (s *Service) load(ctx context.Context, db *gorm.DB, tenantID ids.TenantID, envelopeID ids.EnvelopeID, signerID ids.SignerID) (*envelopedomain.Envelope, *envelopedomain.Signer, error) {
	envelope, err := s.envelopeRepo.FindEnvelope(ctx, db, tenantID, envelopeID)
	if err != nil {
		return nil, nil, err
	}
	if envelope == nil {
		return nil, nil, envelopedomain.ErrEnvelopeNotFound.With("envelope_id", envelopeID.String())
	}
	signer, err := s.envelopeRepo.FindSigner(ctx, db, envelope.ID, signerID)
	if err != nil {
		return nil, nil, err
	}
	if signer == nil {
		return nil, nil, envelopedomain.ErrSignerNotFound.With("signer_id", signerID.String())
	}
	return envelope, signer, nil
}

func (s *Service) replay(ctx context.Context, tenantID ids.TenantID, signature signingdomain.Signature) (*signingdomain.Result, error) {
	result, err := s.result(ctx, tenantID, signature)
	if err != nil {
		return nil, err
	}
	result.AlreadySigned = true
	return result, nil
}

func (s *Service) result(ctx context.Context, tenantID ids.TenantID, signature signingdomain.Signature) (*signingdomain.Result, error) {
	view, err := s.envelopes.Get(ctx, tenantID, signature.EnvelopeID)
	if err != nil {
		return nil, err
	}
	return &signingdomain.Result{
		EnvelopeID: view.Envelope.ID,
		Status:     view.Envelope.Status,
		Phase:      view.Phase,
		Progress:   view.Progress,
		Signature:  signingdomain.MetaOf(signature),
	}, nil
}

func (s *Service) recordSigned(ctx context.Context, tx *gorm.DB, req signingdomain.CompleteRequest, signature signingdomain.Signature) error {
	payload := map[string]any{
		"signer_id":           signature.SignerID.String(),
		"signature_id":        signature.ID.String(),
		"digest_algorithm":    signature.DigestAlgorithm,
		"digest_value":        signature.DigestValue,
		"signature_algorithm": signature.SignatureAlgorithm,
		"key_id":              signature.KeyID,
		"signed_at":           signature.SignedAt,
	}
	if method := strings.TrimSpace(req.Presence.Method); method != "" {
		payload["presence_method"] = method
	}

	if _, err := s.audit.Record(ctx, tx, auditdomain.Entry{
		TenantID:   signature.TenantID,
		EnvelopeID: signature.EnvelopeID,
		Type:       auditdomain.EventSignerSigned,
		ActorType:  auditdomain.ActorTypeSigner,
		ActorID:    signature.SignerID.String(),
		IPAddress:  req.Presence.IPAddress,
		UserAgent:  req.Presence.UserAgent,
		Payload:    payload,
	}); err != nil {
		return err
	}
	_, err := s.outbox.PublishTx(ctx, tx, outboxdomain.Event{
		TenantID:    signature.TenantID,
		AggregateID: signature.EnvelopeID.String(),
		Type:        outboxdomain.TypeSignerSigned,
		Payload:     payload,
		DedupeKey:   outboxdomain.TypeSignerSigned + ":" + signature.SignerID.String(),
	})
	return err
}

// recordIntegrityViolation persists the mismatch even though the signing
// attempt fails.
func (s *Service) recordIntegrityViolation(ctx context.Context, req signingdomain.CompleteRequest, envelope envelopedomain.Envelope, presented digest.Digest) {
	s.metrics.RecordIntegrityViolation(ctx, "digest_mismatch")
	_, err := s.audit.RecordDetached(ctx, auditdomain.Entry{
		TenantID:   envelope.TenantID,
		EnvelopeID: envelope.ID,
		Type:       auditdomain.EventIntegrityViolation,
		ActorType:  auditdomain.ActorTypeSigner,
		ActorID:    req.SignerID.String(),
		IPAddress:  req.Presence.IPAddress,
		UserAgent:  req.Presence.UserAgent,
		Payload: map[string]any{
			"reason":              "digest_mismatch",
			"signer_id":           req.SignerID.String(),
			"expected_algorithm":  envelope.DigestAlgorithm,
			"expected_digest":     envelope.DigestValue,
			"presented_algorithm": string(presented.Algorithm),
			"presented_digest":    presented.Value,
		},
	})
	if err != nil {
		s.log.Error("failed to audit integrity violation",
			zap.String("envelope_id", envelope.ID.String()),
			zap.Error(err),
		)
	}
}

// checkOrder fails when a signer-role party with a lower sequence has not
// signed yet.
func checkOrder(roster []envelopedomain.Signer, signer envelopedomain.Signer) error {
	for _, other := range roster {
		if other.ID == signer.ID || other.Role != envelopedomain.RoleSigner {
			continue
		}
		if other.Sequence < signer.Sequence && other.Status != envelopedomain.SignerSigned {
			return signingdomain.ErrOutOfOrder.
				With("blocking_signer_id", other.ID.String()).
				With("blocking_sequence", other.Sequence)
		}
	}
	return nil
}
