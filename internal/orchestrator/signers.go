package orchestrator

import (
	"context"
	"errors"

	"github.com/smallbiznis/signflow/internal/authorization"
	consentdomain "github.com/smallbiznis/signflow/internal/consent/domain"
	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	invitationdomain "github.com/smallbiznis/signflow/internal/invitation/domain"
	signingdomain "github.com/smallbiznis/signflow/internal/signing/domain"
)

const presenceInvitation = "invitation_link"

// SignDocument records the optional consent and completes the signer's
// signature. Retries after an unknown outcome return the stored signature.
func (o *Orchestrator) SignDocument(ctx context.Context, req SignDocumentRequest) (*SignDocumentResult, error) {
	c := call{kind: OpSignDocument, actor: req.Actor, tenantID: req.TenantID, envelopeID: req.EnvelopeID}
	return invoke(ctx, o, c, func(ctx context.Context) (*SignDocumentResult, error) {
		if !req.SignerID.Valid() {
			return nil, signingdomain.ErrInvalidRequest
		}
		if err := ensureActsFor(req.Actor, req.SignerID.String()); err != nil {
			return nil, err
		}
		if _, err := o.view(ctx, c); err != nil {
			return nil, err
		}

		if req.Consent != nil {
			_, err := o.consents.Record(ctx, consentdomain.RecordRequest{
				TenantID:   req.TenantID,
				EnvelopeID: req.EnvelopeID,
				SignerID:   req.SignerID,
				Given:      req.Consent.Given,
				Text:       req.Consent.Text,
				Version:    req.Consent.Version,
				Locale:     req.Consent.Locale,
				IPAddress:  req.Client.IPAddress,
				UserAgent:  req.Client.UserAgent,
			})
			// A signer that already signed gets the stored signature back.
			// Every other rejection happens before consent is written.
			if err != nil && !errors.Is(err, consentdomain.ErrSignerNotOpen) {
				return nil, err
			}
		}

		result, err := o.signing.CompleteSigning(ctx, signingdomain.CompleteRequest{
			TenantID:        req.TenantID,
			EnvelopeID:      req.EnvelopeID,
			SignerID:        req.SignerID,
			DigestAlgorithm: req.DigestAlgorithm,
			DigestValue:     req.DigestValue,
			Algorithm:       req.Algorithm,
			KeyID:           req.KeyID,
			Presence: signingdomain.ProofOfPresence{
				IPAddress: req.Client.IPAddress,
				UserAgent: req.Client.UserAgent,
				Method:    presenceInvitation,
			},
		})
		if err != nil {
			return nil, err
		}
		return &SignDocumentResult{
			EnvelopeID:    result.EnvelopeID,
			Status:        result.Status,
			Phase:         result.Phase,
			Progress:      result.Progress,
			Signature:     result.Signature,
			AlreadySigned: result.AlreadySigned,
			Completed:     result.Completed,
		}, nil
	})
}

func (o *Orchestrator) DeclineSigner(ctx context.Context, req DeclineSignerRequest) (*EnvelopeDTO, error) {
	c := call{kind: OpDeclineSigner, actor: req.Actor, tenantID: req.TenantID, envelopeID: req.EnvelopeID}
	return invoke(ctx, o, c, func(ctx context.Context) (*EnvelopeDTO, error) {
		if !req.SignerID.Valid() {
			return nil, envelopedomain.ErrInvalidRequest
		}
		if err := ensureActsFor(req.Actor, req.SignerID.String()); err != nil {
			return nil, err
		}
		view, err := o.envelopes.Decline(ctx, envelopedomain.DeclineRequest{
			TenantID:   req.TenantID,
			EnvelopeID: req.EnvelopeID,
			SignerID:   req.SignerID,
			Reason:     req.Reason,
			IPAddress:  req.Client.IPAddress,
			UserAgent:  req.Client.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		dto := toEnvelopeDTO(view)
		return &dto, nil
	})
}

// AcceptInvitation consumes an invitation token and returns the party it
// was issued to together with a short-lived document view URL.
func (o *Orchestrator) AcceptInvitation(ctx context.Context, req AcceptInvitationRequest) (*AcceptInvitationResult, error) {
	guest := authorization.Actor{Kind: authorization.ActorGuest, ID: "invitation"}
	c := call{kind: OpAcceptInvitation, actor: guest, tenantID: req.TenantID}
	return invoke(ctx, o, c, func(ctx context.Context) (*AcceptInvitationResult, error) {
		claims, err := o.invitations.ValidateAndConsume(ctx, req.Token, invitationdomain.ClientMeta{
			IPAddress: req.Client.IPAddress,
			UserAgent: req.Client.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		if claims.TenantID != req.TenantID {
			return nil, invitationdomain.ErrNotFound
		}

		view, err := o.envelopes.Get(ctx, claims.TenantID, claims.EnvelopeID)
		if err != nil {
			return nil, err
		}
		var signer *envelopedomain.Signer
		for i := range view.Signers {
			if view.Signers[i].ID == claims.SignerID {
				signer = &view.Signers[i]
				break
			}
		}
		if signer == nil {
			return nil, envelopedomain.ErrSignerNotFound
		}

		ttl := o.policy.Get().DownloadURLTTL
		url, err := o.store.GetObjectURL(ctx, o.bucket, view.Envelope.DocumentKey, ttl, view.Envelope.ContentType)
		if err != nil {
			return nil, err
		}

		kind := authorization.ActorSigner
		if signer.Role == envelopedomain.RoleViewer {
			kind = authorization.ActorViewer
		}
		return &AcceptInvitationResult{
			Actor:       authorization.Actor{Kind: kind, ID: signer.ID.String()},
			EnvelopeID:  view.Envelope.ID,
			SignerID:    signer.ID,
			Role:        signer.Role,
			Envelope:    toEnvelopeDTO(view),
			DocumentURL: url,
			ExpiresAt:   o.clock.Now().Add(ttl),
		}, nil
	})
}
