package orchestrator

import (
	"context"
	"io"

	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	"github.com/smallbiznis/signflow/internal/objectstore"
	outboxdomain "github.com/smallbiznis/signflow/internal/outbox/domain"
	"github.com/smallbiznis/signflow/internal/providers/pdf"
	signingdomain "github.com/smallbiznis/signflow/internal/signing/domain"
	signdb "github.com/smallbiznis/signflow/pkg/db"
	"github.com/smallbiznis/signflow/pkg/db/pagination"
	"go.uber.org/zap"
)

const certificateContentType = "application/pdf"

// DownloadDocument returns short-lived URLs for the document and, once the
// envelope is completed, its completion certificate.
func (o *Orchestrator) DownloadDocument(ctx context.Context, req DownloadDocumentRequest) (*DownloadResult, error) {
	c := call{kind: OpDownloadDocument, actor: req.Actor, tenantID: req.TenantID, envelopeID: req.EnvelopeID}
	return invoke(ctx, o, c, func(ctx context.Context) (*DownloadResult, error) {
		view, err := o.view(ctx, c)
		if err != nil {
			return nil, err
		}
		envelope := view.Envelope
		ttl := o.policy.Get().DownloadURLTTL

		documentURL, err := o.store.GetObjectURL(ctx, o.bucket, envelope.DocumentKey, ttl, envelope.ContentType)
		if err != nil {
			return nil, err
		}
		result := &DownloadResult{DocumentURL: documentURL, ExpiresAt: o.clock.Now().Add(ttl)}

		if envelope.Status == envelopedomain.StatusCompleted {
			key, err := o.ensureCertificate(ctx, view)
			if err != nil {
				return nil, err
			}
			result.CertificateURL, err = o.store.GetObjectURL(ctx, o.bucket, key, ttl, certificateContentType)
			if err != nil {
				return nil, err
			}
		}

		if _, err := o.audit.RecordDetached(ctx, auditdomain.Entry{
			TenantID:   envelope.TenantID,
			EnvelopeID: envelope.ID,
			Type:       auditdomain.EventDocumentDownloaded,
			IPAddress:  req.Client.IPAddress,
			UserAgent:  req.Client.UserAgent,
			Payload: map[string]any{
				"status":      string(envelope.Status),
				"certificate": result.CertificateURL != "",
			},
		}); err != nil {
			return nil, err
		}
		return result, nil
	})
}

func (o *Orchestrator) GetAuditTrail(ctx context.Context, req GetAuditTrailRequest) (*AuditTrailResult, error) {
	c := call{kind: OpGetAuditTrail, actor: req.Actor, tenantID: req.TenantID, envelopeID: req.EnvelopeID}
	return invoke(ctx, o, c, func(ctx context.Context) (*AuditTrailResult, error) {
		if _, err := o.view(ctx, c); err != nil {
			return nil, err
		}
		page, err := o.audit.List(ctx, auditdomain.ListRequest{
			Pagination: req.Pagination,
			TenantID:   req.TenantID,
			EnvelopeID: req.EnvelopeID,
		})
		if err != nil {
			return nil, err
		}
		return &AuditTrailResult{PageInfo: page.PageInfo, Events: page.Events}, nil
	})
}

// ShareDocumentView issues a time-limited view URL and records the share.
func (o *Orchestrator) ShareDocumentView(ctx context.Context, req ShareDocumentViewRequest) (*ShareResult, error) {
	c := call{kind: OpShareDocumentView, actor: req.Actor, tenantID: req.TenantID, envelopeID: req.EnvelopeID}
	return invoke(ctx, o, c, func(ctx context.Context) (*ShareResult, error) {
		maxTTL := o.policy.Get().ShareViewMaxTTL
		ttl := req.TTL
		if ttl == 0 {
			ttl = maxTTL
		}
		if ttl < 0 || ttl > maxTTL {
			return nil, ErrShareTTL.With("max_ttl", maxTTL.String())
		}

		view, err := o.view(ctx, c)
		if err != nil {
			return nil, err
		}
		envelope := view.Envelope

		url, err := o.store.GetObjectURL(ctx, o.bucket, envelope.DocumentKey, ttl, envelope.ContentType)
		if err != nil {
			return nil, err
		}
		expiresAt := o.clock.Now().Add(ttl)
		shareID := o.genID.Generate().String()
		payload := map[string]any{
			"share_id":   shareID,
			"expires_at": expiresAt,
			"ttl":        ttl.String(),
		}
		if req.Recipient != "" {
			payload["recipient"] = req.Recipient
		}

		err = o.tx.Do(ctx, func(ctx context.Context, uow *signdb.UnitOfWork) error {
			tx := uow.DB()
			if _, err := o.audit.Record(ctx, tx, auditdomain.Entry{
				TenantID:   envelope.TenantID,
				EnvelopeID: envelope.ID,
				Type:       auditdomain.EventDocumentShared,
				IPAddress:  req.Client.IPAddress,
				UserAgent:  req.Client.UserAgent,
				Payload:    payload,
			}); err != nil {
				return err
			}
			_, err := o.outbox.PublishTx(ctx, tx, outboxdomain.Event{
				TenantID:    envelope.TenantID,
				AggregateID: envelope.ID.String(),
				Type:        outboxdomain.TypeDocumentShared,
				Payload:     payload,
				DedupeKey:   outboxdomain.TypeDocumentShared + ":" + shareID,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		return &ShareResult{URL: url, ExpiresAt: expiresAt}, nil
	})
}

// ensureCertificate renders, stores and attaches the completion certificate
// on first use. Concurrent renders write the same key.
func (o *Orchestrator) ensureCertificate(ctx context.Context, view *envelopedomain.View) (string, error) {
	envelope := view.Envelope
	if envelope.CertificateKey != nil {
		return *envelope.CertificateKey, nil
	}

	signatures, err := o.signing.ListSignatures(ctx, envelope.TenantID, envelope.ID)
	if err != nil {
		return "", err
	}
	events, err := o.allEvents(ctx, envelope)
	if err != nil {
		return "", err
	}

	reader, err := o.certificates.GenerateCertificate(ctx, certificateData(view, signatures, events))
	if err != nil {
		return "", err
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}

	key := objectstore.Key("certificates", envelope.TenantID.String(), envelope.ID.String(), "certificate.pdf")
	if _, err := o.store.PutObject(ctx, o.bucket, key, content, certificateContentType); err != nil {
		return "", err
	}
	attached, err := o.envelopes.AttachCertificate(ctx, envelope.TenantID, envelope.ID, key)
	if err != nil {
		return "", err
	}
	if !attached {
		return key, nil
	}

	if _, err := o.audit.RecordDetached(ctx, auditdomain.Entry{
		TenantID:   envelope.TenantID,
		EnvelopeID: envelope.ID,
		Type:       auditdomain.EventCertificateIssued,
		ActorType:  auditdomain.ActorTypeSystem,
		Payload: map[string]any{
			"certificate_key": key,
			"signatures":      len(signatures),
		},
	}); err != nil {
		o.log.Warn("audit certificate issuance",
			zap.String("envelope_id", envelope.ID.String()),
			zap.Error(err),
		)
	}
	return key, nil
}

func (o *Orchestrator) allEvents(ctx context.Context, envelope envelopedomain.Envelope) ([]auditdomain.AuditEvent, error) {
	var (
		events []auditdomain.AuditEvent
		token  string
	)
	for {
		page, err := o.audit.List(ctx, auditdomain.ListRequest{
			Pagination: pagination.Pagination{PageToken: token, PageSize: pagination.MaxPageSize},
			TenantID:   envelope.TenantID,
			EnvelopeID: envelope.ID,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, page.Events...)
		if !page.HasMore {
			return events, nil
		}
		token = page.NextPageToken
	}
}

func certificateData(view *envelopedomain.View, signatures []signingdomain.Signature, events []auditdomain.AuditEvent) pdf.CertificateData {
	envelope := view.Envelope
	data := pdf.CertificateData{
		EnvelopeID:      envelope.ID.String(),
		Title:           envelope.Title,
		DigestAlgorithm: envelope.DigestAlgorithm,
		DigestValue:     envelope.DigestValue,
	}
	if envelope.SentAt != nil {
		data.SentAt = *envelope.SentAt
	}
	if envelope.CompletedAt != nil {
		data.CompletedAt = *envelope.CompletedAt
	}

	bySigner := make(map[string]signingdomain.Signature, len(signatures))
	for _, sig := range signatures {
		bySigner[sig.SignerID.String()] = sig
	}
	signedFrom := map[string]string{}
	for _, event := range events {
		if event.Type == string(auditdomain.EventSignerSigned) && event.ActorID != nil && event.IPAddress != nil {
			signedFrom[*event.ActorID] = *event.IPAddress
		}
		actor := event.ActorType
		if event.ActorID != nil {
			actor += ":" + *event.ActorID
		}
		data.Events = append(data.Events, pdf.CertificateEvent{At: event.CreatedAt, Type: event.Type, Actor: actor})
	}

	for _, signer := range view.Signers {
		if signer.Role != envelopedomain.RoleSigner {
			continue
		}
		entry := pdf.CertificateSigner{
			Name:      signer.DisplayName,
			Email:     signer.Email,
			Sequence:  signer.Sequence,
			IPAddress: signedFrom[signer.ID.String()],
		}
		if sig, ok := bySigner[signer.ID.String()]; ok {
			entry.SignedAt = sig.SignedAt
			entry.SignatureAlgorithm = sig.SignatureAlgorithm
			entry.KeyID = sig.KeyID
		} else if signer.SignedAt != nil {
			entry.SignedAt = *signer.SignedAt
		}
		data.Signers = append(data.Signers, entry)
	}
	return data
}

