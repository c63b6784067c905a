package orchestrator

import (
	"context"
	"strings"

	"github.com/smallbiznis/signflow/internal/digest"
	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	"github.com/smallbiznis/signflow/internal/ids"
	"github.com/smallbiznis/signflow/internal/objectstore"
)

const (
	defaultFileName    = "document.pdf"
	defaultContentType = "application/pdf"
)

type stagedDocument struct {
	digest      digest.Digest
	key         string
	contentType string
}

func (o *Orchestrator) CreateEnvelope(ctx context.Context, req CreateEnvelopeRequest) (*EnvelopeDTO, error) {
	c := call{kind: OpCreateEnvelope, actor: req.Actor, tenantID: req.TenantID}
	return invoke(ctx, o, c, func(ctx context.Context) (*EnvelopeDTO, error) {
		if strings.TrimSpace(req.Title) == "" {
			return nil, envelopedomain.ErrInvalidTitle
		}
		envelopeID := ids.NewEnvelopeID(o.genID)
		doc, err := o.stageDocument(ctx, req.TenantID, envelopeID, "", req.Document, req.FileName, req.ContentType, req.DigestAlgorithm)
		if err != nil {
			return nil, err
		}

		view, err := o.envelopes.Create(ctx, envelopedomain.CreateRequest{
			EnvelopeID:  envelopeID,
			TenantID:    req.TenantID,
			CreatedBy:   req.Actor.ID,
			Title:       req.Title,
			Description: req.Description,
			SigningMode: req.SigningMode,
			Digest:      doc.digest,
			DocumentKey: doc.key,
			ContentType: doc.contentType,
			ExpiresAt:   req.ExpiresAt,
			Signers:     req.Signers,
		})
		if err != nil {
			return nil, err
		}
		dto := toEnvelopeDTO(view)
		return &dto, nil
	})
}

func (o *Orchestrator) UpdateEnvelope(ctx context.Context, req UpdateEnvelopeRequest) (*EnvelopeDTO, error) {
	c := call{kind: OpUpdateEnvelope, actor: req.Actor, tenantID: req.TenantID, envelopeID: req.EnvelopeID}
	return invoke(ctx, o, c, func(ctx context.Context) (*EnvelopeDTO, error) {
		update := envelopedomain.UpdateRequest{
			TenantID:        req.TenantID,
			EnvelopeID:      req.EnvelopeID,
			ExpectedVersion: req.ExpectedVersion,
			Title:           req.Title,
			Description:     req.Description,
			SigningMode:     req.SigningMode,
			ExpiresAt:       req.ExpiresAt,
			ClearExpiry:     req.ClearExpiry,
			Signers:         req.Signers,
		}

		if len(req.Document) > 0 {
			current, err := o.envelopes.Get(ctx, req.TenantID, req.EnvelopeID)
			if err != nil {
				return nil, err
			}
			if current.Envelope.Status != envelopedomain.StatusDraft {
				return nil, envelopedomain.ErrNotDraft.With("current_status", string(current.Envelope.Status))
			}
			// Each revision gets its own key so a losing concurrent update
			// never overwrites the document a draft points at.
			revision := o.genID.Generate().String()
			doc, err := o.stageDocument(ctx, req.TenantID, req.EnvelopeID, revision, req.Document, req.FileName, req.ContentType, req.DigestAlgorithm)
			if err != nil {
				return nil, err
			}
			update.Digest = &doc.digest
			update.DocumentKey = &doc.key
			update.ContentType = &doc.contentType
		}

		view, err := o.envelopes.Update(ctx, update)
		if err != nil {
			return nil, err
		}
		dto := toEnvelopeDTO(view)
		return &dto, nil
	})
}

func (o *Orchestrator) SendEnvelope(ctx context.Context, req SendEnvelopeRequest) (*SendEnvelopeResult, error) {
	c := call{kind: OpSendEnvelope, actor: req.Actor, tenantID: req.TenantID, envelopeID: req.EnvelopeID}
	return invoke(ctx, o, c, func(ctx context.Context) (*SendEnvelopeResult, error) {
		result, err := o.envelopes.Send(ctx, envelopedomain.SendRequest{
			TenantID:   req.TenantID,
			EnvelopeID: req.EnvelopeID,
			ExpiresAt:  req.ExpiresAt,
			TokenTTL:   req.TokenTTL,
			IPAddress:  req.Client.IPAddress,
			UserAgent:  req.Client.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		return &SendEnvelopeResult{
			Envelope:    toEnvelopeDTO(result.View),
			Invitations: toInvitationDTOs(result.Invitations),
		}, nil
	})
}

func (o *Orchestrator) CancelEnvelope(ctx context.Context, req CancelEnvelopeRequest) (*EnvelopeDTO, error) {
	c := call{kind: OpCancelEnvelope, actor: req.Actor, tenantID: req.TenantID, envelopeID: req.EnvelopeID}
	return invoke(ctx, o, c, func(ctx context.Context) (*EnvelopeDTO, error) {
		view, err := o.envelopes.Cancel(ctx, envelopedomain.CancelRequest{
			TenantID:   req.TenantID,
			EnvelopeID: req.EnvelopeID,
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

func (o *Orchestrator) GetEnvelope(ctx context.Context, req GetEnvelopeRequest) (*EnvelopeDTO, error) {
	c := call{kind: OpGetEnvelope, actor: req.Actor, tenantID: req.TenantID, envelopeID: req.EnvelopeID}
	return invoke(ctx, o, c, func(ctx context.Context) (*EnvelopeDTO, error) {
		view, err := o.view(ctx, c)
		if err != nil {
			return nil, err
		}
		dto := toEnvelopeDTO(view)
		return &dto, nil
	})
}

// stageDocument hashes data and stores it under the envelope's document
// prefix.
func (o *Orchestrator) stageDocument(ctx context.Context, tenantID ids.TenantID, envelopeID ids.EnvelopeID, revision string, data []byte, fileName, contentType, algorithm string) (*stagedDocument, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	if strings.TrimSpace(algorithm) == "" {
		algorithm = o.policy.Get().DefaultDigestAlgorithm
	}
	alg, err := digest.ParseAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	docDigest, err := digest.Compute(alg, data)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(fileName) == "" {
		fileName = defaultFileName
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	key := objectstore.Key("documents", tenantID.String(), envelopeID.String(), revision, fileName)
	if _, err := o.store.PutObject(ctx, o.bucket, key, data, contentType); err != nil {
		return nil, err
	}
	return &stagedDocument{digest: docDigest, key: key, contentType: contentType}, nil
}
