// Package orchestrator exposes the public signing operations. Each
// operation is tenant scoped, passes through the configured cross-cutting
// concerns and delegates to the lifecycle and signing services.
package orchestrator

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	"github.com/smallbiznis/signflow/internal/authorization"
	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/config"
	consentdomain "github.com/smallbiznis/signflow/internal/consent/domain"
	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	invitationdomain "github.com/smallbiznis/signflow/internal/invitation/domain"
	"github.com/smallbiznis/signflow/internal/objectstore"
	obscontext "github.com/smallbiznis/signflow/internal/observability/context"
	"github.com/smallbiznis/signflow/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/signflow/internal/outbox/domain"
	"github.com/smallbiznis/signflow/internal/providers/pdf"
	"github.com/smallbiznis/signflow/internal/ratelimit"
	signingdomain "github.com/smallbiznis/signflow/internal/signing/domain"
	"github.com/smallbiznis/signflow/pkg/apperror"
	signdb "github.com/smallbiznis/signflow/pkg/db"
	"github.com/smallbiznis/signflow/pkg/telemetry/correlation"
	"github.com/smallbiznis/signflow/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrEmptyDocument  = apperror.Validation("document_required", "document content cannot be empty")
	ErrActorMismatch  = apperror.Forbidden("actor_mismatch", "actor may only act for its own signer")
	ErrNotParticipant = apperror.Forbidden("not_participant", "actor is not a party to this envelope")
	ErrShareTTL       = apperror.Validation("share_ttl_exceeded", "share lifetime exceeds the allowed maximum")
)

// Deps is the dependency set assembled once at startup.
type Deps struct {
	fx.In

	Tx           *signdb.TxManager
	Log          *zap.Logger
	Clock        clock.Clock
	GenID        *snowflake.Node
	Config       config.Config
	Policy       *config.PolicyHolder
	Envelopes    envelopedomain.Service
	Signing      signingdomain.Service
	Consents     consentdomain.Service
	Invitations  invitationdomain.Service
	Audit        auditdomain.Service
	Outbox       outboxdomain.Service
	Store        objectstore.Store
	Certificates pdf.Provider
	Access       authorization.Service        `optional:"true"`
	Limiter      *ratelimit.OperationLimiter `optional:"true"`
	Metrics      *metrics.Metrics            `optional:"true"`
}

type Orchestrator struct {
	tx           *signdb.TxManager
	log          *zap.Logger
	clock        clock.Clock
	genID        *snowflake.Node
	policy       *config.PolicyHolder
	bucket       string
	envelopes    envelopedomain.Service
	signing      signingdomain.Service
	consents     consentdomain.Service
	invitations  invitationdomain.Service
	audit        auditdomain.Service
	outbox       outboxdomain.Service
	store        objectstore.Store
	certificates pdf.Provider
	access       authorization.Service
	limiter      *ratelimit.OperationLimiter
	metrics      *metrics.Metrics
	features     Features
	run          handler
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		tx:           d.Tx,
		log:          d.Log.Named("orchestrator"),
		clock:        d.Clock,
		genID:        d.GenID,
		policy:       d.Policy,
		bucket:       d.Config.ObjectStore.Bucket,
		envelopes:    d.Envelopes,
		signing:      d.Signing,
		consents:     d.Consents,
		invitations:  d.Invitations,
		audit:        d.Audit,
		outbox:       d.Outbox,
		store:        d.Store,
		certificates: d.Certificates,
		access:       d.Access,
		limiter:      d.Limiter,
		metrics:      d.Metrics,
		features:     FeaturesFrom(d.Config.Features),
	}
	o.run = o.buildChain()
	return o
}

// invoke runs fn as operation c through the middleware chain.
func invoke[Res any](ctx context.Context, o *Orchestrator, c call, fn func(ctx context.Context) (Res, error)) (Res, error) {
	var out Res
	if !c.kind.Valid() {
		return out, apperror.Validation("unknown_operation", "operation is not supported")
	}
	if !c.tenantID.Valid() {
		return out, authorization.ErrInvalidTenant
	}

	ctx, _ = correlation.EnsureCorrelationID(ctx)
	ctx = obscontext.WithTenantID(ctx, c.tenantID.String())
	ctx = tenantctx.WithTenantID(ctx, int64(c.tenantID))
	ctx = obscontext.WithActor(ctx, string(c.actor.AuditType()), c.actor.ID)

	c.exec = func(ctx context.Context) error {
		res, err := fn(ctx)
		if err != nil {
			return err
		}
		out = res
		return nil
	}
	if err := o.run(ctx, &c); err != nil {
		var zero Res
		return zero, err
	}
	return out, nil
}

// ensureParticipant restricts signer and viewer actors to envelopes they
// belong to.
func ensureParticipant(actor authorization.Actor, view *envelopedomain.View) error {
	if actor.Kind != authorization.ActorSigner && actor.Kind != authorization.ActorViewer {
		return nil
	}
	for _, s := range view.Signers {
		if s.ID.String() == actor.ID {
			return nil
		}
	}
	return ErrNotParticipant.With("envelope_id", view.Envelope.ID.String())
}

// ensureActsFor rejects signer and viewer actors acting for another party.
func ensureActsFor(actor authorization.Actor, signerID string) error {
	if actor.Kind != authorization.ActorSigner && actor.Kind != authorization.ActorViewer {
		return nil
	}
	if actor.ID != signerID {
		return ErrActorMismatch.With("signer_id", signerID)
	}
	return nil
}

func (o *Orchestrator) view(ctx context.Context, c call) (*envelopedomain.View, error) {
	view, err := o.envelopes.Get(ctx, c.tenantID, c.envelopeID)
	if err != nil {
		return nil, err
	}
	if err := ensureParticipant(c.actor, view); err != nil {
		return nil, err
	}
	return view, nil
}
