package authorization

import (
	"context"

	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	"github.com/smallbiznis/signflow/internal/ids"
	"github.com/smallbiznis/signflow/pkg/apperror"
)

type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorSigner ActorKind = "signer"
	ActorViewer ActorKind = "viewer"
	ActorGuest  ActorKind = "guest"
	ActorSystem ActorKind = "system"
)

// Actor is the caller of an operation.
type Actor struct {
	Kind ActorKind
	ID   string
	// Role applies to user actors: owner, admin or member.
	Role string
}

func (a Actor) Subject() string {
	if a.Kind == ActorSystem {
		return string(ActorSystem)
	}
	return string(a.Kind) + ":" + a.ID
}

// AuditType maps the actor onto the audit ledger's actor vocabulary.
func (a Actor) AuditType() auditdomain.ActorType {
	switch a.Kind {
	case ActorUser:
		return auditdomain.ActorTypeOwner
	case ActorSigner:
		return auditdomain.ActorTypeSigner
	case ActorViewer:
		return auditdomain.ActorTypeViewer
	case ActorGuest:
		return auditdomain.ActorTypeGuest
	default:
		return auditdomain.ActorTypeSystem
	}
}

type Request struct {
	Actor    Actor
	TenantID ids.TenantID
	// EnvelopeID is optional; denials are audited against it when set.
	EnvelopeID ids.EnvelopeID
	Object     string
	Action     string
}

type Service interface {
	Authorize(ctx context.Context, req Request) error
}

var (
	ErrInvalidActor  = apperror.Validation("invalid_actor", "actor is missing or malformed")
	ErrInvalidTenant = apperror.Validation("invalid_tenant", "tenant is required")
	ErrInvalidObject = apperror.Validation("invalid_object", "object is required")
	ErrInvalidAction = apperror.Validation("invalid_action", "action is required")
	ErrForbidden     = apperror.Forbidden("forbidden", "actor may not perform this action")
)
