package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectEnvelope    = "envelope"
	ObjectDocument    = "document"
	ObjectAuditTrail  = "audit_trail"
	ObjectInvitation  = "invitation"
	ObjectCertificate = "certificate"
)

const (
	ActionEnvelopeCreate  = "envelope.create"
	ActionEnvelopeUpdate  = "envelope.update"
	ActionEnvelopeSend    = "envelope.send"
	ActionEnvelopeView    = "envelope.view"
	ActionEnvelopeSign    = "envelope.sign"
	ActionEnvelopeDecline = "envelope.decline"
	ActionEnvelopeCancel  = "envelope.cancel"
	ActionEnvelopeExpire  = "envelope.expire"

	ActionDocumentDownload = "document.download"
	ActionDocumentShare    = "document.share"

	ActionAuditTrailView = "audit_trail.view"

	ActionInvitationAccept = "invitation.accept"

	ActionCertificateIssue = "certificate.issue"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, req Request) error {
	if !req.TenantID.Valid() {
		return ErrInvalidTenant
	}
	object := strings.TrimSpace(req.Object)
	if object == "" {
		return ErrInvalidObject
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, err := roleFor(req.Actor)
	if err != nil {
		s.auditDenied(ctx, req)
		return err
	}

	subject := req.Actor.Subject()
	domain := fmt.Sprintf("tenant:%s", req.TenantID.String())
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, req)
		return ErrForbidden.With("action", action)
	}
	return nil
}

func roleFor(actor Actor) (string, error) {
	id := strings.TrimSpace(actor.ID)
	switch actor.Kind {
	case ActorSystem:
		return "role:system", nil
	case ActorUser:
		role := strings.ToLower(strings.TrimSpace(actor.Role))
		if id == "" || role == "" {
			return "", ErrInvalidActor
		}
		return "role:" + role, nil
	case ActorSigner, ActorViewer, ActorGuest:
		if id == "" {
			return "", ErrInvalidActor
		}
		return "role:" + string(actor.Kind), nil
	default:
		return "", ErrInvalidActor
	}
}

// ensureGrouping binds subject to exactly one role within domain.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, req Request) {
	s.log.Info("authorization denied",
		zap.String("subject", req.Actor.Subject()),
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("object", req.Object),
		zap.String("action", req.Action),
	)
	if s.auditSvc == nil || !req.EnvelopeID.Valid() {
		return
	}
	_, _ = s.auditSvc.RecordDetached(ctx, auditdomain.Entry{
		TenantID:   req.TenantID,
		EnvelopeID: req.EnvelopeID,
		Type:       auditdomain.EventAccessDenied,
		ActorType:  req.Actor.AuditType(),
		ActorID:    req.Actor.ID,
		Payload: map[string]any{
			"object":  req.Object,
			"action":  req.Action,
			"subject": req.Actor.Subject(),
		},
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	ownerActions := [][2]string{
		{ObjectEnvelope, ActionEnvelopeCreate},
		{ObjectEnvelope, ActionEnvelopeUpdate},
		{ObjectEnvelope, ActionEnvelopeSend},
		{ObjectEnvelope, ActionEnvelopeView},
		{ObjectEnvelope, ActionEnvelopeCancel},
		{ObjectDocument, ActionDocumentDownload},
		{ObjectDocument, ActionDocumentShare},
		{ObjectAuditTrail, ActionAuditTrailView},
	}

	policies := [][]string{
		// Member permissions (read-only)
		{"role:member", ObjectEnvelope, ActionEnvelopeView},
		{"role:member", ObjectDocument, ActionDocumentDownload},
		{"role:member", ObjectAuditTrail, ActionAuditTrailView},

		// Signer permissions
		{"role:signer", ObjectEnvelope, ActionEnvelopeView},
		{"role:signer", ObjectEnvelope, ActionEnvelopeSign},
		{"role:signer", ObjectEnvelope, ActionEnvelopeDecline},
		{"role:signer", ObjectDocument, ActionDocumentDownload},

		// Viewer permissions
		{"role:viewer", ObjectEnvelope, ActionEnvelopeView},
		{"role:viewer", ObjectDocument, ActionDocumentDownload},

		// Invitation holders
		{"role:guest", ObjectInvitation, ActionInvitationAccept},

		// System permissions (for sweepers and workers)
		{"role:system", ObjectEnvelope, ActionEnvelopeView},
		{"role:system", ObjectEnvelope, ActionEnvelopeExpire},
		{"role:system", ObjectCertificate, ActionCertificateIssue},
	}
	for _, role := range []string{"role:owner", "role:admin"} {
		for _, rule := range ownerActions {
			policies = append(policies, []string{role, rule[0], rule[1]})
		}
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
