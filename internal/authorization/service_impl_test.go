package authorization

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	auditrepo "github.com/smallbiznis/signflow/internal/audit/repository"
	auditservice "github.com/smallbiznis/signflow/internal/audit/service"
	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/ids"
	"github.com/smallbiznis/signflow/internal/testutil"
	"github.com/smallbiznis/signflow/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t, &auditdomain.AuditEvent{})
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	node := testutil.Node(t)
	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  auditrepo.Provide(),
	})
	return NewService(Params{DB: db, Log: zap.NewNop(), Enforcer: enforcer, AuditSvc: audit}), db
}

func TestAuthorizeByRole(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	tenant := ids.TenantID(7)

	owner := Actor{Kind: ActorUser, ID: "u1", Role: "Owner"}
	member := Actor{Kind: ActorUser, ID: "u2", Role: "member"}
	signer := Actor{Kind: ActorSigner, ID: "55"}

	cases := []struct {
		actor   Actor
		object  string
		action  string
		allowed bool
	}{
		{owner, ObjectEnvelope, ActionEnvelopeCreate, true},
		{owner, ObjectEnvelope, ActionEnvelopeSign, false},
		{member, ObjectEnvelope, ActionEnvelopeView, true},
		{member, ObjectEnvelope, ActionEnvelopeCancel, false},
		{signer, ObjectEnvelope, ActionEnvelopeSign, true},
		{signer, ObjectDocument, ActionDocumentShare, false},
		{Actor{Kind: ActorSystem}, ObjectEnvelope, ActionEnvelopeExpire, true},
		{Actor{Kind: ActorGuest, ID: "token"}, ObjectInvitation, ActionInvitationAccept, true},
	}
	for _, tc := range cases {
		err := svc.Authorize(ctx, Request{Actor: tc.actor, TenantID: tenant, Object: tc.object, Action: tc.action})
		if tc.allowed {
			assert.NoError(t, err, "%s %s", tc.actor.Subject(), tc.action)
		} else {
			assert.ErrorIs(t, err, apperror.ErrForbidden, "%s %s", tc.actor.Subject(), tc.action)
		}
	}
}

func TestRoleChangeRebindsSubject(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	tenant := ids.TenantID(7)

	req := Request{Actor: Actor{Kind: ActorUser, ID: "u1", Role: "member"}, TenantID: tenant, Object: ObjectEnvelope, Action: ActionEnvelopeCancel}
	assert.ErrorIs(t, svc.Authorize(ctx, req), ErrForbidden)

	req.Actor.Role = "owner"
	assert.NoError(t, svc.Authorize(ctx, req))

	req.Actor.Role = "member"
	assert.ErrorIs(t, svc.Authorize(ctx, req), ErrForbidden)
}

func TestDeniedIsAuditedForEnvelope(t *testing.T) {
	svc, db := setup(t)

	err := svc.Authorize(context.Background(), Request{
		Actor:      Actor{Kind: ActorViewer, ID: "9"},
		TenantID:   7,
		EnvelopeID: 42,
		Object:     ObjectEnvelope,
		Action:     ActionEnvelopeSign,
	})
	require.ErrorIs(t, err, ErrForbidden)

	var event auditdomain.AuditEvent
	require.NoError(t, db.First(&event).Error)
	assert.Equal(t, string(auditdomain.EventAccessDenied), event.Type)
	assert.Equal(t, string(auditdomain.ActorTypeViewer), event.ActorType)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, Request{Actor: Actor{Kind: ActorSystem}, Object: ObjectEnvelope, Action: ActionEnvelopeView}), ErrInvalidTenant)
	assert.ErrorIs(t, svc.Authorize(ctx, Request{Actor: Actor{Kind: ActorUser, ID: "u1"}, TenantID: 1, Object: ObjectEnvelope, Action: ActionEnvelopeView}), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, Request{Actor: Actor{Kind: "robot", ID: "1"}, TenantID: 1, Object: ObjectEnvelope, Action: ActionEnvelopeView}), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, Request{Actor: Actor{Kind: ActorSystem}, TenantID: 1, Action: ActionEnvelopeView}), ErrInvalidObject)
}
