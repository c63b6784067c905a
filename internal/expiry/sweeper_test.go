package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	auditrepo "github.com/smallbiznis/signflow/internal/audit/repository"
	auditservice "github.com/smallbiznis/signflow/internal/audit/service"
	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/config"
	"github.com/smallbiznis/signflow/internal/digest"
	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	enveloperepo "github.com/smallbiznis/signflow/internal/envelope/repository"
	envelopeservice "github.com/smallbiznis/signflow/internal/envelope/service"
	"github.com/smallbiznis/signflow/internal/ids"
	invitationdomain "github.com/smallbiznis/signflow/internal/invitation/domain"
	invitationrepo "github.com/smallbiznis/signflow/internal/invitation/repository"
	invitationservice "github.com/smallbiznis/signflow/internal/invitation/service"
	outboxdomain "github.com/smallbiznis/signflow/internal/outbox/domain"
	outboxrepo "github.com/smallbiznis/signflow/internal/outbox/repository"
	outboxservice "github.com/smallbiznis/signflow/internal/outbox/service"
	"github.com/smallbiznis/signflow/internal/ratelimit"
	"github.com/smallbiznis/signflow/internal/testutil"
	signdb "github.com/smallbiznis/signflow/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedEnvelopes struct {
	envelopedomain.Service
	due     []envelopedomain.Envelope
	results map[ids.EnvelopeID]error
	expired []ids.EnvelopeID
}

func (s *scriptedEnvelopes) ListExpirable(context.Context, int) ([]envelopedomain.Envelope, error) {
	return s.due, nil
}

func (s *scriptedEnvelopes) Expire(_ context.Context, _ ids.TenantID, id ids.EnvelopeID) (*envelopedomain.View, error) {
	if err := s.results[id]; err != nil {
		return nil, err
	}
	s.expired = append(s.expired, id)
	return &envelopedomain.View{}, nil
}

type stubLocker struct {
	held     bool
	released int
}

func (l *stubLocker) Acquire(_ context.Context, name ratelimit.LockName, ttl time.Duration) (*ratelimit.Lease, error) {
	if l.held {
		return nil, nil
	}
	return &ratelimit.Lease{Name: name, Token: "token", ExpiresAt: time.Now().Add(ttl)}, nil
}

func (l *stubLocker) Release(_ context.Context, lease *ratelimit.Lease) (bool, error) {
	if lease.Name != ratelimit.LockExpirySweeper {
		return false, nil
	}
	l.released++
	return true, nil
}

func TestRunOnceCountsOutcomes(t *testing.T) {
	envelopes := &scriptedEnvelopes{
		due: []envelopedomain.Envelope{
			{ID: 1, TenantID: 9},
			{ID: 2, TenantID: 9},
			{ID: 3, TenantID: 9},
		},
		results: map[ids.EnvelopeID]error{
			2: envelopedomain.TransitionError(envelopedomain.StatusCompleted, envelopedomain.StatusExpired),
			3: errors.New("connection reset"),
		},
	}
	sweeper := New(Params{Log: zap.NewNop(), Envelopes: envelopes})

	stats, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Scanned: 3, Expired: 1, Skipped: 1, Failed: 1}, stats)
	assert.Equal(t, []ids.EnvelopeID{1}, envelopes.expired)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	envelopes := &scriptedEnvelopes{due: []envelopedomain.Envelope{{ID: 1, TenantID: 9}}}
	sweeper := New(Params{Log: zap.NewNop(), Envelopes: envelopes})
	lock := &stubLocker{held: true}
	sweeper.locker = lock

	stats, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Locked)
	assert.Empty(t, envelopes.expired)

	lock.held = false
	stats, err = sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, lock.released)
}

func TestNewAppliesDefaults(t *testing.T) {
	sweeper := New(Params{Log: zap.NewNop(), Config: config.Config{Expiry: config.ExpiryConfig{Enabled: true}}})
	assert.True(t, sweeper.enabled)
	assert.Equal(t, 50, sweeper.batchSize)
	assert.Equal(t, time.Minute, sweeper.pollInterval)
}

func TestSweepExpiresOverdueEnvelopes(t *testing.T) {
	db := testutil.OpenDB(t,
		&envelopedomain.Envelope{},
		&envelopedomain.Signer{},
		&invitationdomain.InvitationToken{},
		&auditdomain.AuditEvent{},
		&outboxdomain.OutboxEvent{},
	)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	policy := config.NewStaticPolicyHolder(config.DefaultSigningPolicy())
	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	outbox := outboxservice.NewService(outboxservice.Params{
		Log: zap.NewNop(), GenID: node, Clock: clk, Repo: outboxrepo.Provide(),
	})
	invitations := invitationservice.NewService(invitationservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Policy: policy, Audit: audit, Repo: invitationrepo.Provide(),
	})
	envelopes := envelopeservice.NewService(envelopeservice.Params{
		DB:          db,
		Tx:          signdb.NewTxManagerWithTimeout(db, 0),
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Policy:      policy,
		Audit:       audit,
		Outbox:      outbox,
		Invitations: invitations,
		Repo:        enveloperepo.Provide(),
	})

	d, err := digest.Compute(digest.SHA256, []byte("lease"))
	require.NoError(t, err)
	ctx := context.Background()
	create := func(expiresIn time.Duration) ids.EnvelopeID {
		expiresAt := clk.Now().Add(expiresIn)
		view, err := envelopes.Create(ctx, envelopedomain.CreateRequest{
			TenantID:    1,
			CreatedBy:   "owner",
			Title:       "Lease",
			SigningMode: envelopedomain.SigningModeParallel,
			Digest:      d,
			DocumentKey: "documents/1/lease.pdf",
			ExpiresAt:   &expiresAt,
			Signers:     []envelopedomain.SignerInput{{Email: "ana@example.com", DisplayName: "Ana"}},
		})
		require.NoError(t, err)
		_, err = envelopes.Send(ctx, envelopedomain.SendRequest{TenantID: 1, EnvelopeID: view.Envelope.ID})
		require.NoError(t, err)
		return view.Envelope.ID
	}
	overdue := create(time.Hour)
	later := create(48 * time.Hour)

	sweeper := New(Params{
		Log:       zap.NewNop(),
		Config:    config.Config{Expiry: config.ExpiryConfig{Enabled: true, BatchSize: 10}},
		Envelopes: envelopes,
	})

	clk.Advance(2 * time.Hour)
	stats, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)

	view, err := envelopes.Get(ctx, 1, overdue)
	require.NoError(t, err)
	assert.Equal(t, envelopedomain.StatusExpired, view.Envelope.Status)
	require.NotNil(t, view.Envelope.ExpiredAt)

	view, err = envelopes.Get(ctx, 1, later)
	require.NoError(t, err)
	assert.Equal(t, envelopedomain.StatusSent, view.Envelope.Status)

	stats, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}
