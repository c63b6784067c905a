package service

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	auditrepo "github.com/smallbiznis/signflow/internal/audit/repository"
	auditservice "github.com/smallbiznis/signflow/internal/audit/service"
	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/config"
	consentdomain "github.com/smallbiznis/signflow/internal/consent/domain"
	consentrepo "github.com/smallbiznis/signflow/internal/consent/repository"
	consentservice "github.com/smallbiznis/signflow/internal/consent/service"
	"github.com/smallbiznis/signflow/internal/digest"
	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	enveloperepo "github.com/smallbiznis/signflow/internal/envelope/repository"
	envelopeservice "github.com/smallbiznis/signflow/internal/envelope/service"
	"github.com/smallbiznis/signflow/internal/ids"
	invitationdomain "github.com/smallbiznis/signflow/internal/invitation/domain"
	invitationrepo "github.com/smallbiznis/signflow/internal/invitation/repository"
	invitationservice "github.com/smallbiznis/signflow/internal/invitation/service"
	"github.com/smallbiznis/signflow/internal/objectstore"
	outboxdomain "github.com/smallbiznis/signflow/internal/outbox/domain"
	outboxrepo "github.com/smallbiznis/signflow/internal/outbox/repository"
	outboxservice "github.com/smallbiznis/signflow/internal/outbox/service"
	"github.com/smallbiznis/signflow/internal/signing/authority"
	signingdomain "github.com/smallbiznis/signflow/internal/signing/domain"
	"github.com/smallbiznis/signflow/internal/signing/repository"
	"github.com/smallbiznis/signflow/internal/testutil"
	"github.com/smallbiznis/signflow/pkg/apperror"
	signdb "github.com/smallbiznis/signflow/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tenant = ids.TenantID(1)

type countingAuthority struct {
	authority.Authority
	mu    sync.Mutex
	calls int
	fail  error
	hang  bool
}

func (c *countingAuthority) Sign(ctx context.Context, d []byte, alg, kid string) (*authority.SignResult, error) {
	c.mu.Lock()
	c.calls++
	fail, hang := c.fail, c.hang
	c.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail != nil {
		return nil, fail
	}
	return c.Authority.Sign(ctx, d, alg, kid)
}

// failWith makes subsequent Sign calls return err; nil restores signing.
func (c *countingAuthority) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *countingAuthority) hangUntilDeadline(hang bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hang = hang
}

func (c *countingAuthority) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fixture struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	svc       signingdomain.Service
	envelopes envelopedomain.Service
	consents  consentdomain.Service
	authority *countingAuthority
	store     objectstore.Store
	document  digest.Digest
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testutil.OpenDB(t,
		&envelopedomain.Envelope{},
		&envelopedomain.Signer{},
		&invitationdomain.InvitationToken{},
		&consentdomain.Consent{},
		&signingdomain.Signature{},
		&auditdomain.AuditEvent{},
		&outboxdomain.OutboxEvent{},
		&objectstore.StoredObject{},
	)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	policy := config.NewStaticPolicyHolder(config.DefaultSigningPolicy())
	txm := signdb.NewTxManagerWithTimeout(db, 0)

	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	outbox := outboxservice.NewService(outboxservice.Params{
		Log: zap.NewNop(), GenID: node, Clock: clk, Repo: outboxrepo.Provide(),
	})
	invitations := invitationservice.NewService(invitationservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Policy: policy, Audit: audit, Repo: invitationrepo.Provide(),
	})
	envelopeRepo := enveloperepo.Provide()
	envelopes := envelopeservice.NewService(envelopeservice.Params{
		DB:          db,
		Tx:          txm,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Policy:      policy,
		Audit:       audit,
		Outbox:      outbox,
		Invitations: invitations,
		Repo:        envelopeRepo,
	})
	consents := consentservice.NewService(consentservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Policy: policy, Audit: audit, Outbox: outbox, Repo: consentrepo.Provide(),
	})

	ring := &authority.Keyring{}
	require.NoError(t, ring.Add("test-ed25519", authority.AlgorithmEdDSA, []byte(strings.Repeat("k", 32))))
	counting := &countingAuthority{Authority: ring}

	store := objectstore.NewGormStore(db, zap.NewNop(), clk,
		objectstore.NewURLSigner([]byte("secret"), "http://ops.local/objects", clk.Now))

	svc := NewService(Params{
		DB:           db,
		Tx:           txm,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Config:       config.Config{ObjectStore: config.ObjectStoreConfig{Bucket: "test"}},
		Policy:       policy,
		Audit:        audit,
		Outbox:       outbox,
		Consents:     consents,
		Envelopes:    envelopes,
		EnvelopeRepo: envelopeRepo,
		Repo:         repository.Provide(),
		Authority:    authority.WithTimeout(counting, 100*time.Millisecond),
		Store:        store,
	})

	document, err := digest.Compute(digest.SHA256, []byte("master services agreement"))
	require.NoError(t, err)

	return fixture{
		db:        db,
		clock:     clk,
		svc:       svc,
		envelopes: envelopes,
		consents:  consents,
		authority: counting,
		store:     store,
		document:  document,
	}
}

// sentEnvelope creates and sends an envelope and returns its signer-role
// parties in sequence order.
func (f fixture) sentEnvelope(t *testing.T, mode envelopedomain.SigningMode, signers ...envelopedomain.SignerInput) (ids.EnvelopeID, []envelopedomain.Signer) {
	t.Helper()
	ctx := context.Background()
	if len(signers) == 0 {
		signers = []envelopedomain.SignerInput{
			{Email: "ana@example.com", DisplayName: "Ana", Sequence: 1},
			{Email: "bo@example.com", DisplayName: "Bo", Sequence: 2},
		}
	}
	view, err := f.envelopes.Create(ctx, envelopedomain.CreateRequest{
		TenantID:    tenant,
		CreatedBy:   "owner-1",
		Title:       "MSA",
		SigningMode: mode,
		Digest:      f.document,
		DocumentKey: "documents/1/msa.pdf",
		Signers:     signers,
	})
	require.NoError(t, err)
	sent, err := f.envelopes.Send(ctx, envelopedomain.SendRequest{TenantID: tenant, EnvelopeID: view.Envelope.ID})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	var parties []envelopedomain.Signer
	for _, s := range sent.View.Signers {
		if s.Role == envelopedomain.RoleSigner {
			parties = append(parties, s)
		}
	}
	return view.Envelope.ID, parties
}

func (f fixture) consent(t *testing.T, envelopeID ids.EnvelopeID, signerID ids.SignerID, given bool) {
	t.Helper()
	_, err := f.consents.Record(context.Background(), consentdomain.RecordRequest{
		TenantID:   tenant,
		EnvelopeID: envelopeID,
		SignerID:   signerID,
		Given:      given,
		Text:       "I agree to sign electronically.",
	})
	require.NoError(t, err)
}

func (f fixture) request(envelopeID ids.EnvelopeID, signerID ids.SignerID) signingdomain.CompleteRequest {
	return signingdomain.CompleteRequest{
		TenantID:        tenant,
		EnvelopeID:      envelopeID,
		SignerID:        signerID,
		DigestAlgorithm: string(f.document.Algorithm),
		DigestValue:     strings.ToUpper(f.document.Value),
		Algorithm:       "eddsa",
		Presence:        signingdomain.ProofOfPresence{IPAddress: "10.0.0.1", UserAgent: "test", Method: "email_link"},
	}
}

func (f fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func TestSequentialSigningCompletesEnvelope(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	envelopeID, signers := f.sentEnvelope(t, envelopedomain.SigningModeSequential)
	f.consent(t, envelopeID, signers[0].ID, true)
	f.consent(t, envelopeID, signers[1].ID, true)

	first, err := f.svc.CompleteSigning(ctx, f.request(envelopeID, signers[0].ID))
	require.NoError(t, err)
	assert.Equal(t, envelopedomain.StatusSent, first.Status)
	assert.Equal(t, envelopedomain.PhaseInProgress, first.Phase)
	assert.Equal(t, 1, first.Progress.Signed)
	assert.Equal(t, 2, first.Progress.Total)
	assert.False(t, first.AlreadySigned)
	assert.False(t, first.Completed)
	assert.Equal(t, f.document.Value, first.Signature.DigestValue)
	assert.Equal(t, authority.AlgorithmEdDSA, first.Signature.Algorithm)
	assert.Equal(t, "test-ed25519", first.Signature.KeyID)

	second, err := f.svc.CompleteSigning(ctx, f.request(envelopeID, signers[1].ID))
	require.NoError(t, err)
	assert.Equal(t, envelopedomain.StatusCompleted, second.Status)
	assert.True(t, second.Completed)
	assert.Equal(t, 1.0, second.Progress.Fraction)

	var stored signingdomain.Signature
	require.NoError(t, f.db.Where("signer_id = ?", signers[1].ID).First(&stored).Error)
	assert.True(t, strings.HasPrefix(stored.SignatureKey, "signatures/"))
	assert.Equal(t, int64(1), f.count(t, &objectstore.StoredObject{}, "object_key = ?", stored.SignatureKey))

	// the stored bytes verify against the authority key
	obj, err := f.store.GetObject(ctx, "test", stored.SignatureKey)
	require.NoError(t, err)
	pub, err := f.authority.PublicKey(ctx, stored.KeyID)
	require.NoError(t, err)
	raw, err := f.document.Bytes()
	require.NoError(t, err)
	assert.NoError(t, authority.Verify(stored.SignatureAlgorithm, pub, raw, obj.Data))

	assert.Equal(t, int64(2), f.count(t, &outboxdomain.OutboxEvent{}, "type = ?", outboxdomain.TypeSignerSigned))
	assert.Equal(t, int64(1), f.count(t, &outboxdomain.OutboxEvent{}, "type = ?", outboxdomain.TypeEnvelopeCompleted))

	signatures, err := f.svc.ListSignatures(ctx, tenant, envelopeID)
	require.NoError(t, err)
	assert.Len(t, signatures, 2)
}

func TestSigningWithoutConsentFails(t *testing.T) {
	f := setup(t)
	envelopeID, signers := f.sentEnvelope(t, envelopedomain.SigningModeParallel)
	f.consent(t, envelopeID, signers[0].ID, false)

	_, err := f.svc.CompleteSigning(context.Background(), f.request(envelopeID, signers[0].ID))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConsentRequired)

	assert.Zero(t, f.count(t, &signingdomain.Signature{}, "1 = 1"))
	assert.Zero(t, f.authority.Calls())
	var signer envelopedomain.Signer
	require.NoError(t, f.db.First(&signer, "id = ?", signers[0].ID).Error)
	assert.Equal(t, envelopedomain.SignerInvited, signer.Status)

	// no consent at all
	_, err = f.svc.CompleteSigning(context.Background(), f.request(envelopeID, signers[1].ID))
	assert.ErrorIs(t, err, consentdomain.ErrConsentMissing)
}

func TestConsentBeforeSendIsStale(t *testing.T) {
	f := setup(t)
	envelopeID, signers := f.sentEnvelope(t, envelopedomain.SigningModeParallel)

	// consent recorded with a timestamp before the envelope was sent
	_, err := f.consents.Record(context.Background(), consentdomain.RecordRequest{
		TenantID:   tenant,
		EnvelopeID: envelopeID,
		SignerID:   signers[0].ID,
		Given:      true,
		Text:       "I agree.",
		At:         f.clock.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	_, err = f.svc.CompleteSigning(context.Background(), f.request(envelopeID, signers[0].ID))
	assert.ErrorIs(t, err, consentdomain.ErrConsentStale)
}

func TestCanceledEnvelopeRejectsSigning(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	envelopeID, signers := f.sentEnvelope(t, envelopedomain.SigningModeParallel)
	f.consent(t, envelopeID, signers[0].ID, true)

	reason := "duplicate"
	view, err := f.envelopes.Cancel(ctx, envelopedomain.CancelRequest{TenantID: tenant, EnvelopeID: envelopeID, Reason: &reason})
	require.NoError(t, err)
	assert.Equal(t, envelopedomain.StatusCanceled, view.Envelope.Status)
	assert.Equal(t, int64(1), f.count(t, &auditdomain.AuditEvent{}, "type = ?", string(auditdomain.EventEnvelopeCanceled)))
	assert.Equal(t, int64(1), f.count(t, &outboxdomain.OutboxEvent{}, "type = ?", outboxdomain.TypeEnvelopeCanceled))

	for _, signer := range signers {
		_, err := f.svc.CompleteSigning(ctx, f.request(envelopeID, signer.ID))
		assert.ErrorIs(t, err, apperror.ErrConflict)
	}
	assert.Zero(t, f.authority.Calls())
}

func TestConcurrentFinalSignersCompleteOnce(t *testing.T) {
	f := setup(t)
	envelopeID, signers := f.sentEnvelope(t, envelopedomain.SigningModeParallel)
	for _, s := range signers {
		f.consent(t, envelopeID, s.ID, true)
	}

	var wg sync.WaitGroup
	results := make([]*signingdomain.Result, len(signers))
	errs := make([]error, len(signers))
	for i, s := range signers {
		wg.Add(1)
		go func(i int, signerID ids.SignerID) {
			defer wg.Done()
			results[i], errs[i] = f.svc.CompleteSigning(context.Background(), f.request(envelopeID, signerID))
		}(i, s.ID)
	}
	wg.Wait()

	completedFlags := 0
	for i := range signers {
		require.NoError(t, errs[i])
		if results[i].Completed {
			completedFlags++
		}
	}
	assert.Equal(t, 1, completedFlags)
	assert.Equal(t, int64(1), f.count(t, &outboxdomain.OutboxEvent{}, "type = ?", outboxdomain.TypeEnvelopeCompleted))

	view, err := f.envelopes.Get(context.Background(), tenant, envelopeID)
	require.NoError(t, err)
	assert.Equal(t, envelopedomain.StatusCompleted, view.Envelope.Status)
	assert.True(t, view.Progress.Complete())
}

func TestCompleteSigningIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	envelopeID, signers := f.sentEnvelope(t, envelopedomain.SigningModeSequential)
	f.consent(t, envelopeID, signers[0].ID, true)

	first, err := f.svc.CompleteSigning(ctx, f.request(envelopeID, signers[0].ID))
	require.NoError(t, err)
	replay, err := f.svc.CompleteSigning(ctx, f.request(envelopeID, signers[0].ID))
	require.NoError(t, err)

	assert.True(t, replay.AlreadySigned)
	assert.Equal(t, first.Signature, replay.Signature)
	assert.Equal(t, 1, f.authority.Calls())
	assert.Equal(t, int64(1), f.count(t, &signingdomain.Signature{}, "envelope_id = ?", envelopeID))
	assert.Equal(t, int64(1), f.count(t, &outboxdomain.OutboxEvent{}, "type = ?", outboxdomain.TypeSignerSigned))
}

func TestDigestMismatchIsAudited(t *testing.T) {
	f := setup(t)
	envelopeID, signers := f.sentEnvelope(t, envelopedomain.SigningModeParallel)
	f.consent(t, envelopeID, signers[0].ID, true)

	req := f.request(envelopeID, signers[0].ID)
	raw, err := f.document.Bytes()
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := digest.Digest{Algorithm: f.document.Algorithm, Value: hex.EncodeToString(raw)}
	req.DigestValue = tampered.Value

	_, err = f.svc.CompleteSigning(context.Background(), req)
	assert.ErrorIs(t, err, apperror.ErrIntegrityViolation)
	assert.Zero(t, f.authority.Calls())
	assert.Equal(t, int64(1), f.count(t, &auditdomain.AuditEvent{}, "type = ?", string(auditdomain.EventIntegrityViolation)))

	// a different algorithm is a mismatch too
	other, err := digest.Compute(digest.SHA3_256, []byte("master services agreement"))
	require.NoError(t, err)
	req = f.request(envelopeID, signers[0].ID)
	req.DigestAlgorithm = string(other.Algorithm)
	req.DigestValue = other.Value
	_, err = f.svc.CompleteSigning(context.Background(), req)
	assert.ErrorIs(t, err, signingdomain.ErrDigestMismatch)
	assert.Zero(t, f.count(t, &signingdomain.Signature{}, "1 = 1"))
}

func TestSequentialOrderIsEnforced(t *testing.T) {
	f := setup(t)
	envelopeID, signers := f.sentEnvelope(t, envelopedomain.SigningModeSequential)
	f.consent(t, envelopeID, signers[1].ID, true)

	_, err := f.svc.CompleteSigning(context.Background(), f.request(envelopeID, signers[1].ID))
	require.Error(t, err)
	assert.ErrorIs(t, err, signingdomain.ErrOutOfOrder)

	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, signers[0].ID.String(), appErr.Details["blocking_signer_id"])
	assert.Zero(t, f.authority.Calls())
}

func TestViewersStayOutsideCompletion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	envelopeID, signers := f.sentEnvelope(t, envelopedomain.SigningModeSequential,
		envelopedomain.SignerInput{Email: "viewer@example.com", Role: envelopedomain.RoleViewer},
		envelopedomain.SignerInput{Email: "ana@example.com", Sequence: 1},
	)
	require.Len(t, signers, 1)
	f.consent(t, envelopeID, signers[0].ID, true)

	view, err := f.envelopes.Get(ctx, tenant, envelopeID)
	require.NoError(t, err)
	var viewer envelopedomain.Signer
	for _, s := range view.Signers {
		if s.Role == envelopedomain.RoleViewer {
			viewer = s
		}
	}
	require.True(t, viewer.ID.Valid())

	_, err = f.svc.CompleteSigning(ctx, f.request(envelopeID, viewer.ID))
	assert.ErrorIs(t, err, envelopedomain.ErrViewerAction)

	result, err := f.svc.CompleteSigning(ctx, f.request(envelopeID, signers[0].ID))
	require.NoError(t, err)
	assert.Equal(t, envelopedomain.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Progress.Total)
}

func TestValidation(t *testing.T) {
	f := setup(t)
	envelopeID, signers := f.sentEnvelope(t, envelopedomain.SigningModeParallel)

	req := f.request(envelopeID, signers[0].ID)
	req.SignerID = 0
	_, err := f.svc.CompleteSigning(context.Background(), req)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	req = f.request(envelopeID, signers[0].ID)
	req.DigestValue = "abc"
	_, err = f.svc.CompleteSigning(context.Background(), req)
	assert.ErrorIs(t, err, digest.ErrMalformedValue)

	req = f.request(envelopeID, signers[0].ID)
	req.Algorithm = ""
	_, err = f.svc.CompleteSigning(context.Background(), req)
	assert.ErrorIs(t, err, signingdomain.ErrInvalidAlgorithm)

	req = f.request(envelopeID, signers[0].ID)
	req.Algorithm = "RS256"
	_, err = f.svc.CompleteSigning(context.Background(), req)
	assert.ErrorIs(t, err, apperror.ErrInvalidAlgorithm)

	req = f.request(envelopeID, signers[0].ID)
	req.SignerID = 12345
	_, err = f.svc.CompleteSigning(context.Background(), req)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func (f fixture) assertNothingPersisted(t *testing.T, envelopeID ids.EnvelopeID, signerID ids.SignerID, audits, events int64) {
	t.Helper()
	assert.Zero(t, f.count(t, &signingdomain.Signature{}, "envelope_id = ?", envelopeID))
	assert.Zero(t, f.count(t, &objectstore.StoredObject{}, "object_key LIKE ?", "signatures/%"))
	assert.Equal(t, audits, f.count(t, &auditdomain.AuditEvent{}, "envelope_id = ?", envelopeID))
	assert.Equal(t, events, f.count(t, &outboxdomain.OutboxEvent{}, "1 = 1"))

	var signer envelopedomain.Signer
	require.NoError(t, f.db.First(&signer, "id = ?", signerID).Error)
	assert.Equal(t, envelopedomain.SignerInvited, signer.Status)
	assert.Nil(t, signer.SignatureID)
}

func TestUnavailableAuthorityCanBeRetried(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	envelopeID, signers := f.sentEnvelope(t, envelopedomain.SigningModeParallel)
	f.consent(t, envelopeID, signers[0].ID, true)
	audits := f.count(t, &auditdomain.AuditEvent{}, "envelope_id = ?", envelopeID)
	events := f.count(t, &outboxdomain.OutboxEvent{}, "1 = 1")

	f.authority.failWith(authority.ErrUnavailable)
	_, err := f.svc.CompleteSigning(ctx, f.request(envelopeID, signers[0].ID))
	assert.ErrorIs(t, err, apperror.ErrSigningUnavailable)
	assert.True(t, apperror.IsRetryable(err))
	f.assertNothingPersisted(t, envelopeID, signers[0].ID, audits, events)

	f.authority.failWith(nil)
	f.authority.hangUntilDeadline(true)
	_, err = f.svc.CompleteSigning(ctx, f.request(envelopeID, signers[0].ID))
	assert.ErrorIs(t, err, apperror.ErrSigningUnavailable)
	f.assertNothingPersisted(t, envelopeID, signers[0].ID, audits, events)

	f.authority.hangUntilDeadline(false)
	result, err := f.svc.CompleteSigning(ctx, f.request(envelopeID, signers[0].ID))
	require.NoError(t, err)
	assert.False(t, result.AlreadySigned)
	assert.Equal(t, 3, f.authority.Calls())
	assert.Equal(t, int64(1), f.count(t, &signingdomain.Signature{}, "envelope_id = ?", envelopeID))
	assert.Equal(t, int64(1), f.count(t, &outboxdomain.OutboxEvent{}, "type = ?", outboxdomain.TypeSignerSigned))
}

func TestAuthorityKeyErrorsAreFatal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	envelopeID, signers := f.sentEnvelope(t, envelopedomain.SigningModeParallel)
	f.consent(t, envelopeID, signers[0].ID, true)
	audits := f.count(t, &auditdomain.AuditEvent{}, "envelope_id = ?", envelopeID)
	events := f.count(t, &outboxdomain.OutboxEvent{}, "1 = 1")

	req := f.request(envelopeID, signers[0].ID)
	req.KeyID = "retired-key"
	_, err := f.svc.CompleteSigning(ctx, req)
	assert.ErrorIs(t, err, apperror.ErrInvalidKey)
	assert.False(t, apperror.IsRetryable(err))

	// the policy allows ES256 but the only key is an ed25519 key
	req = f.request(envelopeID, signers[0].ID)
	req.Algorithm = authority.AlgorithmES256
	_, err = f.svc.CompleteSigning(ctx, req)
	assert.ErrorIs(t, err, authority.ErrKeyMismatch)

	f.authority.failWith(authority.ErrUnsupportedAlgorithm)
	_, err = f.svc.CompleteSigning(ctx, f.request(envelopeID, signers[0].ID))
	assert.ErrorIs(t, err, apperror.ErrInvalidAlgorithm)
	assert.False(t, apperror.IsRetryable(err))

	f.assertNothingPersisted(t, envelopeID, signers[0].ID, audits, events)
}
