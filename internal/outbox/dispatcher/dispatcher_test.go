package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/signflow/internal/bus"
	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/ids"
	outboxdomain "github.com/smallbiznis/signflow/internal/outbox/domain"
	"github.com/smallbiznis/signflow/internal/outbox/repository"
	"github.com/smallbiznis/signflow/internal/outbox/service"
	"github.com/smallbiznis/signflow/internal/testutil"
	"github.com/smallbiznis/signflow/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []bus.Message
	failTypes map[string]error
}

func (p *fakePublisher) Publish(_ context.Context, msg bus.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failTypes[msg.Type]; ok {
		return err
	}
	p.published = append(p.published, msg)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.published))
	for _, msg := range p.published {
		out = append(out, msg.Type+"@"+msg.AggregateID)
	}
	return out
}

type harness struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	outbox     outboxdomain.Service
	publisher  *fakePublisher
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	db := testutil.OpenDB(t, &outboxdomain.OutboxEvent{})
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	repo := repository.Provide()
	publisher := &fakePublisher{failTypes: map[string]error{}}
	cfg.Owner = "test-owner"
	return &harness{
		db:        db,
		clock:     clk,
		publisher: publisher,
		outbox: service.NewService(service.Params{
			Log:   zap.NewNop(),
			GenID: testutil.Node(t),
			Clock: clk,
			Repo:  repo,
		}),
		dispatcher: New(Params{
			DB:        db,
			Log:       zap.NewNop(),
			Clock:     clk,
			Repo:      repo,
			Publisher: publisher,
			Metrics:   telemetry.NewMetrics(prometheus.NewRegistry()),
			Config:    cfg,
		}),
	}
}

func (h *harness) stage(t *testing.T, aggregateID, eventType string) {
	t.Helper()
	_, err := h.outbox.PublishTx(context.Background(), h.db, outboxdomain.Event{
		TenantID:    ids.TenantID(1),
		AggregateID: aggregateID,
		Type:        eventType,
	})
	require.NoError(t, err)
}

func (h *harness) status(t *testing.T, eventType, aggregateID string) outboxdomain.OutboxEvent {
	t.Helper()
	var row outboxdomain.OutboxEvent
	require.NoError(t, h.db.First(&row, "type = ? AND aggregate_id = ?", eventType, aggregateID).Error)
	return row
}

func TestRunOnceDeliversInOrder(t *testing.T) {
	h := newHarness(t, Config{})
	h.stage(t, "1", outboxdomain.TypeEnvelopeSent)
	h.stage(t, "2", outboxdomain.TypeEnvelopeSent)
	h.stage(t, "1", outboxdomain.TypeSignerSigned)
	h.stage(t, "1", outboxdomain.TypeEnvelopeCompleted)

	stats, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Leased)
	assert.Equal(t, 4, stats.Delivered)
	assert.Equal(t, []string{
		"envelope.sent@1",
		"envelope.sent@2",
		"signer.signed@1",
		"envelope.completed@1",
	}, h.publisher.types())

	row := h.status(t, outboxdomain.TypeEnvelopeCompleted, "1")
	assert.Equal(t, outboxdomain.StatusDelivered, row.Status)
	assert.NotNil(t, row.DeliveredAt)
	assert.Nil(t, row.LeaseOwner)

	stats, err = h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Leased)
}

func TestRunOnceFailureDefersLaterEventsOfSameAggregate(t *testing.T) {
	h := newHarness(t, Config{BackoffBase: 5 * time.Second, BackoffMax: time.Minute})
	h.stage(t, "1", outboxdomain.TypeEnvelopeSent)
	h.stage(t, "1", outboxdomain.TypeEnvelopeCompleted)
	h.stage(t, "2", outboxdomain.TypeEnvelopeCompleted)
	h.publisher.failTypes[outboxdomain.TypeEnvelopeSent] = errors.New("broker unavailable")

	stats, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Deferred)
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, []string{"envelope.completed@2"}, h.publisher.types())

	failed := h.status(t, outboxdomain.TypeEnvelopeSent, "1")
	assert.Equal(t, outboxdomain.StatusPending, failed.Status)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "broker unavailable", *failed.LastError)
	assert.True(t, failed.NextAttemptAt.Equal(h.clock.Now().Add(5*time.Second)))

	// The completed event must wait while the sent event backs off.
	stats, err = h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Leased)

	delete(h.publisher.failTypes, outboxdomain.TypeEnvelopeSent)
	h.clock.Advance(6 * time.Second)

	stats, err = h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Delivered)
	assert.Equal(t, []string{
		"envelope.completed@2",
		"envelope.sent@1",
		"envelope.completed@1",
	}, h.publisher.types())
}

func TestRunOnceMarksDeadAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 2, BackoffBase: time.Second, BackoffMax: time.Second})
	h.stage(t, "1", outboxdomain.TypeEnvelopeSent)
	h.stage(t, "1", outboxdomain.TypeEnvelopeCompleted)
	h.publisher.failTypes[outboxdomain.TypeEnvelopeSent] = errors.New("rejected")

	stats, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	h.clock.Advance(2 * time.Second)
	stats, err = h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dead)

	dead := h.status(t, outboxdomain.TypeEnvelopeSent, "1")
	assert.Equal(t, outboxdomain.StatusDead, dead.Status)
	assert.Equal(t, 2, dead.AttemptCount)

	// A dead event no longer holds back its aggregate.
	stats, err = h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, []string{"envelope.completed@1"}, h.publisher.types())
}

func TestRunOnceSkipsLeasedEvents(t *testing.T) {
	h := newHarness(t, Config{LeaseTTL: time.Minute})
	h.stage(t, "1", outboxdomain.TypeEnvelopeSent)

	leased, err := repository.Provide().Lease(context.Background(), h.db, "other", 10, h.clock.Now(), time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	stats, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Leased)

	h.clock.Advance(2 * time.Minute)
	stats, err = h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)

	err = repository.Provide().MarkDelivered(context.Background(), h.db, leased[0].ID, "other", h.clock.Now())
	assert.ErrorIs(t, err, outboxdomain.ErrLeaseLost)
}

func TestBackoff(t *testing.T) {
	cfg := Config{BackoffBase: time.Second, BackoffMax: 10 * time.Second}.withDefaults()
	assert.Equal(t, time.Second, cfg.Backoff(1))
	assert.Equal(t, 2*time.Second, cfg.Backoff(2))
	assert.Equal(t, 8*time.Second, cfg.Backoff(4))
	assert.Equal(t, 10*time.Second, cfg.Backoff(5))
	assert.Equal(t, 10*time.Second, cfg.Backoff(60))
}

func TestToMessageCarriesHeaders(t *testing.T) {
	event := outboxdomain.OutboxEvent{
		ID:            12,
		TenantID:      ids.TenantID(3),
		AggregateType: outboxdomain.AggregateEnvelope,
		AggregateID:   "9",
		Type:          outboxdomain.TypeSignerSigned,
		Payload:       map[string]any{"signer_id": "5"},
		Headers:       map[string]any{"correlation_id": "cid", "ignored": 3},
	}
	msg := toMessage(event)
	assert.Equal(t, "12", msg.ID)
	assert.Equal(t, "3", msg.TenantID)
	assert.JSONEq(t, `{"signer_id":"5"}`, string(msg.Payload))
	assert.Equal(t, map[string]string{"correlation_id": "cid"}, msg.Headers)
}
