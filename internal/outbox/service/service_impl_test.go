package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/ids"
	outboxdomain "github.com/smallbiznis/signflow/internal/outbox/domain"
	"github.com/smallbiznis/signflow/internal/outbox/repository"
	"github.com/smallbiznis/signflow/internal/testutil"
	"github.com/smallbiznis/signflow/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupOutboxService(t *testing.T) (outboxdomain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t, &outboxdomain.OutboxEvent{})
	svc := NewService(Params{
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clock.NewFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, db
}

func TestPublishTxStagesPendingEvent(t *testing.T) {
	svc, db := setupOutboxService(t)
	ctx := correlation.ContextWithCorrelationID(context.Background(), "cid-9")

	var staged *outboxdomain.OutboxEvent
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		staged, err = svc.PublishTx(ctx, tx, outboxdomain.Event{
			TenantID:    ids.TenantID(1),
			AggregateID: "42",
			Type:        outboxdomain.TypeEnvelopeSent,
			Payload:     map[string]any{"signers": 2},
		})
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, staged)

	var stored outboxdomain.OutboxEvent
	require.NoError(t, db.First(&stored, "id = ?", staged.ID).Error)
	assert.Equal(t, outboxdomain.StatusPending, stored.Status)
	assert.Equal(t, outboxdomain.AggregateEnvelope, stored.AggregateType)
	assert.Equal(t, "envelope.sent:42", stored.DedupeKey)
	assert.Equal(t, "cid-9", stored.Headers["correlation_id"])
	assert.Equal(t, 0, stored.AttemptCount)
}

func TestPublishTxRollsBackWithTransaction(t *testing.T) {
	svc, db := setupOutboxService(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.PublishTx(context.Background(), tx, outboxdomain.Event{
			TenantID:    ids.TenantID(1),
			AggregateID: "42",
			Type:        outboxdomain.TypeEnvelopeCompleted,
		}); err != nil {
			return err
		}
		return gorm.ErrInvalidTransaction
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&outboxdomain.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPublishTxDeduplicates(t *testing.T) {
	svc, db := setupOutboxService(t)
	event := outboxdomain.Event{
		TenantID:    ids.TenantID(1),
		AggregateID: "42",
		Type:        outboxdomain.TypeEnvelopeCompleted,
	}

	first, err := svc.PublishTx(context.Background(), db, event)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := svc.PublishTx(context.Background(), db, event)
	require.NoError(t, err)
	assert.Nil(t, second)

	var count int64
	require.NoError(t, db.Model(&outboxdomain.OutboxEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPublishTxRejectsInvalidEvent(t *testing.T) {
	svc, db := setupOutboxService(t)

	cases := []outboxdomain.Event{
		{TenantID: ids.TenantID(1), AggregateID: "42"},
		{TenantID: ids.TenantID(1), Type: outboxdomain.TypeEnvelopeSent},
		{AggregateID: "42", Type: outboxdomain.TypeEnvelopeSent},
	}
	for _, event := range cases {
		_, err := svc.PublishTx(context.Background(), db, event)
		assert.ErrorIs(t, err, outboxdomain.ErrInvalidEvent)
	}
	_, err := svc.PublishTx(context.Background(), nil, cases[0])
	assert.ErrorIs(t, err, outboxdomain.ErrInvalidEvent)
}
