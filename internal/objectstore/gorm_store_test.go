package objectstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/testutil"
	"github.com/smallbiznis/signflow/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStore(t *testing.T) (*GormStore, *clock.FakeClock) {
	t.Helper()
	db := testutil.OpenDB(t, &StoredObject{})
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	signer := NewURLSigner([]byte("test-secret"), "http://ops.local/objects/", clk.Now)
	return NewGormStore(db, zap.NewNop(), clk, signer), clk
}

func TestPutAndGetObject(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	first, err := store.PutObject(ctx, "docs", "a/b.pdf", []byte("v1"), "application/pdf")
	require.NoError(t, err)
	second, err := store.PutObject(ctx, "docs", "a/b.pdf", []byte("v2"), "application/pdf")
	require.NoError(t, err)
	assert.NotEqual(t, first.ETag, second.ETag)

	obj, err := store.GetObject(ctx, "docs", "a/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), obj.Data)
	assert.Equal(t, second.ETag, obj.ETag)

	_, err = store.GetObject(ctx, "docs", "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = store.PutObject(ctx, "docs", "", []byte("x"), "")
	assert.ErrorIs(t, err, ErrInvalidObject)
}

func TestPutObjectRendersForMySQL(t *testing.T) {
	db, statements := testutil.DryRunMySQL(t)
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	store := NewGormStore(db, zap.NewNop(), clk, NewURLSigner([]byte("test-secret"), "http://ops.local/objects", clk.Now))

	_, err := store.PutObject(context.Background(), "docs", "a/b.pdf", []byte("v1"), "application/pdf")
	require.NoError(t, err)

	require.Len(t, statements(), 1)
	assert.Contains(t, statements()[0], "ON DUPLICATE KEY UPDATE")
	assert.NotContains(t, statements()[0], "ON CONFLICT")
}

func TestSignedURLRoundTrip(t *testing.T) {
	store, clk := newStore(t)
	ctx := context.Background()

	_, err := store.PutObject(ctx, "docs", "contract.pdf", []byte("%PDF"), "application/pdf")
	require.NoError(t, err)

	url, err := store.GetObjectURL(ctx, "docs", "contract.pdf", time.Minute, "application/pdf")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://ops.local/objects/"))
	token := strings.TrimPrefix(url, "http://ops.local/objects/")

	obj, err := store.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), obj.Data)

	clk.Advance(2 * time.Minute)
	_, err = store.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrURLExpired)

	_, err = store.Resolve(ctx, token+"x")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = store.GetObjectURL(ctx, "docs", "missing.pdf", time.Minute, "")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "documents/acme-corp/42/master-services-agreement.pdf",
		Key("documents", "Acme Corp", "42", "Master Services Agreement.PDF"))
	assert.Equal(t, "signatures/1/2/object.sig", Key("signatures", "1", "2", ".sig"))
}
