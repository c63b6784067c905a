package repository

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/signflow/internal/ids"
	"github.com/smallbiznis/signflow/internal/signing/domain"
	"github.com/smallbiznis/signflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signature(id int64) *domain.Signature {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Signature{
		ID:                 ids.SignatureID(id),
		TenantID:           1,
		EnvelopeID:         10,
		SignerID:           20,
		DigestAlgorithm:    "sha256",
		DigestValue:        "ab",
		SignatureAlgorithm: "EdDSA",
		KeyID:              "k1",
		SignatureKey:       "signatures/1/10/20/sig",
		SignedAt:           at,
		CreatedAt:          at,
	}
}

func TestInsertKeepsFirstSignaturePerSigner(t *testing.T) {
	db := testutil.OpenDB(t, &domain.Signature{})
	r := Provide()
	ctx := context.Background()

	inserted, err := r.Insert(ctx, db, signature(1))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = r.Insert(ctx, db, signature(2))
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := r.FindBySigner(ctx, db, 10, 20)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, ids.SignatureID(1), stored.ID)
}

func TestInsertRendersForMySQL(t *testing.T) {
	db, statements := testutil.DryRunMySQL(t)

	_, err := Provide().Insert(context.Background(), db, signature(1))
	require.NoError(t, err)

	require.Len(t, statements(), 1)
	assert.Contains(t, statements()[0], "ON DUPLICATE KEY UPDATE")
	assert.NotContains(t, statements()[0], "ON CONFLICT")
}
