package digest

import (
	"strings"
	"testing"

	"github.com/smallbiznis/signflow/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeKnownVectors(t *testing.T) {
	cases := map[Algorithm]string{
		SHA256:     "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		SHA3_256:   "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532",
		BLAKE2b256: "bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319",
	}
	for alg, want := range cases {
		got, err := Compute(alg, []byte("abc"))
		require.NoError(t, err)
		assert.Equal(t, want, got.Value, string(alg))
		assert.Equal(t, alg, got.Algorithm)
	}
}

func TestComputeRejectsUnknownAlgorithm(t *testing.T) {
	_, err := Compute("md5", []byte("abc"))
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestEqualDetectsSingleByteChange(t *testing.T) {
	doc := []byte("quarterly services agreement")
	a, err := Compute(SHA256, doc)
	require.NoError(t, err)

	tampered := append([]byte(nil), doc...)
	tampered[0] ^= 0x01
	b, err := Compute(SHA256, tampered)
	require.NoError(t, err)

	assert.True(t, Equal(a, Digest{Algorithm: "SHA256", Value: strings.ToUpper(a.Value)}))
	assert.False(t, Equal(a, b))
	assert.False(t, Equal(a, Digest{Algorithm: SHA3_256, Value: a.Value}))
}

func TestNormalizeRejectsWrongLength(t *testing.T) {
	_, err := Normalize(Digest{Algorithm: SHA256, Value: "abcd"})
	assert.ErrorIs(t, err, ErrMalformedValue)

	_, err = Normalize(Digest{Algorithm: SHA256, Value: strings.Repeat("zz", Size)})
	assert.ErrorIs(t, err, ErrMalformedValue)
}
