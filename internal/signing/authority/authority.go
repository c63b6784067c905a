// Package authority signs document digests on behalf of signers.
package authority

import (
	"context"
	"crypto"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/signflow/pkg/apperror"
)

const (
	AlgorithmEdDSA = "EdDSA"
	AlgorithmES256 = "ES256"
)

// Authority produces signatures over a digest. Implementations may be
// remote; a call that does not return in time has an unknown outcome.
type Authority interface {
	Sign(ctx context.Context, digest []byte, algorithm, keyID string) (*SignResult, error)
	PublicKey(ctx context.Context, keyID string) (crypto.PublicKey, error)
}

type SignResult struct {
	Signature []byte
	KeyID     string
	Algorithm string
}

var (
	ErrUnavailable          = apperror.SigningUnavailable("signing_authority_unavailable", "signing authority did not respond")
	ErrUnknownKey           = apperror.InvalidKey("signing_key_unknown", "signing key is not known to the authority")
	ErrKeyMismatch          = apperror.InvalidKey("signing_key_mismatch", "signing key does not support the requested algorithm")
	ErrSignatureInvalid     = apperror.InvalidKey("signature_not_verified", "signature does not verify against the signing key")
	ErrUnsupportedAlgorithm = apperror.InvalidAlgorithm("signature_algorithm_unsupported", "signature algorithm is not supported")
)

// CanonicalAlgorithm returns the JWA spelling of alg, or "" when alg is not
// supported.
func CanonicalAlgorithm(alg string) string {
	for _, known := range []string{AlgorithmEdDSA, AlgorithmES256} {
		if strings.EqualFold(strings.TrimSpace(alg), known) {
			return known
		}
	}
	return ""
}

// Verify checks sig over digest with the JWA algorithm alg.
func Verify(alg string, key crypto.PublicKey, digest, sig []byte) error {
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return ErrUnsupportedAlgorithm.With("algorithm", alg)
	}
	if err := method.Verify(string(digest), sig, key); err != nil {
		return ErrSignatureInvalid.Wrap(err)
	}
	return nil
}
