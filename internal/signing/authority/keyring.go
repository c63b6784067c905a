package authority

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"encoding/base64"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type keyEntry struct {
	algorithm string
	private   crypto.Signer
	public    crypto.PublicKey
}

// Keyring is an in-process authority holding keys derived from seeds.
type Keyring struct {
	keys       map[string]keyEntry
	defaultKID string
}

// ParseKeyring builds a keyring from "kid=ALG:base64seed" entries separated
// by commas. Supported algorithms are EdDSA and ES256; seeds are 32 bytes.
func ParseKeyring(spec, defaultKID string) (*Keyring, error) {
	ring := &Keyring{keys: map[string]keyEntry{}}
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		kid, rest, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("signing key %q: expected kid=ALG:seed", raw)
		}
		alg, encoded, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("signing key %q: expected ALG:seed", kid)
		}
		seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return nil, fmt.Errorf("signing key %q: decode seed: %w", kid, err)
		}
		if err := ring.Add(strings.TrimSpace(kid), strings.TrimSpace(alg), seed); err != nil {
			return nil, err
		}
	}
	if len(ring.keys) == 0 {
		return nil, fmt.Errorf("no signing keys configured")
	}

	if defaultKID = strings.TrimSpace(defaultKID); defaultKID == "" {
		kids := make([]string, 0, len(ring.keys))
		for kid := range ring.keys {
			kids = append(kids, kid)
		}
		sort.Strings(kids)
		defaultKID = kids[0]
	}
	if _, ok := ring.keys[defaultKID]; !ok {
		return nil, fmt.Errorf("default signing key %q is not configured", defaultKID)
	}
	ring.defaultKID = defaultKID
	return ring, nil
}

// Add derives a key from seed and registers it under kid.
func (k *Keyring) Add(kid, algorithm string, seed []byte) error {
	if kid == "" {
		return fmt.Errorf("signing key id is empty")
	}
	if len(seed) != 32 {
		return fmt.Errorf("signing key %q: seed must be 32 bytes", kid)
	}
	if k.keys == nil {
		k.keys = map[string]keyEntry{}
	}

	switch {
	case strings.EqualFold(algorithm, AlgorithmEdDSA):
		private := ed25519.NewKeyFromSeed(seed)
		k.keys[kid] = keyEntry{algorithm: AlgorithmEdDSA, private: private, public: private.Public()}
	case strings.EqualFold(algorithm, AlgorithmES256):
		private := p256FromSeed(seed)
		k.keys[kid] = keyEntry{algorithm: AlgorithmES256, private: private, public: &private.PublicKey}
	default:
		return fmt.Errorf("signing key %q: unsupported algorithm %q", kid, algorithm)
	}
	if k.defaultKID == "" {
		k.defaultKID = kid
	}
	return nil
}

func (k *Keyring) DefaultKeyID() string { return k.defaultKID }

func (k *Keyring) Sign(ctx context.Context, digest []byte, algorithm, keyID string) (*SignResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable.Wrap(err)
	}
	method := jwt.GetSigningMethod(algorithm)
	if method == nil || (method.Alg() != AlgorithmEdDSA && method.Alg() != AlgorithmES256) {
		return nil, ErrUnsupportedAlgorithm.With("algorithm", algorithm)
	}

	if keyID == "" {
		keyID = k.defaultKID
	}
	entry, ok := k.keys[keyID]
	if !ok {
		return nil, ErrUnknownKey.With("key_id", keyID)
	}
	if entry.algorithm != method.Alg() {
		return nil, ErrKeyMismatch.With("key_id", keyID).With("algorithm", method.Alg())
	}

	sig, err := method.Sign(string(digest), entry.private)
	if err != nil {
		return nil, fmt.Errorf("sign with %s: %w", keyID, err)
	}
	return &SignResult{Signature: sig, KeyID: keyID, Algorithm: method.Alg()}, nil
}

func (k *Keyring) PublicKey(ctx context.Context, keyID string) (crypto.PublicKey, error) {
	if keyID == "" {
		keyID = k.defaultKID
	}
	entry, ok := k.keys[keyID]
	if !ok {
		return nil, ErrUnknownKey.With("key_id", keyID)
	}
	return entry.public, nil
}

// p256FromSeed maps seed onto a scalar in [1, N-1].
func p256FromSeed(seed []byte) *ecdsa.PrivateKey {
	curve := elliptic.P256()
	n := new(big.Int).Sub(curve.Params().N, big.NewInt(1))
	d := new(big.Int).SetBytes(seed)
	d.Mod(d, n)
	d.Add(d, big.NewInt(1))

	private := &ecdsa.PrivateKey{D: d}
	private.PublicKey.Curve = curve
	private.PublicKey.X, private.PublicKey.Y = curve.ScalarBaseMult(d.FillBytes(make([]byte, 32)))
	return private
}

var _ Authority = (*Keyring)(nil)
