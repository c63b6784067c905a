// Package digest computes and compares document digests.
package digest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/smallbiznis/signflow/pkg/apperror"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA3_256   Algorithm = "sha3-256"
	BLAKE2b256 Algorithm = "blake2b-256"
)

// Size is the digest length in bytes for every supported algorithm.
const Size = 32

var (
	ErrUnsupportedAlgorithm = apperror.Validation("unsupported_digest_algorithm", "digest algorithm is not supported")
	ErrMalformedValue       = apperror.Validation("malformed_digest", "digest must be lowercase hex of the algorithm's length")
)

// Digest is an algorithm-qualified hash in lowercase hex.
type Digest struct {
	Algorithm Algorithm `json:"algorithm"`
	Value     string    `json:"value"`
}

func ParseAlgorithm(value string) (Algorithm, error) {
	switch alg := Algorithm(strings.ToLower(strings.TrimSpace(value))); alg {
	case SHA256, SHA3_256, BLAKE2b256:
		return alg, nil
	default:
		return "", ErrUnsupportedAlgorithm.With("algorithm", value)
	}
}

func newHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case SHA256:
		return sha256.New(), nil
	case SHA3_256:
		return sha3.New256(), nil
	case BLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, ErrUnsupportedAlgorithm.With("algorithm", string(alg))
	}
}

// Compute hashes data with alg.
func Compute(alg Algorithm, data []byte) (Digest, error) {
	h, err := newHash(alg)
	if err != nil {
		return Digest{}, err
	}
	h.Write(data)
	return Digest{Algorithm: alg, Value: hex.EncodeToString(h.Sum(nil))}, nil
}

// Normalize validates d and lowercases its value.
func Normalize(d Digest) (Digest, error) {
	alg, err := ParseAlgorithm(string(d.Algorithm))
	if err != nil {
		return Digest{}, err
	}
	value := strings.ToLower(strings.TrimSpace(d.Value))
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != Size {
		return Digest{}, ErrMalformedValue.With("algorithm", string(alg))
	}
	return Digest{Algorithm: alg, Value: value}, nil
}

// Bytes returns the raw digest bytes.
func (d Digest) Bytes() ([]byte, error) {
	raw, err := hex.DecodeString(d.Value)
	if err != nil || len(raw) != Size {
		return nil, ErrMalformedValue
	}
	return raw, nil
}

// Equal compares algorithm and value in constant time with respect to the
// value bytes.
func Equal(a, b Digest) bool {
	na, errA := Normalize(a)
	nb, errB := Normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	algOK := subtle.ConstantTimeCompare([]byte(na.Algorithm), []byte(nb.Algorithm))
	valueOK := subtle.ConstantTimeCompare([]byte(na.Value), []byte(nb.Value))
	return algOK&valueOK == 1
}
