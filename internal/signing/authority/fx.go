package authority

import (
	"crypto/rand"
	"errors"

	"github.com/smallbiznis/signflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("signing.authority",
	fx.Provide(NewKeyringFromConfig),
	fx.Provide(func(ring *Keyring, cfg config.Config) Authority {
		return WithTimeout(ring, cfg.Signing.AuthorityTimeout)
	}),
)

func NewKeyringFromConfig(cfg config.Config, log *zap.Logger) (*Keyring, error) {
	if cfg.Signing.KeySeeds != "" {
		return ParseKeyring(cfg.Signing.KeySeeds, cfg.Signing.DefaultKeyID)
	}
	if cfg.IsProduction() {
		return nil, errors.New("SIGNING_KEYS is required in production")
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	ring := &Keyring{}
	if err := ring.Add("ephemeral-ed25519", AlgorithmEdDSA, seed); err != nil {
		return nil, err
	}
	log.Warn("signing keys not configured, using an ephemeral key", zap.String("key_id", ring.DefaultKeyID()))
	return ring, nil
}
