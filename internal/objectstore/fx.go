package objectstore

import (
	"crypto/rand"
	"errors"

	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("objectstore",
	fx.Provide(newURLSigner),
	fx.Provide(NewGormStore),
	fx.Provide(func(s *GormStore) Store { return s }),
)

func newURLSigner(cfg config.Config, clk clock.Clock, log *zap.Logger) (*URLSigner, error) {
	secret := []byte(cfg.ObjectStore.URLSecret)
	if len(secret) == 0 {
		if cfg.IsProduction() {
			return nil, errors.New("OBJECT_STORE_URL_SECRET is required in production")
		}
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		log.Warn("object url secret not configured, using an ephemeral secret")
	}
	return NewURLSigner(secret, cfg.ObjectStore.PublicBaseURL, clk.Now), nil
}
