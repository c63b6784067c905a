package signing

import (
	"github.com/smallbiznis/signflow/internal/signing/authority"
	"github.com/smallbiznis/signflow/internal/signing/repository"
	"github.com/smallbiznis/signflow/internal/signing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("signing.service",
	authority.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
