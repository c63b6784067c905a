package envelope

import (
	"github.com/smallbiznis/signflow/internal/envelope/repository"
	"github.com/smallbiznis/signflow/internal/envelope/service"
	"go.uber.org/fx"
)

var Module = fx.Module("envelope.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
