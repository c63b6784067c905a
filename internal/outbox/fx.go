package outbox

import (
	"github.com/smallbiznis/signflow/internal/outbox/repository"
	"github.com/smallbiznis/signflow/internal/outbox/service"
	"go.uber.org/fx"
)

var Module = fx.Module("outbox.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
