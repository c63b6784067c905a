package expiry

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("expiry.sweeper",
	fx.Provide(New),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, sweeper *Sweeper) {
	if !sweeper.enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sweeper.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
