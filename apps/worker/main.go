package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/signflow/internal/audit"
	"github.com/smallbiznis/signflow/internal/bus"
	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/config"
	"github.com/smallbiznis/signflow/internal/envelope"
	"github.com/smallbiznis/signflow/internal/expiry"
	"github.com/smallbiznis/signflow/internal/invitation"
	"github.com/smallbiznis/signflow/internal/observability"
	"github.com/smallbiznis/signflow/internal/outbox"
	"github.com/smallbiznis/signflow/internal/outbox/dispatcher"
	"github.com/smallbiznis/signflow/internal/ratelimit"
	"github.com/smallbiznis/signflow/internal/redisconn"
	"github.com/smallbiznis/signflow/pkg/db"
	"go.uber.org/fx"
)

// The worker runs the outbox dispatcher and the expiry sweeper without the
// ops server. Schema migrations are left to the main binary.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redisconn.Module,
		ratelimit.Module,
		bus.Module,

		// Domain services required by the sweeper
		audit.Module,
		invitation.Module,
		envelope.Module,
		outbox.Module,

		dispatcher.Module,
		expiry.Module,

		fx.Decorate(func(cfg dispatcher.Config) dispatcher.Config {
			cfg.Enabled = true
			return cfg
		}),

		// No server module!
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
