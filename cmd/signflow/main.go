package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/signflow/internal/audit"
	"github.com/smallbiznis/signflow/internal/authorization"
	"github.com/smallbiznis/signflow/internal/bus"
	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/config"
	"github.com/smallbiznis/signflow/internal/consent"
	"github.com/smallbiznis/signflow/internal/envelope"
	"github.com/smallbiznis/signflow/internal/expiry"
	"github.com/smallbiznis/signflow/internal/invitation"
	"github.com/smallbiznis/signflow/internal/migration"
	"github.com/smallbiznis/signflow/internal/objectstore"
	"github.com/smallbiznis/signflow/internal/observability"
	"github.com/smallbiznis/signflow/internal/orchestrator"
	"github.com/smallbiznis/signflow/internal/outbox"
	"github.com/smallbiznis/signflow/internal/outbox/dispatcher"
	"github.com/smallbiznis/signflow/internal/providers"
	"github.com/smallbiznis/signflow/internal/ratelimit"
	"github.com/smallbiznis/signflow/internal/redisconn"
	"github.com/smallbiznis/signflow/internal/server"
	"github.com/smallbiznis/signflow/internal/signing"
	"github.com/smallbiznis/signflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		redisconn.Module,
		ratelimit.Module,
		objectstore.Module,
		bus.Module,
		providers.Module,

		// Signing core
		audit.Module,
		invitation.Module,
		consent.Module,
		envelope.Module,
		signing.Module,
		outbox.Module,
		authorization.Module,
		orchestrator.Module,

		// Workers; each is gated by its own config flag.
		dispatcher.Module,
		expiry.Module,

		server.Module,

		fx.Invoke(func(*orchestrator.Orchestrator) {}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
