package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/opsbase/tally/internal/clock"
	"github.com/opsbase/tally/internal/config"
	"github.com/opsbase/tally/internal/logger"
	"github.com/opsbase/tally/internal/migration"
	"github.com/opsbase/tally/internal/observability"
	"github.com/opsbase/tally/internal/seed"
	"github.com/opsbase/tally/internal/server"
	"github.com/opsbase/tally/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		db.Module,
		migration.Module,
		seed.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		nodeID = parsed
	}
	return snowflake.NewNode(nodeID)
}
