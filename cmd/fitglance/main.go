package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fitglance/fitglance/internal/clock"
	"github.com/fitglance/fitglance/internal/config"
	"github.com/fitglance/fitglance/internal/logger"
	"github.com/fitglance/fitglance/internal/migration"
	"github.com/fitglance/fitglance/internal/scheduler"
	"github.com/fitglance/fitglance/internal/server"
	"github.com/fitglance/fitglance/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
