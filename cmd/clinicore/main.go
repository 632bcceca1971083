package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/clinicore/clinicore/internal/clock"
	"github.com/clinicore/clinicore/internal/config"
	"github.com/clinicore/clinicore/internal/logger"
	"github.com/clinicore/clinicore/internal/migration"
	"github.com/clinicore/clinicore/internal/server"
	"github.com/clinicore/clinicore/pkg/db"
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
