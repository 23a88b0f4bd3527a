package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"taskdesk/pkg/config"
	"taskdesk/pkg/db"
	"taskdesk/pkg/gen"
	"taskdesk/pkg/hashistack/secretmanager"
	"taskdesk/pkg/health"
	"taskdesk/pkg/httpapi"
	"taskdesk/pkg/logger"
	"taskdesk/pkg/otelcol"
	"taskdesk/pkg/profiling"
	"taskdesk/pkg/redis"
	"taskdesk/pkg/server"
	pkgtask "taskdesk/pkg/task"
	"taskdesk/services/directory"
	"taskdesk/services/notification"
	"taskdesk/services/task"
)

func main() {
	app := fx.New(
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		pkgtask.Client,
		fx.Invoke(migrate),

		directory.Module,
		notification.Module,
		task.Module,

		health.Module,
		httpapi.Module,
		task.APIModule,
		server.ProvideHTTPServer,
		fxLogger,
	)

	app.Run()
}

func migrate(cfg *config.Config, conn *gorm.DB) error {
	models := append(task.Models(), &directory.User{}, &directory.Client{})
	return db.Migrate(cfg, conn, models...)
}

var fxLogger = fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: log.Named("fx")}
})
