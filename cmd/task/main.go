package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"taskdesk/pkg/config"
	"taskdesk/pkg/db"
	"taskdesk/pkg/gen"
	"taskdesk/pkg/hashistack/secretmanager"
	"taskdesk/pkg/logger"
	"taskdesk/pkg/otelcol"
	"taskdesk/pkg/profiling"
	"taskdesk/pkg/redis"
	pkgtask "taskdesk/pkg/task"
	"taskdesk/services/directory"
	"taskdesk/services/notification"
	"taskdesk/services/task"
)

// The worker runs the daily recurrence scheduler and consumes the scan and
// notification queues.
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
		pkgtask.Server,

		directory.Module,
		notification.Module,
		notification.WorkerModule,
		task.Module,
		task.WorkerModule,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, log *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return &fxevent.ZapLogger{Logger: log.Named("fx")}
	}
	return fxevent.NopLogger
})
