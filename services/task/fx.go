package task

import (
	"taskdesk/pkg/sequence"
	"taskdesk/services/directory"
	"taskdesk/services/notification"

	"go.uber.org/fx"
)

func provideSerialSource(repo Repository) sequence.SerialSource { return repo }

func provideUsers(d *directory.Service) UserLookup { return d }

func provideClients(d *directory.Service) ClientLookup { return d }

func provideNotifier(d *notification.Dispatcher) Notifier { return d }

// Module wires the lifecycle engine. It needs config, db, snowflake, the
// directory and a notification dispatcher.
var Module = fx.Module("task.service",
	fx.Provide(
		NewRepository,
		provideSerialSource,
		provideUsers,
		provideClients,
		provideNotifier,
		NewPolicy,
		NewService,
	),
	sequence.Module,
)

// APIModule mounts the HTTP routes.
var APIModule = fx.Module("task.api",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

// WorkerModule registers the scan handler and runs the daily scheduler.
var WorkerModule = fx.Module("task.worker",
	fx.Provide(NewScheduler),
	fx.Invoke(RegisterHandlers, StartScheduler),
)
