package notification

import "go.uber.org/fx"

// Module provides the producer side used by the API process.
var Module = fx.Module("notification.dispatcher",
	fx.Provide(NewDispatcher),
)

// WorkerModule provides the asynq handlers that deliver notifications.
var WorkerModule = fx.Module("notification.worker",
	fx.Provide(NewLogMailer, NewHandler),
	fx.Invoke(RegisterHandlers),
)
