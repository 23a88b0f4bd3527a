package taskname

// asynq task types
const (
	RecurrenceScan = "task:recurrence:scan"

	NotificationTaskAssigned = "notification:task_assigned"
	NotificationReminder     = "notification:reminder"
)

// asynq queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
