package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pkgtask "taskdesk/pkg/task"
	"taskdesk/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type TaskAssignedPayload struct {
	Email   string    `json:"email"`
	Title   string    `json:"title"`
	DueDate time.Time `json:"due_date"`
}

type ReminderPayload struct {
	UserID  string `json:"user_id"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// Dispatcher queues notifications for the worker. Enqueueing is the only
// work done on the caller's path.
type Dispatcher struct {
	enqueuer pkgtask.Enqueuer
}

type DispatcherParams struct {
	fx.In
	Enqueuer pkgtask.Enqueuer
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{enqueuer: p.Enqueuer}
}

func (d *Dispatcher) TaskAssigned(ctx context.Context, email, title string, due time.Time) error {
	if email == "" {
		return fmt.Errorf("assignee has no email address")
	}
	return d.enqueue(ctx, taskname.NotificationTaskAssigned, TaskAssignedPayload{Email: email, Title: title, DueDate: due},
		asynq.Queue(taskname.QueueCritical), asynq.MaxRetry(5))
}

func (d *Dispatcher) Reminder(ctx context.Context, userID, taskID, message string) error {
	return d.enqueue(ctx, taskname.NotificationReminder, ReminderPayload{UserID: userID, TaskID: taskID, Message: message},
		asynq.Queue(taskname.QueueLow), asynq.MaxRetry(1), asynq.Timeout(30*time.Second))
}

func (d *Dispatcher) enqueue(ctx context.Context, typename string, payload any, opts ...asynq.Option) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typename, err)
	}
	info, err := d.enqueuer.Enqueue(ctx, asynq.NewTask(typename, b), opts...)
	if err != nil {
		return err
	}
	zap.L().Debug("notification enqueued", zap.String("task_type", typename), zap.String("asynq_id", info.ID), zap.String("queue", info.Queue))
	return nil
}
