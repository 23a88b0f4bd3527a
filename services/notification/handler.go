package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskdesk/pkg/config"
	"taskdesk/pkg/rediskey"
	"taskdesk/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Mailer sends one email. Transport is deployment specific.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes outgoing mail to the log instead of an SMTP relay.
type LogMailer struct {
	From string
}

func NewLogMailer(cfg *config.Config) Mailer {
	return &LogMailer{From: cfg.Mail.From}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	zap.L().Info("mail sent",
		zap.String("from", m.From),
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_len", len(body)),
	)
	return nil
}

// Publisher is the slice of the redis client used for reminders.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Handler struct {
	mailer    Mailer
	publisher Publisher
	loc       *time.Location
}

type HandlerParams struct {
	fx.In
	Config *config.Config
	Mailer Mailer
	Redis  *redis.Client
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{mailer: p.Mailer, publisher: p.Redis, loc: p.Config.Location()}
}

func RegisterHandlers(mux *asynq.ServeMux, h *Handler) {
	mux.HandleFunc(taskname.NotificationTaskAssigned, h.HandleTaskAssigned)
	mux.HandleFunc(taskname.NotificationReminder, h.HandleReminder)
}

func (h *Handler) HandleTaskAssigned(ctx context.Context, t *asynq.Task) error {
	var payload TaskAssignedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	subject := "New task assigned: " + payload.Title
	body := fmt.Sprintf("You have been assigned %q. It is due on %s.",
		payload.Title, payload.DueDate.In(h.loc).Format("Mon, 02 Jan 2006"))
	if err := h.mailer.Send(ctx, payload.Email, subject, body); err != nil {
		zap.L().Error("failed to send assignment mail", zap.String("to", payload.Email), zap.Error(err))
		return err
	}
	return nil
}

// HandleReminder publishes on the user's reminder channel. Nobody listening
// means the user is offline, which is not an error.
func (h *Handler) HandleReminder(ctx context.Context, t *asynq.Task) error {
	var payload ReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	msg, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	channel := rediskey.BuildUserReminderChannel(payload.UserID)
	receivers, err := h.publisher.Publish(ctx, channel, msg).Result()
	if err != nil {
		zap.L().Error("failed to publish reminder", zap.String("channel", channel), zap.Error(err))
		return err
	}
	if receivers == 0 {
		zap.L().Debug("reminder dropped, user offline", zap.String("user_id", payload.UserID), zap.String("task_id", payload.TaskID))
	}
	return nil
}
