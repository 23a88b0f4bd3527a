package task

import (
	"context"
	"encoding/json"
	"fmt"

	"taskdesk/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// RegisterHandlers mounts the task worker handlers on the asynq mux.
func RegisterHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.RecurrenceScan, svc.HandleRecurrenceScan)
}

// HandleRecurrenceScan decodes the payload and delegates to
// RunRecurrenceScan. Per-task failures are in the report and do not fail the
// asynq task; only a failed listing is retried.
func (s *Service) HandleRecurrenceScan(ctx context.Context, t *asynq.Task) error {
	var payload ScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
		}
	}

	zapLog := zap.L().With(zap.String("task_type", t.Type()), zap.String("day", payload.Day))
	zapLog.Info("start recurrence scan task")

	report, err := s.RunRecurrenceScan(ctx)
	if err != nil {
		zapLog.Error("recurrence scan failed", zap.Error(err))
		return err
	}

	zapLog.Info("recurrence scan task done",
		zap.Int("spawned", report.Count(OutcomeSpawned)),
		zap.Int("failed", report.Count(OutcomeFailed)),
	)
	return nil
}
