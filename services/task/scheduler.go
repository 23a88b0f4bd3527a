package task

import (
	"context"
	"encoding/json"
	"time"

	"taskdesk/pkg/config"
	pkgtask "taskdesk/pkg/task"
	"taskdesk/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ScanPayload struct {
	Day string `json:"day"`
}

// Scheduler enqueues the recurrence scan once per calendar day. The asynq
// task ID carries the day, so replicas racing on the same tick enqueue it
// only once.
type Scheduler struct {
	enqueuer pkgtask.Enqueuer
	loc      *time.Location
	hour     int
	minute   int
	now      func() time.Time
}

type SchedulerParams struct {
	fx.In
	Config   *config.Config
	Enqueuer pkgtask.Enqueuer
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{
		enqueuer: p.Enqueuer,
		loc:      p.Config.Location(),
		hour:     p.Config.Scheduler.Hour,
		minute:   p.Config.Scheduler.Minute,
		now:      time.Now,
	}
}

// StartScheduler runs the daily loop for the lifetime of the fx app.
func StartScheduler(lc fx.Lifecycle, cfg *config.Config, s *Scheduler) {
	if !cfg.Scheduler.Enabled {
		zap.L().Info("[Scheduler] disabled by config")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started recurrence scheduler",
		zap.Int("hour", s.hour), zap.Int("minute", s.minute), zap.String("timezone", s.loc.String()))

	// catch up a day whose run time passed while no scheduler was up
	if err := s.Enqueue(ctx); err != nil {
		zap.L().Error("[Scheduler] failed initial enqueue", zap.Error(err))
	}

	for {
		now := s.now().In(s.loc)
		next := nextRunTime(now, s.hour, s.minute)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.runDaily(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Scheduler] Running daily recurrence enqueue")

	if err := s.Enqueue(ctx); err != nil {
		zap.L().Error("[Scheduler] failed enqueue recurrence scan", zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] Finished enqueue recurrence scan",
		zap.Duration("duration", time.Since(start)),
	)
}

// Enqueue submits today's scan. A scan already queued for today is not an
// error.
func (s *Scheduler) Enqueue(ctx context.Context) error {
	day := s.now().In(s.loc).Format(time.DateOnly)
	payload, err := json.Marshal(ScanPayload{Day: day})
	if err != nil {
		return err
	}

	info, err := s.enqueuer.Enqueue(ctx,
		asynq.NewTask(taskname.RecurrenceScan, payload),
		asynq.TaskID(ScanTaskID(day)),
		asynq.Queue(taskname.QueueDefault),
		asynq.MaxRetry(3),
		asynq.Retention(48*time.Hour),
	)
	if err != nil {
		if pkgtask.IsDuplicate(err) {
			zap.L().Info("[Scheduler] recurrence scan already enqueued", zap.String("day", day))
			return nil
		}
		return err
	}

	zap.L().Info("[Scheduler] enqueued recurrence scan", zap.String("day", day), zap.String("asynq_id", info.ID))
	return nil
}

func ScanTaskID(day string) string {
	return "recurrence-scan:" + day
}

// nextRunTime returns the next instant at hour:minute on or after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
