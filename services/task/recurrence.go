package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskdesk/pkg/errutil"
	"taskdesk/pkg/logger"

	"go.uber.org/zap"
)

// Advance moves t forward by one period of f. Month arithmetic follows
// time.AddDate, so a day that does not exist in the target month rolls over:
// 2024-01-31 plus one month is 2024-03-02.
func Advance(t time.Time, f Frequency) (time.Time, error) {
	switch f {
	case Weekly:
		return t.AddDate(0, 0, 7), nil
	case Monthly:
		return t.AddDate(0, 1, 0), nil
	case Quarterly:
		return t.AddDate(0, 3, 0), nil
	case HalfYearly:
		return t.AddDate(0, 6, 0), nil
	case Annually:
		return t.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported recurrence frequency %q", f)
	}
}

type ScanOutcome string

const (
	OutcomeSpawned ScanOutcome = "spawned"
	OutcomeSkipped ScanOutcome = "skipped"
	OutcomeFailed  ScanOutcome = "failed"
)

type ScanResult struct {
	TaskID      string      `json:"task_id"`
	Serial      string      `json:"serial"`
	Outcome     ScanOutcome `json:"outcome"`
	SuccessorID string      `json:"successor_id,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Err         error       `json:"-"`
}

type ScanReport struct {
	Day         time.Time    `json:"day"`
	Results     []ScanResult `json:"results"`
	MarkedLate  int          `json:"marked_overdue"`
	Reminded    int          `json:"reminded"`
	SweepErrors int          `json:"sweep_errors"`
}

func (r *ScanReport) Count(o ScanOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

var errOccurrenceTaken = errors.New("occurrence already spawned")

// RunScan is the manual trigger of the daily scan.
func (s *Service) RunScan(ctx context.Context, actor Actor) (*ScanReport, error) {
	if err := s.authorize(actor, nil, OpRunScan); err != nil {
		return nil, err
	}
	return s.RunRecurrenceScan(ctx)
}

// RunRecurrenceScan spawns due successors of every recurring series and then
// sweeps overdue tasks. A failing task is reported in its result and never
// stops the scan. Running it again on the same day spawns nothing new.
func (s *Service) RunRecurrenceScan(ctx context.Context) (*ScanReport, error) {
	ctx, span := tracer.Start(ctx, "task.RunRecurrenceScan")
	defer span.End()

	log := logger.FromContext(ctx)
	today := s.today()
	report := &ScanReport{Day: today}

	heads, err := s.repo.FindRecurringHeads(ctx)
	if err != nil {
		log.Error("failed to list recurring tasks", zap.Error(err))
		return nil, errutil.Internal("failed to list recurring tasks", err)
	}

	for _, head := range heads {
		res := s.scanOne(ctx, head, today)
		switch res.Outcome {
		case OutcomeFailed:
			log.Error("recurrence failed for task", zap.String("task_id", res.TaskID), zap.String("serial", res.Serial), zap.Error(res.Err))
		case OutcomeSpawned:
			log.Info("recurring task spawned", zap.String("task_id", res.TaskID), zap.String("successor_id", res.SuccessorID))
		}
		s.metrics.scanResult(ctx, res.Outcome)
		report.Results = append(report.Results, res)
	}

	s.sweepOverdue(ctx, report)

	log.Info("recurrence scan finished",
		zap.Time("day", today),
		zap.Int("spawned", report.Count(OutcomeSpawned)),
		zap.Int("skipped", report.Count(OutcomeSkipped)),
		zap.Int("failed", report.Count(OutcomeFailed)),
		zap.Int("marked_overdue", report.MarkedLate),
		zap.Int("reminded", report.Reminded),
	)
	return report, nil
}

func (s *Service) scanOne(ctx context.Context, head *Task, today time.Time) ScanResult {
	res := ScanResult{TaskID: head.ID, Serial: head.SerialNumber}
	fail := func(err error) ScanResult {
		res.Outcome, res.Err, res.Reason = OutcomeFailed, err, err.Error()
		return res
	}

	if head.RecurringFrequency == nil {
		return fail(errors.New("recurring task has no frequency"))
	}
	freq := *head.RecurringFrequency

	last := head.DueDate
	if head.LastRecurringDate != nil {
		last = *head.LastRecurringDate
	}
	next, err := Advance(last, freq)
	if err != nil {
		return fail(err)
	}
	if startOfDay(next, s.loc).After(today) {
		res.Outcome, res.Reason = OutcomeSkipped, "next occurrence on "+next.In(s.loc).Format(time.DateOnly)
		return res
	}

	due, err := Advance(head.DueDate, freq)
	if err != nil {
		return fail(err)
	}

	now := s.now()
	scheduled, lastRecurring := today, today
	successor := &Task{
		ID:                 s.node.Generate().String(),
		Title:              head.Title,
		Description:        head.Description,
		Priority:           head.Priority,
		ServiceType:        head.ServiceType,
		Tags:               append([]string{}, head.Tags...),
		ClientID:           head.ClientID,
		Attachments:        append([]string{}, head.Attachments...),
		DueDate:            due,
		ScheduledDate:      &scheduled,
		CreatedAt:          now,
		UpdatedAt:          now,
		AssignedTo:         head.AssignedTo,
		AssignedBy:         head.AssignedBy,
		Status:             StatusPending,
		Recurring:          true,
		RecurringFrequency: &freq,
		LastRecurringDate:  &lastRecurring,
	}

	err = s.create(ctx, successor, func(t *Task) error {
		spawned, err := s.repo.SpawnSuccessor(ctx, head, t, today)
		if err != nil {
			return err
		}
		if !spawned {
			return errOccurrenceTaken
		}
		return nil
	})
	switch {
	case errors.Is(err, errOccurrenceTaken):
		res.Outcome, res.Reason = OutcomeSkipped, "occurrence already spawned"
		return res
	case err != nil:
		return fail(err)
	}

	res.Outcome, res.SuccessorID = OutcomeSpawned, successor.ID
	s.notifyAssigned(ctx, successor, nil)
	return res
}

// sweepOverdue moves late InProgress tasks to Overdue and reminds assignees
// of late Pending tasks that have not asked for a retry.
func (s *Service) sweepOverdue(ctx context.Context, report *ScanReport) {
	log := logger.FromContext(ctx)
	now := s.now()

	tasks, err := s.repo.FindOverdue(ctx, now)
	if err != nil {
		log.Error("failed to list overdue tasks", zap.Error(err))
		report.SweepErrors++
		s.metrics.sweepAction(ctx, "error")
		return
	}

	for _, t := range tasks {
		switch t.Status {
		case StatusInProgress:
			t.markOverdue(now)
			if err := s.save(ctx, t, OpMarkOverdue); err != nil {
				report.SweepErrors++
				s.metrics.sweepAction(ctx, "error")
				continue
			}
			report.MarkedLate++
			s.metrics.sweepAction(ctx, "marked_overdue")
		case StatusPending:
			if t.RetryRequested {
				continue
			}
			s.remind(ctx, t, fmt.Sprintf("Task %s %q was due on %s", t.SerialNumber, t.Title, t.DueDate.In(s.loc).Format(time.DateOnly)))
			report.Reminded++
			s.metrics.sweepAction(ctx, "reminded")
		}
	}
}
