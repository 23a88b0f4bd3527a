package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"taskdesk/pkg/db/pagination"
	"taskdesk/pkg/errutil"

	"github.com/stretchr/testify/require"
)

func TestCreateTask(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.create(t)
	require.Equal(t, "TN0001", first.SerialNumber)
	require.Equal(t, StatusPending, first.Status)
	require.Equal(t, "mgr", first.AssignedBy)
	require.Equal(t, []string{"vat", "quarterly"}, []string(first.Tags))

	second := e.create(t)
	require.Equal(t, "TN0002", second.SerialNumber)

	stored := e.reload(t, first.ID)
	require.Equal(t, []Action{ActionAssigned}, actions(stored.Logs))
	require.Equal(t, "u1", stored.Logs[0].To)
	require.Equal(t, "TN0001", stored.Logs[0].TaskSerial)

	require.Len(t, e.notifier.assigned, 2)
	require.Equal(t, "udin@firm.test", e.notifier.assigned[0].Email)

	_, err := e.svc.CreateTask(ctx, staff1, e.input())
	require.True(t, errutil.Is(err, errutil.StatusForbidden))
}

func TestCreateTaskValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateTaskInput
		code errutil.CoreStatus
	}{
		{name: "missing title", in: e.input(func(in *CreateTaskInput) { in.Title = "" }), code: errutil.StatusValidationFailed},
		{name: "bad priority", in: e.input(func(in *CreateTaskInput) { in.Priority = "Urgent" }), code: errutil.StatusValidationFailed},
		{name: "missing due date", in: e.input(func(in *CreateTaskInput) { in.DueDate = time.Time{} }), code: errutil.StatusValidationFailed},
		{name: "recurring without frequency", in: e.input(func(in *CreateTaskInput) { in.Recurring = true }), code: errutil.StatusValidationFailed},
		{name: "unknown assignee", in: e.input(func(in *CreateTaskInput) { in.AssignedTo = "ghost" }), code: errutil.StatusNotFound},
		{name: "unknown client", in: e.input(func(in *CreateTaskInput) { in.ClientID = "nope" }), code: errutil.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.CreateTask(ctx, manager, tt.in)
			require.Error(t, err)
			require.Equal(t, tt.code, errutil.Code(err))
		})
	}
}

func TestCreateTaskRecurringDefaultsLastRecurringDate(t *testing.T) {
	e := newEnv(t)
	freq := Monthly

	task := e.create(t, func(in *CreateTaskInput) {
		in.Recurring = true
		in.RecurringFrequency = &freq
	})
	require.NotNil(t, task.LastRecurringDate)
	require.True(t, date(2025, 1, 1).Equal(*task.LastRecurringDate))
}

func TestCreateTaskRegeneratesSerialOnCollision(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.db.Create(&SerialRecord{Serial: "TN0001", TaskID: "other", CreatedAt: e.clock.Now()}).Error)

	var calls atomic.Int32
	e.svc.seq = &fakeSeq{nextFn: func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "TN0001", nil
		}
		return "TN0002", nil
	}}

	task := e.create(t)
	require.Equal(t, "TN0002", task.SerialNumber)
	require.EqualValues(t, 2, calls.Load())
	require.Len(t, e.reload(t, task.ID).Logs, 1)
}

func TestCreateTaskGivesUpAfterRepeatedCollisions(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.db.Create(&SerialRecord{Serial: "TN0001", TaskID: "other", CreatedAt: e.clock.Now()}).Error)
	e.svc.seq = &fakeSeq{nextFn: func(ctx context.Context) (string, error) { return "TN0001", nil }}

	_, err := e.svc.CreateTask(context.Background(), manager, e.input())
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	var count int64
	require.NoError(t, e.db.Model(&Task{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateTaskSerialFollowsNumberNotIssueTime(t *testing.T) {
	e := newEnv(t)
	t0 := e.clock.Now()

	e.clock.Set(t0.Add(2 * time.Second))
	require.Equal(t, "TN0001", e.create(t).SerialNumber)

	// a second writer with a slower clock commits the next serial
	e.clock.Set(t0.Add(time.Second))
	require.Equal(t, "TN0002", e.create(t).SerialNumber)

	e.clock.Set(t0.Add(10 * time.Second))
	require.Equal(t, "TN0003", e.create(t).SerialNumber)
}

func TestLatestSerialOrdersByNumber(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	t0 := e.clock.Now()

	latest, err := e.repo.LatestSerial(ctx)
	require.NoError(t, err)
	require.Empty(t, latest)

	require.NoError(t, e.db.Create([]SerialRecord{
		{Serial: "TN9999", TaskID: "a", CreatedAt: t0.Add(time.Hour)},
		{Serial: "TN10000", TaskID: "b", CreatedAt: t0},
		{Serial: "TN0500", TaskID: "c", CreatedAt: t0.Add(2 * time.Hour)},
	}).Error)

	latest, err = e.repo.LatestSerial(ctx)
	require.NoError(t, err)
	require.Equal(t, "TN10000", latest)
}

func TestNotificationFailureDoesNotUndoCreate(t *testing.T) {
	e := newEnv(t)
	e.notifier.taskAssignedFn = func(ctx context.Context, email, title string, due time.Time) error {
		return errors.New("queue unavailable")
	}

	task, err := e.svc.CreateTask(context.Background(), manager, e.input())
	require.NoError(t, err)
	require.Equal(t, StatusPending, e.reload(t, task.ID).Status)
}

func TestAcceptThenComplete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t)
	assigned := e.reload(t, task.ID).Logs[0]

	e.clock.Advance(time.Minute)
	_, err := e.svc.AcceptTask(ctx, staff1, task.ID)
	require.NoError(t, err)

	e.clock.Advance(time.Minute)
	done, err := e.svc.CompleteTask(ctx, staff1, task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)

	stored := e.reload(t, task.ID)
	require.Equal(t, StatusCompleted, stored.Status)
	require.Equal(t, []Action{ActionAssigned, ActionAccepted, ActionCompleted}, actions(stored.Logs))
	for i := 1; i < len(stored.Logs); i++ {
		require.Greater(t, stored.Logs[i].Seq, stored.Logs[i-1].Seq)
		require.False(t, stored.Logs[i].At.Before(stored.Logs[i-1].At))
	}
	// earlier entries are untouched
	require.Equal(t, assigned, stored.Logs[0])
}

func TestAcceptOnlyFromPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, status := range []Status{StatusInProgress, StatusCompleted, StatusRejected, StatusOverdue, StatusRemarked} {
		t.Run(string(status), func(t *testing.T) {
			task := e.create(t)
			e.setStatus(t, task.ID, status)

			_, err := e.svc.AcceptTask(ctx, staff1, task.ID)
			require.True(t, errutil.Is(err, errutil.StatusInvalidOperation), "got %v", err)
			require.Len(t, e.reload(t, task.ID).Logs, 1)
		})
	}
}

func TestAcceptRequiresAssignee(t *testing.T) {
	e := newEnv(t)
	task := e.create(t)

	_, err := e.svc.AcceptTask(context.Background(), manager, task.ID)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	_, err = e.svc.AcceptTask(context.Background(), staff2, task.ID)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))
}

func TestTaskNotFound(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.AcceptTask(context.Background(), staff1, "missing")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestRejectTask(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t)

	_, err := e.svc.RejectTask(ctx, staff1, task.ID, "  ")
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	rejected, err := e.svc.RejectTask(ctx, staff1, task.ID, "not our client")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)

	stored := e.reload(t, task.ID)
	require.Equal(t, "not our client", stored.RejectReason)
	require.Equal(t, ActionRejected, stored.Logs[len(stored.Logs)-1].Action)
}

func TestCompletePendingIsInvalid(t *testing.T) {
	e := newEnv(t)
	task := e.create(t)

	_, err := e.svc.CompleteTask(context.Background(), staff1, task.ID)
	require.True(t, errutil.Is(err, errutil.StatusInvalidOperation))
}

func TestReassignTask(t *testing.T) {
	ctx := context.Background()

	t.Run("same assignee", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t)
		_, err := e.svc.ReassignTask(ctx, manager, task.ID, ReassignInput{To: "u1"})
		require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
	})

	t.Run("unknown assignee", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t)
		_, err := e.svc.ReassignTask(ctx, manager, task.ID, ReassignInput{To: "ghost"})
		require.True(t, errutil.Is(err, errutil.StatusNotFound))
	})

	t.Run("by manager", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t)
		require.NoError(t, e.db.Model(&Task{}).Where("id = ?", task.ID).Update("retry_requested", true).Error)

		out, err := e.svc.ReassignTask(ctx, manager, task.ID, ReassignInput{To: "u2", Remark: "workload"})
		require.NoError(t, err)
		require.Equal(t, "u2", out.AssignedTo)
		require.False(t, out.RetryRequested)
		require.True(t, task.DueDate.Add(48*time.Hour).Equal(out.DueDate))

		stored := e.reload(t, task.ID)
		require.Len(t, stored.ReassignHistory, 1)
		require.Equal(t, "mgr", stored.ReassignHistory[0].By)
		require.Equal(t, "u2", stored.ReassignHistory[0].To)
		require.Equal(t, ActionReassigned, stored.Logs[len(stored.Logs)-1].Action)
		require.Equal(t, "uli@firm.test", e.notifier.assigned[len(e.notifier.assigned)-1].Email)
	})

	t.Run("by assignee", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t)
		_, err := e.svc.AcceptTask(ctx, staff1, task.ID)
		require.NoError(t, err)

		out, err := e.svc.ReassignTask(ctx, staff1, task.ID, ReassignInput{To: "u2", Remark: "on leave"})
		require.NoError(t, err)
		require.Equal(t, StatusPending, out.Status)
		require.True(t, task.DueDate.Add(72*time.Hour).Equal(out.DueDate))
		require.Equal(t, ActionReassignedByStaff, out.Logs[len(out.Logs)-1].Action)
	})

	t.Run("completed task cannot move back", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t)
		e.setStatus(t, task.ID, StatusCompleted)
		_, err := e.svc.ReassignTask(ctx, manager, task.ID, ReassignInput{To: "u2"})
		require.True(t, errutil.Is(err, errutil.StatusForbidden))
	})
}

func TestRetryFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t, func(in *CreateTaskInput) { in.DueDate = date(2024, 12, 30) })

	_, err := e.svc.AcceptRetry(ctx, manager, task.ID, "u2")
	require.True(t, errutil.Is(err, errutil.StatusInvalidOperation))

	_, err = e.svc.RequestRetry(ctx, manager, task.ID, RemarkInput{Remark: "x"})
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	flagged, err := e.svc.RequestRetry(ctx, staff1, task.ID, RemarkInput{Remark: "client late", DelayReason: "documents missing"})
	require.NoError(t, err)
	require.True(t, flagged.RetryRequested)
	require.Equal(t, StatusPending, flagged.Status)

	_, err = e.svc.RequestRetry(ctx, staff1, task.ID, RemarkInput{Remark: "again"})
	require.True(t, errutil.Is(err, errutil.StatusInvalidOperation))

	e.clock.Advance(time.Hour)
	now := e.clock.Now()
	out, err := e.svc.AcceptRetry(ctx, manager, task.ID, "u2")
	require.NoError(t, err)
	require.False(t, out.RetryRequested)
	require.Equal(t, "u2", out.AssignedTo)
	require.True(t, now.Add(72*time.Hour).Equal(out.DueDate))

	stored := e.reload(t, task.ID)
	require.Equal(t, []Action{ActionAssigned, ActionRetryRequested, ActionRetryAccepted}, actions(stored.Logs))
	require.Len(t, stored.ReassignHistory, 1)
	require.Nil(t, stored.RetryRequestedAt)
}

func TestRequestRetryBeforeDueDate(t *testing.T) {
	e := newEnv(t)
	task := e.create(t)

	_, err := e.svc.RequestRetry(context.Background(), staff1, task.ID, RemarkInput{Remark: "early"})
	require.True(t, errutil.Is(err, errutil.StatusInvalidOperation))
}

func TestRequestRetryOnlyWhenPending(t *testing.T) {
	e := newEnv(t)
	task := e.create(t, func(in *CreateTaskInput) { in.DueDate = date(2024, 12, 30) })
	e.setStatus(t, task.ID, StatusInProgress)

	_, err := e.svc.RequestRetry(context.Background(), staff1, task.ID, RemarkInput{Remark: "late"})
	require.True(t, errutil.Is(err, errutil.StatusInvalidOperation))
}

func TestAddRemark(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t)

	_, err := e.svc.AddRemark(ctx, staff1, task.ID, RemarkInput{Remark: "waiting"})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	out, err := e.svc.AddRemark(ctx, staff1, task.ID, RemarkInput{Remark: "waiting", DelayReason: "bank statements"})
	require.NoError(t, err)
	require.Equal(t, StatusRemarked, out.Status)
	require.Equal(t, ActionDelayed, out.Logs[len(out.Logs)-1].Action)

	_, err = e.svc.CompleteTask(ctx, staff1, task.ID)
	require.NoError(t, err)

	_, err = e.svc.AddRemark(ctx, staff1, task.ID, RemarkInput{Remark: "reopen", DelayReason: "audit"})
	require.True(t, errutil.Is(err, errutil.StatusForbidden))
}

func TestSubtasks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t)

	_, err := e.svc.AddSubtask(ctx, staff1, task.ID, SubtaskInput{})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = e.svc.AddSubtask(ctx, staff1, task.ID, SubtaskInput{Title: "collect invoices"})
	require.NoError(t, err)
	_, err = e.svc.AddSubtask(ctx, manager, task.ID, SubtaskInput{Title: "reconcile"})
	require.NoError(t, err)

	_, err = e.svc.CompleteSubtask(ctx, staff1, task.ID, 5)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
	_, err = e.svc.CompleteSubtask(ctx, staff1, task.ID, -1)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	out, err := e.svc.CompleteSubtask(ctx, staff1, task.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPending, out.Status)

	stored := e.reload(t, task.ID)
	require.Len(t, stored.Subtasks, 2)
	require.Equal(t, "collect invoices", stored.Subtasks[0].Title)
	require.Equal(t, SubtaskPending, stored.Subtasks[0].Status)
	require.Equal(t, SubtaskCompleted, stored.Subtasks[1].Status)
}

func TestAddComment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t)

	_, err := e.svc.AddComment(ctx, staff2, task.ID, "")
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = e.svc.AddComment(ctx, staff2, task.ID, "I can help")
	require.NoError(t, err)
	_, err = e.svc.AddComment(ctx, staff1, task.ID, "thanks")
	require.NoError(t, err)

	stored := e.reload(t, task.ID)
	require.Len(t, stored.Comments, 2)
	require.Equal(t, "u2", stored.Comments[0].Author)
}

func TestDeleteTaskKeepsAuditTrailAndSerial(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t)
	_, err := e.svc.AddSubtask(ctx, staff1, task.ID, SubtaskInput{Title: "step"})
	require.NoError(t, err)

	require.True(t, errutil.Is(e.svc.DeleteTask(ctx, staff1, task.ID), errutil.StatusForbidden))
	require.NoError(t, e.svc.DeleteTask(ctx, manager, task.ID))

	_, err = e.svc.GetTask(ctx, manager, task.ID)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	logs, err := e.svc.GetTaskLogs(ctx, manager, LogFilter{TaskID: task.ID})
	require.NoError(t, err)
	require.Equal(t, []Action{ActionAssigned, ActionDeleted}, actions(logs))
	require.Equal(t, "TN0001", logs[1].TaskSerial)
	require.Equal(t, "mgr", logs[1].By)

	var subtasks int64
	require.NoError(t, e.db.Model(&Subtask{}).Where("task_id = ?", task.ID).Count(&subtasks).Error)
	require.Zero(t, subtasks)

	next := e.create(t)
	require.Equal(t, "TN0002", next.SerialNumber)
}

func TestGetTaskVisibility(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t)

	_, err := e.svc.GetTask(ctx, staff1, task.ID)
	require.NoError(t, err)

	_, err = e.svc.GetTask(ctx, staff2, task.ID)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	_, err = e.svc.GetTask(ctx, admin, task.ID)
	require.NoError(t, err)
}

func TestListTasks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.create(t, func(in *CreateTaskInput) { in.Title = "Payroll January" })
	e.clock.Advance(time.Minute)
	e.create(t, func(in *CreateTaskInput) { in.Title = "Annual audit"; in.AssignedTo = "u2"; in.Tags = []string{"audit"} })
	e.clock.Advance(time.Minute)
	third := e.create(t, func(in *CreateTaskInput) { in.Title = "Payroll February"; in.ClientID = "" })

	all, page, err := e.svc.ListTasks(ctx, manager, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.False(t, page.HasMore)
	require.Equal(t, third.ID, all[0].ID)

	own, _, err := e.svc.ListTasks(ctx, staff2, Filter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	require.Equal(t, "Annual audit", own[0].Title)

	others, _, err := e.svc.ListTasks(ctx, staff2, Filter{AssignedTo: "u1"})
	require.NoError(t, err)
	require.Empty(t, others)

	search, _, err := e.svc.ListTasks(ctx, manager, Filter{Search: "payroll"})
	require.NoError(t, err)
	require.Len(t, search, 2)

	byTag, _, err := e.svc.ListTasks(ctx, manager, Filter{Search: "audit"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)

	bySerial, _, err := e.svc.ListTasks(ctx, manager, Filter{Search: "tn0003"})
	require.NoError(t, err)
	require.Len(t, bySerial, 1)

	byClient, _, err := e.svc.ListTasks(ctx, manager, Filter{ClientID: "c1"})
	require.NoError(t, err)
	require.Len(t, byClient, 2)

	since := date(2025, 1, 1).Add(9*time.Hour + 90*time.Second)
	recent, _, err := e.svc.ListTasks(ctx, manager, Filter{CreatedSince: &since})
	require.NoError(t, err)
	require.Len(t, recent, 1)

	first, page, err := e.svc.ListTasks(ctx, manager, Filter{Pagination: pagination.Pagination{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, page.HasMore)

	rest, page, err := e.svc.ListTasks(ctx, manager, Filter{Pagination: pagination.Pagination{Limit: 2, Cursor: page.NextCursor}})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.False(t, page.HasMore)

	_, _, err = e.svc.ListTasks(ctx, manager, Filter{Pagination: pagination.Pagination{Cursor: "%%%"}})
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))
}

func TestListTasksIncludesTasksAssignedByCaller(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t, func(in *CreateTaskInput) { in.AssignedTo = "u2" })
	require.NoError(t, e.db.Model(&Task{}).Where("id = ?", task.ID).Update("assigned_by", "u1").Error)

	listed, _, err := e.svc.ListTasks(ctx, staff1, Filter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, task.ID, listed[0].ID)

	_, err = e.svc.GetTask(ctx, staff1, task.ID)
	require.NoError(t, err)

	byOthers, _, err := e.svc.ListTasks(ctx, staff1, Filter{AssignedTo: "u2"})
	require.NoError(t, err)
	require.Len(t, byOthers, 1)
}

func TestGetTaskLogsScopedForStaff(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t)
	_, err := e.svc.AcceptTask(ctx, staff1, task.ID)
	require.NoError(t, err)
	e.create(t, func(in *CreateTaskInput) { in.AssignedTo = "u2" })

	logs, err := e.svc.GetTaskLogs(ctx, staff1, LogFilter{})
	require.NoError(t, err)
	require.Equal(t, []Action{ActionAssigned, ActionAccepted}, actions(logs))
	for _, l := range logs {
		require.Equal(t, task.ID, l.TaskID)
	}

	logs, err = e.svc.GetTaskLogs(ctx, staff2, LogFilter{TaskID: task.ID})
	require.NoError(t, err)
	require.Empty(t, logs)

	logs, err = e.svc.GetTaskLogs(ctx, manager, LogFilter{Action: ActionAssigned})
	require.NoError(t, err)
	require.Len(t, logs, 1)
}
