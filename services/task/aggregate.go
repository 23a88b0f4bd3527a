package task

import (
	"fmt"
	"time"

	"taskdesk/pkg/errutil"
)

const (
	managerReassignExtension = 2 * 24 * time.Hour
	staffReassignExtension   = 3 * 24 * time.Hour
	retryWindow              = 3 * 24 * time.Hour
)

type logEntry struct {
	action  Action
	by      string
	to      string
	remark  string
	message string
}

// appendLog is the only way entries reach Logs. Existing entries are never
// touched.
func (t *Task) appendLog(e logEntry, at time.Time) {
	t.Logs = append(t.Logs, Log{
		TaskID:     t.ID,
		TaskSerial: t.SerialNumber,
		Seq:        t.nextLogSeq(),
		Action:     e.action,
		By:         e.by,
		To:         e.to,
		Remark:     e.remark,
		Message:    e.message,
		At:         at,
	})
}

func (t *Task) nextLogSeq() int {
	if len(t.Logs) == 0 {
		return 1
	}
	return t.Logs[len(t.Logs)-1].Seq + 1
}

func (t *Task) recordAssigned(at time.Time) {
	t.appendLog(logEntry{
		action:  ActionAssigned,
		by:      t.AssignedBy,
		to:      t.AssignedTo,
		message: fmt.Sprintf("task %s assigned", t.SerialNumber),
	}, at)
}

func (t *Task) accept(by string, at time.Time) {
	t.Status = StatusInProgress
	t.appendLog(logEntry{action: ActionAccepted, by: by, message: "task accepted"}, at)
}

func (t *Task) reject(by, reason string, at time.Time) {
	t.Status = StatusRejected
	t.RejectReason = reason
	t.appendLog(logEntry{action: ActionRejected, by: by, remark: reason, message: "task rejected"}, at)
}

func (t *Task) complete(by string, at time.Time) {
	t.Status = StatusCompleted
	t.appendLog(logEntry{action: ActionCompleted, by: by, message: "task completed"}, at)
}

func (t *Task) handOver(by, to, remark string, at time.Time) {
	t.ReassignHistory = append(t.ReassignHistory, Reassignment{
		TaskID: t.ID,
		Seq:    len(t.ReassignHistory) + 1,
		By:     by,
		To:     to,
		Remark: remark,
		At:     at,
	})
	t.AssignedTo = to
	t.ReassignRemark = remark
	t.ReassignedAt = &at
}

// reassign hands the task to another user. A reassignment by the current
// assignee gives the new owner one extra day compared to one by a manager.
func (t *Task) reassign(by, to, remark string, byAssignee bool, at time.Time) {
	from := t.AssignedTo
	t.handOver(by, to, remark, at)
	t.Status = StatusPending
	t.RetryRequested = false
	t.RetryRequestedAt = nil

	action, ext := ActionReassigned, managerReassignExtension
	if byAssignee {
		action, ext = ActionReassignedByStaff, staffReassignExtension
	}
	t.DueDate = t.DueDate.Add(ext)

	t.appendLog(logEntry{
		action:  action,
		by:      by,
		to:      to,
		remark:  remark,
		message: fmt.Sprintf("task reassigned from %s to %s", from, to),
	}, at)
}

func (t *Task) requestRetry(by, remark, delayReason string, at time.Time) {
	t.RetryRequested = true
	t.RetryRequestedAt = &at
	t.Remark = remark
	t.DelayReason = delayReason
	t.appendLog(logEntry{action: ActionRetryRequested, by: by, remark: remark, message: "retry requested: " + delayReason}, at)
}

// acceptRetry resets the due date to at+3 days and, when to differs from the
// current assignee, hands the task over.
func (t *Task) acceptRetry(by, to string, at time.Time) {
	if to != "" && to != t.AssignedTo {
		t.handOver(by, to, "retry accepted", at)
	}
	t.RetryRequested = false
	t.RetryRequestedAt = nil
	t.Status = StatusPending
	t.DueDate = at.Add(retryWindow)
	t.appendLog(logEntry{action: ActionRetryAccepted, by: by, to: t.AssignedTo, message: "retry accepted"}, at)
}

func (t *Task) addRemark(by, remark, delayReason string, at time.Time) {
	t.Status = StatusRemarked
	t.Remark = remark
	t.DelayReason = delayReason
	t.appendLog(logEntry{action: ActionDelayed, by: by, remark: remark, message: "delayed: " + delayReason}, at)
}

func (t *Task) markOverdue(at time.Time) {
	t.Status = StatusOverdue
	t.appendLog(logEntry{action: ActionDelayed, message: "task passed its due date"}, at)
}

func (t *Task) markDeleted(by string, at time.Time) {
	t.appendLog(logEntry{action: ActionDeleted, by: by, message: fmt.Sprintf("task %s deleted", t.SerialNumber)}, at)
}

func (t *Task) addSubtask(title, description string, at time.Time) *Subtask {
	t.Subtasks = append(t.Subtasks, Subtask{
		TaskID:      t.ID,
		Position:    len(t.Subtasks),
		Title:       title,
		Description: description,
		Status:      SubtaskPending,
		CreatedAt:   at,
		UpdatedAt:   at,
	})
	return &t.Subtasks[len(t.Subtasks)-1]
}

// completeSubtask leaves the parent status untouched.
func (t *Task) completeSubtask(index int, at time.Time) error {
	if index < 0 || index >= len(t.Subtasks) {
		return errutil.ValidationFailed(fmt.Sprintf("subtask index %d out of range", index), nil,
			errutil.WithDetails(errutil.Detail{Field: "index", Message: fmt.Sprintf("must be between 0 and %d", len(t.Subtasks)-1)}))
	}
	t.Subtasks[index].Status = SubtaskCompleted
	t.Subtasks[index].UpdatedAt = at
	return nil
}

func (t *Task) addComment(author, text string, at time.Time) *Comment {
	t.Comments = append(t.Comments, Comment{
		TaskID:    t.ID,
		Author:    author,
		Text:      text,
		CreatedAt: at,
	})
	return &t.Comments[len(t.Comments)-1]
}
