package task

import (
	"fmt"
	"slices"

	"taskdesk/pkg/errutil"
)

// Operation names a lifecycle operation. The values double as casbin actions.
type Operation string

const (
	OpCreate          Operation = "create"
	OpAccept          Operation = "accept"
	OpReject          Operation = "reject"
	OpComplete        Operation = "complete"
	OpReassign        Operation = "reassign"
	OpRequestRetry    Operation = "request_retry"
	OpAcceptRetry     Operation = "accept_retry"
	OpAddRemark       Operation = "add_remark"
	OpAddSubtask      Operation = "add_subtask"
	OpCompleteSubtask Operation = "complete_subtask"
	OpAddComment      Operation = "add_comment"
	OpDelete          Operation = "delete"
	OpView            Operation = "view"
	OpRunScan         Operation = "run_scan"

	// OpListAll widens listings beyond the caller's own tasks.
	OpListAll Operation = "list_all"

	// OpMarkOverdue is applied by the overdue sweep only.
	OpMarkOverdue Operation = "mark_overdue"
)

var nonTerminal = []Status{StatusPending, StatusInProgress, StatusOverdue, StatusRemarked}

// allowedFrom lists the source states of each status-changing operation.
// Operations missing from the map are legal in every state.
var allowedFrom = map[Operation][]Status{
	OpAccept:       {StatusPending},
	OpReject:       {StatusPending},
	OpComplete:     {StatusInProgress, StatusOverdue, StatusRemarked},
	OpReassign:     nonTerminal,
	OpRequestRetry: {StatusPending},
	OpAcceptRetry:  {StatusPending},
	OpAddRemark:    nonTerminal,
}

// reopening lists operations that would move a finished task back into an
// active state.
var reopening = []Operation{OpReassign, OpAddRemark}

// checkTransition rejects an operation that is not legal from the current
// status. Reopening a terminal task is forbidden rather than merely invalid.
func checkTransition(op Operation, from Status) error {
	states, ok := allowedFrom[op]
	if !ok || slices.Contains(states, from) {
		return nil
	}
	if from.Terminal() && slices.Contains(reopening, op) {
		return errutil.Forbidden(fmt.Sprintf("task is %s and cannot move back", from), nil)
	}
	return errutil.InvalidOperation(fmt.Sprintf("cannot %s a task in status %s", op, from), nil)
}
