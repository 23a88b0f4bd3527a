package task

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusRejected   Status = "Rejected"
	StatusOverdue    Status = "Overdue"
	StatusRemarked   Status = "Remarked"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

type Frequency string

const (
	Weekly     Frequency = "weekly"
	Monthly    Frequency = "monthly"
	Quarterly  Frequency = "3months"
	HalfYearly Frequency = "6months"
	Annually   Frequency = "annually"
)

// Valid reports whether f is one of the supported recurrence frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case Weekly, Monthly, Quarterly, HalfYearly, Annually:
		return true
	}
	return false
}

type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "Pending"
	SubtaskInProgress SubtaskStatus = "InProgress"
	SubtaskCompleted  SubtaskStatus = "Completed"
)

type Action string

const (
	ActionAssigned          Action = "Assigned"
	ActionAccepted          Action = "Accepted"
	ActionRejected          Action = "Rejected"
	ActionReassigned        Action = "Reassigned"
	ActionReassignedByStaff Action = "ReassignedByStaff"
	ActionCompleted         Action = "Completed"
	ActionRetryRequested    Action = "RetryRequested"
	ActionRetryAccepted     Action = "RetryAccepted"
	ActionDelayed           Action = "Delayed"
	ActionDeleted           Action = "Deleted"
)

// Task is the aggregate root. Its collections are only ever changed through
// the methods in aggregate.go; rows without an ID are new and get inserted on
// the next save.
type Task struct {
	ID                 string                      `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	SerialNumber       string                      `gorm:"column:serial_number;uniqueIndex;type:varchar(16);not null" json:"serial_number"`
	Title              string                      `gorm:"column:title;type:varchar(200);not null" json:"title"`
	Description        string                      `gorm:"column:description;type:text" json:"description"`
	Priority           Priority                    `gorm:"column:priority;type:varchar(10);not null" json:"priority"`
	ServiceType        string                      `gorm:"column:service_type;type:varchar(100)" json:"service_type"`
	Tags               datatypes.JSONSlice[string] `gorm:"column:tags" json:"tags"`
	ClientID           string                      `gorm:"column:client_id;index;type:varchar(32)" json:"client_id,omitempty"`
	Attachments        datatypes.JSONSlice[string] `gorm:"column:attachments" json:"attachments"`
	DueDate            time.Time                   `gorm:"column:due_date;index;not null" json:"due_date"`
	ScheduledDate      *time.Time                  `gorm:"column:scheduled_date" json:"scheduled_date,omitempty"`
	CreatedAt          time.Time                   `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt          time.Time                   `gorm:"column:updated_at" json:"updated_at"`
	AssignedTo         string                      `gorm:"column:assigned_to;index;type:varchar(32);not null" json:"assigned_to"`
	AssignedBy         string                      `gorm:"column:assigned_by;index;type:varchar(32);not null" json:"assigned_by"`
	Status             Status                      `gorm:"column:status;index;type:varchar(20);not null" json:"status"`
	RejectReason       string                      `gorm:"column:reject_reason;type:text" json:"reject_reason,omitempty"`
	Remark             string                      `gorm:"column:remark;type:text" json:"remark,omitempty"`
	DelayReason        string                      `gorm:"column:delay_reason;type:text" json:"delay_reason,omitempty"`
	RetryRequested     bool                        `gorm:"column:retry_requested;default:false" json:"retry_requested"`
	RetryRequestedAt   *time.Time                  `gorm:"column:retry_requested_at" json:"retry_requested_at,omitempty"`
	ReassignRemark     string                      `gorm:"column:reassign_remark;type:text" json:"reassign_remark,omitempty"`
	ReassignedAt       *time.Time                  `gorm:"column:reassigned_at" json:"reassigned_at,omitempty"`
	Recurring          bool                        `gorm:"column:recurring;index;default:false" json:"recurring"`
	RecurringFrequency *Frequency                  `gorm:"column:recurring_frequency;type:varchar(10)" json:"recurring_frequency,omitempty"`
	LastRecurringDate  *time.Time                  `gorm:"column:last_recurring_date" json:"last_recurring_date,omitempty"`
	SuccessorID        *string                     `gorm:"column:successor_id;index;type:varchar(32)" json:"successor_id,omitempty"`

	Subtasks        []Subtask      `gorm:"foreignKey:TaskID" json:"subtasks"`
	ReassignHistory []Reassignment `gorm:"foreignKey:TaskID" json:"reassign_history"`
	Logs            []Log          `gorm:"foreignKey:TaskID" json:"logs,omitempty"`
	Comments        []Comment      `gorm:"foreignKey:TaskID" json:"comments,omitempty"`
}

func (Task) TableName() string { return "tasks" }

// IsOverdue reports whether the due date lies before now.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.DueDate.Before(now)
}

type Subtask struct {
	ID          string        `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TaskID      string        `gorm:"column:task_id;index;type:varchar(32);not null" json:"-"`
	Position    int           `gorm:"column:position;not null" json:"position"`
	Title       string        `gorm:"column:title;type:varchar(200);not null" json:"title"`
	Description string        `gorm:"column:description;type:text" json:"description,omitempty"`
	Status      SubtaskStatus `gorm:"column:status;type:varchar(20);not null" json:"status"`
	CreatedAt   time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (Subtask) TableName() string { return "task_subtasks" }

type Reassignment struct {
	ID     string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TaskID string    `gorm:"column:task_id;index;type:varchar(32);not null" json:"-"`
	Seq    int       `gorm:"column:seq;not null" json:"seq"`
	By     string    `gorm:"column:by_user;type:varchar(32);not null" json:"by"`
	To     string    `gorm:"column:to_user;type:varchar(32);not null" json:"to"`
	Remark string    `gorm:"column:remark;type:text" json:"remark,omitempty"`
	At     time.Time `gorm:"column:at;not null" json:"at"`
}

func (Reassignment) TableName() string { return "task_reassignments" }

// Log is one audit entry. Rows are insert-only and outlive the task they
// describe, which is why the serial is copied onto each entry.
type Log struct {
	ID         string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TaskID     string    `gorm:"column:task_id;index;type:varchar(32);not null" json:"task_id"`
	TaskSerial string    `gorm:"column:task_serial;index;type:varchar(16)" json:"task_serial"`
	Seq        int       `gorm:"column:seq;not null" json:"seq"`
	Action     Action    `gorm:"column:action;index;type:varchar(30);not null" json:"action"`
	By         string    `gorm:"column:by_user;index;type:varchar(32)" json:"by"`
	To         string    `gorm:"column:to_user;type:varchar(32)" json:"to,omitempty"`
	Remark     string    `gorm:"column:remark;type:text" json:"remark,omitempty"`
	Message    string    `gorm:"column:message;type:text" json:"message"`
	At         time.Time `gorm:"column:at;index;not null" json:"at"`
}

func (Log) TableName() string { return "task_logs" }

type Comment struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TaskID    string    `gorm:"column:task_id;index;type:varchar(32);not null" json:"-"`
	Author    string    `gorm:"column:author;type:varchar(32);not null" json:"author"`
	Text      string    `gorm:"column:text;type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Comment) TableName() string { return "task_comments" }

// SerialRecord registers every serial ever issued. It is never deleted, so a
// serial stays taken after its task is gone.
type SerialRecord struct {
	Serial    string    `gorm:"column:serial;primaryKey;type:varchar(16)"`
	TaskID    string    `gorm:"column:task_id;type:varchar(32);not null"`
	CreatedAt time.Time `gorm:"column:created_at;index;not null"`
}

func (SerialRecord) TableName() string { return "task_serials" }

// Models lists every table owned by this package, for migrations.
func Models() []any {
	return []any{&Task{}, &Subtask{}, &Reassignment{}, &Log{}, &Comment{}, &SerialRecord{}}
}

func (t *Task) String() string {
	return fmt.Sprintf("%s(%s)", t.SerialNumber, t.ID)
}
