package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskdesk/pkg/config"
	"taskdesk/pkg/db/pagination"
	"taskdesk/pkg/errutil"
	"taskdesk/pkg/logger"
	"taskdesk/pkg/sequence"
	"taskdesk/services/directory"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("taskdesk/services/task")

// maxSerialAttempts bounds how often a create regenerates its serial after
// losing a race on the serial registry.
const maxSerialAttempts = 5

type UserLookup interface {
	FindUser(ctx context.Context, id string) (*directory.User, error)
}

type ClientLookup interface {
	FindClient(ctx context.Context, id string) (*directory.Client, error)
}

// Notifier delivers best-effort side effects. Errors are logged by the
// caller and never undo a committed transition.
type Notifier interface {
	TaskAssigned(ctx context.Context, email, title string, due time.Time) error
	Reminder(ctx context.Context, userID, taskID, message string) error
}

type Service struct {
	repo     Repository
	seq      sequence.Generator
	policy   *Policy
	users    UserLookup
	clients  ClientLookup
	notifier Notifier
	node     *snowflake.Node
	validate *validator.Validate
	metrics  *serviceMetrics
	loc      *time.Location
	now      func() time.Time
}

type ServiceParams struct {
	fx.In
	Config   *config.Config `optional:"true"`
	Repo     Repository
	Seq      sequence.Generator
	Policy   *Policy
	Users    UserLookup
	Clients  ClientLookup
	Notifier Notifier
	Node     *snowflake.Node
	Meter    metric.MeterProvider `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo:     p.Repo,
		seq:      p.Seq,
		policy:   p.Policy,
		users:    p.Users,
		clients:  p.Clients,
		notifier: p.Notifier,
		node:     p.Node,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  newMetrics(p.Meter),
		loc:      p.Config.Location(),
		now:      time.Now,
	}
}

type CreateTaskInput struct {
	Title              string     `json:"title" validate:"required,max=200"`
	Description        string     `json:"description"`
	Priority           Priority   `json:"priority" validate:"required,oneof=Low Medium High"`
	ServiceType        string     `json:"service_type" validate:"max=100"`
	Tags               []string   `json:"tags" validate:"max=20"`
	ClientID           string     `json:"client_id"`
	Attachments        []string   `json:"attachments"`
	DueDate            time.Time  `json:"due_date" validate:"required"`
	ScheduledDate      *time.Time `json:"scheduled_date"`
	AssignedTo         string     `json:"assigned_to" validate:"required"`
	Recurring          bool       `json:"recurring"`
	RecurringFrequency *Frequency `json:"recurring_frequency"`
	LastRecurringDate  *time.Time `json:"last_recurring_date"`
}

type ReassignInput struct {
	To     string `json:"to"`
	Remark string `json:"remark"`
}

type RemarkInput struct {
	Remark      string `json:"remark"`
	DelayReason string `json:"delay_reason"`
}

type SubtaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Service) today() time.Time {
	return startOfDay(s.now(), s.loc)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func (s *Service) authorize(actor Actor, t *Task, op Operation) error {
	if !s.policy.CanTransition(actor, t, op) {
		return errutil.Forbidden(fmt.Sprintf("%s is not allowed to %s this task", actor.ID, op), nil)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*Task, error) {
	if id == "" {
		return nil, errutil.ValidationFailed("task id is required", nil)
	}
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, errutil.NotFound("task not found", nil, errutil.WithDetails(errutil.Detail{Field: "task_id", Message: id}))
		}
		logger.FromContext(ctx).Error("failed to load task", zap.String("task_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to load task", err)
	}
	return t, nil
}

// save persists t after op and counts the committed operation.
func (s *Service) save(ctx context.Context, t *Task, op Operation) error {
	t.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, t); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return errutil.NotFound("task not found", nil, errutil.WithDetails(errutil.Detail{Field: "task_id", Message: t.ID}))
		}
		logger.FromContext(ctx).Error("failed to save task", zap.String("task_id", t.ID), zap.Error(err))
		return errutil.Internal("failed to save task", err)
	}
	s.metrics.transition(ctx, op, t.Status)
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errutil.ValidationFailed(field+" is required", nil, errutil.WithDetails(errutil.Detail{Field: field, Message: "required"}))
	}
	return nil
}

func (s *Service) validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errutil.ValidationFailed("invalid input", err)
	}
	details := make([]errutil.Detail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, errutil.Detail{Field: fe.Field(), Message: fe.Tag()})
	}
	return errutil.ValidationFailed("invalid input", nil, errutil.WithDetails(details...))
}

// normalizeTags slugs every tag and drops blanks and duplicates, keeping the
// first occurrence order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		norm := slug.Make(tag)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// notifyAssigned mails the current assignee. Failures are logged only.
func (s *Service) notifyAssigned(ctx context.Context, t *Task, assignee *directory.User) {
	if assignee == nil {
		u, err := s.users.FindUser(ctx, t.AssignedTo)
		if err != nil {
			logger.FromContext(ctx).Warn("skip assignment notification, assignee lookup failed",
				zap.String("task_id", t.ID), zap.String("user_id", t.AssignedTo), zap.Error(err))
			return
		}
		assignee = u
	}
	if err := s.notifier.TaskAssigned(ctx, assignee.Email, t.Title, t.DueDate); err != nil {
		logger.FromContext(ctx).Error("failed to send assignment notification",
			zap.String("task_id", t.ID), zap.String("user_id", assignee.ID), zap.Error(err))
	}
}

func (s *Service) remind(ctx context.Context, t *Task, message string) {
	if err := s.notifier.Reminder(ctx, t.AssignedTo, t.ID, message); err != nil {
		logger.FromContext(ctx).Error("failed to send reminder",
			zap.String("task_id", t.ID), zap.String("user_id", t.AssignedTo), zap.Error(err))
	}
}

// create assigns a serial and persists t, regenerating the serial when another
// writer took it first. t must carry no logs yet.
func (s *Service) create(ctx context.Context, t *Task, persist func(*Task) error) error {
	for attempt := 1; attempt <= maxSerialAttempts; attempt++ {
		serial, err := s.seq.NextTaskSerial(ctx)
		if err != nil {
			logger.FromContext(ctx).Error("failed to generate serial", zap.Error(err))
			return errutil.Internal("failed to generate serial number", err)
		}
		t.SerialNumber = serial
		t.Logs = nil
		t.recordAssigned(t.CreatedAt)

		err = persist(t)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateSerial) {
			return err
		}
		logger.FromContext(ctx).Warn("serial collision, regenerating",
			zap.String("serial", serial), zap.Int("attempt", attempt))
	}
	return errutil.Conflict("could not allocate a unique serial number", ErrDuplicateSerial)
}

func (s *Service) CreateTask(ctx context.Context, actor Actor, in CreateTaskInput) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.CreateTask")
	defer span.End()

	if err := s.authorize(actor, nil, OpCreate); err != nil {
		return nil, err
	}
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, s.validationError(err)
	}
	if in.Recurring && (in.RecurringFrequency == nil || !in.RecurringFrequency.Valid()) {
		return nil, errutil.ValidationFailed("recurring tasks need a valid frequency", nil,
			errutil.WithDetails(errutil.Detail{Field: "recurring_frequency", Message: "one of weekly monthly 3months 6months annually"}))
	}

	assignee, err := s.users.FindUser(ctx, in.AssignedTo)
	if err != nil {
		return nil, err
	}
	if in.ClientID != "" {
		if _, err := s.clients.FindClient(ctx, in.ClientID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	t := &Task{
		ID:            s.node.Generate().String(),
		Title:         strings.TrimSpace(in.Title),
		Description:   in.Description,
		Priority:      in.Priority,
		ServiceType:   in.ServiceType,
		Tags:          normalizeTags(in.Tags),
		ClientID:      in.ClientID,
		Attachments:   append([]string{}, in.Attachments...),
		DueDate:       in.DueDate,
		ScheduledDate: in.ScheduledDate,
		CreatedAt:     now,
		UpdatedAt:     now,
		AssignedTo:    in.AssignedTo,
		AssignedBy:    actor.ID,
		Status:        StatusPending,
	}
	if in.Recurring {
		freq := *in.RecurringFrequency
		last := s.today()
		if in.LastRecurringDate != nil {
			last = *in.LastRecurringDate
		}
		t.Recurring = true
		t.RecurringFrequency = &freq
		t.LastRecurringDate = &last
	}

	err = s.create(ctx, t, func(t *Task) error { return s.repo.Create(ctx, t) })
	if err != nil {
		if errutil.Code(err) != errutil.StatusUnknown {
			return nil, err
		}
		logger.FromContext(ctx).Error("failed to create task", zap.Error(err))
		return nil, errutil.Internal("failed to create task", err)
	}
	span.SetAttributes(attribute.String("task.id", t.ID), attribute.String("task.serial", t.SerialNumber))
	s.metrics.transition(ctx, OpCreate, t.Status)

	logger.FromContext(ctx).Info("task created",
		zap.String("task_id", t.ID), zap.String("serial", t.SerialNumber), zap.String("assigned_to", t.AssignedTo))
	s.notifyAssigned(ctx, t, assignee)
	return t, nil
}

// transition runs the common load, authorize and state check sequence.
func (s *Service) transition(ctx context.Context, actor Actor, id string, op Operation) (*Task, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, t, op); err != nil {
		return nil, err
	}
	if err := checkTransition(op, t.Status); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) AcceptTask(ctx context.Context, actor Actor, id string) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.AcceptTask")
	defer span.End()

	t, err := s.transition(ctx, actor, id, OpAccept)
	if err != nil {
		return nil, err
	}
	t.accept(actor.ID, s.now())
	if err := s.save(ctx, t, OpAccept); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) RejectTask(ctx context.Context, actor Actor, id, reason string) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.RejectTask")
	defer span.End()

	t, err := s.transition(ctx, actor, id, OpReject)
	if err != nil {
		return nil, err
	}
	if err := required("reason", reason); err != nil {
		return nil, err
	}
	t.reject(actor.ID, reason, s.now())
	if err := s.save(ctx, t, OpReject); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) CompleteTask(ctx context.Context, actor Actor, id string) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.CompleteTask")
	defer span.End()

	t, err := s.transition(ctx, actor, id, OpComplete)
	if err != nil {
		return nil, err
	}
	t.complete(actor.ID, s.now())
	if err := s.save(ctx, t, OpComplete); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) ReassignTask(ctx context.Context, actor Actor, id string, in ReassignInput) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.ReassignTask")
	defer span.End()

	t, err := s.transition(ctx, actor, id, OpReassign)
	if err != nil {
		return nil, err
	}
	if err := required("to", in.To); err != nil {
		return nil, err
	}
	if in.To == t.AssignedTo {
		return nil, errutil.ValidationFailed("task is already assigned to this user", nil,
			errutil.WithDetails(errutil.Detail{Field: "to", Message: "must differ from the current assignee"}))
	}
	assignee, err := s.users.FindUser(ctx, in.To)
	if err != nil {
		return nil, err
	}

	t.reassign(actor.ID, in.To, in.Remark, actor.ID == t.AssignedTo, s.now())
	if err := s.save(ctx, t, OpReassign); err != nil {
		return nil, err
	}
	s.notifyAssigned(ctx, t, assignee)
	return t, nil
}

func (s *Service) RequestRetry(ctx context.Context, actor Actor, id string, in RemarkInput) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.RequestRetry")
	defer span.End()

	t, err := s.transition(ctx, actor, id, OpRequestRetry)
	if err != nil {
		return nil, err
	}
	if t.RetryRequested {
		return nil, errutil.InvalidOperation("retry already requested", nil)
	}
	now := s.now()
	if !t.IsOverdue(now) {
		return nil, errutil.InvalidOperation("retry can only be requested once the task is past due", nil)
	}
	if err := required("remark", in.Remark); err != nil {
		return nil, err
	}
	t.requestRetry(actor.ID, in.Remark, in.DelayReason, now)
	if err := s.save(ctx, t, OpRequestRetry); err != nil {
		return nil, err
	}
	return t, nil
}

// AcceptRetry grants a fresh window to the task. An empty newAssigneeID keeps
// the current assignee.
func (s *Service) AcceptRetry(ctx context.Context, actor Actor, id, newAssigneeID string) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.AcceptRetry")
	defer span.End()

	t, err := s.transition(ctx, actor, id, OpAcceptRetry)
	if err != nil {
		return nil, err
	}
	if !t.RetryRequested {
		return nil, errutil.InvalidOperation("no retry was requested for this task", nil)
	}
	to := newAssigneeID
	if to == "" {
		to = t.AssignedTo
	}
	assignee, err := s.users.FindUser(ctx, to)
	if err != nil {
		return nil, err
	}

	t.acceptRetry(actor.ID, to, s.now())
	if err := s.save(ctx, t, OpAcceptRetry); err != nil {
		return nil, err
	}
	s.notifyAssigned(ctx, t, assignee)
	return t, nil
}

func (s *Service) AddRemark(ctx context.Context, actor Actor, id string, in RemarkInput) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.AddRemark")
	defer span.End()

	t, err := s.transition(ctx, actor, id, OpAddRemark)
	if err != nil {
		return nil, err
	}
	if err := required("remark", in.Remark); err != nil {
		return nil, err
	}
	if err := required("delay_reason", in.DelayReason); err != nil {
		return nil, err
	}
	t.addRemark(actor.ID, in.Remark, in.DelayReason, s.now())
	if err := s.save(ctx, t, OpAddRemark); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) AddSubtask(ctx context.Context, actor Actor, id string, in SubtaskInput) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.AddSubtask")
	defer span.End()

	t, err := s.transition(ctx, actor, id, OpAddSubtask)
	if err != nil {
		return nil, err
	}
	if err := required("title", in.Title); err != nil {
		return nil, err
	}
	t.addSubtask(strings.TrimSpace(in.Title), in.Description, s.now())
	if err := s.save(ctx, t, OpAddSubtask); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) CompleteSubtask(ctx context.Context, actor Actor, id string, index int) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.CompleteSubtask")
	defer span.End()

	t, err := s.transition(ctx, actor, id, OpCompleteSubtask)
	if err != nil {
		return nil, err
	}
	if err := t.completeSubtask(index, s.now()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, t, OpCompleteSubtask); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) AddComment(ctx context.Context, actor Actor, id, text string) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.AddComment")
	defer span.End()

	t, err := s.transition(ctx, actor, id, OpAddComment)
	if err != nil {
		return nil, err
	}
	if err := required("text", text); err != nil {
		return nil, err
	}
	t.addComment(actor.ID, text, s.now())
	if err := s.save(ctx, t, OpAddComment); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTask records a Deleted entry and removes the task in one transaction.
// The audit trail and the serial stay behind.
func (s *Service) DeleteTask(ctx context.Context, actor Actor, id string) error {
	ctx, span := tracer.Start(ctx, "task.DeleteTask")
	defer span.End()

	t, err := s.transition(ctx, actor, id, OpDelete)
	if err != nil {
		return err
	}
	t.markDeleted(actor.ID, s.now())
	if err := s.repo.Delete(ctx, t); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return errutil.NotFound("task not found", nil)
		}
		logger.FromContext(ctx).Error("failed to delete task", zap.String("task_id", id), zap.Error(err))
		return errutil.Internal("failed to delete task", err)
	}
	s.metrics.transition(ctx, OpDelete, t.Status)
	logger.FromContext(ctx).Info("task deleted", zap.String("task_id", id), zap.String("serial", t.SerialNumber), zap.String("by", actor.ID))
	return nil
}

func (s *Service) GetTask(ctx context.Context, actor Actor, id string) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.GetTask")
	defer span.End()

	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, t, OpView); err != nil {
		return nil, err
	}
	if !s.policy.CanTransition(actor, nil, OpListAll) && t.AssignedTo != actor.ID && t.AssignedBy != actor.ID {
		return nil, errutil.Forbidden("task belongs to another user", nil)
	}
	return t, nil
}

// ListTasks applies f. Callers without the list_all grant only see tasks
// they are the assignee or the assigner of, the same rule GetTask applies.
func (s *Service) ListTasks(ctx context.Context, actor Actor, f Filter) ([]*Task, *pagination.PageInfo, error) {
	ctx, span := tracer.Start(ctx, "task.ListTasks")
	defer span.End()

	if err := s.authorize(actor, nil, OpView); err != nil {
		return nil, nil, err
	}
	if !s.policy.CanTransition(actor, nil, OpListAll) {
		f.VisibleTo = actor.ID
	}

	tasks, page, err := s.repo.FindMany(ctx, f)
	if err != nil {
		if errors.Is(err, ErrInvalidCursor) {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		logger.FromContext(ctx).Error("failed to list tasks", zap.Error(err))
		return nil, nil, errutil.Internal("failed to list tasks", err)
	}
	return tasks, page, nil
}

// GetTaskLogs reads the audit trail, including entries of deleted tasks.
// Callers without the list_all grant see entries they wrote or received and
// the full trail of the tasks they can see.
func (s *Service) GetTaskLogs(ctx context.Context, actor Actor, f LogFilter) ([]Log, error) {
	ctx, span := tracer.Start(ctx, "task.GetTaskLogs")
	defer span.End()

	if err := s.authorize(actor, nil, OpView); err != nil {
		return nil, err
	}
	if !s.policy.CanTransition(actor, nil, OpListAll) {
		f.VisibleTo = actor.ID
	}

	logs, err := s.repo.FindLogs(ctx, f)
	if err != nil {
		logger.FromContext(ctx).Error("failed to query task logs", zap.Error(err))
		return nil, errutil.Internal("failed to query task logs", err)
	}
	return logs, nil
}
