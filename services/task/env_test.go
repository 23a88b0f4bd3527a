package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskdesk/pkg/sequence"
	"taskdesk/services/directory"
	"taskdesk/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	admin   = Actor{ID: "adm", Role: RoleAdmin}
	manager = Actor{ID: "mgr", Role: RoleManager}
	staff1  = Actor{ID: "u1", Role: RoleStaff}
	staff2  = Actor{ID: "u2", Role: RoleStaff}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type assignedCall struct {
	Email string
	Title string
	Due   time.Time
}

type reminderCall struct {
	UserID  string
	TaskID  string
	Message string
}

type fakeNotifier struct {
	mu        sync.Mutex
	assigned  []assignedCall
	reminders []reminderCall

	taskAssignedFn func(ctx context.Context, email, title string, due time.Time) error
}

func (f *fakeNotifier) TaskAssigned(ctx context.Context, email, title string, due time.Time) error {
	f.mu.Lock()
	f.assigned = append(f.assigned, assignedCall{Email: email, Title: title, Due: due})
	f.mu.Unlock()
	if f.taskAssignedFn != nil {
		return f.taskAssignedFn(ctx, email, title, due)
	}
	return nil
}

func (f *fakeNotifier) Reminder(ctx context.Context, userID, taskID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders = append(f.reminders, reminderCall{UserID: userID, TaskID: taskID, Message: message})
	return nil
}

type fakeSeq struct {
	nextFn func(ctx context.Context) (string, error)
}

func (f *fakeSeq) NextTaskSerial(ctx context.Context) (string, error) {
	return f.nextFn(ctx)
}

type env struct {
	db       *gorm.DB
	repo     Repository
	svc      *Service
	notifier *fakeNotifier
	clock    *clock
}

func newEnv(t *testing.T) *env {
	t.Helper()

	models := append(Models(), &directory.User{}, &directory.Client{})
	db := testutil.NewTestDB(t, models...)

	require.NoError(t, db.Create([]directory.User{
		{ID: "adm", Name: "Ade", Email: "ade@firm.test", Role: RoleAdmin},
		{ID: "mgr", Name: "Maya", Email: "maya@firm.test", Role: RoleManager},
		{ID: "u1", Name: "Udin", Email: "udin@firm.test", Role: RoleStaff},
		{ID: "u2", Name: "Uli", Email: "uli@firm.test", Role: RoleStaff},
	}).Error)
	require.NoError(t, db.Create(&directory.Client{ID: "c1", Name: "Acme Ltd"}).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	policy, err := NewDefaultPolicy()
	require.NoError(t, err)

	repo := NewRepository(RepositoryParams{DB: db, Node: node})
	dir := directory.NewService(directory.ServiceParams{DB: db})
	notifier := &fakeNotifier{}

	svc := NewService(ServiceParams{
		Repo:     repo,
		Seq:      sequence.NewStoreGenerator(sequence.Params{Source: repo}),
		Policy:   policy,
		Users:    dir,
		Clients:  dir,
		Notifier: notifier,
		Node:     node,
	})

	c := &clock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	svc.now = c.Now

	return &env{db: db, repo: repo, svc: svc, notifier: notifier, clock: c}
}

func (e *env) input(mutators ...func(*CreateTaskInput)) CreateTaskInput {
	in := CreateTaskInput{
		Title:       "VAT return Q4",
		Description: "prepare and file",
		Priority:    PriorityHigh,
		ServiceType: "Tax",
		Tags:        []string{"VAT", "Quarterly"},
		ClientID:    "c1",
		DueDate:     e.clock.Now().Add(72 * time.Hour),
		AssignedTo:  "u1",
	}
	for _, m := range mutators {
		m(&in)
	}
	return in
}

func (e *env) create(t *testing.T, mutators ...func(*CreateTaskInput)) *Task {
	t.Helper()
	task, err := e.svc.CreateTask(context.Background(), manager, e.input(mutators...))
	require.NoError(t, err)
	return task
}

func (e *env) reload(t *testing.T, id string) *Task {
	t.Helper()
	task, err := e.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (e *env) setStatus(t *testing.T, id string, status Status) {
	t.Helper()
	require.NoError(t, e.db.Model(&Task{}).Where("id = ?", id).Update("status", status).Error)
}

func actions(logs []Log) []Action {
	out := make([]Action, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action)
	}
	return out
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
