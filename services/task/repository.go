package task

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskdesk/pkg/db/pagination"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrDuplicateSerial = errors.New("serial number already issued")
	ErrInvalidCursor   = errors.New("invalid pagination cursor")
)

// Filter narrows FindMany. Zero fields are ignored.
type Filter struct {
	AssignedTo   string
	AssignedBy   string
	ClientID     string
	Status       Status
	CreatedSince *time.Time
	Search       string
	// VisibleTo keeps tasks the user is the assignee or the assigner of.
	VisibleTo string
	pagination.Pagination
}

type LogFilter struct {
	TaskID string
	By     string
	// VisibleTo keeps entries the user wrote or received, and every entry of
	// a live task the user can see.
	VisibleTo string
	Action Action
	Since  *time.Time
	Limit  int
}

// Repository persists the Task aggregate and its owned collections.
type Repository interface {
	Create(ctx context.Context, t *Task) error
	FindByID(ctx context.Context, id string) (*Task, error)
	FindMany(ctx context.Context, f Filter) ([]*Task, *pagination.PageInfo, error)
	Save(ctx context.Context, t *Task) error
	Delete(ctx context.Context, t *Task) error

	LatestSerial(ctx context.Context) (string, error)
	FindRecurringHeads(ctx context.Context) ([]*Task, error)
	SpawnSuccessor(ctx context.Context, origin, successor *Task, today time.Time) (bool, error)
	FindOverdue(ctx context.Context, now time.Time) ([]*Task, error)
	FindLogs(ctx context.Context, f LogFilter) ([]Log, error)
}

type gormRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

type RepositoryParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(p RepositoryParams) Repository {
	return &gormRepository{db: p.DB, node: p.Node}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func (r *gormRepository) Create(ctx context.Context, t *Task) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.insert(tx, t)
	})
}

// insert registers the serial and writes the task row with its children.
func (r *gormRepository) insert(tx *gorm.DB, t *Task) error {
	record := SerialRecord{Serial: t.SerialNumber, TaskID: t.ID, CreatedAt: t.CreatedAt}
	if err := tx.Create(&record).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateSerial
		}
		return err
	}
	if err := tx.Omit(clause.Associations).Create(t).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateSerial
		}
		return err
	}
	return r.insertChildren(tx, t)
}

// insertChildren writes every collection row that has no ID yet.
func (r *gormRepository) insertChildren(tx *gorm.DB, t *Task) error {
	for i := range t.Subtasks {
		if t.Subtasks[i].ID != "" {
			continue
		}
		t.Subtasks[i].ID = r.node.Generate().String()
		t.Subtasks[i].TaskID = t.ID
		if err := tx.Create(&t.Subtasks[i]).Error; err != nil {
			return err
		}
	}
	for i := range t.ReassignHistory {
		if t.ReassignHistory[i].ID != "" {
			continue
		}
		t.ReassignHistory[i].ID = r.node.Generate().String()
		t.ReassignHistory[i].TaskID = t.ID
		if err := tx.Create(&t.ReassignHistory[i]).Error; err != nil {
			return err
		}
	}
	if err := r.insertLogs(tx, t); err != nil {
		return err
	}
	for i := range t.Comments {
		if t.Comments[i].ID != "" {
			continue
		}
		t.Comments[i].ID = r.node.Generate().String()
		t.Comments[i].TaskID = t.ID
		if err := tx.Create(&t.Comments[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *gormRepository) insertLogs(tx *gorm.DB, t *Task) error {
	for i := range t.Logs {
		if t.Logs[i].ID != "" {
			continue
		}
		t.Logs[i].ID = r.node.Generate().String()
		t.Logs[i].TaskID = t.ID
		t.Logs[i].TaskSerial = t.SerialNumber
		if err := tx.Create(&t.Logs[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *gormRepository) FindByID(ctx context.Context, id string) (*Task, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var t Task
	err := r.db.WithContext(ctx).
		Preload("Subtasks", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("ReassignHistory", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Preload("Logs", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("id ASC") }).
		Where("id = ?", id).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) castText(column string) string {
	if r.db.Dialector.Name() == "mysql" {
		return "CAST(" + column + " AS CHAR)"
	}
	return "CAST(" + column + " AS TEXT)"
}

func (r *gormRepository) FindMany(ctx context.Context, f Filter) ([]*Task, *pagination.PageInfo, error) {
	if r == nil || r.db == nil {
		return nil, nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&Task{}).
		Preload("Subtasks", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("ReassignHistory", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") })

	if f.VisibleTo != "" {
		query = query.Where("assigned_to = ? OR assigned_by = ?", f.VisibleTo, f.VisibleTo)
	}
	if f.AssignedTo != "" {
		query = query.Where("assigned_to = ?", f.AssignedTo)
	}
	if f.AssignedBy != "" {
		query = query.Where("assigned_by = ?", f.AssignedBy)
	}
	if f.ClientID != "" {
		query = query.Where("client_id = ?", f.ClientID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.CreatedSince != nil {
		query = query.Where("created_at >= ?", *f.CreatedSince)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		query = query.Where(
			"LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(serial_number) LIKE ? OR LOWER("+r.castText("tags")+") LIKE ?",
			like, like, like, like,
		)
	}
	if f.Cursor != "" {
		cur, err := pagination.DecodeCursor(f.Cursor)
		if err != nil {
			return nil, nil, ErrInvalidCursor
		}
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cur.CreatedAt, cur.CreatedAt, cur.ID)
	}

	limit := f.Size()
	var tasks []*Task
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&tasks).Error; err != nil {
		return nil, nil, err
	}

	return pagination.Paginate(tasks, limit, func(t *Task) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
}

// seriesColumns link a task into its recurrence chain. Only SpawnSuccessor
// writes them after insert, so a save from a stale copy cannot rewind a series.
var seriesColumns = []string{"recurring", "recurring_frequency", "last_recurring_date", "successor_id"}

// Save writes the task row and appends new collection entries. Only subtasks
// are updated in place; logs, history and comments are insert-only.
func (r *gormRepository) Save(ctx context.Context, t *Task) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(t).
			Select("*").
			Omit(append([]string{clause.Associations, "id", "created_at", "serial_number"}, seriesColumns...)...).
			Updates(t)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTaskNotFound
		}

		for _, st := range t.Subtasks {
			if st.ID == "" {
				continue
			}
			if err := tx.Model(&Subtask{}).
				Where("id = ?", st.ID).
				Updates(map[string]any{"status": st.Status, "updated_at": st.UpdatedAt}).Error; err != nil {
				return err
			}
		}

		return r.insertChildren(tx, t)
	})
}

// Delete persists pending log entries, then removes the task and its owned
// rows. Logs and the serial registry entry are kept.
func (r *gormRepository) Delete(ctx context.Context, t *Task) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.insertLogs(tx, t); err != nil {
			return err
		}
		for _, model := range []any{&Subtask{}, &Reassignment{}, &Comment{}} {
			if err := tx.Where("task_id = ?", t.ID).Delete(model).Error; err != nil {
				return err
			}
		}

		// a deleted occurrence must not end its series
		if err := tx.Model(&Task{}).
			Where("successor_id = ?", t.ID).
			Update("successor_id", nil).Error; err != nil {
			return err
		}

		res := tx.Where("id = ?", t.ID).Delete(&Task{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTaskNotFound
		}
		return nil
	})
}

func (r *gormRepository) LatestSerial(ctx context.Context) (string, error) {
	if r == nil || r.db == nil {
		return "", gorm.ErrInvalidDB
	}

	// Serials share a fixed prefix and are zero padded, so the longest and then
	// lexically greatest serial is the numerically greatest. Commit order and
	// created_at do not follow serial order.
	var serials []string
	err := r.db.WithContext(ctx).Model(&SerialRecord{}).
		Order("LENGTH(serial) DESC").
		Order("serial DESC").
		Limit(1).
		Pluck("serial", &serials).Error
	if err != nil {
		return "", err
	}
	if len(serials) == 0 {
		return "", nil
	}
	return serials[0], nil
}

// FindRecurringHeads returns the recurring tasks that have not spawned a
// successor yet, i.e. the latest occurrence of every series.
func (r *gormRepository) FindRecurringHeads(ctx context.Context) ([]*Task, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var tasks []*Task
	err := r.db.WithContext(ctx).
		Where("recurring = ? AND successor_id IS NULL", true).
		Order("created_at ASC").Order("id ASC").
		Find(&tasks).Error
	return tasks, err
}

// SpawnSuccessor advances origin and inserts successor atomically. It returns
// false without writing anything when origin already has a successor.
func (r *gormRepository) SpawnSuccessor(ctx context.Context, origin, successor *Task, today time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	spawned := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Task{}).
			Where("id = ? AND successor_id IS NULL", origin.ID).
			Updates(map[string]any{
				"last_recurring_date": today,
				"successor_id":        successor.ID,
				"updated_at":          successor.CreatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := r.insert(tx, successor); err != nil {
			return err
		}
		spawned = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if spawned {
		origin.LastRecurringDate = &today
		origin.SuccessorID = &successor.ID
	}
	return spawned, nil
}

// FindOverdue returns open Pending and InProgress tasks whose due date lies
// before now.
func (r *gormRepository) FindOverdue(ctx context.Context, now time.Time) ([]*Task, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var tasks []*Task
	err := r.db.WithContext(ctx).
		Preload("Logs", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("due_date < ? AND status IN ?", now, []Status{StatusPending, StatusInProgress}).
		Order("due_date ASC").
		Find(&tasks).Error
	return tasks, err
}

func (r *gormRepository) FindLogs(ctx context.Context, f LogFilter) ([]Log, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&Log{})
	if f.TaskID != "" {
		query = query.Where("task_id = ?", f.TaskID)
	}
	if f.By != "" {
		query = query.Where("by_user = ?", f.By)
	}
	if f.VisibleTo != "" {
		visible := r.db.Model(&Task{}).Select("id").
			Where("assigned_to = ? OR assigned_by = ?", f.VisibleTo, f.VisibleTo)
		query = query.Where("by_user = ? OR to_user = ? OR task_id IN (?)", f.VisibleTo, f.VisibleTo, visible)
	}
	if f.Action != "" {
		query = query.Where("action = ?", f.Action)
	}
	if f.Since != nil {
		query = query.Where("at >= ?", *f.Since)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var logs []Log
	if err := query.Order("at ASC").Order("seq ASC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
