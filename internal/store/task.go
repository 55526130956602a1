package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/tasktrack/apiserver/types"
)

// TaskRepository handles persistence for tasks. Deleted tasks stay in the
// table with status Deleted.
type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, name, description, assigned_user_ids, status, is_delayed, deadline,
		created_at, created_by, updated_at, updated_by`

func scanTask(row rowScanner) (types.Task, error) {
	var task types.Task
	var description sql.NullString
	var assignedJSON []byte
	var deadline sql.NullTime
	if err := row.Scan(
		&task.ID,
		&task.Name,
		&description,
		&assignedJSON,
		&task.Status,
		&task.IsDelayed,
		&deadline,
		&task.CreatedAt,
		&task.CreatedBy,
		&task.UpdatedAt,
		&task.UpdatedBy,
	); err != nil {
		return types.Task{}, err
	}

	task.Description = stringPtr(description)
	if deadline.Valid {
		d := deadline.Time
		task.Deadline = &d
	}
	task.AssignedUserIDs = []int64{}
	if len(assignedJSON) > 0 {
		if err := json.Unmarshal(assignedJSON, &task.AssignedUserIDs); err != nil {
			return types.Task{}, err
		}
	}
	return task, nil
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]types.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]types.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// List returns every task, deleted ones included, in id order.
func (r *TaskRepository) List(ctx context.Context) ([]types.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		ORDER BY id`
	return r.queryTasks(ctx, query)
}

// ListByAssignee returns tasks whose assignee list contains userID, in id order.
func (r *TaskRepository) ListByAssignee(ctx context.Context, userID int64) ([]types.Task, error) {
	filter, err := json.Marshal([]int64{userID})
	if err != nil {
		return nil, err
	}
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE assigned_user_ids @> $1::jsonb
		ORDER BY id`
	return r.queryTasks(ctx, query, string(filter))
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (types.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE id = $1`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Task{}, ErrNotFound
		}
		return types.Task{}, err
	}
	return task, nil
}

func (r *TaskRepository) Create(ctx context.Context, task types.Task) (types.Task, error) {
	assignedJSON, err := marshalAssignees(task.AssignedUserIDs)
	if err != nil {
		return types.Task{}, err
	}

	const query = `
		INSERT INTO tasks (name, description, assigned_user_ids, status, is_delayed, deadline,
			created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		task.Name,
		nullString(task.Description),
		assignedJSON,
		task.Status,
		task.IsDelayed,
		nullTime(task.Deadline),
		task.CreatedAt,
		task.CreatedBy,
		task.UpdatedAt,
		task.UpdatedBy,
	).Scan(&task.ID); err != nil {
		return types.Task{}, err
	}
	if task.AssignedUserIDs == nil {
		task.AssignedUserIDs = []int64{}
	}
	return task, nil
}

// Update overwrites every mutable column of the task.
func (r *TaskRepository) Update(ctx context.Context, task types.Task) (types.Task, error) {
	assignedJSON, err := marshalAssignees(task.AssignedUserIDs)
	if err != nil {
		return types.Task{}, err
	}

	const query = `
		UPDATE tasks
		SET name = $1,
			description = $2,
			assigned_user_ids = $3::jsonb,
			status = $4,
			is_delayed = $5,
			deadline = $6,
			updated_at = $7,
			updated_by = $8
		WHERE id = $9`
	result, err := r.db.ExecContext(
		ctx,
		query,
		task.Name,
		nullString(task.Description),
		assignedJSON,
		task.Status,
		task.IsDelayed,
		nullTime(task.Deadline),
		task.UpdatedAt,
		task.UpdatedBy,
		task.ID,
	)
	if err != nil {
		return types.Task{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Task{}, err
	}
	if affected == 0 {
		return types.Task{}, ErrNotFound
	}
	if task.AssignedUserIDs == nil {
		task.AssignedUserIDs = []int64{}
	}
	return task, nil
}

// UpdateStatus writes the status and audit columns and recomputes is_delayed
// against at in the same statement.
func (r *TaskRepository) UpdateStatus(ctx context.Context, id int64, status types.TaskStatus, updatedBy string, at time.Time) error {
	const query = `
		UPDATE tasks
		SET status = $1,
			is_delayed = (deadline IS NOT NULL AND deadline < $2 AND $1 <> $3),
			updated_at = $2,
			updated_by = $4
		WHERE id = $5`
	result, err := r.db.ExecContext(ctx, query, status, at, types.TaskStatusCompleted, updatedBy, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes the task. A task that is missing or already deleted
// yields ErrNotFound.
func (r *TaskRepository) Delete(ctx context.Context, id int64, deletedBy string, at time.Time) error {
	const query = `
		UPDATE tasks
		SET status = $1,
			is_delayed = (deadline IS NOT NULL AND deadline < $2),
			updated_at = $2,
			updated_by = $3
		WHERE id = $4 AND status <> $1`
	result, err := r.db.ExecContext(ctx, query, types.TaskStatusDeleted, at, deletedBy, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalAssignees(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
