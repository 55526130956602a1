package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasktrack/apiserver/types"
)

var taskRowColumns = []string{
	"id", "name", "description", "assigned_user_ids", "status", "is_delayed", "deadline",
	"created_at", "created_by", "updated_at", "updated_by",
}

func TestTaskRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(48 * time.Hour)
	desc := "write the report"

	mock.ExpectQuery(`(?s)^\s*INSERT\s+INTO\s+tasks\s*\(.+\)\s*VALUES\s*\(.+\$3::jsonb.+\)\s*RETURNING\s+id\s*$`).
		WithArgs("Report", desc, "[2,5]", types.TaskStatusToDo, false, deadline, now, "ada", now, "ada").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	got, err := repo.Create(context.Background(), types.Task{
		Name:            "Report",
		Description:     &desc,
		AssignedUserIDs: []int64{2, 5},
		Status:          types.TaskStatusToDo,
		Deadline:        &deadline,
		CreatedAt:       now,
		CreatedBy:       "ada",
		UpdatedAt:       now,
		UpdatedBy:       "ada",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), got.ID)
	assert.Equal(t, []int64{2, 5}, got.AssignedUserIDs)
}

func TestTaskRepository_Create_NilAssigneesStoredAsEmptyArray(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)

	mock.ExpectQuery(`INSERT\s+INTO\s+tasks`).
		WithArgs("Solo", nil, "[]", types.TaskStatusToDo, false, nil,
			sqlmock.AnyArg(), "", sqlmock.AnyArg(), "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	got, err := repo.Create(context.Background(), types.Task{Name: "Solo"})
	require.NoError(t, err)
	assert.NotNil(t, got.AssignedUserIDs)
	assert.Empty(t, got.AssignedUserIDs)
}

func TestTaskRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)FROM\s+tasks\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow(int64(4), "Deploy", nil, []byte(`[3]`), int64(1), true, now.Add(-time.Hour), now, "ada", now, "bob"))

	got, err := repo.GetByID(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "Deploy", got.Name)
	assert.Nil(t, got.Description)
	assert.Equal(t, []int64{3}, got.AssignedUserIDs)
	assert.Equal(t, types.TaskStatusInProgress, got.Status)
	assert.True(t, got.IsDelayed)
	require.NotNil(t, got.Deadline)
	assert.Equal(t, "bob", got.UpdatedBy)
}

func TestTaskRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)

	mock.ExpectQuery(`FROM\s+tasks`).WithArgs(int64(404)).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskRepository_ListByAssignee(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)WHERE\s+assigned_user_ids\s+@>\s+\$1::jsonb\s+ORDER\s+BY\s+id`).
		WithArgs("[7]").
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow(int64(1), "A", "first", []byte(`[7]`), int64(0), false, nil, now, "", now, "").
			AddRow(int64(2), "B", nil, []byte(`[1,7]`), int64(2), false, nil, now, "", now, ""))

	got, err := repo.ListByAssignee(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", *got[0].Description)
	assert.Nil(t, got[0].Deadline)
	assert.Equal(t, types.TaskStatusCompleted, got[1].Status)
}

func TestTaskRepository_UpdateStatus_RecomputesDelay(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)
	at := time.Now().UTC()

	mock.ExpectExec(`(?s)UPDATE\s+tasks\s+SET\s+status\s*=\s*\$1,\s*is_delayed\s*=\s*\(deadline\s+IS\s+NOT\s+NULL\s+AND\s+deadline\s*<\s*\$2\s+AND\s+\$1\s*<>\s*\$3\)`).
		WithArgs(types.TaskStatusCompleted, at, types.TaskStatusCompleted, "ada", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), 5, types.TaskStatusCompleted, "ada", at))
}

func TestTaskRepository_UpdateStatus_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)

	mock.ExpectExec(`UPDATE\s+tasks`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), 5, types.TaskStatusToDo, "ada", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskRepository_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)
	at := time.Now().UTC()

	mock.ExpectExec(`(?s)UPDATE\s+tasks\s+SET\s+status\s*=\s*\$1.+WHERE\s+id\s*=\s*\$4\s+AND\s+status\s*<>\s*\$1`).
		WithArgs(types.TaskStatusDeleted, at, "ada", int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+tasks`).
		WithArgs(types.TaskStatusDeleted, at, "ada", int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), 8, "ada", at))
	assert.ErrorIs(t, repo.Delete(context.Background(), 8, "ada", at), ErrNotFound)
}
