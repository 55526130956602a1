package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Task is a unit of work that can be assigned to zero or more users.
type Task struct {
	// ID is the unique identifier of the task.
	ID int64 `json:"taskId" db:"id"`

	Name        string  `json:"taskName" db:"name"`
	Description *string `json:"taskDescription,omitempty" db:"description"`

	// AssignedUserIDs keeps the order in which users were assigned.
	// Ids are not checked against existing users.
	AssignedUserIDs []int64 `json:"assignedUserIDs" db:"assigned_user_ids"`

	Status TaskStatus `json:"status" db:"status"`

	// IsDelayed is derived from Deadline and Status on every write.
	// It is persisted and never recomputed on read.
	IsDelayed bool       `json:"isDelayed" db:"is_delayed"`
	Deadline  *time.Time `json:"deadline,omitempty" db:"deadline"`

	CreatedAt time.Time `json:"createdOn" db:"created_at"`
	CreatedBy string    `json:"createdBy,omitempty" db:"created_by"`
	UpdatedAt time.Time `json:"updatedOn" db:"updated_at"`
	UpdatedBy string    `json:"updatedBy,omitempty" db:"updated_by"`
}

// IsAssignedTo reports whether userID appears in the assignee list.
func (t Task) IsAssignedTo(userID int64) bool {
	for _, id := range t.AssignedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ComputeDelayed reports whether a task with the given deadline and status is
// late at time now. Completed tasks are never delayed.
func ComputeDelayed(deadline *time.Time, status TaskStatus, now time.Time) bool {
	if deadline == nil || status == TaskStatusCompleted {
		return false
	}
	return deadline.Before(now)
}

// TaskStatus describes where a task is in its lifecycle.
type TaskStatus int

const (
	// TaskStatusToDo is the initial status of every new task.
	TaskStatusToDo TaskStatus = iota

	TaskStatusInProgress

	TaskStatusCompleted

	TaskStatusUnAssigned

	// TaskStatusDeleted marks a soft-deleted task.
	TaskStatusDeleted
)

// String returns the name used in API responses and logs.
func (s TaskStatus) String() string {
	switch s {
	case TaskStatusToDo:
		return "ToDo"
	case TaskStatusInProgress:
		return "InProgress"
	case TaskStatusCompleted:
		return "Completed"
	case TaskStatusUnAssigned:
		return "UnAssigned"
	case TaskStatusDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is one of the declared statuses.
func (s TaskStatus) Valid() bool {
	return s >= TaskStatusToDo && s <= TaskStatusDeleted
}

func (s TaskStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the status name or its numeric value.
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		parsed, err := ParseTaskStatus(name)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid task status %s", string(data))
	}
	status := TaskStatus(n)
	if !status.Valid() {
		return fmt.Errorf("invalid task status %d", n)
	}
	*s = status
	return nil
}

// ParseTaskStatus parses a status name (case-insensitive) or number.
func ParseTaskStatus(value string) (TaskStatus, error) {
	value = strings.TrimSpace(value)
	if n, err := strconv.Atoi(value); err == nil {
		status := TaskStatus(n)
		if !status.Valid() {
			return 0, fmt.Errorf("invalid task status %d", n)
		}
		return status, nil
	}
	for s := TaskStatusToDo; s <= TaskStatusDeleted; s++ {
		if strings.EqualFold(s.String(), value) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("invalid task status %q", value)
}

// Sort keys accepted by TaskFilter.SortBy.
const (
	SortByName     = "name"
	SortByDeadline = "deadline"
	SortByStatus   = "status"
	SortByCreated  = "created"
)

// TaskFilter narrows a task listing. All set fields must match.
type TaskFilter struct {
	Status         *TaskStatus `json:"status,omitempty"`
	AssignedUserID *int64      `json:"assignedUserID,omitempty"`
	IsDelayed      *bool       `json:"isDelayed,omitempty"`
	SearchTerm     string      `json:"searchTerm,omitempty"`
	SortBy         string      `json:"sortBy,omitempty"`
	SortDescending bool        `json:"sortDescending,omitempty"`
}

// CreateTaskRequest is the payload for POST /tasks.
type CreateTaskRequest struct {
	Name            string     `json:"taskName"`
	Description     *string    `json:"taskDescription,omitempty"`
	AssignedUserIDs []int64    `json:"assignedUserIDs,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
}

// UpdateTaskRequest replaces every mutable field of a task.
type UpdateTaskRequest struct {
	Name            string     `json:"taskName"`
	Description     *string    `json:"taskDescription,omitempty"`
	AssignedUserIDs []int64    `json:"assignedUserIDs,omitempty"`
	Status          TaskStatus `json:"status"`
	Deadline        *time.Time `json:"deadline,omitempty"`
}

// UpdateTaskStatusRequest is the payload for PATCH /tasks/{id}/status.
type UpdateTaskStatusRequest struct {
	Status *TaskStatus `json:"status"`
}

// TaskExport describes an object written by a task export.
type TaskExport struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Count  int    `json:"count"`
}

// StoredObject is a listing entry from object storage.
type StoredObject struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}
