package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tasktrack/apiserver/internal/logging"
	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/types"
)

// TaskRepository defines persistence operations for tasks.
type TaskRepository interface {
	List(ctx context.Context) ([]types.Task, error)
	ListByAssignee(ctx context.Context, userID int64) ([]types.Task, error)
	GetByID(ctx context.Context, id int64) (types.Task, error)
	Create(ctx context.Context, task types.Task) (types.Task, error)
	Update(ctx context.Context, task types.Task) (types.Task, error)
	// UpdateStatus must recompute is_delayed against at in the same write.
	UpdateStatus(ctx context.Context, id int64, status types.TaskStatus, updatedBy string, at time.Time) error
	Delete(ctx context.Context, id int64, deletedBy string, at time.Time) error
}

// TaskService implements the task lifecycle: creation, full replacement,
// status changes, soft deletion and filtered listing.
type TaskService struct {
	repo        TaskRepository
	transitions TransitionPolicy
	events      TaskEventPublisher
	logger      logging.Logger
	now         func() time.Time
}

type TaskOption func(*TaskService)

// WithTransitionPolicy restricts status changes to those the policy allows.
func WithTransitionPolicy(policy TransitionPolicy) TaskOption {
	return func(s *TaskService) { s.transitions = policy }
}

// WithTaskEvents publishes a TaskEvent after each successful write.
func WithTaskEvents(publisher TaskEventPublisher) TaskOption {
	return func(s *TaskService) { s.events = publisher }
}

func WithTaskLogger(logger logging.Logger) TaskOption {
	return func(s *TaskService) { s.logger = logger }
}

func WithClock(now func() time.Time) TaskOption {
	return func(s *TaskService) { s.now = now }
}

func NewTaskService(repo TaskRepository, opts ...TaskOption) *TaskService {
	s := &TaskService{
		repo:   repo,
		logger: logging.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the tasks matching filter. A nil filter returns every task
// that is not deleted, in store order.
func (s *TaskService) List(ctx context.Context, filter *types.TaskFilter) ([]types.Task, error) {
	var (
		tasks []types.Task
		err   error
	)
	if filter != nil && filter.AssignedUserID != nil {
		tasks, err = s.repo.ListByAssignee(ctx, *filter.AssignedUserID)
	} else {
		tasks, err = s.repo.List(ctx)
	}
	if err != nil {
		return nil, err
	}
	return filterTasks(tasks, filter), nil
}

// ListByUser returns the tasks assigned to userID. A zero userID returns
// every task, exactly like an unfiltered List.
func (s *TaskService) ListByUser(ctx context.Context, userID int64) ([]types.Task, error) {
	if userID == 0 {
		return s.List(ctx, nil)
	}
	tasks, err := s.repo.ListByAssignee(ctx, userID)
	if err != nil {
		return nil, err
	}
	return withoutDeleted(tasks), nil
}

func (s *TaskService) Get(ctx context.Context, id int64) (types.Task, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *TaskService) Create(ctx context.Context, req types.CreateTaskRequest, createdBy string) (types.Task, error) {
	if err := validateTaskFields(req.Name, req.Description); err != nil {
		return types.Task{}, err
	}

	assigned := req.AssignedUserIDs
	if assigned == nil {
		assigned = []int64{}
	}

	now := s.now()
	task, err := s.repo.Create(ctx, types.Task{
		Name:            req.Name,
		Description:     req.Description,
		AssignedUserIDs: assigned,
		Status:          types.TaskStatusToDo,
		IsDelayed:       false,
		Deadline:        req.Deadline,
		CreatedAt:       now,
		CreatedBy:       createdBy,
		UpdatedAt:       now,
		UpdatedBy:       createdBy,
	})
	if err != nil {
		return types.Task{}, err
	}

	s.publish(ctx, types.TaskEventCreated, task, createdBy)
	return task, nil
}

// ReplaceTask overwrites name, description, assignees, status and deadline,
// then recomputes IsDelayed.
func (s *TaskService) ReplaceTask(ctx context.Context, id int64, req types.UpdateTaskRequest, updatedBy string) (types.Task, error) {
	if err := validateTaskFields(req.Name, req.Description); err != nil {
		return types.Task{}, err
	}
	if !req.Status.Valid() {
		return types.Task{}, &ValidationError{Fields: []string{"Invalid task status"}}
	}

	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.Task{}, err
	}
	if err := s.checkTransition(existing.Status, req.Status); err != nil {
		return types.Task{}, err
	}

	assigned := req.AssignedUserIDs
	if assigned == nil {
		assigned = []int64{}
	}

	now := s.now()
	existing.Name = req.Name
	existing.Description = req.Description
	existing.AssignedUserIDs = assigned
	existing.Status = req.Status
	existing.Deadline = req.Deadline
	existing.UpdatedAt = now
	existing.UpdatedBy = updatedBy
	existing.IsDelayed = types.ComputeDelayed(existing.Deadline, existing.Status, now)

	task, err := s.repo.Update(ctx, existing)
	if err != nil {
		return types.Task{}, err
	}

	s.publish(ctx, types.TaskEventUpdated, task, updatedBy)
	return task, nil
}

// UpdateStatus writes only the status and audit fields, then reloads the
// task. The store recomputes IsDelayed with the same rule as ReplaceTask.
func (s *TaskService) UpdateStatus(ctx context.Context, id int64, status types.TaskStatus, updatedBy string) (types.Task, error) {
	if !status.Valid() {
		return types.Task{}, &ValidationError{Fields: []string{"Invalid task status"}}
	}

	if s.transitions != nil {
		existing, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return types.Task{}, err
		}
		if err := s.checkTransition(existing.Status, status); err != nil {
			return types.Task{}, err
		}
	}

	if err := s.repo.UpdateStatus(ctx, id, status, updatedBy, s.now()); err != nil {
		return types.Task{}, err
	}

	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		// The write already happened; a failed reload is an internal error,
		// never a not-found.
		return types.Task{}, fmt.Errorf("reload task %d after status update: %v", id, err)
	}

	s.publish(ctx, types.TaskEventStatusChanged, task, updatedBy)
	return task, nil
}

// Delete soft-deletes the task and reports whether anything changed.
func (s *TaskService) Delete(ctx context.Context, id int64, deletedBy string) (bool, error) {
	if err := s.repo.Delete(ctx, id, deletedBy, s.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	s.publish(ctx, types.TaskEventDeleted, types.Task{ID: id, Status: types.TaskStatusDeleted}, deletedBy)
	return true, nil
}

func (s *TaskService) checkTransition(from, to types.TaskStatus) error {
	if s.transitions == nil || s.transitions.Allowed(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

func (s *TaskService) publish(ctx context.Context, kind types.TaskEventType, task types.Task, actor string) {
	if s.events == nil {
		return
	}
	event := types.TaskEvent{
		Type:       kind,
		TaskID:     task.ID,
		Status:     task.Status,
		IsDelayed:  task.IsDelayed,
		Actor:      actor,
		OccurredAt: s.now(),
	}
	if err := s.events.PublishTaskEvent(ctx, event); err != nil {
		s.logger.Warn(ctx, "publish task event failed", "type", string(kind), "task_id", task.ID, "error", err)
	}
}

func validateTaskFields(name string, description *string) error {
	var v validator
	v.required(name, "Task name", maxTaskNameLen)
	v.optional(description, "Description", maxTaskDescLen)
	return v.err()
}
