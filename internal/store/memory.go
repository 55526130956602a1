package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tasktrack/apiserver/types"
)

// MemoryUserRepository keeps users in process memory. It applies the same
// uniqueness and soft-delete rules as UserRepository.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]types.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[int64]types.User)}
}

func (r *MemoryUserRepository) List(ctx context.Context) ([]types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]types.User, 0, len(r.users))
	for _, user := range r.users {
		if !user.IsDeleted {
			users = append(users, cloneUser(user))
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id int64) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok || user.IsDeleted {
		return types.User{}, ErrNotFound
	}
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if !user.IsDeleted && user.Username == username {
			return cloneUser(user), nil
		}
	}
	return types.User{}, ErrNotFound
}

func (r *MemoryUserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conflictLocked(0, username, "") == ErrDuplicateUsername, nil
}

func (r *MemoryUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conflictLocked(0, "", email) == ErrDuplicateEmail, nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.conflictLocked(0, user.Username, user.Email); err != nil {
		return types.User{}, err
	}
	r.nextID++
	user.ID = r.nextID
	user.IsDeleted = false
	r.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok || existing.IsDeleted {
		return types.User{}, ErrNotFound
	}
	if err := r.conflictLocked(user.ID, user.Username, user.Email); err != nil {
		return types.User{}, err
	}
	user.CreatedAt = existing.CreatedAt
	user.CreatedBy = existing.CreatedBy
	user.IsDeleted = false
	r.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) Delete(ctx context.Context, id int64, soft bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return false, nil
	}
	if !soft {
		delete(r.users, id)
		return true, nil
	}
	if user.IsDeleted {
		return false, nil
	}
	user.IsDeleted = true
	user.UpdatedAt = time.Now().UTC()
	r.users[id] = user
	return true, nil
}

// conflictLocked checks live users other than selfID. Empty values are skipped.
func (r *MemoryUserRepository) conflictLocked(selfID int64, username, email string) error {
	for id, user := range r.users {
		if id == selfID || user.IsDeleted {
			continue
		}
		if username != "" && user.Username == username {
			return ErrDuplicateUsername
		}
	}
	for id, user := range r.users {
		if id == selfID || user.IsDeleted {
			continue
		}
		if email != "" && user.Email == email {
			return ErrDuplicateEmail
		}
	}
	return nil
}

func cloneUser(user types.User) types.User {
	if user.MiddleName != nil {
		v := *user.MiddleName
		user.MiddleName = &v
	}
	if user.DisplayName != nil {
		v := *user.DisplayName
		user.DisplayName = &v
	}
	return user
}

// MemoryTaskRepository keeps tasks in process memory with the same
// delay and soft-delete rules as TaskRepository.
type MemoryTaskRepository struct {
	mu     sync.RWMutex
	nextID int64
	tasks  map[int64]types.Task
}

func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{tasks: make(map[int64]types.Task)}
}

func (r *MemoryTaskRepository) List(ctx context.Context) ([]types.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(func(types.Task) bool { return true }), nil
}

func (r *MemoryTaskRepository) ListByAssignee(ctx context.Context, userID int64) ([]types.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(func(t types.Task) bool { return t.IsAssignedTo(userID) }), nil
}

func (r *MemoryTaskRepository) GetByID(ctx context.Context, id int64) (types.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return types.Task{}, ErrNotFound
	}
	return cloneTask(task), nil
}

func (r *MemoryTaskRepository) Create(ctx context.Context, task types.Task) (types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	task.ID = r.nextID
	task = cloneTask(task)
	r.tasks[task.ID] = task
	return cloneTask(task), nil
}

func (r *MemoryTaskRepository) Update(ctx context.Context, task types.Task) (types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.tasks[task.ID]
	if !ok {
		return types.Task{}, ErrNotFound
	}
	task.CreatedAt = existing.CreatedAt
	task.CreatedBy = existing.CreatedBy
	task = cloneTask(task)
	r.tasks[task.ID] = task
	return cloneTask(task), nil
}

func (r *MemoryTaskRepository) UpdateStatus(ctx context.Context, id int64, status types.TaskStatus, updatedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	task.Status = status
	task.IsDelayed = types.ComputeDelayed(task.Deadline, status, at)
	task.UpdatedAt = at
	task.UpdatedBy = updatedBy
	r.tasks[id] = task
	return nil
}

func (r *MemoryTaskRepository) Delete(ctx context.Context, id int64, deletedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok || task.Status == types.TaskStatusDeleted {
		return ErrNotFound
	}
	task.Status = types.TaskStatusDeleted
	task.IsDelayed = types.ComputeDelayed(task.Deadline, task.Status, at)
	task.UpdatedAt = at
	task.UpdatedBy = deletedBy
	r.tasks[id] = task
	return nil
}

func (r *MemoryTaskRepository) collectLocked(keep func(types.Task) bool) []types.Task {
	tasks := make([]types.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		if keep(task) {
			tasks = append(tasks, cloneTask(task))
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

func cloneTask(task types.Task) types.Task {
	ids := make([]int64, len(task.AssignedUserIDs))
	copy(ids, task.AssignedUserIDs)
	task.AssignedUserIDs = ids
	if task.Description != nil {
		v := *task.Description
		task.Description = &v
	}
	if task.Deadline != nil {
		v := *task.Deadline
		task.Deadline = &v
	}
	return task
}

// MemorySessionRepository keeps sessions in process memory.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]types.Session
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]types.Session)}
}

func (r *MemorySessionRepository) Create(ctx context.Context, session types.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.Token] = session
	return nil
}

func (r *MemorySessionRepository) Get(ctx context.Context, token string, now time.Time) (types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[token]
	if !ok || !session.ExpiresAt.After(now) {
		return types.Session{}, ErrNotFound
	}
	return session, nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
	return nil
}

func (r *MemorySessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for token, session := range r.sessions {
		if !session.ExpiresAt.After(now) {
			delete(r.sessions, token)
			removed++
		}
	}
	return removed, nil
}

func (r *MemorySessionRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for token, session := range r.sessions {
		if session.UserID == userID {
			delete(r.sessions, token)
			removed++
		}
	}
	return removed, nil
}
