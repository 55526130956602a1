package services

import "github.com/tasktrack/apiserver/types"

// TransitionPolicy decides whether a task may move between two statuses.
// A TaskService without a policy accepts every change.
type TransitionPolicy interface {
	Allowed(from, to types.TaskStatus) bool
}

// StrictTransitions only allows the moves of the task lifecycle. Deleted
// tasks cannot be revived and rewriting the current status is always allowed.
type StrictTransitions struct{}

func (StrictTransitions) Allowed(from, to types.TaskStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case types.TaskStatusToDo:
		return to == types.TaskStatusInProgress || to == types.TaskStatusCompleted ||
			to == types.TaskStatusUnAssigned || to == types.TaskStatusDeleted
	case types.TaskStatusInProgress:
		return to == types.TaskStatusToDo || to == types.TaskStatusCompleted ||
			to == types.TaskStatusUnAssigned || to == types.TaskStatusDeleted
	case types.TaskStatusUnAssigned:
		return to == types.TaskStatusToDo || to == types.TaskStatusInProgress || to == types.TaskStatusDeleted
	case types.TaskStatusCompleted:
		return to == types.TaskStatusInProgress || to == types.TaskStatusDeleted
	default:
		return false
	}
}
