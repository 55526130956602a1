package services

import (
	"context"

	"github.com/tasktrack/apiserver/types"
)

// TaskEventPublisher receives a TaskEvent after every successful task write.
type TaskEventPublisher interface {
	PublishTaskEvent(ctx context.Context, event types.TaskEvent) error
}
