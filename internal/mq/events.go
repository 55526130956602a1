package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tasktrack/apiserver/types"
)

const attrEventType = "event_type"

// EventPublisher encodes domain events as JSON and publishes them on the
// configured channels.
type EventPublisher struct {
	backend      Backend
	taskChannel  string
	auditChannel string
}

func NewEventPublisher(backend Backend, taskChannel, auditChannel string) *EventPublisher {
	return &EventPublisher{
		backend:      backend,
		taskChannel:  taskChannel,
		auditChannel: auditChannel,
	}
}

func (p *EventPublisher) PublishTaskEvent(ctx context.Context, event types.TaskEvent) error {
	return p.publish(ctx, p.taskChannel, string(event.Type), event)
}

func (p *EventPublisher) PublishAuthAudit(ctx context.Context, event types.AuthAuditEvent) error {
	return p.publish(ctx, p.auditChannel, string(event.Reason), event)
}

func (p *EventPublisher) publish(ctx context.Context, channel, kind string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", kind, err)
	}
	if _, err := p.backend.Publish(ctx, channel, data, map[string]string{attrEventType: kind}); err != nil {
		return fmt.Errorf("publish %s to %s: %w", kind, channel, err)
	}
	return nil
}
