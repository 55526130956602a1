package types

import "time"

// TaskEventType names a change applied to a task.
type TaskEventType string

const (
	TaskEventCreated       TaskEventType = "task.created"
	TaskEventUpdated       TaskEventType = "task.updated"
	TaskEventStatusChanged TaskEventType = "task.status_changed"
	TaskEventDeleted       TaskEventType = "task.deleted"
)

// TaskEvent is published to the task events channel after a successful write.
type TaskEvent struct {
	Type       TaskEventType `json:"type"`
	TaskID     int64         `json:"taskId"`
	Status     TaskStatus    `json:"status"`
	IsDelayed  bool          `json:"isDelayed"`
	Actor      string        `json:"actor"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// AuthAuditReason classifies an authentication audit record.
type AuthAuditReason string

const (
	AuthAuditUnauthenticated AuthAuditReason = "unauthenticated"
	AuthAuditLoginFailed     AuthAuditReason = "login_failed"
)

// AuthAuditEvent records a rejected request or failed login.
type AuthAuditEvent struct {
	Reason     AuthAuditReason `json:"reason"`
	Path       string          `json:"path"`
	Method     string          `json:"method"`
	RemoteAddr string          `json:"remoteAddr"`
	Username   string          `json:"username,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}
