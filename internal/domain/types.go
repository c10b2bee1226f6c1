package domain

import "time"

// TaskStatus is the lifecycle state of a task as kept by the task store.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
	StatusComplete   TaskStatus = "complete"
)

// IsTerminal reports whether no further reminders should fire for a task
// in this status.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusComplete
}

// TerminalStatuses lists every status after which reminders stop.
func TerminalStatuses() []TaskStatus {
	return []TaskStatus{StatusDone, StatusComplete}
}

type Task struct {
	ID          string
	Title       string
	Description string
	Status      TaskStatus
	StartDate   time.Time
	EndDate     time.Time // due instant; invariant EndDate > StartDate
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NotificationType classifies a stored notification.
type NotificationType string

const (
	TypeInfo      NotificationType = "info"
	TypeAlert     NotificationType = "alert"
	TypePromotion NotificationType = "promotion"
	TypeReminder  NotificationType = "reminder"
)

// TaskEvent names the task lifecycle events that produce notifications.
type TaskEvent string

const (
	EventCreated   TaskEvent = "created"
	EventUpdated   TaskEvent = "updated"
	EventDeleted   TaskEvent = "deleted"
	EventDueSoon   TaskEvent = "due_soon"
	EventCompleted TaskEvent = "completed"
)

// NotificationRecord is the persisted outcome of one logical send to one
// recipient. A failed delivery still produces a record with
// IsDelivered=false; history never silently drops failures.
type NotificationRecord struct {
	ID          string
	RecipientID string
	Title       string
	Body        string
	Type        NotificationType
	Data        map[string]string
	IsDelivered bool
	DeliveredAt *time.Time
	IsRead      bool
	ReadAt      *time.Time
	CreatedAt   time.Time
}

// DeliveryOutcome is the aggregate result of a dispatch attempt.
type DeliveryOutcome string

const (
	// Delivered means the transport accepted the send.
	Delivered DeliveryOutcome = "delivered"
	// DeliveryFailed means the transport was contacted and rejected or
	// timed out; a failed record was still written per recipient.
	DeliveryFailed DeliveryOutcome = "delivery_failed"
	// NoDevices means no recipient had a registered device token; nothing
	// was sent and nothing was recorded.
	NoDevices DeliveryOutcome = "no_devices"
)

// DeliveryResult summarizes one Dispatcher invocation.
type DeliveryResult struct {
	Outcome    DeliveryOutcome
	Recipients int // recipients a record was written for
	Tokens     int // device tokens addressed by the transport call
}
