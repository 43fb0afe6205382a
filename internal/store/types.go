package store

import "time"

// SyncStatus tracks where a record stands relative to the remote API.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSyncing  SyncStatus = "syncing"
	StatusSynced   SyncStatus = "synced"
	StatusConflict SyncStatus = "conflict"
	StatusError    SyncStatus = "error"
)

// Operation is the kind of remote mutation a queue item carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpUpsert Operation = "upsert"
)

// Priority orders queue items within a drain. Urgent items are dispatched
// before high, high before normal, normal before low.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the drain order position of a priority; lower drains sooner.
// Unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// QueueStatus is the durable state of a queue item. Items leave the queue
// on confirmed sync; abandoned items stay visible with QueueError. An item
// is QueueSyncing while its remote call is in flight, which shields it from
// concurrent collapse.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSyncing QueueStatus = "syncing"
	QueueError   QueueStatus = "error"
)

// ConflictStatus tracks whether a detected divergence still awaits resolution.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// Record is an offline copy of one CRM entity. Fields holds the arbitrary
// domain payload; the envelope columns exist so the engine never has to
// understand domain fields. The store performs no implicit stamping:
// callers set LastModified and SyncStatus before Put.
type Record struct {
	Collection   string
	ID           string
	Fields       map[string]any
	LastModified time.Time
	SyncStatus   SyncStatus
}

// QueueItem is one pending mutation awaiting remote confirmation.
type QueueItem struct {
	ID            string
	Collection    string
	EntityID      string
	Operation     Operation
	Payload       map[string]any
	Priority      Priority
	Status        QueueStatus
	EnqueuedAt    time.Time
	RetryCount    int
	LastError     string
	LastRetryAt   *time.Time
	NextAttemptAt time.Time
}

// ConflictRecord is a detected client/server divergence awaiting resolution.
type ConflictRecord struct {
	ID         string
	Collection string
	EntityID   string
	LocalData  map[string]any
	ServerData map[string]any
	DetectedAt time.Time
	Status     ConflictStatus
}
