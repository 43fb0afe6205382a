package bus

import "time"

// Event kinds published by the sync subsystem. Subscribers filter by
// namespace prefix, e.g. "sync." receives every sync lifecycle event.
const (
	KindNetOnline  = "net.online"
	KindNetOffline = "net.offline"

	KindSyncStatusChanged = "sync.status_changed"
	KindSyncCompleted     = "sync.completed"
	KindSyncFailed        = "sync.failed"
	KindSyncItemFailed    = "sync.item_failed"

	KindConflictDetected       = "conflict.detected"
	KindConflictManualRequired = "conflict.manual_required"
	KindConflictResolved       = "conflict.resolved"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
