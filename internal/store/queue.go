package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// drainOrderBy is the deterministic total order of a drain: priority first,
// then enqueue time, then id as the final tie-break.
const drainOrderBy = `
	ORDER BY CASE priority
		WHEN 'urgent' THEN 0
		WHEN 'high' THEN 1
		WHEN 'normal' THEN 2
		WHEN 'low' THEN 3
		ELSE 4 END ASC,
	enqueued_at ASC,
	id ASC`

const queueColumns = `
	id, collection, entity_id, operation, payload, priority, status,
	enqueued_at, retry_count, last_error, last_retry_at, next_attempt_at`

// Enqueue records a pending mutation for an entity. If a pending item for
// the same (collection, entity id) already exists, the new write collapses
// into it: operation and payload are replaced with the latest local state,
// retry bookkeeping resets, the earlier enqueue time is kept so the item
// does not lose its place in the drain order, and the more urgent of the
// two priorities wins. An update collapsing onto an unsent create stays a
// create, since the server has never seen the entity. Items in flight
// (syncing status) are never collapsed into; a concurrent write gets its
// own pending item instead.
func (db *DB) Enqueue(collection, entityID string, op Operation, payload map[string]any, priority Priority) (*QueueItem, error) {
	payloadJSON, err := encodeFields(payload)
	if err != nil {
		return nil, storageErr("enqueue", collection, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, storageErr("enqueue", collection, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()

	var (
		existingID       string
		existingOp       string
		existingPriority string
		existingEnqueued int64
	)
	err = tx.QueryRow(`
		SELECT id, operation, priority, enqueued_at FROM sync_queue
		WHERE collection = ? AND entity_id = ? AND status = 'pending'`,
		collection, entityID).Scan(&existingID, &existingOp, &existingPriority, &existingEnqueued)

	switch {
	case err == sql.ErrNoRows:
		item := &QueueItem{
			ID:         uuid.NewString(),
			Collection: collection,
			EntityID:   entityID,
			Operation:  op,
			Payload:    payload,
			Priority:   priority,
			Status:     QueuePending,
			EnqueuedAt: now,
		}
		_, err = tx.Exec(`
			INSERT INTO sync_queue (id, collection, entity_id, operation, payload, priority, status, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)`,
			item.ID, collection, entityID, string(op), payloadJSON, string(priority), now.UnixMilli())
		if err != nil {
			return nil, storageErr("enqueue", collection, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, storageErr("enqueue", collection, err)
		}
		return item, nil

	case err != nil:
		return nil, storageErr("enqueue", collection, err)
	}

	kept := priority
	if Priority(existingPriority).Rank() < priority.Rank() {
		kept = Priority(existingPriority)
	}
	if Operation(existingOp) == OpCreate && (op == OpUpdate || op == OpUpsert) {
		op = OpCreate
	}
	_, err = tx.Exec(`
		UPDATE sync_queue SET
			operation = ?, payload = ?, priority = ?,
			retry_count = 0, last_error = '', last_retry_at = NULL, next_attempt_at = 0
		WHERE id = ?`,
		string(op), payloadJSON, string(kept), existingID)
	if err != nil {
		return nil, storageErr("enqueue", collection, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("enqueue", collection, err)
	}
	return &QueueItem{
		ID:         existingID,
		Collection: collection,
		EntityID:   entityID,
		Operation:  op,
		Payload:    payload,
		Priority:   kept,
		Status:     QueuePending,
		EnqueuedAt: time.UnixMilli(existingEnqueued),
	}, nil
}

// DrainOrder returns the pending queue items eligible at the given time,
// in drain order. Items waiting out a retry backoff are excluded until
// their next attempt time has passed; abandoned (error) items never appear.
func (db *DB) DrainOrder(now time.Time) ([]*QueueItem, error) {
	rows, err := db.Query(`
		SELECT `+queueColumns+`
		FROM sync_queue
		WHERE status = 'pending' AND next_attempt_at <= ?`+drainOrderBy,
		now.UnixMilli())
	if err != nil {
		return nil, storageErr("drain_order", "sync_queue", err)
	}
	return scanQueueItems(rows)
}

// ListQueueItems returns every queue item, including abandoned ones, for
// operator inspection.
func (db *DB) ListQueueItems() ([]*QueueItem, error) {
	rows, err := db.Query(`SELECT ` + queueColumns + ` FROM sync_queue` + drainOrderBy)
	if err != nil {
		return nil, storageErr("list", "sync_queue", err)
	}
	return scanQueueItems(rows)
}

// PendingCount returns the number of queue items still awaiting sync.
func (db *DB) PendingCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, storageErr("count", "sync_queue", err)
	}
	return n, nil
}

// RemoveQueueItem deletes a confirmed or discarded item from the queue.
func (db *DB) RemoveQueueItem(id string) error {
	_, err := db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	return storageErr("remove", "sync_queue", err)
}

// MarkQueueItemSyncing flags an item as in flight. From that point on a
// concurrent local write for the same entity creates a fresh pending item
// instead of collapsing into the one being dispatched.
func (db *DB) MarkQueueItemSyncing(id string) error {
	_, err := db.Exec(`UPDATE sync_queue SET status = 'syncing' WHERE id = ?`, id)
	return storageErr("mark_syncing", "sync_queue", err)
}

// MarkQueueItemRetry records a failed attempt, schedules the next one and
// returns the item to pending. If a newer pending item for the same entity
// appeared while this one was in flight, the stale item is dropped instead:
// its payload has been superseded and retrying it would resurrect old state.
func (db *DB) MarkQueueItemRetry(id, lastError string, retryCount int, nextAttempt time.Time) error {
	tx, err := db.Begin()
	if err != nil {
		return storageErr("mark_retry", "sync_queue", err)
	}
	defer func() { _ = tx.Rollback() }()

	var superseded int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM sync_queue newer
		WHERE newer.status = 'pending' AND newer.id != ?
		  AND (newer.collection, newer.entity_id) =
		      (SELECT collection, entity_id FROM sync_queue WHERE id = ?)`,
		id, id).Scan(&superseded)
	if err != nil {
		return storageErr("mark_retry", "sync_queue", err)
	}

	if superseded > 0 {
		_, err = tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	} else {
		_, err = tx.Exec(`
			UPDATE sync_queue SET
				status = 'pending',
				retry_count = ?, last_error = ?, last_retry_at = ?, next_attempt_at = ?
			WHERE id = ?`,
			retryCount, lastError, time.Now().UnixMilli(), nextAttempt.UnixMilli(), id)
	}
	if err != nil {
		return storageErr("mark_retry", "sync_queue", err)
	}
	return storageErr("mark_retry", "sync_queue", tx.Commit())
}

// ResetInFlight returns items left in syncing status to pending. Called on
// startup: a crash mid-drain must not strand items. An interrupted item
// whose entity gained a newer pending item is dropped, not resurrected.
func (db *DB) ResetInFlight() error {
	tx, err := db.Begin()
	if err != nil {
		return storageErr("reset_in_flight", "sync_queue", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		DELETE FROM sync_queue WHERE status = 'syncing' AND EXISTS (
			SELECT 1 FROM sync_queue newer
			WHERE newer.collection = sync_queue.collection
			  AND newer.entity_id = sync_queue.entity_id
			  AND newer.status = 'pending')`)
	if err != nil {
		return storageErr("reset_in_flight", "sync_queue", err)
	}
	_, err = tx.Exec(`UPDATE sync_queue SET status = 'pending' WHERE status = 'syncing'`)
	if err != nil {
		return storageErr("reset_in_flight", "sync_queue", err)
	}
	return storageErr("reset_in_flight", "sync_queue", tx.Commit())
}

// MarkQueueItemError abandons an item after the retry ceiling. The item
// stays in the table for inspection but is excluded from future drains.
func (db *DB) MarkQueueItemError(id, lastError string, retryCount int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE sync_queue SET
			status = 'error', retry_count = ?, last_error = ?, last_retry_at = ?
		WHERE id = ?`,
		retryCount, lastError, now, id)
	return storageErr("mark_error", "sync_queue", err)
}

// ClearQueue removes queue items, optionally limited to one collection.
func (db *DB) ClearQueue(collection string) error {
	var err error
	if collection == "" {
		_, err = db.Exec(`DELETE FROM sync_queue`)
	} else {
		_, err = db.Exec(`DELETE FROM sync_queue WHERE collection = ?`, collection)
	}
	return storageErr("clear", "sync_queue", err)
}

func scanQueueItems(rows *sql.Rows) ([]*QueueItem, error) {
	defer func() { _ = rows.Close() }()

	var items []*QueueItem
	for rows.Next() {
		var (
			item        QueueItem
			op          string
			payloadJSON string
			priority    string
			qstatus     string
			enqueuedAt  int64
			lastRetryAt sql.NullInt64
			nextAttempt int64
		)
		if err := rows.Scan(&item.ID, &item.Collection, &item.EntityID, &op, &payloadJSON,
			&priority, &qstatus, &enqueuedAt, &item.RetryCount, &item.LastError,
			&lastRetryAt, &nextAttempt); err != nil {
			return nil, storageErr("scan", "sync_queue", err)
		}
		payload, err := decodeFields(payloadJSON)
		if err != nil {
			return nil, storageErr("scan", "sync_queue", err)
		}
		item.Operation = Operation(op)
		item.Payload = payload
		item.Priority = Priority(priority)
		item.Status = QueueStatus(qstatus)
		item.EnqueuedAt = time.UnixMilli(enqueuedAt)
		if lastRetryAt.Valid {
			t := time.UnixMilli(lastRetryAt.Int64)
			item.LastRetryAt = &t
		}
		item.NextAttemptAt = time.UnixMilli(nextAttempt)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan", "sync_queue", err)
	}
	return items, nil
}
