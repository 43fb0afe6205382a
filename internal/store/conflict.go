package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const conflictColumns = `id, collection, entity_id, local_data, server_data, detected_at, status`

// UpsertConflict records a detected divergence. A pending conflict for the
// same (collection, entity id) is replaced: only one pending conflict may
// exist per entity.
func (db *DB) UpsertConflict(collection, entityID string, localData, serverData map[string]any) (*ConflictRecord, error) {
	localJSON, err := encodeFields(localData)
	if err != nil {
		return nil, storageErr("conflict_upsert", collection, err)
	}
	serverJSON, err := encodeFields(serverData)
	if err != nil {
		return nil, storageErr("conflict_upsert", collection, err)
	}

	now := time.Now()
	conflict := &ConflictRecord{
		ID:         uuid.NewString(),
		Collection: collection,
		EntityID:   entityID,
		LocalData:  localData,
		ServerData: serverData,
		DetectedAt: now,
		Status:     ConflictPending,
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, storageErr("conflict_upsert", collection, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DELETE FROM conflict_resolution
		WHERE collection = ? AND entity_id = ? AND status = 'pending'`,
		collection, entityID); err != nil {
		return nil, storageErr("conflict_upsert", collection, err)
	}
	if _, err := tx.Exec(`
		INSERT INTO conflict_resolution (id, collection, entity_id, local_data, server_data, detected_at, status)
		VALUES (?, ?, ?, ?, ?, ?, 'pending')`,
		conflict.ID, collection, entityID, localJSON, serverJSON, now.UnixMilli()); err != nil {
		return nil, storageErr("conflict_upsert", collection, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("conflict_upsert", collection, err)
	}
	return conflict, nil
}

// GetConflict returns a conflict by id, or nil if absent.
func (db *DB) GetConflict(id string) (*ConflictRecord, error) {
	row := db.QueryRow(`
		SELECT `+conflictColumns+` FROM conflict_resolution WHERE id = ?`, id)
	conflict, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("conflict_get", "conflict_resolution", err)
	}
	return conflict, nil
}

// PendingConflicts returns all conflicts still awaiting resolution.
func (db *DB) PendingConflicts() ([]*ConflictRecord, error) {
	rows, err := db.Query(`
		SELECT ` + conflictColumns + `
		FROM conflict_resolution WHERE status = 'pending'
		ORDER BY detected_at ASC, id ASC`)
	if err != nil {
		return nil, storageErr("conflict_list", "conflict_resolution", err)
	}
	defer func() { _ = rows.Close() }()

	var conflicts []*ConflictRecord
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, storageErr("conflict_list", "conflict_resolution", err)
		}
		conflicts = append(conflicts, conflict)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("conflict_list", "conflict_resolution", err)
	}
	return conflicts, nil
}

// MarkConflictResolved closes a pending conflict, keeping it for audit.
func (db *DB) MarkConflictResolved(id string) error {
	_, err := db.Exec(`UPDATE conflict_resolution SET status = 'resolved' WHERE id = ?`, id)
	return storageErr("conflict_resolve", "conflict_resolution", err)
}

// ClearConflicts removes conflicts, optionally limited to one collection.
func (db *DB) ClearConflicts(collection string) error {
	var err error
	if collection == "" {
		_, err = db.Exec(`DELETE FROM conflict_resolution`)
	} else {
		_, err = db.Exec(`DELETE FROM conflict_resolution WHERE collection = ?`, collection)
	}
	return storageErr("conflict_clear", "conflict_resolution", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConflict(row rowScanner) (*ConflictRecord, error) {
	var (
		conflict   ConflictRecord
		localJSON  string
		serverJSON string
		detectedAt int64
		cstatus    string
	)
	if err := row.Scan(&conflict.ID, &conflict.Collection, &conflict.EntityID,
		&localJSON, &serverJSON, &detectedAt, &cstatus); err != nil {
		return nil, err
	}
	localData, err := decodeFields(localJSON)
	if err != nil {
		return nil, err
	}
	serverData, err := decodeFields(serverJSON)
	if err != nil {
		return nil, err
	}
	conflict.LocalData = localData
	conflict.ServerData = serverData
	conflict.DetectedAt = time.UnixMilli(detectedAt)
	conflict.Status = ConflictStatus(cstatus)
	return &conflict, nil
}
