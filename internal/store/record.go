package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// GetRecord returns the record with the given id, or nil if absent.
func (db *DB) GetRecord(collection, id string) (*Record, error) {
	var (
		fieldsJSON   string
		lastModified int64
		syncStatus   string
	)
	err := db.QueryRow(`
		SELECT fields, last_modified, sync_status
		FROM records WHERE collection = ? AND id = ?`,
		collection, id).Scan(&fieldsJSON, &lastModified, &syncStatus)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", collection, err)
	}

	fields, err := decodeFields(fieldsJSON)
	if err != nil {
		return nil, storageErr("get", collection, err)
	}
	return &Record{
		Collection:   collection,
		ID:           id,
		Fields:       fields,
		LastModified: time.UnixMilli(lastModified),
		SyncStatus:   SyncStatus(syncStatus),
	}, nil
}

// ListRecords returns all records in a collection in insertion order.
// The optional predicate filters in Go; a nil predicate keeps everything.
func (db *DB) ListRecords(collection string, predicate func(*Record) bool) ([]*Record, error) {
	rows, err := db.Query(`
		SELECT id, fields, last_modified, sync_status
		FROM records WHERE collection = ? ORDER BY rowid ASC`, collection)
	if err != nil {
		return nil, storageErr("list", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		var (
			id           string
			fieldsJSON   string
			lastModified int64
			syncStatus   string
		)
		if err := rows.Scan(&id, &fieldsJSON, &lastModified, &syncStatus); err != nil {
			return nil, storageErr("list", collection, err)
		}
		fields, err := decodeFields(fieldsJSON)
		if err != nil {
			return nil, storageErr("list", collection, err)
		}
		rec := &Record{
			Collection:   collection,
			ID:           id,
			Fields:       fields,
			LastModified: time.UnixMilli(lastModified),
			SyncStatus:   SyncStatus(syncStatus),
		}
		if predicate == nil || predicate(rec) {
			records = append(records, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", collection, err)
	}
	return records, nil
}

// PutRecord upserts a record. The caller stamps LastModified and SyncStatus;
// the store writes exactly what it is given.
func (db *DB) PutRecord(rec *Record) error {
	fieldsJSON, err := encodeFields(rec.Fields)
	if err != nil {
		return storageErr("put", rec.Collection, err)
	}
	_, err = db.Exec(`
		INSERT INTO records (collection, id, fields, last_modified, sync_status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			fields = excluded.fields,
			last_modified = excluded.last_modified,
			sync_status = excluded.sync_status`,
		rec.Collection, rec.ID, fieldsJSON, rec.LastModified.UnixMilli(), string(rec.SyncStatus))
	return storageErr("put", rec.Collection, err)
}

// SetRecordStatus updates only the sync status of a record, if it exists.
func (db *DB) SetRecordStatus(collection, id string, status SyncStatus) error {
	_, err := db.Exec(`
		UPDATE records SET sync_status = ? WHERE collection = ? AND id = ?`,
		string(status), collection, id)
	return storageErr("set_status", collection, err)
}

// DeleteRecord removes a record. Deleting an absent record is not an error.
func (db *DB) DeleteRecord(collection, id string) error {
	_, err := db.Exec(`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	return storageErr("delete", collection, err)
}

// ClearCollection removes every record in a collection.
func (db *DB) ClearCollection(collection string) error {
	_, err := db.Exec(`DELETE FROM records WHERE collection = ?`, collection)
	return storageErr("clear", collection, err)
}

// Collections returns the distinct collection names currently holding records.
func (db *DB) Collections() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT collection FROM records ORDER BY collection`)
	if err != nil {
		return nil, storageErr("collections", "", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr("collections", "", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeFields(raw string) (map[string]any, error) {
	fields := make(map[string]any)
	if raw == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
