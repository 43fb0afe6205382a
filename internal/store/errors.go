package store

import "fmt"

// StorageError wraps a failed read/write against the local store with the
// operation and collection it targeted. Queue writers treat these as
// retryable; direct UI reads surface them to the caller.
type StorageError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StorageError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("store: %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Collection: collection, Err: err}
}
