package store

import "errors"

var ErrNotFound = errors.New("not found")

// StorageError wraps any failure of the underlying database: connection
// loss, constraint violations, bad SQL.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
