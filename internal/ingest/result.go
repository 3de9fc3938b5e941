package ingest

import (
	"errors"
	"fmt"

	"github.com/reportkit/reportkit/internal/store"
)

var (
	// ErrInvalidBatch is returned before any I/O when the table, key column
	// or batch shape cannot be used.
	ErrInvalidBatch = errors.New("ingest: invalid batch")

	// ErrKeySnapshot is matched (errors.Is) by every SnapshotError.
	ErrKeySnapshot = errors.New("ingest: read existing keys")

	// ErrNullKey is the cause recorded for records whose key value is nil.
	ErrNullKey = errors.New("ingest: record has a null key")
)

// SnapshotError reports that the existing key set could not be read. No row
// was inserted.
type SnapshotError struct {
	Table     string
	KeyColumn string
	Err       error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("ingest: read existing keys %s.%s: %v", e.Table, e.KeyColumn, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrKeySnapshot) hold.
func (e *SnapshotError) Is(target error) bool { return target == ErrKeySnapshot }

// RowError is the failure of one record.
type RowError struct {
	// Row is the record's index in the input batch.
	Row int
	// Key is the canonical key value ("" for a null key).
	Key   string
	Class store.Class
	Err   error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d (key %q, %s): %v", e.Row, e.Key, e.Class, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// Result summarises one Reconcile call.
//
// Attempted == Inserted + Skipped + Deduplicated + Failed.
type Result struct {
	Table     string `json:"table"`
	KeyColumn string `json:"key_column"`

	// Attempted is the number of records in the input batch.
	Attempted int `json:"attempted"`
	// Inserted is the number of records committed.
	Inserted int `json:"inserted"`
	// Skipped counts records whose key was already stored.
	Skipped int `json:"skipped"`
	// Deduplicated counts later records sharing a new key with an earlier
	// record of the same batch.
	Deduplicated int `json:"deduplicated"`
	// Failed counts records whose insert did not commit.
	Failed int `json:"failed"`

	Errors []RowError `json:"-"`
}

// OK reports whether every row either landed or was intentionally skipped.
func (r Result) OK() bool { return r.Failed == 0 }

// Retryable reports whether at least one row failed and every failure is
// retryable.
func (r Result) Retryable() bool {
	if r.Failed == 0 {
		return false
	}
	for _, e := range r.Errors {
		if e.Class != store.Retryable {
			return false
		}
	}
	return true
}

// Err joins all row errors, or returns nil.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}
