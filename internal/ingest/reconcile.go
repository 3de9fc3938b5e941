package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reportkit/reportkit/internal/store"
	"github.com/reportkit/reportkit/pkg/types"
)

// action is the fate of one batch record, decided before any insert.
type action int

const (
	actInsert action = iota
	actSkip
	actDedup
	actNullKey
)

// Reconciler inserts unseen records through a store.Adapter. It holds no
// state between calls; one Reconciler may be shared, but concurrent calls on
// the same table are not coordinated (see Reconcile).
type Reconciler struct {
	store store.Adapter
}

// New returns a Reconciler writing through a.
func New(a store.Adapter) *Reconciler {
	return &Reconciler{store: a}
}

// Reconcile appends every record of batch whose keyColumn value is not yet
// present in table.
//
// The existing keys are read once, before any insert, and are not re-read:
// dedup is against that snapshot plus the rule that only the first record
// of each new key (in batch order) is inserted. First-occurrence-wins mirrors
// the historical behaviour of these jobs and may be accidental rather than a
// chosen conflict policy; later records for the same key are dropped without
// comparing their payloads.
//
// Each surviving record is inserted in its own transaction, in batch order.
// A failed insert is rolled back, classified, logged and recorded in the
// Result; it never aborts the remaining rows and is never retried. The batch
// as a whole is not atomic.
//
// The returned error is non-nil only for an invalid batch (ErrInvalidBatch)
// or a failure reading the existing keys (*SnapshotError); in both cases no
// row has been inserted.
//
// Two concurrent calls against the same table may both see a key as absent
// and both insert it. Only a uniqueness constraint on the table closes that
// race; with one, the losing insert is reported as a non-retryable row error.
func (r *Reconciler) Reconcile(ctx context.Context, table, keyColumn string, batch types.Batch) (Result, error) {
	res := Result{Table: table, KeyColumn: keyColumn, Attempted: len(batch.Rows)}

	keyIdx, insertStmt, err := r.prepare(table, keyColumn, batch)
	if err != nil {
		return res, err
	}

	existing, err := r.existingKeys(ctx, table, keyColumn)
	if err != nil {
		slog.Error("ingest: key snapshot failed", "table", table, "key_column", keyColumn, "err", err)
		return res, err
	}

	plan, keys := planBatch(batch, keyIdx, existing)

	for i, act := range plan {
		switch act {
		case actSkip:
			res.Skipped++
		case actDedup:
			res.Deduplicated++
			slog.Debug("ingest: dropped duplicate key within batch",
				"table", table, "key", keys[i], "row", i)
		case actNullKey:
			res.fail(RowError{Row: i, Class: store.NonRetryable, Err: ErrNullKey})
		case actInsert:
			if err := r.insertRow(ctx, insertStmt, batch.Rows[i]); err != nil {
				rowErr := RowError{Row: i, Key: keys[i], Class: store.Classify(err), Err: err}
				slog.Warn("ingest: row insert failed",
					"table", table,
					"key", keys[i],
					"row", i,
					"class", rowErr.Class.String(),
					"err", err,
				)
				res.fail(rowErr)
				continue
			}
			res.Inserted++
		}
	}

	slog.Info("ingest: reconciled batch",
		"table", table,
		"attempted", res.Attempted,
		"inserted", res.Inserted,
		"skipped", res.Skipped,
		"deduplicated", res.Deduplicated,
		"failed", res.Failed,
	)
	return res, nil
}

func (res *Result) fail(e RowError) {
	res.Failed++
	res.Errors = append(res.Errors, e)
}

// prepare validates the call and builds the insert statement.
func (r *Reconciler) prepare(table, keyColumn string, batch types.Batch) (int, string, error) {
	if !store.ValidIdentifier(table) {
		return 0, "", fmt.Errorf("%w: table name %q", ErrInvalidBatch, table)
	}
	if !store.ValidIdentifier(keyColumn) {
		return 0, "", fmt.Errorf("%w: key column %q", ErrInvalidBatch, keyColumn)
	}
	if err := batch.Validate(); err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	keyIdx := batch.Index(keyColumn)
	if keyIdx < 0 {
		return 0, "", fmt.Errorf("%w: key column %q not in batch columns %v", ErrInvalidBatch, keyColumn, batch.Columns)
	}
	stmt, err := store.InsertRow(r.store.Dialect(), table, batch.Columns)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	return keyIdx, stmt, nil
}

// existingKeys reads the key snapshot. NULL keys in the table are ignored.
func (r *Reconciler) existingKeys(ctx context.Context, table, keyColumn string) (map[string]struct{}, error) {
	query, err := store.SelectColumn(r.store.Dialect(), table, keyColumn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	rows, err := r.store.Query(ctx, query)
	if err != nil {
		return nil, &SnapshotError{Table: table, KeyColumn: keyColumn, Err: err}
	}
	keys := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if k, ok := types.KeyString(row[0]); ok {
			keys[k] = struct{}{}
		}
	}
	return keys, nil
}

// planBatch decides the action for every record and returns it alongside the
// canonical key of each record.
func planBatch(batch types.Batch, keyIdx int, existing map[string]struct{}) ([]action, []string) {
	plan := make([]action, len(batch.Rows))
	keys := make([]string, len(batch.Rows))
	claimed := make(map[string]struct{})

	for i, row := range batch.Rows {
		k, ok := types.KeyString(row[keyIdx])
		keys[i] = k
		switch {
		case !ok:
			plan[i] = actNullKey
		case contains(existing, k):
			plan[i] = actSkip
		case contains(claimed, k):
			plan[i] = actDedup
		default:
			claimed[k] = struct{}{}
			plan[i] = actInsert
		}
	}
	return plan, keys
}

func contains(set map[string]struct{}, k string) bool {
	_, ok := set[k]
	return ok
}

// insertRow runs BEGIN; INSERT; COMMIT for one record.
func (r *Reconciler) insertRow(ctx context.Context, stmt string, row types.Record) error {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := tx.Exec(ctx, stmt, row...); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Debug("ingest: rollback failed", "err", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
