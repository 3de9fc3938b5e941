// Package ingest appends the not-yet-stored rows of a batch to a table.
//
// Reconcile reads the table's key column once, skips every record whose key
// is already present, keeps the first record of each new key in batch order
// and inserts each survivor in its own transaction. A failed row is recorded
// in Result and does not stop the remaining rows; only a failure to read the
// existing keys (or an invalid batch) aborts the call.
//
// Keys are compared by their canonical string form (types.KeyString).
package ingest
