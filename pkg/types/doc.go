// Package types defines the shared row types passed between sources, the
// outlier step, and the reconciling inserter.
//
// A Batch is an ordered set of Records with one fixed column list; a Record
// holds values aligned to Batch.Columns. Column order is the insert order.
//
// KeyString gives every key value a canonical string form so keys read back
// from a database compare equal to the same keys decoded from JSON or CSV.
package types
