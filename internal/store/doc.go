// Package store is the relational Store Adapter used by the ingestion core.
//
// Adapter is the narrow contract the core depends on: one read query and a
// per-statement transaction boundary (Begin/Exec/Commit). SQL implements it
// on database/sql with three drivers: sqlite (modernc.org/sqlite, default),
// postgres (lib/pq) and mysql (go-sql-driver/mysql).
//
// Statements are limited to SELECT <col> FROM <table> and single-row
// INSERT ... VALUES with bound parameters. Table and column names are
// validated by ValidIdentifier and quoted per Dialect; values are never
// interpolated into statement text.
//
// Classify maps driver errors onto Retryable / NonRetryable.
package store
