package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Adapter is the persistence contract of the reconciling inserter.
//
// Query runs a read-only statement and returns every row as a slice of
// column values. Begin opens a transaction the caller frames around a single
// statement. Neither method retries.
type Adapter interface {
	Dialect() Dialect
	Query(ctx context.Context, query string, args ...any) ([][]any, error)
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one open transaction.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) error
	Commit() error
	Rollback() error
}

// identPart matches one unquoted SQL identifier.
var identPart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is a plain identifier, optionally
// qualified by one schema name ("schema.table").
func ValidIdentifier(name string) bool {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !identPart.MatchString(p) {
			return false
		}
	}
	return true
}

// quoteIdent validates and quotes a possibly schema-qualified identifier.
func quoteIdent(d Dialect, name string) (string, error) {
	if !ValidIdentifier(name) {
		return "", fmt.Errorf("store: invalid identifier %q", name)
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.Quote(p)
	}
	return strings.Join(parts, "."), nil
}

// SelectColumn builds the statement that reads every value of column.
func SelectColumn(d Dialect, table, column string) (string, error) {
	t, err := quoteIdent(d, table)
	if err != nil {
		return "", err
	}
	c, err := quoteIdent(d, column)
	if err != nil {
		return "", err
	}
	return "SELECT " + c + " FROM " + t, nil
}

// InsertRow builds a single-row INSERT with one bound parameter per column.
func InsertRow(d Dialect, table string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("store: insert into %q with no columns", table)
	}
	t, err := quoteIdent(d, table)
	if err != nil {
		return "", err
	}
	cols := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		q, err := quoteIdent(d, c)
		if err != nil {
			return "", err
		}
		cols[i] = q
		params[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t, strings.Join(cols, ", "), strings.Join(params, ", ")), nil
}
