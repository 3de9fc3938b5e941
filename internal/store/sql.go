package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/go-sql-driver/mysql" // registers "mysql"
	_ "github.com/lib/pq"              // registers "postgres"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

// sqlitePragmas are applied to every SQLite database opened through Open.
var sqlitePragmas = []string{
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// SQL is an Adapter backed by database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an existing *sql.DB. The caller keeps ownership of db.
func New(db *sql.DB, d Dialect) *SQL {
	return &SQL{db: db, dialect: d}
}

// Open opens a database for driver (sqlite | postgres | mysql) and verifies
// the connection. An empty driver selects sqlite.
func Open(ctx context.Context, driver, dsn string) (*SQL, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("store: empty dsn for driver %q", d.Name)
	}

	db, err := sql.Open(d.Name, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", d.Name, err)
	}

	if d.Name == DriverSQLite {
		// Each connection to an in-memory database is a separate database.
		if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
			db.SetMaxOpenConns(1)
		}
		for _, p := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				db.Close()
				return nil, fmt.Errorf("store: %s: %w", p, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", d.Name, err)
	}

	slog.Debug("store: opened database", "driver", d.Name)
	return &SQL{db: db, dialect: d}, nil
}

// Dialect implements Adapter.
func (s *SQL) Dialect() Dialect { return s.dialect }

// DB returns the underlying handle.
func (s *SQL) DB() *sql.DB { return s.db }

// Close closes the underlying handle.
func (s *SQL) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Query implements Adapter. Every row is returned as raw driver values.
func (s *SQL) Query(ctx context.Context, query string, args ...any) ([][]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

// Begin implements Adapter.
func (s *SQL) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return sqlTx{tx: tx}, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t sqlTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t sqlTx) Commit() error   { return t.tx.Commit() }
func (t sqlTx) Rollback() error { return t.tx.Rollback() }

// EnsureTable creates table with the given columns if it does not exist.
// Columns are TEXT (VARCHAR(255) on MySQL, undeclared on SQLite). When unique
// is true, key carries a UNIQUE constraint.
//
// The ingestion path never calls this; it exists for provisioning and tests.
func EnsureTable(ctx context.Context, s *SQL, table string, columns []string, key string, unique bool) error {
	t, err := quoteIdent(s.dialect, table)
	if err != nil {
		return err
	}
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		q, err := quoteIdent(s.dialect, c)
		if err != nil {
			return err
		}
		def := q
		if typ := columnType(s.dialect); typ != "" {
			def += " " + typ
		}
		if unique && c == key {
			def += " UNIQUE"
		}
		defs = append(defs, def)
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t, strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("store: create table %s: %w", table, err)
	}
	return nil
}

func columnType(d Dialect) string {
	switch d.Name {
	case DriverSQLite:
		return ""
	case DriverMySQL:
		// UNIQUE on MySQL needs a bounded length.
		return "VARCHAR(255)"
	default:
		return "TEXT"
	}
}
