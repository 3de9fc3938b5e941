package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Driver names accepted by Open and DialectFor.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Dialect captures the per-driver differences in statement text.
type Dialect struct {
	Name string

	placeholder func(i int) string
	quote       func(ident string) string
}

// Placeholder returns the bind marker for the i-th parameter (1-based).
func (d Dialect) Placeholder(i int) string { return d.placeholder(i) }

// Quote quotes a single identifier part.
func (d Dialect) Quote(ident string) string { return d.quote(ident) }

func questionMark(int) string { return "?" }

func dollar(i int) string { return "$" + strconv.Itoa(i) }

func doubleQuote(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func backtick(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" }

var (
	SQLiteDialect   = Dialect{Name: DriverSQLite, placeholder: questionMark, quote: doubleQuote}
	PostgresDialect = Dialect{Name: DriverPostgres, placeholder: dollar, quote: doubleQuote}
	MySQLDialect    = Dialect{Name: DriverMySQL, placeholder: questionMark, quote: backtick}
)

// DialectFor returns the Dialect registered for driver.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite, "":
		return SQLiteDialect, nil
	case DriverPostgres:
		return PostgresDialect, nil
	case DriverMySQL:
		return MySQLDialect, nil
	default:
		return Dialect{}, fmt.Errorf("store: unsupported driver %q", driver)
	}
}

// Class tells whether a failed statement may succeed if issued again.
type Class int

const (
	NonRetryable Class = iota
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "non-retryable"
}

// Retryable Postgres SQLSTATE classes: connection exception, transaction
// rollback (serialization / deadlock), insufficient resources, operator
// intervention.
var pqRetryableClasses = map[pq.ErrorClass]bool{
	"08": true,
	"40": true,
	"53": true,
	"57": true,
}

// Retryable MySQL server error numbers.
var mysqlRetryable = map[uint16]bool{
	1040: true, // too many connections
	1205: true, // lock wait timeout
	1213: true, // deadlock
}

// Classify maps err onto a retry Class. Connection loss, lock contention,
// deadlocks and deadline expiry are Retryable; constraint violations and
// anything unrecognised are NonRetryable.
func Classify(err error) Class {
	if err == nil {
		return NonRetryable
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn):
		return Retryable
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return Retryable
		}
		return NonRetryable
	}

	var pe *pq.Error
	if errors.As(err, &pe) {
		if pqRetryableClasses[pe.Code.Class()] {
			return Retryable
		}
		return NonRetryable
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) {
		if mysqlRetryable[me.Number] {
			return Retryable
		}
		return NonRetryable
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return Retryable
	}
	return NonRetryable
}
