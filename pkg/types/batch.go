package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Record is one row of a Batch. Values are aligned to Batch.Columns.
type Record []any

// Batch is an ordered collection of Records sharing one column list.
type Batch struct {
	// Columns names every field, in insert order.
	Columns []string

	// Rows holds the records in the source's native order.
	Rows []Record
}

// Validate checks that column names are non-empty and unique and that every
// row carries exactly one value per column.
func (b Batch) Validate() error {
	if len(b.Columns) == 0 {
		return errors.New("batch has no columns")
	}
	seen := make(map[string]struct{}, len(b.Columns))
	for i, c := range b.Columns {
		if c == "" {
			return fmt.Errorf("column %d has an empty name", i)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("column %q appears more than once", c)
		}
		seen[c] = struct{}{}
	}
	for i, r := range b.Rows {
		if len(r) != len(b.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(r), len(b.Columns))
		}
	}
	return nil
}

// Index returns the position of col in Columns, or -1.
func (b Batch) Index(col string) int {
	for i, c := range b.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Column returns the values of col in row order, or nil if col is unknown.
func (b Batch) Column(col string) []any {
	idx := b.Index(col)
	if idx < 0 {
		return nil
	}
	out := make([]any, len(b.Rows))
	for i, r := range b.Rows {
		if idx < len(r) {
			out[i] = r[idx]
		}
	}
	return out
}

// Len returns the number of rows.
func (b Batch) Len() int { return len(b.Rows) }

// Select returns a new Batch holding only the rows at the given indices, in
// the order given. Row slices are shared with b.
func (b Batch) Select(indices []int) Batch {
	out := Batch{Columns: b.Columns, Rows: make([]Record, 0, len(indices))}
	for _, i := range indices {
		out.Rows = append(out.Rows, b.Rows[i])
	}
	return out
}

// WithColumn returns a copy of b with one extra column appended. values must
// be aligned to b.Rows.
func (b Batch) WithColumn(name string, values []any) Batch {
	cols := make([]string, 0, len(b.Columns)+1)
	cols = append(cols, b.Columns...)
	cols = append(cols, name)

	rows := make([]Record, len(b.Rows))
	for i, r := range b.Rows {
		nr := make(Record, 0, len(r)+1)
		nr = append(nr, r...)
		var v any
		if i < len(values) {
			v = values[i]
		}
		rows[i] = append(nr, v)
	}
	return Batch{Columns: cols, Rows: rows}
}

// KeyString returns the canonical string form of a key value used for
// reconciliation. ok is false for nil, which never matches any key.
//
// Integers and floats with an integral value render identically, so 3,
// int64(3) and 3.0 all map to "3".
func KeyString(v any) (s string, ok bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		if x == nil {
			return "", false
		}
		return string(x), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.FormatInt(int64(x), 10), true
	case int8:
		return strconv.FormatInt(int64(x), 10), true
	case int16:
		return strconv.FormatInt(int64(x), 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint8:
		return strconv.FormatUint(uint64(x), 10), true
	case uint16:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		return x.String(), true
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), true
	case fmt.Stringer:
		return x.String(), true
	default:
		return fmt.Sprint(x), true
	}
}

// Float returns v as a float64 when it holds a number or a numeric string.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
