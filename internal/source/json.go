package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/reportkit/reportkit/internal/config"
	"github.com/reportkit/reportkit/pkg/types"
)

var pathLanguage = gval.Full(jsonpath.PlaceholderExtension())

type column struct {
	name string
	path gval.Evaluable
}

func compilePath(p string) (gval.Evaluable, error) {
	eval, err := pathLanguage.NewEvaluable(p)
	if err != nil {
		return nil, fmt.Errorf("jsonpath %q: %w", p, err)
	}
	return eval, nil
}

func compileColumns(cols []config.Column) ([]column, error) {
	out := make([]column, 0, len(cols))
	for _, c := range cols {
		eval, err := compilePath(c.Path)
		if err != nil {
			return nil, fmt.Errorf("source: column %q: %w", c.Name, err)
		}
		out = append(out, column{name: c.Name, path: eval})
	}
	return out, nil
}

// jsonSource reads a JSON document over HTTP and maps each item selected by
// the records path to one record.
type jsonSource struct {
	src     config.Source
	client  *http.Client
	records gval.Evaluable
	cols    []column
}

func (s *jsonSource) Fetch(ctx context.Context) (types.Batch, error) {
	body, err := get(ctx, s.client, s.src.Endpoint, "application/json")
	if err != nil {
		return types.Batch{}, fmt.Errorf("json source %s: %w", s.src.Endpoint, err)
	}
	doc, err := decodeJSON(body)
	if err != nil {
		return types.Batch{}, fmt.Errorf("json source %s: %w", s.src.Endpoint, err)
	}
	return extract(ctx, doc, s.records, s.cols)
}

// decodeJSON keeps numbers as json.Number so large integer IDs survive.
func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

// extract applies the records path to doc and the column paths to every
// item. A column path that does not resolve on an item yields nil.
func extract(ctx context.Context, doc any, records gval.Evaluable, cols []column) (types.Batch, error) {
	sel, err := records(ctx, doc)
	if err != nil {
		return types.Batch{}, fmt.Errorf("records path: %w", err)
	}

	var items []any
	switch x := sel.(type) {
	case []any:
		items = x
	case map[string]any:
		items = []any{x}
	case nil:
	default:
		return types.Batch{}, fmt.Errorf("records path selected %T, want a list or object", sel)
	}

	batch := types.Batch{Columns: make([]string, len(cols))}
	for i, c := range cols {
		batch.Columns[i] = c.name
	}
	for _, item := range items {
		rec := make(types.Record, len(cols))
		for i, c := range cols {
			v, err := c.path(ctx, item)
			if err != nil {
				if !missing(err) {
					return types.Batch{}, fmt.Errorf("column %q: %w", c.name, err)
				}
				slog.Debug("source: column path did not resolve", "column", c.name, "err", err)
				v = nil
			}
			rec[i] = normalize(v)
		}
		batch.Rows = append(batch.Rows, rec)
	}
	return batch, nil
}

func missing(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown key") ||
		strings.HasPrefix(msg, "unknown parameter") ||
		strings.Contains(msg, "out of bounds")
}
