package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/reportkit/reportkit/internal/config"
	"github.com/reportkit/reportkit/pkg/types"
)

// csvSource reads a CSV file or URL whose first row is the header. Empty
// cells become nil so they are treated as NULL downstream.
type csvSource struct {
	src    config.Source
	client *http.Client
}

func (s *csvSource) Fetch(ctx context.Context) (types.Batch, error) {
	var (
		data []byte
		err  error
		from string
	)
	if s.src.Path != "" {
		from = s.src.Path
		data, err = os.ReadFile(s.src.Path)
	} else {
		from = s.src.Endpoint
		data, err = get(ctx, s.client, s.src.Endpoint, "text/csv")
	}
	if err != nil {
		return types.Batch{}, fmt.Errorf("csv source %s: %w", from, err)
	}

	batch, err := parseCSV(bytes.NewReader(data), s.src.Columns)
	if err != nil {
		return types.Batch{}, fmt.Errorf("csv source %s: %w", from, err)
	}
	return batch, nil
}

// parseCSV reads the header and rows. When cols is non-empty only those
// header columns are kept, in that order.
func parseCSV(r io.Reader, cols []config.Column) (types.Batch, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return types.Batch{}, nil
	}
	if err != nil {
		return types.Batch{}, fmt.Errorf("read header: %w", err)
	}

	pick := make([]int, 0, len(header))
	var names []string
	if len(cols) == 0 {
		for i, h := range header {
			pick = append(pick, i)
			names = append(names, h)
		}
	} else {
		pos := make(map[string]int, len(header))
		for i, h := range header {
			pos[h] = i
		}
		for _, c := range cols {
			i, ok := pos[c.Name]
			if !ok {
				return types.Batch{}, fmt.Errorf("column %q not in header %v", c.Name, header)
			}
			pick = append(pick, i)
			names = append(names, c.Name)
		}
	}

	batch := types.Batch{Columns: names}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Batch{}, fmt.Errorf("read row: %w", err)
		}
		rec := make(types.Record, len(pick))
		for j, i := range pick {
			if row[i] != "" {
				rec[j] = row[i]
			}
		}
		batch.Rows = append(batch.Rows, rec)
	}
	return batch, nil
}
