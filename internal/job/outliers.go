package job

import (
	"fmt"
	"math"

	"github.com/reportkit/reportkit/internal/config"
	"github.com/reportkit/reportkit/internal/outlier"
	"github.com/reportkit/reportkit/pkg/types"
)

// applyOutliers scores cfg.Column and drops or flags the outlying rows. Rows
// whose value is missing, non-numeric or NaN are left out of the sample and
// are never flagged. It returns the resulting batch and the flagged count.
func applyOutliers(batch types.Batch, cfg config.OutlierConfig) (types.Batch, int, error) {
	idx := batch.Index(cfg.Column)
	if idx < 0 {
		return batch, 0, fmt.Errorf("outlier column %q not in batch columns %v", cfg.Column, batch.Columns)
	}

	var (
		values []float64
		rowOf  []int
	)
	for i, r := range batch.Rows {
		if idx >= len(r) {
			continue
		}
		v, ok := types.Float(r[idx])
		if !ok || math.IsNaN(v) {
			continue
		}
		values = append(values, v)
		rowOf = append(rowOf, i)
	}

	mask := outlier.IsOutlier(outlier.Scalars(values), cfg.Threshold)
	flagged := make([]bool, len(batch.Rows))
	n := 0
	for j, m := range mask {
		if m {
			flagged[rowOf[j]] = true
			n++
		}
	}

	switch cfg.Action {
	case "flag":
		col := make([]any, len(batch.Rows))
		for i, f := range flagged {
			col[i] = f
		}
		return batch.WithColumn(cfg.FlagColumn, col), n, nil
	default:
		kept, _ := outlier.Partition(flagged)
		return batch.Select(kept), n, nil
	}
}
