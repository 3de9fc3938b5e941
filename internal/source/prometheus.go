package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/reportkit/reportkit/internal/config"
	"github.com/reportkit/reportkit/pkg/types"
)

// promSource turns the samples of one metric family into records with the
// columns metric, <labels...>, value.
type promSource struct {
	src    config.Source
	client *http.Client
}

func (s *promSource) Fetch(ctx context.Context) (types.Batch, error) {
	body, err := get(ctx, s.client, s.src.Endpoint, string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err != nil {
		return types.Batch{}, fmt.Errorf("prometheus source %s: %w", s.src.Endpoint, err)
	}
	mfs, err := parseMetrics(bytes.NewReader(body))
	if err != nil {
		return types.Batch{}, fmt.Errorf("prometheus source %s: %w", s.src.Endpoint, err)
	}
	return familyBatch(mfs[s.src.Metric], s.src.Metric, s.src.Labels), nil
}

// parseMetrics decodes a Prometheus text exposition. A partial parse that
// produced families is treated as success.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// familyBatch flattens mf. An absent family yields an empty batch. Missing
// labels are nil.
func familyBatch(mf *dto.MetricFamily, name string, labels []string) types.Batch {
	cols := make([]string, 0, len(labels)+2)
	cols = append(cols, "metric")
	cols = append(cols, labels...)
	cols = append(cols, "value")
	batch := types.Batch{Columns: cols}
	if mf == nil {
		return batch
	}

	for _, m := range mf.GetMetric() {
		v, ok := sampleValue(m)
		if !ok {
			continue
		}
		pairs := make(map[string]string, len(m.GetLabel()))
		for _, lp := range m.GetLabel() {
			pairs[lp.GetName()] = lp.GetValue()
		}

		rec := make(types.Record, 0, len(cols))
		rec = append(rec, name)
		for _, l := range labels {
			if lv, ok := pairs[l]; ok {
				rec = append(rec, lv)
			} else {
				rec = append(rec, nil)
			}
		}
		rec = append(rec, v)
		batch.Rows = append(batch.Rows, rec)
	}
	return batch
}

// sampleValue reads counters, gauges and untyped samples. Summaries and
// histograms are skipped.
func sampleValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	}
	return 0, false
}
