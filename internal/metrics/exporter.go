package metrics

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/reportkit/reportkit/internal/job"
)

const namespace = "reportd"

// contentType is the text exposition format served by ServeHTTP.
const contentType = "text/plain; version=0.0.4; charset=utf-8"

var (
	states   = []job.State{job.StateOK, job.StatePartial, job.StateFailed}
	outcomes = []string{"inserted", "skipped", "deduplicated", "failed"}
)

type jobStats struct {
	last     job.Run
	runs     map[job.State]float64
	rows     map[string]float64
	outliers float64
}

// Exporter accumulates run statistics per job. It is safe for concurrent use.
type Exporter struct {
	path string

	mu   sync.Mutex
	jobs map[string]*jobStats
}

// NewExporter returns an Exporter. An empty path disables the file output;
// the families are still served by ServeHTTP.
func NewExporter(path string) *Exporter {
	return &Exporter{path: path, jobs: make(map[string]*jobStats)}
}

// Observe implements job.Observer.
func (e *Exporter) Observe(run job.Run) {
	e.mu.Lock()
	s, ok := e.jobs[run.JobID]
	if !ok {
		s = &jobStats{runs: make(map[job.State]float64), rows: make(map[string]float64)}
		e.jobs[run.JobID] = s
	}
	s.last = run
	s.runs[run.State]++
	s.rows["inserted"] += float64(run.Result.Inserted)
	s.rows["skipped"] += float64(run.Result.Skipped)
	s.rows["deduplicated"] += float64(run.Result.Deduplicated)
	s.rows["failed"] += float64(run.Result.Failed)
	s.outliers += float64(run.Outliers)
	e.mu.Unlock()

	if e.path == "" {
		return
	}
	if err := e.WriteFile(); err != nil {
		slog.Warn("metrics: write textfile failed", "path", e.path, "err", err)
	}
}

// Families builds the current metric families, sorted by name with series
// sorted by job.
func (e *Exporter) Families() []*dto.MetricFamily {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.jobs))
	for id := range e.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lastTS := family("job_last_run_timestamp_seconds", "Unix time the last run finished.", dto.MetricType_GAUGE)
	lastDur := family("job_last_run_duration_seconds", "Duration of the last run.", dto.MetricType_GAUGE)
	lastState := family("job_last_run_state", "1 for the state of the last run, 0 otherwise.", dto.MetricType_GAUGE)
	lastRows := family("job_last_run_rows", "Rows of the last run by outcome.", dto.MetricType_GAUGE)
	success := family("job_success_ratio", "Share of recent runs that did not fail.", dto.MetricType_GAUGE)
	runs := family("job_runs_total", "Runs by final state.", dto.MetricType_COUNTER)
	rows := family("job_rows_total", "Rows by reconcile outcome.", dto.MetricType_COUNTER)
	outliers := family("job_outliers_total", "Rows flagged by the outlier step.", dto.MetricType_COUNTER)

	for _, id := range ids {
		s := e.jobs[id]
		res := s.last.Result

		lastTS.Metric = append(lastTS.Metric, gauge(unixSeconds(s.last.FinishedAt), "job", id))
		lastDur.Metric = append(lastDur.Metric, gauge(s.last.Duration().Seconds(), "job", id))
		success.Metric = append(success.Metric, gauge(s.last.SuccessPct/100, "job", id))
		outliers.Metric = append(outliers.Metric, counter(s.outliers, "job", id))

		for _, st := range states {
			v := 0.0
			if s.last.State == st {
				v = 1
			}
			lastState.Metric = append(lastState.Metric, gauge(v, "job", id, "state", string(st)))
			runs.Metric = append(runs.Metric, counter(s.runs[st], "job", id, "state", string(st)))
		}

		last := map[string]int{
			"inserted":     res.Inserted,
			"skipped":      res.Skipped,
			"deduplicated": res.Deduplicated,
			"failed":       res.Failed,
		}
		for _, o := range outcomes {
			lastRows.Metric = append(lastRows.Metric, gauge(float64(last[o]), "job", id, "outcome", o))
			rows.Metric = append(rows.Metric, counter(s.rows[o], "job", id, "outcome", o))
		}
	}

	out := []*dto.MetricFamily{lastTS, lastDur, lastState, lastRows, success, runs, rows, outliers}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// WriteText writes every family in the text exposition format.
func (e *Exporter) WriteText(w io.Writer) error {
	for _, mf := range e.Families() {
		if len(mf.Metric) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile atomically replaces the configured file with the current
// families. The file is written next to the target and renamed, so the
// textfile collector never reads a partial file.
func (e *Exporter) WriteFile() error {
	var buf bytes.Buffer
	if err := e.WriteText(&buf); err != nil {
		return err
	}

	dir := filepath.Dir(e.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(e.path)+".*")
	if err != nil {
		return fmt.Errorf("metrics: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("metrics: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("metrics: close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("metrics: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		return fmt.Errorf("metrics: rename to %s: %w", e.path, err)
	}
	return nil
}

// ServeHTTP serves the families for a Prometheus scrape.
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var buf bytes.Buffer
	if err := e.WriteText(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(buf.Bytes()) //nolint:errcheck
}

// --- family builders --------------------------------------------------------

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func family(name, help string, t dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(namespace + "_" + name),
		Help: proto.String(help),
		Type: t.Enum(),
	}
}

func labels(kv []string) []*dto.LabelPair {
	out := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, &dto.LabelPair{Name: proto.String(kv[i]), Value: proto.String(kv[i+1])})
	}
	return out
}

func gauge(v float64, kv ...string) *dto.Metric {
	return &dto.Metric{Label: labels(kv), Gauge: &dto.Gauge{Value: proto.Float64(v)}}
}

func counter(v float64, kv ...string) *dto.Metric {
	return &dto.Metric{Label: labels(kv), Counter: &dto.Counter{Value: proto.Float64(v)}}
}
