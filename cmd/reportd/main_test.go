package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reportkit/reportkit/internal/job"
	"github.com/reportkit/reportkit/internal/outlier"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	scoreJSON, onceJSON = false, false
	scoreThreshold = outlier.DefaultThreshold

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseObservations(t *testing.T) {
	tests := []struct {
		in      string
		want    [][]float64
		wantErr bool
	}{
		{"1 2\n3\t4.5", [][]float64{{1}, {2}, {3}, {4.5}}, false},
		{"1,2 3,4", [][]float64{{1, 2}, {3, 4}}, false},
		{"", nil, false},
		{"1 x", nil, true},
		{"NaN", nil, true},
		{"1 +Inf", nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseObservations(strings.NewReader(tc.in))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if fmt.Sprint(got) != fmt.Sprint(tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScoreSample(t *testing.T) {
	obs := [][]float64{{1}, {2}, {2}, {2}, {2}, {3}, {77}, {89}}
	r, err := scoreSample(obs, outlier.DefaultThreshold)
	if err != nil {
		t.Fatalf("scoreSample: %v", err)
	}
	if r.Outliers != 2 || !r.Observations[6].Outlier || !r.Observations[7].Outlier {
		t.Errorf("report = %+v", r)
	}
	if r.Mean == nil || *r.Mean != 2 {
		t.Errorf("mean = %v, want 2", r.Mean)
	}

	// Mixed dimensions.
	if _, err := scoreSample([][]float64{{1}, {1, 2}}, 3.5); err == nil {
		t.Error("expected dimension mismatch")
	}

	// Vectors have no mean.
	r, err = scoreSample([][]float64{{0, 0}, {0, 1}, {1, 0}}, 3.5)
	if err != nil || r.Mean != nil {
		t.Errorf("vector sample: mean = %v, err = %v", r.Mean, err)
	}
}

func TestScoreCommand_JSON(t *testing.T) {
	out, err := execute(t, "5 5 5 9", "score", "--json")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	var r scoreReport
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	// Zero MAD: the differing point scores +Inf, encoded as MaxFloat64.
	if r.Outliers != 1 || r.Observations[3].Score != math.MaxFloat64 || r.Observations[0].Score != 0 {
		t.Errorf("report = %+v", r)
	}
}

func TestScoreCommand_Table(t *testing.T) {
	out, err := execute(t, "", "score", "--threshold", "2", "1", "2", "3", "10")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	// The default style upper-cases the footer.
	lower := strings.ToLower(out)
	if !strings.Contains(lower, "yes") || !strings.Contains(lower, "1 of 4 above 2.00") {
		t.Errorf("table output:\n%s", out)
	}
}

func writeConfig(t *testing.T, endpoint string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
log_level: error
store:
  driver: sqlite
  dsn: %q
jobs:
  - id: posts
    table: posts
    key_column: id
    source:
      type: json
      endpoint: %q
      columns:
        - name: id
          path: "$.id"
        - name: likes
          path: "$.likes"
`, filepath.Join(dir, "reportd.db"), endpoint)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInitTableAndOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"a","likes":3},{"id":"b","likes":5},{"id":"a","likes":9}]`)
	}))
	defer srv.Close()
	cfgPath := writeConfig(t, srv.URL)

	out, err := execute(t, "", "init-table", "--job", "posts", "--config", cfgPath)
	if err != nil {
		t.Fatalf("init-table: %v", err)
	}
	if !strings.Contains(out, "table posts ready (id, likes)") {
		t.Errorf("init-table output = %q", out)
	}

	runOnce := func() job.Run {
		t.Helper()
		out, err := execute(t, "", "once", "--job", "posts", "--json", "--config", cfgPath)
		if err != nil {
			t.Fatalf("once: %v", err)
		}
		var run job.Run
		if err := json.Unmarshal([]byte(out), &run); err != nil {
			t.Fatalf("decode run: %v\n%s", err, out)
		}
		return run
	}

	first := runOnce()
	if first.State != job.StateOK || first.Result.Inserted != 2 || first.Result.Deduplicated != 1 {
		t.Errorf("first run = %+v", first)
	}
	second := runOnce()
	if second.Result.Inserted != 0 || second.Result.Skipped != 3 {
		t.Errorf("second run = %+v", second)
	}
}

func TestOnce_UnknownJob(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:1/")
	if _, err := execute(t, "", "once", "--job", "nope", "--config", cfgPath); err == nil {
		t.Error("expected error for unknown job")
	}
}
