package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/reportkit/reportkit/internal/outlier"
)

var (
	scoreThreshold float64
	scoreJSON      bool
)

var scoreCmd = &cobra.Command{
	Use:   "score [value...]",
	Short: "Compute modified z-scores for a sample",
	Long: `Compute the modified z-score of every observation and flag those above
the threshold. Values come from the arguments, or from stdin when there are
none, separated by whitespace. An observation written as "x,y,..." is a
vector; all observations must then have the same length.`,
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().Float64Var(&scoreThreshold, "threshold", outlier.DefaultThreshold, "outlier threshold")
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(scoreCmd)
}

type scoredObservation struct {
	Value   []float64 `json:"value"`
	Score   float64   `json:"score"`
	Outlier bool      `json:"outlier"`
}

type scoreReport struct {
	Threshold    float64             `json:"threshold"`
	Observations []scoredObservation `json:"observations"`
	Outliers     int                 `json:"outliers"`
	// Mean of the kept values, 1-D samples only.
	Mean *float64 `json:"mean,omitempty"`
}

func runScore(cmd *cobra.Command, args []string) error {
	var in io.Reader = strings.NewReader(strings.Join(args, " "))
	if len(args) == 0 {
		in = cmd.InOrStdin()
	}
	obs, err := parseObservations(in)
	if err != nil {
		return err
	}
	report, err := scoreSample(obs, scoreThreshold)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scoreJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonSafe(report))
	}
	printScores(out, report)
	return nil
}

// parseObservations reads whitespace-separated observations.
func parseObservations(r io.Reader) ([][]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	var obs [][]float64
	for sc.Scan() {
		tok := sc.Text()
		parts := strings.Split(tok, ",")
		vec := make([]float64, 0, len(parts))
		for _, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("observation %d: %q is not a number", len(obs)+1, p)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("observation %d: %q is not finite", len(obs)+1, p)
			}
			vec = append(vec, v)
		}
		obs = append(obs, vec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read values: %w", err)
	}
	return obs, nil
}

func scoreSample(obs [][]float64, threshold float64) (scoreReport, error) {
	sample, err := outlier.NewSample(obs)
	if err != nil {
		return scoreReport{}, err
	}
	scores := outlier.Score(sample)
	mask := outlier.Mask(scores, threshold)

	report := scoreReport{Threshold: threshold, Observations: make([]scoredObservation, len(obs))}
	for i := range obs {
		report.Observations[i] = scoredObservation{Value: obs[i], Score: scores[i], Outlier: mask[i]}
		if mask[i] {
			report.Outliers++
		}
	}

	if sample.Dims() == 1 {
		values := make([]float64, len(obs))
		for i, o := range obs {
			values[i] = o[0]
		}
		if m := outlier.Mean(values, mask); !math.IsNaN(m) {
			report.Mean = &m
		}
	}
	return report, nil
}

// jsonSafe replaces infinite scores (zero MAD), which encoding/json
// rejects, with the largest float64.
func jsonSafe(r scoreReport) scoreReport {
	obs := make([]scoredObservation, len(r.Observations))
	copy(obs, r.Observations)
	for i := range obs {
		if math.IsInf(obs[i].Score, 1) {
			obs[i].Score = math.MaxFloat64
		}
	}
	r.Observations = obs
	return r
}

func printScores(w io.Writer, r scoreReport) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Value", "Score", "Outlier"})
	for i, o := range r.Observations {
		mark := ""
		if o.Outlier {
			mark = "yes"
		}
		t.AppendRow(table.Row{i + 1, formatVector(o.Value), formatScore(o.Score), mark})
	}
	footer := fmt.Sprintf("%d of %d above %.2f", r.Outliers, len(r.Observations), r.Threshold)
	mean := ""
	if r.Mean != nil {
		mean = "mean " + strconv.FormatFloat(*r.Mean, 'g', 6, 64)
	}
	t.AppendFooter(table.Row{"", mean, footer, ""})
	t.Render()
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func formatScore(s float64) string {
	switch {
	case math.IsInf(s, 1):
		return "+Inf"
	case math.IsNaN(s):
		return "NaN"
	}
	return strconv.FormatFloat(s, 'f', 3, 64)
}
