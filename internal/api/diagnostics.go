package api

import (
	"fmt"

	"github.com/reportkit/reportkit/internal/config"
	"github.com/reportkit/reportkit/internal/job"
)

// DiagnosticHint is one human-readable insight about a job's latest run.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional number associated with this hint (e.g. failed rows).
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints from a job's latest run. last is nil when
// the job has not run within the history retention.
// Hints are ordered: critical first, then warnings, then info.
func computeDiagnostics(j config.Job, last *job.Run) []DiagnosticHint {
	if last == nil {
		detail := "This job has no recorded run yet."
		if j.Schedule == "" {
			detail += " It has no schedule, so it only runs when triggered via POST /api/v1/jobs/" + j.ID + "/run."
		}
		return []DiagnosticHint{{Key: "never_run", Level: "info", Title: "No runs yet", Detail: detail}}
	}

	var hints []DiagnosticHint
	res := last.Result

	if last.State == job.StateFailed {
		detail := fmt.Sprintf("The last run stored nothing. It failed with: %q.", last.Error)
		if last.Retryable {
			detail += " The failure looks transient, so the next run will probably succeed."
		} else {
			detail += " The failure is not transient. Check the job definition and the target table."
		}
		hints = append(hints, DiagnosticHint{Key: "run_failed", Level: "critical", Title: "Run failed", Detail: detail})
		hints = append(hints, sourceTypeHints(j)...)
	}

	if res.Failed > 0 {
		v := float64(res.Failed)
		level := "warning"
		if res.Inserted == 0 {
			level = "critical"
		}
		detail := fmt.Sprintf(
			"%d of %d rows could not be inserted. The other rows were stored normally. "+
				"Failed rows are retried automatically on the next run because their keys are still missing.",
			res.Failed, res.Attempted,
		)
		if res.Retryable() {
			detail += " Every failure was transient."
		}
		hints = append(hints, DiagnosticHint{
			Key:    "rows_failed",
			Level:  level,
			Title:  fmt.Sprintf("%d rows failed", res.Failed),
			Detail: detail,
			Value:  &v,
		})
	}

	if last.Outliers > 0 && j.Outlier != nil {
		v := float64(last.Outliers)
		verb := "dropped before insert"
		if j.Outlier.Action == "flag" {
			verb = "marked in column " + j.Outlier.FlagColumn
		}
		hints = append(hints, DiagnosticHint{
			Key:   "outliers",
			Level: "info",
			Title: fmt.Sprintf("%d outliers", last.Outliers),
			Detail: fmt.Sprintf(
				"%d rows had a %s value with a modified z-score above %.2f and were %s.",
				last.Outliers, j.Outlier.Column, j.Outlier.Threshold, verb,
			),
			Value: &v,
		})
	}

	if res.Deduplicated > 0 {
		v := float64(res.Deduplicated)
		hints = append(hints, DiagnosticHint{
			Key:   "duplicate_keys",
			Level: "info",
			Title: "Duplicate keys in source",
			Detail: fmt.Sprintf(
				"The source returned %d rows whose %s repeated an earlier row of the same run. Only the first was inserted.",
				res.Deduplicated, j.KeyColumn,
			),
			Value: &v,
		})
	}

	if last.State != job.StateFailed && last.Fetched == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "empty_source",
			Level:  "warning",
			Title:  "Source returned nothing",
			Detail: "The last fetch succeeded but produced no rows.",
		})
	}

	if len(hints) == 0 {
		v := last.SuccessPct
		hints = append(hints, DiagnosticHint{
			Key:   "healthy",
			Level: "ok",
			Title: "All clear",
			Detail: fmt.Sprintf(
				"The last run inserted %d new rows and skipped %d already stored. %.0f%% of recent runs succeeded.",
				res.Inserted, res.Skipped, last.SuccessPct,
			),
			Value: &v,
		})
	}
	return hints
}

// sourceTypeHints returns source-specific guidance for a failed run.
func sourceTypeHints(j config.Job) []DiagnosticHint {
	switch j.Source.Type {
	case "html":
		return []DiagnosticHint{{
			Key:   "html_extract_tip",
			Level: "info",
			Title: "Check the page layout",
			Detail: fmt.Sprintf(
				"HTML sources break when the page changes. Check that selector %q still matches "+
					"and that the embedded JSON still starts with %q.",
				j.Source.Selector, j.Source.Prefix,
			),
		}}
	case "prometheus":
		return []DiagnosticHint{{
			Key:   "prom_family_tip",
			Level: "info",
			Title: "Check the metric family",
			Detail: fmt.Sprintf(
				"Make sure %s serves the text exposition format and still exports %s.",
				j.Source.Endpoint, j.Source.Metric,
			),
		}}
	case "json":
		return []DiagnosticHint{{
			Key:   "json_paths_tip",
			Level: "info",
			Title: "Check the record path",
			Detail: fmt.Sprintf(
				"A renamed field usually shows up as a null key. Verify records path %q and the key column path against a fresh response.",
				j.Source.Records,
			),
		}}
	}
	return nil
}
