package alerts

import (
	"strconv"
	"strings"

	"github.com/reportkit/reportkit/internal/job"
)

// evalCondition evaluates a rule condition against a finished run.
//
// Supported expressions (field operator value):
//
//	failed > 0
//	inserted == 0
//	outliers > 5
//	fetched < 10
//	success_pct < 90
//	duration_s > 300
//	state == failed
//	state != ok
//	retryable == true
//
// Returns (fires, triggering value). Unparseable expressions and unknown
// fields never fire.
func evalCondition(cond string, run job.Run) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "state":
		switch op {
		case "==":
			return string(run.State) == rhs, 0
		case "!=":
			return string(run.State) != rhs, 0
		}
		return false, 0

	case "retryable":
		want, err := strconv.ParseBool(rhs)
		if err != nil {
			return false, 0
		}
		switch op {
		case "==":
			return run.Retryable == want, 0
		case "!=":
			return run.Retryable != want, 0
		}
		return false, 0

	default:
		v, ok := numericField(field, run)
		if !ok {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(v, op, threshold), v
	}
}

// numericField maps a field name to its value in the run.
func numericField(field string, run job.Run) (float64, bool) {
	switch field {
	case "failed":
		return float64(run.Result.Failed), true
	case "inserted":
		return float64(run.Result.Inserted), true
	case "skipped":
		return float64(run.Result.Skipped), true
	case "deduplicated":
		return float64(run.Result.Deduplicated), true
	case "attempted":
		return float64(run.Result.Attempted), true
	case "fetched":
		return float64(run.Fetched), true
	case "outliers":
		return float64(run.Outliers), true
	case "success_pct":
		return run.SuccessPct, true
	case "duration_s":
		return run.Duration().Seconds(), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
