package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reportkit/reportkit/internal/config"
	"github.com/reportkit/reportkit/internal/ingest"
	"github.com/reportkit/reportkit/internal/source"
	"github.com/reportkit/reportkit/internal/store"
)

// Observer is notified after every run, once it has been recorded in History.
type Observer interface {
	Observe(run Run)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Run)

// Observe implements Observer.
func (f ObserverFunc) Observe(run Run) { f(run) }

// Runner executes jobs: fetch, optional outlier step, reconcile.
//
// All exported methods are safe for concurrent use.
type Runner struct {
	reconciler *ingest.Reconciler
	history    *History
	observers  []Observer

	newSource func(config.Source) (source.Source, error)
	now       func() time.Time
}

// NewRunner returns a Runner writing through a. history may be nil.
func NewRunner(a store.Adapter, history *History, observers ...Observer) *Runner {
	return &Runner{
		reconciler: ingest.New(a),
		history:    history,
		observers:  observers,
		newSource:  source.New,
		now:        time.Now,
	}
}

// Run executes j once and returns its record. Failures are reported in the
// returned Run, never as a panic or a separate error. Nothing is retried.
func (r *Runner) Run(ctx context.Context, j config.Job) Run {
	run := Run{
		ID:        uuid.NewString(),
		JobID:     j.ID,
		StartedAt: r.now().UTC(),
		Result:    ingest.Result{Table: j.Table, KeyColumn: j.KeyColumn},
	}
	log := slog.With("job", j.ID, "run", run.ID)

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	if err := r.execute(ctx, j, &run); err != nil {
		run.State = StateFailed
		run.Error = err.Error()
		run.Retryable = retryable(err)
		log.Error("job: run failed", "err", err, "retryable", run.Retryable)
	} else if run.Result.OK() {
		run.State = StateOK
	} else {
		run.State = StatePartial
		run.Retryable = run.Result.Retryable()
		run.Error = fmt.Sprintf("%d of %d rows failed", run.Result.Failed, run.Result.Attempted)
		log.Warn("job: run completed with row failures",
			"failed", run.Result.Failed,
			"retryable", run.Retryable,
		)
	}
	run.FinishedAt = r.now().UTC()

	if r.history != nil {
		run = r.history.Record(run)
	}
	log.Info("job: run finished",
		"state", run.State,
		"fetched", run.Fetched,
		"outliers", run.Outliers,
		"inserted", run.Result.Inserted,
		"duration", run.Duration(),
	)

	for _, o := range r.observers {
		o.Observe(run)
	}
	return run
}

func (r *Runner) execute(ctx context.Context, j config.Job, run *Run) error {
	src, err := r.newSource(j.Source)
	if err != nil {
		return err
	}

	batch, err := src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	run.Fetched = batch.Len()

	if j.Outlier != nil && batch.Len() > 0 {
		var n int
		batch, n, err = applyOutliers(batch, *j.Outlier)
		if err != nil {
			return err
		}
		run.Outliers = n
		slog.Debug("job: outlier step", "job", j.ID, "flagged", n, "action", j.Outlier.Action)
	}

	res, err := r.reconciler.Reconcile(ctx, j.Table, j.KeyColumn, batch)
	run.Result = res
	return err
}

// retryable reports whether a run-level failure is worth repeating as is.
func retryable(err error) bool {
	var se *ingest.SnapshotError
	if errors.As(err, &se) {
		return store.Classify(se.Err) == store.Retryable
	}
	if errors.Is(err, ingest.ErrInvalidBatch) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}
