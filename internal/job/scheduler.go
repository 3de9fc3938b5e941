package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reportkit/reportkit/internal/config"
)

// cronLogger routes cron's own messages to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("job: cron "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("job: cron "+msg, append(keysAndValues, "err", err)...)
}

// Entry describes one scheduled job.
type Entry struct {
	JobID    string    `json:"job_id"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

// Scheduler runs jobs on their cron schedules. A job never overlaps itself:
// a tick that arrives while the previous run is still going is skipped.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	runner  *Runner
	ctx     context.Context
	entries map[string]cron.EntryID
	specs   map[string]string
	jobs    map[string]config.Job
}

// NewScheduler returns a stopped Scheduler.
func NewScheduler(r *Runner) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{})),
		),
		runner:  r,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
		jobs:    make(map[string]config.Job),
	}
}

// Start begins firing schedules. Runs use ctx; cancel it to abort them.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	slog.Info("job: scheduler started", "jobs", len(s.Entries()))
}

// Stop stops firing schedules and returns a context that is done once
// in-flight runs have finished.
func (s *Scheduler) Stop() context.Context {
	slog.Info("job: scheduler stopping")
	return s.cron.Stop()
}

// Reload replaces every schedule with jobs. Jobs without a schedule are kept
// for Trigger but never fire on their own. Jobs whose schedule does not
// parse are skipped and reported in the returned error; the rest are
// installed.
//
// An old run that is still in flight keeps going; the replacement entry does
// not wait for it.
func (s *Scheduler) Reload(jobs []config.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, eid := range s.entries {
		s.cron.Remove(eid)
		delete(s.entries, id)
	}
	s.specs = make(map[string]string, len(jobs))
	s.jobs = make(map[string]config.Job, len(jobs))

	var errs []error
	for _, j := range jobs {
		s.jobs[j.ID] = j
		if j.Schedule == "" {
			continue
		}
		if _, err := cron.ParseStandard(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("job %q: schedule %q: %w", j.ID, j.Schedule, err))
			continue
		}

		j := j
		wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(func() {
			s.runner.Run(s.runContext(), j)
		}))
		eid, err := s.cron.AddJob(j.Schedule, wrapped)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", j.ID, err))
			continue
		}
		s.entries[j.ID] = eid
		s.specs[j.ID] = j.Schedule
		slog.Info("job: scheduled", "job", j.ID, "schedule", j.Schedule)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// ErrUnknownJob is returned by Trigger for an ID that is not loaded.
var ErrUnknownJob = errors.New("job: unknown job")

// Trigger runs a loaded job immediately, outside its schedule, and waits
// for it to finish.
func (s *Scheduler) Trigger(ctx context.Context, jobID string) (Run, error) {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return Run{}, fmt.Errorf("%w %q", ErrUnknownJob, jobID)
	}
	return s.runner.Run(ctx, j), nil
}

// Jobs returns the loaded jobs sorted by ID.
func (s *Scheduler) Jobs() []config.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]config.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Entries returns the scheduled jobs sorted by ID.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for id, eid := range s.entries {
		e := s.cron.Entry(eid)
		out = append(out, Entry{JobID: id, Schedule: s.specs[id], Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JobID < out[k].JobID })
	return out
}
