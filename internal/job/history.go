package job

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// successWindow is the number of recent runs used for SuccessPct.
	successWindow = 20

	// keepRuns is the number of runs retained per job.
	keepRuns = 50
)

// Summary is the latest state of one job.
type Summary struct {
	JobID      string    `json:"job_id"`
	Last       Run       `json:"last_run"`
	Runs       int       `json:"runs"`
	SuccessPct float64   `json:"success_pct"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type jobHistory struct {
	runs      []Run  // newest last, at most keepRuns
	outcomes  []bool // newest last, at most successWindow
	total     int
	updatedAt time.Time
}

// History is a thread-safe in-memory record of recent runs, keyed by job ID.
// A job that has not run within the TTL is evicted by Run.
type History struct {
	mu   sync.RWMutex
	jobs map[string]*jobHistory
	ttl  time.Duration
	now  func() time.Time
}

// NewHistory creates a History with the given TTL. A non-positive TTL keeps
// entries forever.
func NewHistory(ttl time.Duration) *History {
	return &History{
		jobs: make(map[string]*jobHistory),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Record stores run and returns it with SuccessPct filled in.
func (h *History) Record(run Run) Run {
	h.mu.Lock()
	defer h.mu.Unlock()

	jh, ok := h.jobs[run.JobID]
	if !ok {
		jh = &jobHistory{}
		h.jobs[run.JobID] = jh
	}

	if len(jh.outcomes) >= successWindow {
		jh.outcomes = jh.outcomes[1:]
	}
	jh.outcomes = append(jh.outcomes, run.State != StateFailed)
	run.SuccessPct = successPct(jh.outcomes)

	if len(jh.runs) >= keepRuns {
		jh.runs = jh.runs[1:]
	}
	jh.runs = append(jh.runs, run)
	jh.total++
	jh.updatedAt = h.now()
	return run
}

func successPct(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 100
	}
	var ok int
	for _, o := range outcomes {
		if o {
			ok++
		}
	}
	return float64(ok) / float64(len(outcomes)) * 100
}

// Last returns the most recent run of jobID.
func (h *History) Last(jobID string) (Run, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	jh, ok := h.jobs[jobID]
	if !ok || len(jh.runs) == 0 {
		return Run{}, false
	}
	return jh.runs[len(jh.runs)-1], true
}

// Runs returns the retained runs of jobID, newest first.
func (h *History) Runs(jobID string) []Run {
	h.mu.RLock()
	defer h.mu.RUnlock()
	jh, ok := h.jobs[jobID]
	if !ok {
		return nil
	}
	out := make([]Run, len(jh.runs))
	for i, r := range jh.runs {
		out[len(out)-1-i] = r
	}
	return out
}

// Summaries returns one Summary per job within the TTL, sorted by job ID.
func (h *History) Summaries() []Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cutoff := h.now().Add(-h.ttl)
	out := make([]Summary, 0, len(h.jobs))
	for id, jh := range h.jobs {
		if h.ttl > 0 && !jh.updatedAt.After(cutoff) {
			continue
		}
		if len(jh.runs) == 0 {
			continue
		}
		out = append(out, Summary{
			JobID:      id,
			Last:       jh.runs[len(jh.runs)-1],
			Runs:       jh.total,
			SuccessPct: successPct(jh.outcomes),
			UpdatedAt:  jh.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// Count returns the number of jobs held, including stale ones.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.jobs)
}

// Evict removes jobs whose last run is older than now minus TTL and returns
// how many were removed.
func (h *History) Evict(now time.Time) int {
	if h.ttl <= 0 {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := now.Add(-h.ttl)
	removed := 0
	for id, jh := range h.jobs {
		if !jh.updatedAt.After(cutoff) {
			delete(h.jobs, id)
			removed++
		}
	}
	return removed
}

// Run evicts stale jobs at half the TTL (at least once a second) until ctx
// is cancelled.
func (h *History) Run(ctx context.Context) {
	if h.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := h.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := h.Evict(now); n > 0 {
				slog.Debug("job: evicted stale history", "count", n)
			}
		}
	}
}
