package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/reportkit/reportkit/internal/config"
	"github.com/reportkit/reportkit/internal/job"
)

const (
	maxHistoryLen = 200
	recentWindow  = time.Hour
)

// Alert is one firing or resolved alert for a job.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	JobID      string     `json:"job_id"`
	RunID      string     `json:"run_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// Engine evaluates alert rules after every job run and delivers webhook
// notifications when a rule fires or resolves. It implements job.Observer.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: "rule:job"
	lastFire map[string]time.Time // for cooldown
	history  []*Alert             // recently resolved
	client   *http.Client
	now      func() time.Time
	inflight sync.WaitGroup
}

// New creates an Engine. An Engine without rules is valid; Observe is then
// a no-op.
func New(cfg config.AlertsConfig) *Engine {
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// Reload swaps in new rules and webhooks. Active alerts for rules that no
// longer exist are dropped without a resolved notification.
func (e *Engine) Reload(cfg config.AlertsConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = cfg.Rules
	e.webhooks = cfg.Webhooks

	keep := make(map[string]bool, len(cfg.Rules))
	for _, r := range cfg.Rules {
		keep[r.Name] = true
	}
	for key, a := range e.active {
		if !keep[a.RuleName] {
			delete(e.active, key)
		}
	}
}

// Observe implements job.Observer.
func (e *Engine) Observe(run job.Run) { e.Evaluate(run) }

// Evaluate tests every applicable rule against run. Firing alerts are stored
// and delivered asynchronously; alerts whose condition no longer holds are
// resolved.
func (e *Engine) Evaluate(run job.Run) {
	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()

	now := e.now()
	for _, rule := range rules {
		if !appliesTo(rule, run.JobID) {
			continue
		}
		key := rule.Name + ":" + run.JobID
		fires, value := evalCondition(rule.Condition, run)

		e.mu.Lock()
		var notify *Alert
		if fires {
			cooldown := rule.Cooldown
			if cooldown <= 0 {
				cooldown = config.DefaultAlertCooldown
			}
			last, seen := e.lastFire[key]
			if !seen || now.Sub(last) > cooldown {
				sev := rule.Severity
				if sev == "" {
					sev = "warning"
				}
				a := &Alert{
					ID:       fmt.Sprintf("%s:%s:%d", rule.Name, run.JobID, now.UnixNano()),
					RuleName: rule.Name,
					JobID:    run.JobID,
					RunID:    run.ID,
					Severity: sev,
					Value:    value,
					Message:  message(sev, rule, run, value),
					FiredAt:  now,
					State:    "firing",
				}
				e.active[key] = a
				e.lastFire[key] = now
				cp := *a
				notify = &cp
				slog.Warn("alerts: fired",
					"rule", rule.Name,
					"job", run.JobID,
					"value", value,
					"severity", sev,
				)
			}
		} else if a, ok := e.active[key]; ok {
			resolved := now
			a.State = "resolved"
			a.ResolvedAt = &resolved
			delete(e.active, key)

			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			cp := *a
			notify = &cp
			slog.Info("alerts: resolved", "rule", rule.Name, "job", run.JobID)
		}
		webhooks := e.webhooks
		e.mu.Unlock()

		if notify != nil {
			e.inflight.Add(1)
			go func(a *Alert) {
				defer e.inflight.Done()
				e.deliver(webhooks, a)
			}(notify)
		}
	}
}

func appliesTo(rule config.AlertRule, jobID string) bool {
	if len(rule.Jobs) == 0 {
		return true
	}
	for _, j := range rule.Jobs {
		if j == jobID {
			return true
		}
	}
	return false
}

func message(sev string, rule config.AlertRule, run job.Run, value float64) string {
	msg := fmt.Sprintf("[%s] %s fired on job %s: %s (value %.2f, state %s)",
		sev, rule.Name, run.JobID, rule.Condition, value, run.State)
	if run.Error != "" {
		msg += ": " + run.Error
	}
	return msg
}

// Active returns copies of all firing alerts plus alerts resolved within the
// past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until every pending webhook delivery has finished.
func (e *Engine) Wait() { e.inflight.Wait() }
