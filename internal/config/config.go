package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reportkit/reportkit/internal/store"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort         = 8080
	DefaultLogLevel         = "info"
	DefaultSourceTimeout    = 30 * time.Second
	DefaultJobTimeout       = 5 * time.Minute
	DefaultHistoryRetention = 24 * time.Hour
	DefaultOutlierThreshold = 3.5
	DefaultFlagColumn       = "is_outlier"
	DefaultAlertCooldown    = 15 * time.Minute
)

// Config is the full reportd configuration.
type Config struct {
	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	Store   StoreConfig   `yaml:"store"`
	HTTP    HTTPConfig    `yaml:"http"`
	Metrics MetricsConfig `yaml:"metrics"`
	History HistoryConfig `yaml:"history"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Jobs    []Job         `yaml:"jobs"`
}

// StoreConfig selects the target database.
type StoreConfig struct {
	// Driver is one of: sqlite | postgres | mysql. Defaults to sqlite.
	Driver string `yaml:"driver"`

	// DSN is the literal data source name. Ignored when DSNEnv resolves to a
	// non-empty value, so credentials can stay out of the file.
	DSN    string `yaml:"dsn"`
	DSNEnv string `yaml:"dsn_env"`
}

// EffectiveDSN returns the DSN from the environment if DSNEnv is set and
// non-empty, otherwise the literal DSN.
func (s StoreConfig) EffectiveDSN() string {
	if s.DSNEnv != "" {
		if v := os.Getenv(s.DSNEnv); v != "" {
			return v
		}
	}
	return s.DSN
}

// HTTPConfig configures the REST API and WebSocket stream.
type HTTPConfig struct {
	// Port is the listen port. Zero disables the HTTP server.
	Port int              `yaml:"port"`
	Auth ServerAuthConfig `yaml:"auth"`
}

// ServerAuthConfig controls client authentication on the HTTP API.
type ServerAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv names the environment variable that holds the expected key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "X-API-Key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a ServerAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or "X-API-Key".
func (a ServerAuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "X-API-Key"
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is the path the per-job gauges are written to after every
	// run, for node_exporter's textfile collector. Empty disables it.
	Textfile string `yaml:"textfile"`
}

// HistoryConfig controls in-memory run history.
type HistoryConfig struct {
	// Retention is how long a job's history is kept after its last run.
	Retention time.Duration `yaml:"retention"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based condition evaluated after every run.
type AlertRule struct {
	// Name identifies the rule. Together with the job ID it is the
	// deduplication key.
	Name string `yaml:"name"`

	// Condition is "field op value", e.g. "failed > 0", "state == failed",
	// "success_pct < 90".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Jobs restricts the rule to these job IDs. Empty means every job.
	Jobs []string `yaml:"jobs"`

	// Cooldown suppresses re-fires for this duration. Defaults to 15m.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv names the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Job is one recurring reporting job.
type Job struct {
	// ID is unique across jobs.
	ID string `yaml:"id"`

	// Schedule is a standard 5-field cron expression or a descriptor such
	// as "@hourly" or "@every 10m". Empty means the job only runs on demand.
	Schedule string `yaml:"schedule"`

	// Timeout bounds one run, fetch included.
	Timeout time.Duration `yaml:"timeout"`

	// Table is the target table, optionally schema-qualified.
	Table string `yaml:"table"`

	// KeyColumn is the column used to decide whether a row is already stored.
	KeyColumn string `yaml:"key_column"`

	Source  Source         `yaml:"source"`
	Outlier *OutlierConfig `yaml:"outlier"`
}

// Source describes where a job reads its rows from.
type Source struct {
	// Type is one of: json | html | prometheus | csv.
	Type string `yaml:"type"`

	// Endpoint is an http(s) URL. For csv, Path may be used instead.
	Endpoint string `yaml:"endpoint"`

	// Path is a local file (csv only).
	Path string `yaml:"path"`

	// Timeout is the HTTP client timeout.
	Timeout time.Duration `yaml:"timeout"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`

	// Records is the JSONPath selecting the list of items (json, html).
	// Defaults to "$" (the document itself must be a list).
	Records string `yaml:"records"`

	// Columns maps output columns to JSONPath expressions evaluated against
	// each item (json, html). For csv it selects and orders header columns.
	Columns []Column `yaml:"columns"`

	// Selector picks candidate elements in an HTML page. Defaults to "script".
	Selector string `yaml:"selector"`

	// Index chooses among the selected elements when Prefix is empty.
	Index int `yaml:"index"`

	// Prefix and Suffix are stripped from the element text. When Prefix is
	// set, the first element whose trimmed text starts with it is used.
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`

	// Metric is the metric family name (prometheus).
	Metric string `yaml:"metric"`

	// Labels become columns, in order, between "metric" and "value".
	Labels []string `yaml:"labels"`
}

// Column is one output column of a json or html source.
type Column struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// AuthConfig specifies the authentication mode for a source.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS files, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header carries the API key when Mode == "apikey".
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds per-source TLS dial options.
type TLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// OutlierConfig enables the outlier step of a job.
type OutlierConfig struct {
	// Column holds the numeric values to score.
	Column string `yaml:"column"`

	// Threshold is the modified z-score above which a row is an outlier.
	Threshold float64 `yaml:"threshold"`

	// Action is one of: drop | flag.
	Action string `yaml:"action"`

	// FlagColumn receives true/false when Action == "flag".
	FlagColumn string `yaml:"flag_column"`
}

// Columns returns the columns the job writes, in order, or nil when they
// are only known at fetch time (a csv source without a column list).
func (j Job) Columns() []string {
	var cols []string
	switch j.Source.Type {
	case "prometheus":
		cols = append(cols, "metric")
		cols = append(cols, j.Source.Labels...)
		cols = append(cols, "value")
	default:
		for _, c := range j.Source.Columns {
			cols = append(cols, c.Name)
		}
	}
	if len(cols) == 0 {
		return nil
	}
	if j.Outlier != nil && j.Outlier.Action == "flag" {
		cols = append(cols, j.Outlier.FlagColumn)
	}
	return cols
}

// Job returns the job with the given ID.
func (c *Config) Job(id string) (Job, bool) {
	for _, j := range c.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applyJobDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Store:    StoreConfig{Driver: store.DriverSQLite},
		HTTP:     HTTPConfig{Port: DefaultHTTPPort},
		History:  HistoryConfig{Retention: DefaultHistoryRetention},
	}
}

// applyJobDefaults fills per-job fields that yaml cannot default because they
// live inside list elements.
func applyJobDefaults(cfg *Config) {
	for i := range cfg.Jobs {
		j := &cfg.Jobs[i]
		if j.Timeout == 0 {
			j.Timeout = DefaultJobTimeout
		}
		if j.Source.Timeout == 0 {
			j.Source.Timeout = DefaultSourceTimeout
		}
		if j.Source.Records == "" {
			j.Source.Records = "$"
		}
		if j.Source.Selector == "" {
			j.Source.Selector = "script"
		}
		if o := j.Outlier; o != nil {
			if o.Threshold == 0 {
				o.Threshold = DefaultOutlierThreshold
			}
			if o.Action == "" {
				o.Action = "drop"
			}
			if o.Action == "flag" && o.FlagColumn == "" {
				o.FlagColumn = DefaultFlagColumn
			}
		}
	}
	for i := range cfg.Alerts.Rules {
		if cfg.Alerts.Rules[i].Cooldown == 0 {
			cfg.Alerts.Rules[i].Cooldown = DefaultAlertCooldown
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q unknown: want debug|info|warn|error", cfg.LogLevel)
	}
	if _, err := store.DialectFor(cfg.Store.Driver); err != nil {
		return fmt.Errorf("store.driver: %w", err)
	}
	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d is out of range [0, 65535]", cfg.HTTP.Port)
	}
	switch cfg.HTTP.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("http.auth.mode %q unknown: want apikey|none", cfg.HTTP.Auth.Mode)
	}
	if cfg.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative")
	}
	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("alerts.rules[%d] %q: condition is required", i, r.Name)
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}

	seen := make(map[string]bool, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		if err := validateJob(j); err != nil {
			return fmt.Errorf("jobs[%d] %q: %w", i, j.ID, err)
		}
		if seen[j.ID] {
			return fmt.Errorf("jobs[%d]: duplicate id %q", i, j.ID)
		}
		seen[j.ID] = true
	}
	return nil
}

func validateJob(j Job) error {
	if j.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !store.ValidIdentifier(j.Table) {
		return fmt.Errorf("table %q is not a valid identifier", j.Table)
	}
	if !store.ValidIdentifier(j.KeyColumn) {
		return fmt.Errorf("key_column %q is not a valid identifier", j.KeyColumn)
	}
	if j.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	src := j.Source
	switch src.Type {
	case "json", "html":
		if src.Endpoint == "" {
			return fmt.Errorf("source.endpoint is required")
		}
		if len(src.Columns) == 0 {
			return fmt.Errorf("source.columns is required for %s sources", src.Type)
		}
	case "prometheus":
		if src.Endpoint == "" {
			return fmt.Errorf("source.endpoint is required")
		}
		if src.Metric == "" {
			return fmt.Errorf("source.metric is required for prometheus sources")
		}
	case "csv":
		if src.Endpoint == "" && src.Path == "" {
			return fmt.Errorf("source.endpoint or source.path is required")
		}
	default:
		return fmt.Errorf("unknown source type %q", src.Type)
	}
	for k, c := range src.Columns {
		if c.Name == "" {
			return fmt.Errorf("source.columns[%d]: name is required", k)
		}
		if src.Type != "csv" && c.Path == "" {
			return fmt.Errorf("source.columns[%d] %q: path is required", k, c.Name)
		}
	}
	switch src.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("unknown auth mode %q", src.Auth.Mode)
	}

	if o := j.Outlier; o != nil {
		if o.Column == "" {
			return fmt.Errorf("outlier.column is required")
		}
		if o.Threshold < 0 {
			return fmt.Errorf("outlier.threshold must not be negative")
		}
		switch o.Action {
		case "drop":
		case "flag":
			if !store.ValidIdentifier(o.FlagColumn) {
				return fmt.Errorf("outlier.flag_column %q is not a valid identifier", o.FlagColumn)
			}
		default:
			return fmt.Errorf("outlier.action %q unknown: want drop|flag", o.Action)
		}
	}
	return nil
}
