// Package config loads and watches the reportd configuration file.
//
// Top-level types:
//   - Config: log_level, store, http, metrics, history, alerts, jobs
//   - StoreConfig: driver (sqlite|postgres|mysql) and dsn / dsn_env
//   - Job: id, schedule, timeout, table, key_column, source, outlier
//   - Source: type (json|html|prometheus|csv), endpoint or path, auth, tls
//     and the per-type extraction settings
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none); secrets are named by
//     *_env fields and resolved from the environment by Key, Token, Password
//
// Load(path) reads the YAML file, applies defaults (port 8080, 30s source
// timeout, 5m job timeout, threshold 3.5, action drop), then validates
// required fields, enums and SQL identifiers.
//
// Watch(ctx, path, onChange) uses fsnotify to detect changes and calls
// onChange with the newly parsed Config. After a rename-and-create save the
// watch is re-added.
package config
