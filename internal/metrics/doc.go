// Package metrics exports per-job gauges and counters in the Prometheus text
// exposition format, both as a file for node_exporter's textfile collector
// and over HTTP.
//
// Exporter implements job.Observer. Every observed run updates the in-memory
// families and, when a path is configured, atomically rewrites the file.
package metrics
