// Package alerts evaluates rules against finished job runs and notifies
// Slack, Teams or plain HTTP webhooks when a rule fires or resolves.
package alerts
