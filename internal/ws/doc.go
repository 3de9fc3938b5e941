// Package ws streams job state to WebSocket clients: a full snapshot on
// connect and on every tick, and each finished run as it happens.
package ws
