// Package sinks holds progress.Sink implementations: structured logs,
// Prometheus counters, a channel for in-process consumers and a run store.
package sinks
