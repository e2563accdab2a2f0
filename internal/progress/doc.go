// Package progress carries evaluation progress events from the page evaluator
// and the site crawler to pluggable sinks. Emitting never blocks: the Hub
// batches events on a background goroutine and drops them under backpressure.
package progress
