// Package store declares the persistence interfaces for evaluation runs.
// Implementations live in other packages; this package must not import
// database drivers.
package store
