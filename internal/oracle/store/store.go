// Package store persists the singleton NAV state. Writers must pass the
// sequence they read; a concurrent writer losing the race gets
// sentinel.ErrConflict and retries against fresh state. Implementations
// satisfy oracle.Store.
package store
