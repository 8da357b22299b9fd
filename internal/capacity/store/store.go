// Package store persists sovereign capacity records. Put carries the
// version the writer read; a mismatch returns sentinel.ErrConflict so the
// service can retry against fresh state. Implementations satisfy
// capacity.Store.
package store
