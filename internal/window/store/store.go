// Package store persists windows, per-user pending balances, and claims.
// Window and claim writes are version-guarded; MintClaim atomically moves a
// pending balance into a new claim. Implementations satisfy window.Store.
package store
