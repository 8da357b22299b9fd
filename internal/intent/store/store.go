// Package store persists per-signer mint nonces. A signer with no row reads
// as nonce 0. Advance is compare-and-increment; losing a race returns
// sentinel.ErrConflict. Implementations satisfy intent.NonceStore.
package store
