package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and collaborator adapters
// return these (optionally wrapped) so services can translate them into coded
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in store
// - ErrConflict: concurrent writer won (sequence/version mismatch)
// - ErrExpired: deadline or allowance period has passed
// - ErrAlreadyUsed: nonce or one-shot resource already consumed
// - ErrInvalidState: record in wrong lifecycle state for the operation
// - ErrUnavailable: collaborator or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
