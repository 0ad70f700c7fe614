package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: entity does not exist in store
//   - ErrConflict: write collides with an existing immutable value
//   - ErrExpired: token/lease has expired
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrUnavailable: backend temporarily unavailable
//   - ErrLeaseHeld: another worker holds the session lease
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrLeaseHeld    = errors.New("lease held")
)
