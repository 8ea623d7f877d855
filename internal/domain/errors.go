package domain

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by the ledger wraps exactly one of
// these so callers can branch with errors.Is without knowing the specific
// failure.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrState         = errors.New("invalid state")
	ErrConsistency   = errors.New("consistency violation")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)

// Specific errors.
var (
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInvalidSide         = fmt.Errorf("%w: side must be YES or NO", ErrValidation)
	ErrInvalidOutcome      = fmt.Errorf("%w: outcome must be YES or NO", ErrValidation)
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", ErrValidation)
	ErrInvalidPool         = fmt.Errorf("%w: pool reserves must be positive", ErrValidation)

	ErrMarketNotFound = fmt.Errorf("market %w", ErrNotFound)
	ErrAgentNotFound  = fmt.Errorf("agent %w", ErrNotFound)

	ErrNotCreator = fmt.Errorf("%w: only the market creator can resolve", ErrForbidden)

	ErrMarketResolved   = fmt.Errorf("%w: market is resolved", ErrState)
	ErrAlreadyResolved  = fmt.Errorf("%w: market already resolved", ErrState)
	ErrMarketUnresolved = fmt.Errorf("%w: market is not resolved", ErrState)

	ErrPoolInvariant = fmt.Errorf("%w: pool invariant broken", ErrConsistency)
	ErrStalePool     = fmt.Errorf("%w: pool changed concurrently", ErrConsistency)
)
