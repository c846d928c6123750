package domain

import (
	"errors"
	"strings"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Store errors
var (
	// ErrEventNotFound is returned when no event record matches the given criteria.
	ErrEventNotFound = errors.New("event record not found")

	// ErrEventAlreadyLinked is returned when a correlation target already
	// carries a related event id.
	ErrEventAlreadyLinked = errors.New("event record is already linked")
)

// Settlement errors
var (
	// ErrSettlementReverted is returned when a settleBet transaction was mined
	// with a failed status.
	ErrSettlementReverted = errors.New("settlement transaction reverted")
)

// Configuration errors
var (
	// ErrMissingSignerKey is returned at startup when SETTLER_PRIVATE_KEY is
	// absent.  This is the only fatal misconfiguration; everything else the
	// daemon retries.
	ErrMissingSignerKey = errors.New("SETTLER_PRIVATE_KEY must be set")
)

// ──────────────────────────────────────────────────────────────────────────────
// Contract idempotence markers
// ──────────────────────────────────────────────────────────────────────────────

// settledMarkers are the revert-reason substrings the contract produces when
// a bet was already settled by someone else or never existed.  Matching is
// case-insensitive; any hit means the dispatcher can drop the key.
var settledMarkers = []string{
	"no valid bet found",
	"already processed",
	"executed",
}

// IsAlreadySettled reports whether an RPC error message carries one of the
// contract's terminal idempotence markers.  Treat a match as
// success-equivalent: the commitment is gone on-chain.
func IsAlreadySettled(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range settledMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsNotFound returns true when err (or any error in its chain) is the store's
// "not found" error.  Use this when a missing record is an expected outcome
// rather than a fault.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound)
}
