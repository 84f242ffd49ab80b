package core

import (
	"errors"

	"LevGuard/internal/access"
	"LevGuard/internal/auction"
	"LevGuard/internal/custody"
	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/liquidation"
	"LevGuard/internal/oracle"
	"LevGuard/internal/reserve"
)

// Class buckets operation failures for callers that need to decide
// between rejecting, retrying, and paging someone.
type Class int

const (
	// ClassValidation: malformed input. Never succeeds on retry.
	ClassValidation Class = iota
	// ClassPrecondition: well-formed but the position or auction is in
	// the wrong state. Permanent until the state itself changes.
	ClassPrecondition
	// ClassResource: transient contention or missing liquidity (stale
	// oracle, moved price, drained reserve). Retryable as-is.
	ClassResource
	// ClassNotFound: the referenced position, status or auction does
	// not exist.
	ClassNotFound
	// ClassUnauthorized: caller lacks the required role.
	ClassUnauthorized
	// ClassInvariant: a post-commit step failed. Logic bug; the caller
	// cannot fix it.
	ClassInvariant
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassPrecondition:
		return "precondition"
	case ClassResource:
		return "resource"
	case ClassNotFound:
		return "not_found"
	case ClassUnauthorized:
		return "unauthorized"
	default:
		return "invariant"
	}
}

// Classify maps an engine error onto its failure class. Invariant
// wrapping wins over everything else: a precondition error surfacing
// past a commit point is still a bug.
func Classify(err error) Class {
	switch {
	case errors.Is(err, liquidation.ErrInvariant),
		errors.Is(err, auction.ErrInvariant):
		return ClassInvariant

	case errors.Is(err, liquidation.ErrInvalidPercentage),
		errors.Is(err, liquidation.ErrInvalidConfig),
		errors.Is(err, auction.ErrInvalidParams),
		errors.Is(err, auction.ErrZeroAmount),
		errors.Is(err, auction.ErrBelowMinimum):
		return ClassValidation

	case errors.Is(err, access.ErrUnauthorized):
		return ClassUnauthorized

	case errors.Is(err, liquidation.ErrStatusNotFound),
		errors.Is(err, auction.ErrAuctionNotFound),
		errors.Is(err, custody.ErrPositionNotFound):
		return ClassNotFound

	case errors.Is(err, oracle.ErrStale),
		errors.Is(err, oracle.ErrNoPrice),
		errors.Is(err, auction.ErrSlippageExceeded),
		errors.Is(err, reserve.ErrInsufficient),
		errors.Is(err, custody.ErrInsufficientBalance),
		errors.Is(err, liquidation.ErrReentered),
		errors.Is(err, auction.ErrReentered):
		return ClassResource

	case errors.Is(err, liquidation.ErrDisabled),
		errors.Is(err, liquidation.ErrNotEligible),
		errors.Is(err, liquidation.ErrAlreadyFrozen),
		errors.Is(err, liquidation.ErrNothingToWithdraw),
		errors.Is(err, auction.ErrNotStale),
		errors.Is(err, oracle.ErrInvalid),
		errors.Is(err, fixedpoint.ErrDivisionByZero):
		return ClassPrecondition

	default:
		return ClassInvariant
	}
}

// Retryable reports whether the same call may succeed without any
// state change by the caller.
func Retryable(err error) bool {
	return Classify(err) == ClassResource
}
