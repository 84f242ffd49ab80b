package custody

import (
	"errors"

	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/nav"

	"github.com/google/uuid"
)

// Position is a leveraged-claim bucket held at the custodian. The core
// only reads positions; the single mutation it may request is burning
// the leveraged claim on seizure or voluntary delever.
type Position struct {
	Owner     uuid.UUID
	TokenID   uint64
	Tier      nav.LeverageTier
	MintPrice fixedpoint.Wad
	Balance   fixedpoint.Wad
}

var (
	ErrPositionNotFound      = errors.New("custody: position not found")
	ErrInsufficientBalance   = errors.New("custody: insufficient balance")
	ErrInsufficientAllowance = errors.New("custody: insufficient allowance")
)

// Custodian is the external collaborator holding positions and moving
// stable/underlying value on the core's behalf.
type Custodian interface {
	GetPosition(owner uuid.UUID, tokenID uint64) (Position, error)

	// BurnLeveragedClaim destroys amount of the claim held in the bucket.
	BurnLeveragedClaim(owner uuid.UUID, tokenID uint64, amount fixedpoint.Wad) error

	// MintLeveragedClaim opens a fresh bucket for owner at mintPrice and
	// returns its token ID. Used by voluntary delever to re-base a slice.
	MintLeveragedClaim(owner uuid.UUID, tier nav.LeverageTier, mintPrice, balance fixedpoint.Wad) (uint64, error)

	// TransferUnderlying moves underlying from protocol reserves to an account.
	TransferUnderlying(to uuid.UUID, amount fixedpoint.Wad) error

	// TransferStable moves stable from protocol reserves to an account.
	TransferStable(to uuid.UUID, amount fixedpoint.Wad) error

	// CollectStable pulls stable from an account into protocol reserves.
	// Fails with ErrInsufficientBalance / ErrInsufficientAllowance.
	CollectStable(from uuid.UUID, amount fixedpoint.Wad) error
}

// InterestManager is the external collaborator tracking borrow interest
// accrued against each bucket.
type InterestManager interface {
	PreviewAccruedInterest(owner uuid.UUID, tokenID uint64) (fixedpoint.Wad, error)
	SettleInterest(owner uuid.UUID, tokenID uint64, amount fixedpoint.Wad) error
}
