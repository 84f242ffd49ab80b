package event

import (
	"LevGuard/internal/fixedpoint"

	"github.com/google/uuid"
)

// RiskLevelUpdated records a persisted risk reclassification.
type RiskLevelUpdated struct {
	Owner     uuid.UUID      `json:"owner"`
	TokenID   uint64         `json:"token_id"`
	NetNav    fixedpoint.Wad `json:"net_nav"`
	RiskLevel int            `json:"risk_level"`
}

// PositionSeized records a successful bark.
type PositionSeized struct {
	Owner        uuid.UUID      `json:"owner"`
	TokenID      uint64         `json:"token_id"`
	AuctionID    uuid.UUID      `json:"auction_id"`
	Keeper       uuid.UUID      `json:"keeper"`
	SeizedClaim  fixedpoint.Wad `json:"seized_claim"`
	SeizedValue  fixedpoint.Wad `json:"seized_value"`
	Underlying   fixedpoint.Wad `json:"underlying"`
	KeeperReward fixedpoint.Wad `json:"keeper_reward"`
}

// AuctionStarted records the auction opened by a seizure.
type AuctionStarted struct {
	AuctionID     uuid.UUID      `json:"auction_id"`
	TokenID       uint64         `json:"token_id"`
	Owner         uuid.UUID      `json:"owner"`
	Underlying    fixedpoint.Wad `json:"underlying"`
	StartingPrice fixedpoint.Wad `json:"starting_price"`
}

// AuctionReset records a keeper re-basing a stale auction.
type AuctionReset struct {
	AuctionID        uuid.UUID      `json:"auction_id"`
	Keeper           uuid.UUID      `json:"keeper"`
	NewStartingPrice fixedpoint.Wad `json:"new_starting_price"`
	KeeperReward     fixedpoint.Wad `json:"keeper_reward"`
}

// AuctionPurchase records one (possibly partial) fill.
type AuctionPurchase struct {
	AuctionID    uuid.UUID      `json:"auction_id"`
	Buyer        uuid.UUID      `json:"buyer"`
	Recipient    uuid.UUID      `json:"recipient"`
	AmountBought fixedpoint.Wad `json:"amount_bought"`
	AmountPaid   fixedpoint.Wad `json:"amount_paid"`
	Price        fixedpoint.Wad `json:"price"`
	Completed    bool           `json:"completed"`
}

// LiquidationSettled records an auction fully filling, making the
// proceeds withdrawable.
type LiquidationSettled struct {
	Owner         uuid.UUID      `json:"owner"`
	TokenID       uint64         `json:"token_id"`
	AuctionID     uuid.UUID      `json:"auction_id"`
	TotalProceeds fixedpoint.Wad `json:"total_proceeds"`
}

// StableWithdrawn records the seized owner collecting their proceeds.
type StableWithdrawn struct {
	Owner   uuid.UUID      `json:"owner"`
	TokenID uint64         `json:"token_id"`
	Payout  fixedpoint.Wad `json:"payout"`
	Penalty fixedpoint.Wad `json:"penalty"`
}

// PositionAdjusted records a voluntary delever.
type PositionAdjusted struct {
	Owner           uuid.UUID      `json:"owner"`
	OldTokenID      uint64         `json:"old_token_id"`
	NewTokenID      uint64         `json:"new_token_id"`
	Percentage      int            `json:"percentage"`
	BurnedClaim     fixedpoint.Wad `json:"burned_claim"`
	SettledInterest fixedpoint.Wad `json:"settled_interest"`
	NewBalance      fixedpoint.Wad `json:"new_balance"`
}

// ConfigUpdated records an admin replacing a config struct.
type ConfigUpdated struct {
	Kind   string    `json:"kind"` // "liquidation" or "auction"
	Caller uuid.UUID `json:"caller"`
}
