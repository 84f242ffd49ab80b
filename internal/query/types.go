package query

import (
	"time"

	"github.com/google/uuid"
)

// RiskStatusResponse is the projected risk view of one bucket. All
// responses include as_of_sequence for freshness semantics.
type RiskStatusResponse struct {
	Owner      uuid.UUID `json:"owner"`
	TokenID    uint64    `json:"token_id"`
	RiskLevel  int       `json:"risk_level"`
	NetNav     string    `json:"net_nav"`
	Frozen     bool      `json:"frozen"`
	Liquidated bool      `json:"liquidated"`
	UpdatedAt  time.Time `json:"updated_at"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// LiquidationRecord is one seizure episode, enriched with withdrawal
// data once the owner collects.
type LiquidationRecord struct {
	Sequence     int64      `json:"sequence"`
	Owner        uuid.UUID  `json:"owner"`
	TokenID      uint64     `json:"token_id"`
	AuctionID    uuid.UUID  `json:"auction_id"`
	Keeper       uuid.UUID  `json:"keeper"`
	SeizedClaim  string     `json:"seized_claim"`
	SeizedValue  string     `json:"seized_value"`
	Underlying   string     `json:"underlying"`
	KeeperReward string     `json:"keeper_reward"`
	Payout       *string    `json:"payout,omitempty"`
	Penalty      *string    `json:"penalty,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
	WithdrawnAt  *time.Time `json:"withdrawn_at,omitempty"`
}

// AuctionTrade is one projected fill.
type AuctionTrade struct {
	Sequence     int64     `json:"sequence"`
	AuctionID    uuid.UUID `json:"auction_id"`
	Buyer        uuid.UUID `json:"buyer"`
	Recipient    uuid.UUID `json:"recipient"`
	AmountBought string    `json:"amount_bought"`
	AmountPaid   string    `json:"amount_paid"`
	Price        string    `json:"price"`
	Completed    bool      `json:"completed"`
	OccurredAt   time.Time `json:"occurred_at"`
}
