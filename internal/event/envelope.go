package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates event payloads in the outbound log.
type Type int32

const (
	TypeUnknown Type = iota
	TypeRiskLevelUpdated
	TypePositionSeized
	TypeAuctionStarted
	TypeAuctionReset
	TypeAuctionPurchase
	TypeLiquidationSettled
	TypeStableWithdrawn
	TypePositionAdjusted
	TypeConfigUpdated
)

func (t Type) String() string {
	switch t {
	case TypeRiskLevelUpdated:
		return "RiskLevelUpdated"
	case TypePositionSeized:
		return "PositionSeized"
	case TypeAuctionStarted:
		return "AuctionStarted"
	case TypeAuctionReset:
		return "AuctionReset"
	case TypeAuctionPurchase:
		return "AuctionPurchase"
	case TypeLiquidationSettled:
		return "LiquidationSettled"
	case TypeStableWithdrawn:
		return "StableWithdrawn"
	case TypePositionAdjusted:
		return "PositionAdjusted"
	case TypeConfigUpdated:
		return "ConfigUpdated"
	default:
		return "Unknown"
	}
}

// Envelope wraps every event the core emits to the persistence and
// projection workers and to the NATS publisher.
type Envelope struct {
	// Global monotonic sequence assigned by the core.
	Sequence int64

	EventID uuid.UUID

	Type Type

	// Token context; 0 for global events such as config changes.
	TokenID uint64

	// Owner context; uuid.Nil for global events.
	Owner uuid.UUID

	Timestamp time.Time

	// JSON-encoded event-specific payload.
	Payload []byte
}
