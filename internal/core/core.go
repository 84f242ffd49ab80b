package core

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"LevGuard/internal/access"
	"LevGuard/internal/auction"
	"LevGuard/internal/event"
	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/liquidation"
	"LevGuard/internal/observability"
	"LevGuard/internal/reserve"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Output is what the core hands to the downstream workers for every
// applied operation.
type Output struct {
	Envelope *event.Envelope
}

// RiskCore is the single-writer facade over the liquidation and
// auction engines. Every mutating call takes the one mutex, so the
// engines underneath never see concurrent writers; reads take it too
// so snapshots are consistent.
type RiskCore struct {
	mu       sync.Mutex
	sequence int64

	liquidations *liquidation.Engine
	auctions     *auction.Engine
	reserve      *reserve.StableReserve
	access       *access.Controller

	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	persistChan    chan<- Output
	projectionChan chan<- Output
	publishChan    chan<- Output
}

// NewRiskCore wires the facade. Any of the three output channels may be
// nil, in which case that leg is skipped (tests, tooling).
func NewRiskCore(
	startSequence int64,
	liquidations *liquidation.Engine,
	auctions *auction.Engine,
	rsv *reserve.StableReserve,
	acl *access.Controller,
	metrics *observability.Metrics,
	persistChan, projectionChan, publishChan chan<- Output,
	now func() time.Time,
) *RiskCore {
	if now == nil {
		now = time.Now
	}
	return &RiskCore{
		sequence:       startSequence,
		liquidations:   liquidations,
		auctions:       auctions,
		reserve:        rsv,
		access:         acl,
		metrics:        metrics,
		logger:         observability.NewLogger("core"),
		now:            now,
		persistChan:    persistChan,
		projectionChan: projectionChan,
		publishChan:    publishChan,
	}
}

// Sequence returns the next sequence number the core will assign.
func (c *RiskCore) Sequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// emit stamps, logs and fans out one event. Persistence gets a blocking
// send so no applied operation is ever lost; projection and publish get
// non-blocking sends and may drop under load, since both can rebuild
// from the durable log.
func (c *RiskCore) emit(t event.Type, tokenID uint64, owner uuid.UUID, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event_type", t.String()).Msg("payload marshal failed")
		body = []byte("{}")
	}

	env := &event.Envelope{
		Sequence:  c.sequence,
		EventID:   uuid.New(),
		Type:      t,
		TokenID:   tokenID,
		Owner:     owner,
		Timestamp: c.now(),
		Payload:   body,
	}
	c.sequence++

	out := Output{Envelope: env}

	if c.persistChan != nil {
		select {
		case c.persistChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- out
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}
	if c.publishChan != nil {
		select {
		case c.publishChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.PublishDrops.Inc()
			}
		}
	}

	if c.metrics != nil {
		c.metrics.EventsEmitted.WithLabelValues(t.String()).Inc()
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
}

func (c *RiskCore) observe(op string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	if err != nil {
		c.metrics.CoreOpsRejected.WithLabelValues(op, Classify(err).String()).Inc()
		return
	}
	c.metrics.CoreOpsTotal.WithLabelValues(op).Inc()
	c.metrics.CoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (c *RiskCore) gauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.ActiveAuctions.Set(float64(c.auctions.ActiveCount()))
	c.metrics.ReserveBalance.Set(wadGauge(c.reserve.Balance()))
	c.metrics.PenaltyAccrued.Set(wadGauge(c.reserve.PenaltyAccrued()))
}

// wadGauge converts a wad to float64 for gauge export. Lossy, metrics
// only.
func wadGauge(w fixedpoint.Wad) float64 {
	f, _ := strconv.ParseFloat(w.String(), 64)
	return f
}

// ---- permissionless operations ----

// UpdateRiskLevel recomputes and persists a bucket's risk level.
func (c *RiskCore) UpdateRiskLevel(owner uuid.UUID, tokenID uint64) (fixedpoint.Wad, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.now()

	netNav, level, err := c.liquidations.UpdateRiskLevel(owner, tokenID)
	c.observe("update_risk_level", start, err)
	if err != nil {
		return fixedpoint.Zero(), 0, err
	}
	if c.metrics != nil {
		c.metrics.RiskUpdates.Inc()
	}
	c.emit(event.TypeRiskLevelUpdated, tokenID, owner, event.RiskLevelUpdated{
		Owner:     owner,
		TokenID:   tokenID,
		NetNav:    netNav,
		RiskLevel: level,
	})
	return netNav, level, nil
}

// Bark seizes an eligible bucket and opens its liquidation auction.
func (c *RiskCore) Bark(owner uuid.UUID, tokenID uint64, keeper uuid.UUID) (liquidation.BarkResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.now()

	res, err := c.liquidations.Bark(owner, tokenID, keeper)
	c.observe("bark", start, err)
	if err != nil {
		if c.metrics != nil {
			c.metrics.Barks.WithLabelValues("rejected").Inc()
		}
		return liquidation.BarkResult{}, err
	}

	c.logger.Info().
		Str("owner", owner.String()).
		Uint64("token_id", tokenID).
		Str("auction_id", res.AuctionID.String()).
		Str("seized_claim", res.SeizedClaim.String()).
		Str("keeper_reward", res.KeeperReward.String()).
		Msg("position seized")

	if c.metrics != nil {
		c.metrics.Barks.WithLabelValues("seized").Inc()
		c.metrics.AuctionsStarted.Inc()
		c.metrics.KeeperRewardsPaid.Inc()
	}
	c.emit(event.TypePositionSeized, tokenID, owner, event.PositionSeized{
		Owner:        owner,
		TokenID:      tokenID,
		AuctionID:    res.AuctionID,
		Keeper:       keeper,
		SeizedClaim:  res.SeizedClaim,
		SeizedValue:  res.SeizedValue,
		Underlying:   res.Underlying,
		KeeperReward: res.KeeperReward,
	})
	if a, gerr := c.auctions.Get(res.AuctionID); gerr == nil {
		c.emit(event.TypeAuctionStarted, tokenID, owner, event.AuctionStarted{
			AuctionID:     a.ID,
			TokenID:       a.TokenID,
			Owner:         a.OriginalOwner,
			Underlying:    a.InitialUnderlying,
			StartingPrice: a.StartingPrice,
		})
	}
	c.gauges()
	return res, nil
}

// Purchase fills part of an open auction at the current decayed price.
func (c *RiskCore) Purchase(auctionID, buyer uuid.UUID, maxAmount, maxAcceptablePrice fixedpoint.Wad, recipient uuid.UUID) (auction.PurchaseResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.now()

	// Snapshot the seized bucket before the fill; a completing fill
	// needs its identity for the settlement event.
	var settledOwner uuid.UUID
	var settledToken uint64
	if a, err := c.auctions.Get(auctionID); err == nil {
		settledOwner = a.OriginalOwner
		settledToken = a.TokenID
	}

	res, err := c.auctions.Purchase(auctionID, buyer, maxAmount, maxAcceptablePrice, recipient)
	c.observe("purchase", start, err)
	if err != nil {
		return auction.PurchaseResult{}, err
	}

	kind := "partial"
	if res.Completed {
		kind = "full"
	}
	if c.metrics != nil {
		c.metrics.AuctionPurchases.WithLabelValues(kind).Inc()
	}
	c.emit(event.TypeAuctionPurchase, settledToken, settledOwner, event.AuctionPurchase{
		AuctionID:    auctionID,
		Buyer:        buyer,
		Recipient:    recipient,
		AmountBought: res.AmountBought,
		AmountPaid:   res.AmountPaid,
		Price:        res.Price,
		Completed:    res.Completed,
	})
	if res.Completed {
		if c.metrics != nil {
			c.metrics.LiquidationsDone.Inc()
		}
		if st, serr := c.liquidations.GetStatus(settledOwner, settledToken); serr == nil {
			c.emit(event.TypeLiquidationSettled, settledToken, settledOwner, event.LiquidationSettled{
				Owner:         settledOwner,
				TokenID:       settledToken,
				AuctionID:     auctionID,
				TotalProceeds: st.StableProceeds,
			})
		}
	}
	c.gauges()
	return res, nil
}

// ResetAuction re-bases a stale auction and pays the keeper.
func (c *RiskCore) ResetAuction(auctionID, keeper uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.now()

	reward, err := c.auctions.Reset(auctionID, keeper)
	c.observe("reset_auction", start, err)
	if err != nil {
		return err
	}

	a, gerr := c.auctions.Get(auctionID)
	if gerr != nil {
		return gerr
	}
	if c.metrics != nil {
		c.metrics.AuctionsReset.Inc()
		c.metrics.KeeperRewardsPaid.Inc()
	}
	c.emit(event.TypeAuctionReset, a.TokenID, a.OriginalOwner, event.AuctionReset{
		AuctionID:        auctionID,
		Keeper:           keeper,
		NewStartingPrice: a.StartingPrice,
		KeeperReward:     reward,
	})
	c.gauges()
	return nil
}

// WithdrawStable pays a liquidated owner their proceeds, once.
func (c *RiskCore) WithdrawStable(owner uuid.UUID, tokenID uint64) (liquidation.WithdrawResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.now()

	res, err := c.liquidations.WithdrawStable(owner, tokenID)
	c.observe("withdraw_stable", start, err)
	if err != nil {
		return liquidation.WithdrawResult{}, err
	}
	if c.metrics != nil {
		c.metrics.Withdrawals.Inc()
	}
	c.emit(event.TypeStableWithdrawn, tokenID, owner, event.StableWithdrawn{
		Owner:   owner,
		TokenID: tokenID,
		Payout:  res.Payout,
		Penalty: res.Penalty,
	})
	c.gauges()
	return res, nil
}

// AdjustNetValue de-levers part of an at-risk bucket.
func (c *RiskCore) AdjustNetValue(owner uuid.UUID, tokenID uint64, percentage int) (liquidation.AdjustResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.now()

	res, err := c.liquidations.AdjustNetValue(owner, tokenID, percentage)
	c.observe("adjust_net_value", start, err)
	if err != nil {
		return liquidation.AdjustResult{}, err
	}
	if c.metrics != nil {
		c.metrics.Adjustments.Inc()
	}
	c.emit(event.TypePositionAdjusted, tokenID, owner, event.PositionAdjusted{
		Owner:           owner,
		OldTokenID:      tokenID,
		NewTokenID:      res.NewTokenID,
		Percentage:      percentage,
		BurnedClaim:     res.BurnedClaim,
		SettledInterest: res.SettledInterest,
		NewBalance:      res.NewBalance,
	})
	return res, nil
}

// ---- role-gated operations ----

// SetLiquidationConfig replaces the liquidation policy. Admin only.
func (c *RiskCore) SetLiquidationConfig(caller uuid.UUID, cfg liquidation.GlobalConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.now()

	err := c.access.Require(caller, access.RoleAdmin)
	if err == nil {
		err = c.liquidations.SetConfig(cfg)
	}
	c.observe("set_liquidation_config", start, err)
	if err != nil {
		return err
	}
	c.logger.Info().Str("caller", caller.String()).Msg("liquidation config updated")
	c.emit(event.TypeConfigUpdated, 0, uuid.Nil, event.ConfigUpdated{Kind: "liquidation", Caller: caller})
	return nil
}

// SetAuctionParams replaces the auction parameters. Admin only.
func (c *RiskCore) SetAuctionParams(caller uuid.UUID, p auction.Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.now()

	err := c.access.Require(caller, access.RoleAdmin)
	if err == nil {
		err = c.auctions.SetParams(p)
	}
	c.observe("set_auction_params", start, err)
	if err != nil {
		return err
	}
	c.logger.Info().Str("caller", caller.String()).Msg("auction params updated")
	c.emit(event.TypeConfigUpdated, 0, uuid.Nil, event.ConfigUpdated{Kind: "auction", Caller: caller})
	return nil
}

// CancelAuction force-closes an auction. Requires the auction role.
func (c *RiskCore) CancelAuction(caller, auctionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.now()

	err := c.access.Require(caller, access.RoleAuction)
	var a auction.Auction
	if err == nil {
		a, err = c.auctions.Get(auctionID)
	}
	if err == nil {
		err = c.auctions.Cancel(auctionID)
	}
	c.observe("cancel_auction", start, err)
	if err != nil {
		return err
	}
	c.logger.Warn().
		Str("caller", caller.String()).
		Str("auction_id", auctionID.String()).
		Str("unsold", a.UnderlyingRemaining.String()).
		Msg("auction cancelled")
	if st, serr := c.liquidations.GetStatus(a.OriginalOwner, a.TokenID); serr == nil {
		c.emit(event.TypeLiquidationSettled, a.TokenID, a.OriginalOwner, event.LiquidationSettled{
			Owner:         a.OriginalOwner,
			TokenID:       a.TokenID,
			AuctionID:     auctionID,
			TotalProceeds: st.StableProceeds,
		})
	}
	c.gauges()
	return nil
}

// ---- reads ----

// Status returns the liquidation status for one bucket.
func (c *RiskCore) Status(owner uuid.UUID, tokenID uint64) (liquidation.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liquidations.GetStatus(owner, tokenID)
}

// LiquidationPrice returns the underlying price at which a bucket
// becomes liquidatable.
func (c *RiskCore) LiquidationPrice(owner uuid.UUID, tokenID uint64) (fixedpoint.Wad, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liquidations.LiquidationPrice(owner, tokenID)
}

// Auction returns one open auction.
func (c *RiskCore) Auction(auctionID uuid.UUID) (auction.Auction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auctions.Get(auctionID)
}

// ActiveAuctions lists every open auction.
func (c *RiskCore) ActiveAuctions() []auction.Auction {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.auctions.ActiveIDs()
	out := make([]auction.Auction, 0, len(ids))
	for _, id := range ids {
		if a, err := c.auctions.Get(id); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// CurrentPrice returns the decayed price of an open auction.
func (c *RiskCore) CurrentPrice(auctionID uuid.UUID) (fixedpoint.Wad, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auctions.CurrentPrice(auctionID)
}

// IsStale reports whether an auction is eligible for reset.
func (c *RiskCore) IsStale(auctionID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auctions.IsStale(auctionID)
}

// LiquidationConfig returns the current liquidation policy.
func (c *RiskCore) LiquidationConfig() liquidation.GlobalConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liquidations.Config()
}

// AuctionParams returns the current auction parameters.
func (c *RiskCore) AuctionParams() auction.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auctions.Params()
}
