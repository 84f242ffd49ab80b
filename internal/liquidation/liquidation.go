package liquidation

import (
	"errors"
	"fmt"
	"time"

	"LevGuard/internal/custody"
	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/nav"
	"LevGuard/internal/oracle"
	"LevGuard/internal/reserve"

	"github.com/google/uuid"
)

// GlobalConfig is the admin-configured liquidation policy.
type GlobalConfig struct {
	Thresholds  nav.Thresholds
	PenaltyRate fixedpoint.Wad // ratio of proceeds retained on withdrawal
	Enabled     bool
}

// ErrInvalidConfig marks a rejected liquidation policy.
var ErrInvalidConfig = errors.New("liquidation: invalid config")

func (c GlobalConfig) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.PenaltyRate.Sign() < 0 || c.PenaltyRate.Cmp(fixedpoint.One()) >= 0 {
		return fmt.Errorf("%w: penalty rate must be in [0,1), got %s", ErrInvalidConfig, c.PenaltyRate)
	}
	return nil
}

// Status is the liquidation record for one (owner, tokenID) bucket.
// Invariants: IsUnderLiquidation implies IsFrozen; IsLiquidated implies
// not IsUnderLiquidation; at most one open auction per bucket.
type Status struct {
	Owner              uuid.UUID
	TokenID            uint64
	Tier               nav.LeverageTier
	Balance            fixedpoint.Wad // claim snapshot at last update
	NetNav             fixedpoint.Wad
	RiskLevel          int
	IsFrozen           bool
	IsUnderLiquidation bool
	IsLiquidated       bool
	StableProceeds     fixedpoint.Wad
	AuctionID          uuid.UUID // uuid.Nil when none
	UpdatedAt          time.Time
}

var (
	ErrDisabled          = errors.New("liquidation: disabled")
	ErrNotEligible       = errors.New("liquidation: not eligible")
	ErrAlreadyFrozen     = errors.New("liquidation: position frozen")
	ErrNothingToWithdraw = errors.New("liquidation: nothing to withdraw")
	ErrStatusNotFound    = errors.New("liquidation: no status for position")
	ErrInvalidPercentage = errors.New("liquidation: percentage must be in [1,100]")
	ErrReentered         = errors.New("liquidation: reentrant call")

	// ErrInvariant marks failures past the commit point of an operation
	// whose preconditions were already checked. Logic bug, not user error.
	ErrInvariant = errors.New("liquidation: invariant violation")
)

// AuctionStarter is the narrow slice of the auction engine the
// liquidation side needs. One-directional: the auction engine calls
// back only through its Sink interface.
type AuctionStarter interface {
	Start(tokenID uint64, originalOwner uuid.UUID, underlyingAmount, startingPriceBasis fixedpoint.Wad) (uuid.UUID, error)
	KeeperReward(value fixedpoint.Wad) fixedpoint.Wad
	MinAmount() fixedpoint.Wad
}

type statusKey struct {
	owner   uuid.UUID
	tokenID uint64
}

// Engine owns liquidation statuses and the freeze/seize state machine.
// Single-writer: the core facade serializes calls.
type Engine struct {
	cfg       GlobalConfig
	statuses  map[statusKey]*Status
	byAuction map[uuid.UUID]statusKey
	custodian custody.Custodian
	interest  custody.InterestManager
	prices    *oracle.Guard
	auctions  AuctionStarter
	reserve   *reserve.StableReserve
	now       func() time.Time
	busy      bool
}

func NewEngine(
	cfg GlobalConfig,
	custodian custody.Custodian,
	interest custody.InterestManager,
	prices *oracle.Guard,
	auctions AuctionStarter,
	rsv *reserve.StableReserve,
	now func() time.Time,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:       cfg,
		statuses:  make(map[statusKey]*Status),
		byAuction: make(map[uuid.UUID]statusKey),
		custodian: custodian,
		interest:  interest,
		prices:    prices,
		auctions:  auctions,
		reserve:   rsv,
		now:       now,
	}, nil
}

// Config returns the current liquidation policy.
func (e *Engine) Config() GlobalConfig {
	return e.cfg
}

// SetConfig replaces the liquidation policy, effective immediately.
func (e *Engine) SetConfig(cfg GlobalConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// GetStatus returns a copy of the bucket's liquidation status.
func (e *Engine) GetStatus(owner uuid.UUID, tokenID uint64) (Status, error) {
	st, ok := e.statuses[statusKey{owner, tokenID}]
	if !ok {
		return Status{}, fmt.Errorf("%w: owner=%s token=%d", ErrStatusNotFound, owner, tokenID)
	}
	return *st, nil
}

// LiquidationPrice returns the underlying price at which a bucket's
// gross NAV reaches the liquidation threshold. A monitoring read: it
// uses the stored mint price only, so it works even when the oracle is
// stale.
func (e *Engine) LiquidationPrice(owner uuid.UUID, tokenID uint64) (fixedpoint.Wad, error) {
	pos, err := e.custodian.GetPosition(owner, tokenID)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	return nav.LiquidationPrice(pos.Tier, pos.MintPrice, e.cfg.Thresholds.Liquidation)
}

// Statuses returns copies of every tracked status, for snapshots.
func (e *Engine) Statuses() []Status {
	out := make([]Status, 0, len(e.statuses))
	for _, st := range e.statuses {
		out = append(out, *st)
	}
	return out
}

// LoadStatuses replaces the tracked statuses, for snapshot recovery.
// Rebuilds the auction index from statuses still under liquidation.
func (e *Engine) LoadStatuses(statuses []Status) {
	e.statuses = make(map[statusKey]*Status, len(statuses))
	e.byAuction = make(map[uuid.UUID]statusKey)
	for i := range statuses {
		st := statuses[i]
		key := statusKey{st.Owner, st.TokenID}
		e.statuses[key] = &st
		if st.IsUnderLiquidation && st.AuctionID != uuid.Nil {
			e.byAuction[st.AuctionID] = key
		}
	}
}

// netPosition is the freshly computed valuation of one bucket.
type netPosition struct {
	pos           custody.Position
	price         fixedpoint.Wad
	interest      fixedpoint.Wad
	totalValue    fixedpoint.Wad
	netTotalValue fixedpoint.Wad
	netNav        fixedpoint.Wad
	riskLevel     int
}

// value reads the oracle and recomputes NAV and risk for a bucket.
func (e *Engine) value(owner uuid.UUID, tokenID uint64) (netPosition, error) {
	pos, err := e.custodian.GetPosition(owner, tokenID)
	if err != nil {
		return netPosition{}, err
	}
	price, err := e.prices.Fresh()
	if err != nil {
		return netPosition{}, err
	}
	accrued, err := e.interest.PreviewAccruedInterest(owner, tokenID)
	if err != nil {
		return netPosition{}, err
	}

	gross, err := nav.GrossNav(pos.Tier, pos.MintPrice, price)
	if err != nil {
		return netPosition{}, err
	}
	totalValue := nav.TotalValue(pos.Balance, gross)
	netNav, err := nav.NetNav(totalValue, accrued, pos.Balance)
	if err != nil {
		return netPosition{}, err
	}

	return netPosition{
		pos:           pos,
		price:         price,
		interest:      accrued,
		totalValue:    totalValue,
		netTotalValue: nav.NetTotalValue(totalValue, accrued),
		netNav:        netNav,
		riskLevel:     nav.RiskLevel(netNav, e.cfg.Thresholds),
	}, nil
}

func (e *Engine) upsert(owner uuid.UUID, tokenID uint64) *Status {
	key := statusKey{owner, tokenID}
	st, ok := e.statuses[key]
	if !ok {
		st = &Status{Owner: owner, TokenID: tokenID}
		e.statuses[key] = st
	}
	return st
}

// UpdateRiskLevel recomputes a bucket's net NAV and risk level from the
// current oracle price and persists both. Callable by anyone; for a
// frozen bucket it returns the stored values without recomputing, since
// the claim has already been seized.
func (e *Engine) UpdateRiskLevel(owner uuid.UUID, tokenID uint64) (fixedpoint.Wad, int, error) {
	if st, ok := e.statuses[statusKey{owner, tokenID}]; ok && st.IsFrozen {
		return st.NetNav, st.RiskLevel, nil
	}

	np, err := e.value(owner, tokenID)
	if err != nil {
		return fixedpoint.Zero(), 0, err
	}

	st := e.upsert(owner, tokenID)
	st.Tier = np.pos.Tier
	st.Balance = np.pos.Balance
	st.NetNav = np.netNav
	st.RiskLevel = np.riskLevel
	st.UpdatedAt = e.now()
	return np.netNav, np.riskLevel, nil
}

// BarkResult reports a completed seizure.
type BarkResult struct {
	AuctionID    uuid.UUID
	SeizedClaim  fixedpoint.Wad // leveraged claim burned
	SeizedValue  fixedpoint.Wad // ex-interest stable value seized
	Underlying   fixedpoint.Wad // collateral sent to auction
	KeeperReward fixedpoint.Wad
}

// Bark seizes a max-risk bucket and opens its liquidation auction.
// Eligibility is recomputed from a fresh oracle read regardless of any
// cached risk level, since keepers call speculatively. All fallible
// checks run before the first state write so a failed bark leaves
// every balance untouched.
func (e *Engine) Bark(owner uuid.UUID, tokenID uint64, keeper uuid.UUID) (BarkResult, error) {
	if e.busy {
		return BarkResult{}, ErrReentered
	}
	e.busy = true
	defer func() { e.busy = false }()

	if !e.cfg.Enabled {
		return BarkResult{}, ErrDisabled
	}
	if st, ok := e.statuses[statusKey{owner, tokenID}]; ok && st.IsFrozen {
		return BarkResult{}, fmt.Errorf("%w: owner=%s token=%d", ErrAlreadyFrozen, owner, tokenID)
	}

	np, err := e.value(owner, tokenID)
	if err != nil {
		return BarkResult{}, err
	}
	if np.pos.Balance.IsZero() {
		return BarkResult{}, fmt.Errorf("%w: empty position", ErrNotEligible)
	}
	if np.netNav.Cmp(e.cfg.Thresholds.Liquidation) > 0 {
		return BarkResult{}, fmt.Errorf("%w: net NAV %s above liquidation threshold %s",
			ErrNotEligible, np.netNav, e.cfg.Thresholds.Liquidation)
	}
	if np.price.IsZero() {
		return BarkResult{}, fmt.Errorf("%w: zero oracle price", oracle.ErrInvalid)
	}

	// Sellable collateral: the bucket's ex-interest value at the current price.
	underlying, err := np.netTotalValue.Div(np.price)
	if err != nil {
		return BarkResult{}, err
	}
	if underlying.Cmp(e.auctions.MinAmount()) < 0 {
		return BarkResult{}, fmt.Errorf("%w: sellable %s below auction minimum %s",
			ErrNotEligible, underlying, e.auctions.MinAmount())
	}
	reward := e.auctions.KeeperReward(np.netTotalValue)
	if !e.reserve.Has(reward) {
		return BarkResult{}, fmt.Errorf("bark reward: %w", reserve.ErrInsufficient)
	}

	// Commit point: freeze before any collaborator call so a concurrent
	// mutation on this bucket loses the race.
	st := e.upsert(owner, tokenID)
	st.Tier = np.pos.Tier
	st.Balance = np.pos.Balance
	st.NetNav = np.netNav
	st.RiskLevel = nav.MaxRiskLevel
	st.IsFrozen = true
	st.IsUnderLiquidation = true
	st.UpdatedAt = e.now()

	if err := e.custodian.BurnLeveragedClaim(owner, tokenID, np.pos.Balance); err != nil {
		return BarkResult{}, fmt.Errorf("burn claim: %v: %w", err, ErrInvariant)
	}
	if np.interest.Sign() > 0 {
		if err := e.interest.SettleInterest(owner, tokenID, np.interest); err != nil {
			return BarkResult{}, fmt.Errorf("settle interest: %v: %w", err, ErrInvariant)
		}
	}

	auctionID, err := e.auctions.Start(tokenID, owner, underlying, np.pos.MintPrice)
	if err != nil {
		return BarkResult{}, fmt.Errorf("start auction: %v: %w", err, ErrInvariant)
	}
	st.AuctionID = auctionID
	e.byAuction[auctionID] = statusKey{owner, tokenID}

	if err := e.reserve.Debit(reward); err != nil {
		return BarkResult{}, fmt.Errorf("debit reward: %v: %w", err, ErrInvariant)
	}
	if err := e.custodian.TransferStable(keeper, reward); err != nil {
		return BarkResult{}, fmt.Errorf("pay keeper: %v: %w", err, ErrInvariant)
	}

	return BarkResult{
		AuctionID:    auctionID,
		SeizedClaim:  np.pos.Balance,
		SeizedValue:  np.netTotalValue,
		Underlying:   underlying,
		KeeperReward: reward,
	}, nil
}

// OnAuctionProceeds accumulates sale proceeds for the seized bucket.
// Implements the auction engine's Sink interface.
func (e *Engine) OnAuctionProceeds(auctionID uuid.UUID, stable fixedpoint.Wad, done bool) error {
	key, ok := e.byAuction[auctionID]
	if !ok {
		return fmt.Errorf("unknown auction %s: %w", auctionID, ErrInvariant)
	}
	st := e.statuses[key]
	st.StableProceeds = st.StableProceeds.Add(stable)
	st.UpdatedAt = e.now()
	if done {
		st.IsLiquidated = true
		st.IsUnderLiquidation = false
		delete(e.byAuction, auctionID)
	}
	return nil
}

// WithdrawResult reports a completed withdrawal.
type WithdrawResult struct {
	Payout  fixedpoint.Wad
	Penalty fixedpoint.Wad
}

// WithdrawStable pays the seized owner their auction proceeds net of
// the protocol penalty. Succeeds exactly once per liquidation episode.
// Policy: the bucket's frozen flag is never cleared; the token ID is
// retired with its terminal status retained.
func (e *Engine) WithdrawStable(owner uuid.UUID, tokenID uint64) (WithdrawResult, error) {
	if e.busy {
		return WithdrawResult{}, ErrReentered
	}
	e.busy = true
	defer func() { e.busy = false }()

	st, ok := e.statuses[statusKey{owner, tokenID}]
	if !ok {
		return WithdrawResult{}, fmt.Errorf("%w: owner=%s token=%d", ErrStatusNotFound, owner, tokenID)
	}
	if !st.IsLiquidated || st.IsUnderLiquidation {
		return WithdrawResult{}, fmt.Errorf("%w: liquidation not settled", ErrNothingToWithdraw)
	}
	if st.StableProceeds.IsZero() {
		return WithdrawResult{}, ErrNothingToWithdraw
	}

	proceeds := st.StableProceeds
	penalty := proceeds.Mul(e.cfg.PenaltyRate)
	payout := proceeds.Sub(penalty)

	st.StableProceeds = fixedpoint.Zero()
	st.UpdatedAt = e.now()
	e.reserve.AddPenalty(penalty)

	if err := e.reserve.Debit(payout); err != nil {
		return WithdrawResult{}, fmt.Errorf("debit payout: %v: %w", err, ErrInvariant)
	}
	if err := e.custodian.TransferStable(owner, payout); err != nil {
		return WithdrawResult{}, fmt.Errorf("pay owner: %v: %w", err, ErrInvariant)
	}

	return WithdrawResult{Payout: payout, Penalty: penalty}, nil
}

// AdjustResult reports a completed voluntary delever.
type AdjustResult struct {
	NewTokenID     uint64
	BurnedClaim    fixedpoint.Wad
	SettledInterest fixedpoint.Wad
	NewBalance     fixedpoint.Wad
	OldRiskLevel   int
	NewRiskLevel   int
}

// AdjustNetValue de-levers percentage percent of a bucket while it is
// at risk but not yet frozen: the slice is burned, its share of accrued
// interest settled, and an equal-value claim reminted at the current
// price so the new bucket starts at net NAV 1.0. Risk is recomputed and
// persisted for both buckets.
func (e *Engine) AdjustNetValue(owner uuid.UUID, tokenID uint64, percentage int) (AdjustResult, error) {
	if e.busy {
		return AdjustResult{}, ErrReentered
	}
	e.busy = true
	defer func() { e.busy = false }()

	if percentage < 1 || percentage > 100 {
		return AdjustResult{}, fmt.Errorf("%w: got %d", ErrInvalidPercentage, percentage)
	}
	if st, ok := e.statuses[statusKey{owner, tokenID}]; ok && st.IsFrozen {
		return AdjustResult{}, fmt.Errorf("%w: owner=%s token=%d", ErrAlreadyFrozen, owner, tokenID)
	}

	np, err := e.value(owner, tokenID)
	if err != nil {
		return AdjustResult{}, err
	}
	if np.riskLevel == 0 {
		return AdjustResult{}, fmt.Errorf("%w: risk level 0", ErrNotEligible)
	}

	pct := int64(percentage)
	burned, err := np.pos.Balance.MulInt(pct).DivInt(100)
	if err != nil {
		return AdjustResult{}, err
	}
	sliceInterest, err := np.interest.MulInt(pct).DivInt(100)
	if err != nil {
		return AdjustResult{}, err
	}
	sliceValue, err := np.totalValue.MulInt(pct).DivInt(100)
	if err != nil {
		return AdjustResult{}, err
	}
	// New bucket minted at the current price carries gross NAV 1.0, so
	// its balance equals the slice's ex-interest value.
	newBalance := sliceValue.Sub(sliceInterest).ClampZero()

	if err := e.custodian.BurnLeveragedClaim(owner, tokenID, burned); err != nil {
		return AdjustResult{}, fmt.Errorf("burn slice: %v: %w", err, ErrInvariant)
	}
	if sliceInterest.Sign() > 0 {
		if err := e.interest.SettleInterest(owner, tokenID, sliceInterest); err != nil {
			return AdjustResult{}, fmt.Errorf("settle interest: %v: %w", err, ErrInvariant)
		}
	}
	newTokenID, err := e.custodian.MintLeveragedClaim(owner, np.pos.Tier, np.price, newBalance)
	if err != nil {
		return AdjustResult{}, fmt.Errorf("mint rebased claim: %v: %w", err, ErrInvariant)
	}

	// Re-persist risk for the shrunk bucket.
	oldSt := e.upsert(owner, tokenID)
	oldSt.Tier = np.pos.Tier
	oldSt.Balance = np.pos.Balance.Sub(burned)
	oldSt.UpdatedAt = e.now()
	if oldSt.Balance.IsZero() {
		oldSt.NetNav = fixedpoint.Zero()
		oldSt.RiskLevel = 0
	} else {
		remainValue := np.totalValue.Sub(sliceValue)
		remainInterest := np.interest.Sub(sliceInterest)
		netNav, err := nav.NetNav(remainValue, remainInterest, oldSt.Balance)
		if err != nil {
			return AdjustResult{}, fmt.Errorf("revalue remainder: %v: %w", err, ErrInvariant)
		}
		oldSt.NetNav = netNav
		oldSt.RiskLevel = nav.RiskLevel(netNav, e.cfg.Thresholds)
	}

	// And for the fresh bucket.
	newSt := e.upsert(owner, newTokenID)
	newSt.Tier = np.pos.Tier
	newSt.Balance = newBalance
	newSt.NetNav = fixedpoint.One()
	newSt.RiskLevel = nav.RiskLevel(fixedpoint.One(), e.cfg.Thresholds)
	newSt.UpdatedAt = e.now()

	return AdjustResult{
		NewTokenID:      newTokenID,
		BurnedClaim:     burned,
		SettledInterest: sliceInterest,
		NewBalance:      newBalance,
		OldRiskLevel:    oldSt.RiskLevel,
		NewRiskLevel:    newSt.RiskLevel,
	}, nil
}
