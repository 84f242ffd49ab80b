package auction

import (
	"errors"
	"fmt"
	"time"

	"LevGuard/internal/custody"
	"LevGuard/internal/decay"
	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/oracle"
	"LevGuard/internal/reserve"

	"github.com/google/uuid"
)

// Params are the global, admin-configured auction parameters, read on
// every start and reset.
type Params struct {
	PriceMultiplier    fixedpoint.Wad // starting price = basis * multiplier
	ResetTime          time.Duration  // staleness window
	PriceDropThreshold fixedpoint.Wad // ratio in [0,1): stale once price <= start*(1-threshold)
	PercentageReward   fixedpoint.Wad // keeper reward ratio on seized/restarted value
	FixedReward        fixedpoint.Wad // flat keeper reward in stable
	MinAuctionAmount   fixedpoint.Wad // refuse dust auctions
}

// ErrInvalidParams marks a rejected parameter set.
var ErrInvalidParams = errors.New("auction: invalid params")

func (p Params) Validate() error {
	if p.PriceMultiplier.Sign() <= 0 {
		return fmt.Errorf("%w: price multiplier must be positive, got %s", ErrInvalidParams, p.PriceMultiplier)
	}
	if p.ResetTime <= 0 {
		return fmt.Errorf("%w: reset time must be positive, got %s", ErrInvalidParams, p.ResetTime)
	}
	if p.PriceDropThreshold.Sign() < 0 || p.PriceDropThreshold.Cmp(fixedpoint.One()) >= 0 {
		return fmt.Errorf("%w: price drop threshold must be in [0,1), got %s", ErrInvalidParams, p.PriceDropThreshold)
	}
	if p.PercentageReward.Sign() < 0 || p.FixedReward.Sign() < 0 {
		return fmt.Errorf("%w: rewards must be non-negative", ErrInvalidParams)
	}
	if p.MinAuctionAmount.Sign() < 0 {
		return fmt.Errorf("%w: min auction amount must be non-negative", ErrInvalidParams)
	}
	return nil
}

// Auction is one open Dutch auction over seized underlying.
type Auction struct {
	ID                   uuid.UUID
	TokenID              uint64
	OriginalOwner        uuid.UUID
	InitialUnderlying    fixedpoint.Wad
	UnderlyingRemaining  fixedpoint.Wad
	StartingPrice        fixedpoint.Wad // price basis * multiplier at last (re)start
	StartTime            time.Time
	LastResetTime        time.Time
	TotalPaymentReceived fixedpoint.Wad
}

func (a *Auction) elapsed(now time.Time) time.Duration {
	ref := a.StartTime
	if a.LastResetTime.After(ref) {
		ref = a.LastResetTime
	}
	return now.Sub(ref)
}

// Sink receives proceeds as purchases fill the auction. done is true on
// the fill that exhausts (or cancels) the auction. The auction engine
// holds no other reference back into the liquidation side.
type Sink interface {
	OnAuctionProceeds(auctionID uuid.UUID, stable fixedpoint.Wad, done bool) error
}

var (
	ErrAuctionNotFound  = errors.New("auction: not found")
	ErrBelowMinimum     = errors.New("auction: amount below minimum")
	ErrZeroAmount       = errors.New("auction: zero amount")
	ErrSlippageExceeded = errors.New("auction: price above acceptable maximum")
	ErrNotStale         = errors.New("auction: not stale")
	ErrReentered        = errors.New("auction: reentrant call")
)

// Engine owns the Dutch-auction lifecycle. It is single-writer: the
// core facade serializes all calls; the busy flag guards against
// reentry through collaborator callbacks.
type Engine struct {
	params    Params
	calc      decay.Calculator
	prices    *oracle.Guard
	custodian custody.Custodian
	reserve   *reserve.StableReserve
	sink      Sink
	auctions  map[uuid.UUID]*Auction
	now       func() time.Time
	busy      bool
}

func NewEngine(
	params Params,
	calc decay.Calculator,
	prices *oracle.Guard,
	custodian custody.Custodian,
	rsv *reserve.StableReserve,
	now func() time.Time,
) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		params:    params,
		calc:      calc,
		prices:    prices,
		custodian: custodian,
		reserve:   rsv,
		auctions:  make(map[uuid.UUID]*Auction),
		now:       now,
	}, nil
}

// BindSink wires the liquidation-side callback. Constructor wiring is
// circular (the liquidation engine needs this engine to start auctions),
// so the sink is attached after both are built.
func (e *Engine) BindSink(sink Sink) {
	e.sink = sink
}

// Params returns the current auction parameters.
func (e *Engine) Params() Params {
	return e.params
}

// SetParams replaces the auction parameters, effective immediately.
func (e *Engine) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.params = p
	return nil
}

// KeeperReward computes the trigger/maintenance reward for a given
// seized or restarted value: fixedReward + percentageReward * value.
func (e *Engine) KeeperReward(value fixedpoint.Wad) fixedpoint.Wad {
	return e.params.FixedReward.Add(e.params.PercentageReward.Mul(value))
}

// MinAmount exposes the dust floor so the seizure path can pre-validate
// before mutating any state.
func (e *Engine) MinAmount() fixedpoint.Wad {
	return e.params.MinAuctionAmount
}

// Start opens an auction over underlyingAmount at
// startingPriceBasis * priceMultiplier.
func (e *Engine) Start(tokenID uint64, originalOwner uuid.UUID, underlyingAmount, startingPriceBasis fixedpoint.Wad) (uuid.UUID, error) {
	if underlyingAmount.Cmp(e.params.MinAuctionAmount) < 0 {
		return uuid.Nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, underlyingAmount, e.params.MinAuctionAmount)
	}
	if startingPriceBasis.Sign() <= 0 {
		return uuid.Nil, fmt.Errorf("auction: starting price basis must be positive, got %s", startingPriceBasis)
	}

	now := e.now()
	a := &Auction{
		ID:                  uuid.New(),
		TokenID:             tokenID,
		OriginalOwner:       originalOwner,
		InitialUnderlying:   underlyingAmount,
		UnderlyingRemaining: underlyingAmount,
		StartingPrice:       startingPriceBasis.Mul(e.params.PriceMultiplier),
		StartTime:           now,
		LastResetTime:       now,
	}
	e.auctions[a.ID] = a
	return a.ID, nil
}

// CurrentPrice returns the decayed price for an open auction.
func (e *Engine) CurrentPrice(auctionID uuid.UUID) (fixedpoint.Wad, error) {
	a, ok := e.auctions[auctionID]
	if !ok {
		return fixedpoint.Zero(), fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}
	return e.calc.Price(a.StartingPrice, a.elapsed(e.now())), nil
}

// IsStale reports whether the auction needs a keeper reset: either the
// reset window elapsed, or the price decayed past the drop threshold.
func (e *Engine) IsStale(auctionID uuid.UUID) (bool, error) {
	a, ok := e.auctions[auctionID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}
	if a.elapsed(e.now()) >= e.params.ResetTime {
		return true, nil
	}
	price := e.calc.Price(a.StartingPrice, a.elapsed(e.now()))
	floor := a.StartingPrice.Mul(fixedpoint.One().Sub(e.params.PriceDropThreshold))
	return price.Cmp(floor) <= 0, nil
}

// Reset re-bases a stale auction on a fresh oracle price and pays the
// triggering keeper. The underlying amount is untouched. Returns the
// reward paid.
func (e *Engine) Reset(auctionID uuid.UUID, keeper uuid.UUID) (fixedpoint.Wad, error) {
	if e.busy {
		return fixedpoint.Zero(), ErrReentered
	}
	e.busy = true
	defer func() { e.busy = false }()

	a, ok := e.auctions[auctionID]
	if !ok {
		return fixedpoint.Zero(), fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}
	stale, err := e.IsStale(auctionID)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	if !stale {
		return fixedpoint.Zero(), fmt.Errorf("%w: %s", ErrNotStale, auctionID)
	}

	basis, err := e.prices.Fresh()
	if err != nil {
		return fixedpoint.Zero(), err
	}
	reward := e.KeeperReward(a.UnderlyingRemaining.Mul(basis))
	if !e.reserve.Has(reward) {
		return fixedpoint.Zero(), fmt.Errorf("reset reward: %w", reserve.ErrInsufficient)
	}

	a.StartingPrice = basis.Mul(e.params.PriceMultiplier)
	a.LastResetTime = e.now()

	if err := e.reserve.Debit(reward); err != nil {
		return fixedpoint.Zero(), err
	}
	if err := e.custodian.TransferStable(keeper, reward); err != nil {
		return fixedpoint.Zero(), fmt.Errorf("reset reward transfer: %v: %w", err, ErrInvariant)
	}
	return reward, nil
}

// ErrInvariant marks a failure that should be unreachable given the
// checked preconditions. It indicates a logic bug, not a user error.
var ErrInvariant = errors.New("auction: invariant violation")

// PurchaseResult reports one (possibly partial) fill.
type PurchaseResult struct {
	AmountBought fixedpoint.Wad
	AmountPaid   fixedpoint.Wad
	Price        fixedpoint.Wad
	Completed    bool
}

// Purchase fills up to maxAmount of the auctioned underlying at the
// current decayed price. Partial fills from different buyers compose;
// nobody is forced to take the whole remainder. The buyer's stable is
// collected before any auction state changes so a failed collection
// leaves the auction untouched; outbound transfers happen only after
// the accounting is committed.
func (e *Engine) Purchase(auctionID uuid.UUID, buyer uuid.UUID, maxAmount, maxAcceptablePrice fixedpoint.Wad, recipient uuid.UUID) (PurchaseResult, error) {
	if e.busy {
		return PurchaseResult{}, ErrReentered
	}
	e.busy = true
	defer func() { e.busy = false }()

	a, ok := e.auctions[auctionID]
	if !ok {
		return PurchaseResult{}, fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}
	if maxAmount.Sign() <= 0 {
		return PurchaseResult{}, ErrZeroAmount
	}

	price := e.calc.Price(a.StartingPrice, a.elapsed(e.now()))
	if price.Cmp(maxAcceptablePrice) > 0 {
		return PurchaseResult{}, fmt.Errorf("%w: current %s > max %s", ErrSlippageExceeded, price, maxAcceptablePrice)
	}

	bought := maxAmount.Min(a.UnderlyingRemaining)
	paid := bought.Mul(price)

	if paid.Sign() > 0 {
		if err := e.custodian.CollectStable(buyer, paid); err != nil {
			return PurchaseResult{}, err
		}
	}

	a.UnderlyingRemaining = a.UnderlyingRemaining.Sub(bought)
	a.TotalPaymentReceived = a.TotalPaymentReceived.Add(paid)
	e.reserve.Credit(paid)

	done := a.UnderlyingRemaining.IsZero()
	if done {
		delete(e.auctions, auctionID)
	}

	// Accounting is committed; a failure past this point is a logic bug.
	if err := e.custodian.TransferUnderlying(recipient, bought); err != nil {
		return PurchaseResult{}, fmt.Errorf("underlying transfer: %v: %w", err, ErrInvariant)
	}
	if e.sink != nil {
		if err := e.sink.OnAuctionProceeds(auctionID, paid, done); err != nil {
			return PurchaseResult{}, fmt.Errorf("proceeds callback: %v: %w", err, ErrInvariant)
		}
	}

	return PurchaseResult{AmountBought: bought, AmountPaid: paid, Price: price, Completed: done}, nil
}

// Cancel closes an auction without further sales. The unsold underlying
// stays in protocol reserves; whatever proceeds accumulated become
// withdrawable by the seized owner.
func (e *Engine) Cancel(auctionID uuid.UUID) error {
	a, ok := e.auctions[auctionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}
	delete(e.auctions, a.ID)
	if e.sink != nil {
		if err := e.sink.OnAuctionProceeds(a.ID, fixedpoint.Zero(), true); err != nil {
			return fmt.Errorf("cancel callback: %v: %w", err, ErrInvariant)
		}
	}
	return nil
}

// Get returns a copy of an open auction.
func (e *Engine) Get(auctionID uuid.UUID) (Auction, error) {
	a, ok := e.auctions[auctionID]
	if !ok {
		return Auction{}, fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}
	return *a, nil
}

// Load replaces the open-auction set, for snapshot recovery.
func (e *Engine) Load(auctions []Auction) {
	e.auctions = make(map[uuid.UUID]*Auction, len(auctions))
	for i := range auctions {
		a := auctions[i]
		e.auctions[a.ID] = &a
	}
}

// ActiveCount returns the number of open auctions.
func (e *Engine) ActiveCount() int {
	return len(e.auctions)
}

// ActiveIDs lists the open auction IDs.
func (e *Engine) ActiveIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(e.auctions))
	for id := range e.auctions {
		ids = append(ids, id)
	}
	return ids
}
