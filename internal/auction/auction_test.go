package auction_test

import (
	"errors"
	"testing"
	"time"

	"LevGuard/internal/auction"
	"LevGuard/internal/custody"
	"LevGuard/internal/decay"
	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/oracle"
	"LevGuard/internal/reserve"

	"github.com/google/uuid"
)

func wad(s string) fixedpoint.Wad { return fixedpoint.MustParse(s) }

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type recordSink struct {
	proceeds []fixedpoint.Wad
	total    fixedpoint.Wad
	done     bool
}

func (s *recordSink) OnAuctionProceeds(_ uuid.UUID, stable fixedpoint.Wad, done bool) error {
	s.proceeds = append(s.proceeds, stable)
	s.total = s.total.Add(stable)
	if done {
		s.done = true
	}
	return nil
}

type harness struct {
	clock     *fakeClock
	custodian *custody.MemoryCustodian
	reserve   *reserve.StableReserve
	oracle    *oracle.Fixed
	sink      *recordSink
	engine    *auction.Engine
}

func defaultParams() auction.Params {
	return auction.Params{
		PriceMultiplier:    wad("1.8"),
		ResetTime:          time.Hour,
		PriceDropThreshold: wad("0.4"),
		PercentageReward:   wad("0.01"),
		FixedReward:        fixedpoint.FromInt(5),
		MinAuctionAmount:   fixedpoint.FromInt(1),
	}
}

func newHarness(t *testing.T, params auction.Params) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cust := custody.NewMemoryCustodian()
	cust.FundProtocol(fixedpoint.FromInt(10_000), fixedpoint.FromInt(10_000))
	rsv := reserve.NewStableReserve(fixedpoint.FromInt(1_000))
	src := &oracle.Fixed{Quote: oracle.Quote{Price: fixedpoint.FromInt(20), UpdatedAt: clock.t, Valid: true}}
	guard := oracle.NewGuard(src, time.Minute, clock.Now)

	calc, err := decay.NewLinear(3600 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := auction.NewEngine(params, calc, guard, cust, rsv, clock.Now)
	if err != nil {
		t.Fatal(err)
	}
	sink := &recordSink{}
	engine.BindSink(sink)

	return &harness{clock: clock, custodian: cust, reserve: rsv, oracle: src, sink: sink, engine: engine}
}

// startDefault opens an auction over 50 underlying at basis 20 (top 36).
func (h *harness) startDefault(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := h.engine.Start(7, uuid.New(), fixedpoint.FromInt(50), fixedpoint.FromInt(20))
	if err != nil {
		t.Fatal(err)
	}
	return id
}

// ============================================================================
// Test: Start
// ============================================================================

func TestStart_BelowMinimum(t *testing.T) {
	h := newHarness(t, defaultParams())
	_, err := h.engine.Start(1, uuid.New(), wad("0.5"), fixedpoint.FromInt(20))
	if !errors.Is(err, auction.ErrBelowMinimum) {
		t.Errorf("got %v, want ErrBelowMinimum", err)
	}
	if h.engine.ActiveCount() != 0 {
		t.Error("no auction should be open")
	}
}

func TestStart_AppliesMultiplier(t *testing.T) {
	h := newHarness(t, defaultParams())
	id := h.startDefault(t)

	price, err := h.engine.CurrentPrice(id)
	if err != nil {
		t.Fatal(err)
	}
	if price.Cmp(fixedpoint.FromInt(36)) != 0 {
		t.Errorf("starting price: got %s, want 36", price)
	}
	if h.engine.ActiveCount() != 1 {
		t.Errorf("active count: got %d, want 1", h.engine.ActiveCount())
	}
}

// ============================================================================
// Test: CurrentPrice decay
// ============================================================================

func TestCurrentPrice_DecaysLinearly(t *testing.T) {
	h := newHarness(t, defaultParams())
	id := h.startDefault(t)

	h.clock.Advance(1800 * time.Second)
	price, err := h.engine.CurrentPrice(id)
	if err != nil {
		t.Fatal(err)
	}
	if price.Cmp(fixedpoint.FromInt(18)) != 0 {
		t.Errorf("price at t=1800s: got %s, want 18", price)
	}
}

func TestCurrentPrice_UnknownAuction(t *testing.T) {
	h := newHarness(t, defaultParams())
	_, err := h.engine.CurrentPrice(uuid.New())
	if !errors.Is(err, auction.ErrAuctionNotFound) {
		t.Errorf("got %v, want ErrAuctionNotFound", err)
	}
}

// ============================================================================
// Test: staleness and reset
// ============================================================================

func TestIsStale_ByElapsedTime(t *testing.T) {
	h := newHarness(t, defaultParams())
	id := h.startDefault(t)

	stale, err := h.engine.IsStale(id)
	if err != nil {
		t.Fatal(err)
	}
	if stale {
		t.Error("fresh auction should not be stale")
	}

	h.clock.Advance(time.Hour)
	stale, _ = h.engine.IsStale(id)
	if !stale {
		t.Error("auction past reset time should be stale")
	}
}

func TestIsStale_ByPriceDrop(t *testing.T) {
	h := newHarness(t, defaultParams())
	id := h.startDefault(t)

	// Drop threshold 0.4: floor is 36 * 0.6 = 21.6. At t=1800s price is 18.
	h.clock.Advance(1800 * time.Second)
	stale, err := h.engine.IsStale(id)
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Error("auction past price-drop floor should be stale")
	}
}

func TestReset_NotStale(t *testing.T) {
	h := newHarness(t, defaultParams())
	id := h.startDefault(t)

	_, err := h.engine.Reset(id, uuid.New())
	if !errors.Is(err, auction.ErrNotStale) {
		t.Errorf("got %v, want ErrNotStale", err)
	}
}

func TestReset_RebasesPriceAndPaysKeeper(t *testing.T) {
	h := newHarness(t, defaultParams())
	id := h.startDefault(t)
	keeper := uuid.New()

	h.clock.Advance(time.Hour)
	h.oracle.Quote = oracle.Quote{Price: fixedpoint.FromInt(15), UpdatedAt: h.clock.t, Valid: true}

	paid, err := h.engine.Reset(id, keeper)
	if err != nil {
		t.Fatal(err)
	}
	if paid.Cmp(wad("12.5")) != 0 {
		t.Errorf("returned reward: got %s, want 12.5", paid)
	}

	price, _ := h.engine.CurrentPrice(id)
	if price.Cmp(fixedpoint.FromInt(27)) != 0 { // 15 * 1.8
		t.Errorf("rebased price: got %s, want 27", price)
	}

	// reward = 5 + 0.01 * (50 * 15) = 12.5
	reward := h.custodian.StableBalance(keeper)
	if reward.Cmp(wad("12.5")) != 0 {
		t.Errorf("keeper reward: got %s, want 12.5", reward)
	}
	if h.reserve.Balance().Cmp(wad("987.5")) != 0 {
		t.Errorf("reserve after reward: got %s, want 987.5", h.reserve.Balance())
	}
}

func TestReset_StaleOracleBlocks(t *testing.T) {
	h := newHarness(t, defaultParams())
	id := h.startDefault(t)

	h.clock.Advance(time.Hour) // auction stale, but so is the quote
	_, err := h.engine.Reset(id, uuid.New())
	if !errors.Is(err, oracle.ErrStale) {
		t.Errorf("got %v, want oracle.ErrStale", err)
	}
}

// ============================================================================
// Test: Purchase
// ============================================================================

func TestPurchase_PartialFillsConserve(t *testing.T) {
	h := newHarness(t, defaultParams())
	id := h.startDefault(t)

	buyerA, buyerB, buyerC := uuid.New(), uuid.New(), uuid.New()
	for _, b := range []uuid.UUID{buyerA, buyerB, buyerC} {
		h.custodian.FundAccountStable(b, fixedpoint.FromInt(2_000))
	}
	maxPrice := fixedpoint.FromInt(100)

	// t=0: price 36, A buys 10.
	resA, err := h.engine.Purchase(id, buyerA, fixedpoint.FromInt(10), maxPrice, buyerA)
	if err != nil {
		t.Fatal(err)
	}
	if resA.AmountPaid.Cmp(fixedpoint.FromInt(360)) != 0 {
		t.Errorf("A paid %s, want 360", resA.AmountPaid)
	}

	// t=600s: price 30, B buys 20.
	h.clock.Advance(600 * time.Second)
	resB, err := h.engine.Purchase(id, buyerB, fixedpoint.FromInt(20), maxPrice, buyerB)
	if err != nil {
		t.Fatal(err)
	}
	if resB.Price.Cmp(resA.Price) > 0 {
		t.Error("price must not increase between fills")
	}

	// t=1800s: price 18, C asks for 30 but only 20 remain.
	h.clock.Advance(1200 * time.Second)
	resC, err := h.engine.Purchase(id, buyerC, fixedpoint.FromInt(30), maxPrice, buyerC)
	if err != nil {
		t.Fatal(err)
	}
	if resC.AmountBought.Cmp(fixedpoint.FromInt(20)) != 0 {
		t.Errorf("C bought %s, want 20", resC.AmountBought)
	}
	if !resC.Completed {
		t.Error("third fill should exhaust the auction")
	}
	if !h.sink.done {
		t.Error("sink should have been signalled done")
	}
	if h.engine.ActiveCount() != 0 {
		t.Error("exhausted auction should be removed from the active set")
	}

	// Conservation: sum of fills equals initial amount; sink total equals payments.
	bought := resA.AmountBought.Add(resB.AmountBought).Add(resC.AmountBought)
	if bought.Cmp(fixedpoint.FromInt(50)) != 0 {
		t.Errorf("total bought %s, want 50", bought)
	}
	paid := resA.AmountPaid.Add(resB.AmountPaid).Add(resC.AmountPaid)
	if h.sink.total.Cmp(paid) != 0 {
		t.Errorf("sink total %s != paid total %s", h.sink.total, paid)
	}

	// Buyers hold the underlying they bought.
	if got := h.custodian.UnderlyingBalance(buyerC); got.Cmp(fixedpoint.FromInt(20)) != 0 {
		t.Errorf("C underlying: got %s, want 20", got)
	}
}

func TestPurchase_SlippageExceeded(t *testing.T) {
	h := newHarness(t, defaultParams())
	id := h.startDefault(t)

	buyer := uuid.New()
	h.custodian.FundAccountStable(buyer, fixedpoint.FromInt(1_000))

	_, err := h.engine.Purchase(id, buyer, fixedpoint.FromInt(10), fixedpoint.FromInt(35), buyer)
	if !errors.Is(err, auction.ErrSlippageExceeded) {
		t.Errorf("got %v, want ErrSlippageExceeded", err)
	}

	a, _ := h.engine.Get(id)
	if a.UnderlyingRemaining.Cmp(fixedpoint.FromInt(50)) != 0 {
		t.Error("failed purchase must not change the auction")
	}
}

func TestPurchase_ZeroAmount(t *testing.T) {
	h := newHarness(t, defaultParams())
	id := h.startDefault(t)

	_, err := h.engine.Purchase(id, uuid.New(), fixedpoint.Zero(), fixedpoint.FromInt(100), uuid.New())
	if !errors.Is(err, auction.ErrZeroAmount) {
		t.Errorf("got %v, want ErrZeroAmount", err)
	}
}

func TestPurchase_InsufficientBuyerStable(t *testing.T) {
	h := newHarness(t, defaultParams())
	id := h.startDefault(t)

	broke := uuid.New() // no stable at all
	_, err := h.engine.Purchase(id, broke, fixedpoint.FromInt(10), fixedpoint.FromInt(100), broke)
	if !errors.Is(err, custody.ErrInsufficientBalance) {
		t.Errorf("got %v, want custody.ErrInsufficientBalance", err)
	}

	a, _ := h.engine.Get(id)
	if a.UnderlyingRemaining.Cmp(fixedpoint.FromInt(50)) != 0 {
		t.Error("failed collection must leave the auction untouched")
	}
	if a.TotalPaymentReceived.Sign() != 0 {
		t.Error("failed collection must not record payment")
	}
}

func TestPurchase_UnknownAuction(t *testing.T) {
	h := newHarness(t, defaultParams())
	_, err := h.engine.Purchase(uuid.New(), uuid.New(), fixedpoint.FromInt(1), fixedpoint.FromInt(1), uuid.New())
	if !errors.Is(err, auction.ErrAuctionNotFound) {
		t.Errorf("got %v, want ErrAuctionNotFound", err)
	}
}

// ============================================================================
// Test: Cancel
// ============================================================================

func TestCancel_SignalsDone(t *testing.T) {
	h := newHarness(t, defaultParams())
	id := h.startDefault(t)

	if err := h.engine.Cancel(id); err != nil {
		t.Fatal(err)
	}
	if !h.sink.done {
		t.Error("cancel should signal completion to the sink")
	}
	if h.engine.ActiveCount() != 0 {
		t.Error("cancelled auction should be removed")
	}
}

// ============================================================================
// Test: Params validation
// ============================================================================

func TestParams_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*auction.Params)
	}{
		{"zero multiplier", func(p *auction.Params) { p.PriceMultiplier = fixedpoint.Zero() }},
		{"zero reset time", func(p *auction.Params) { p.ResetTime = 0 }},
		{"drop threshold 1", func(p *auction.Params) { p.PriceDropThreshold = fixedpoint.One() }},
		{"negative fixed reward", func(p *auction.Params) { p.FixedReward = wad("-1") }},
		{"negative min amount", func(p *auction.Params) { p.MinAuctionAmount = wad("-1") }},
	}

	for _, tc := range cases {
		p := defaultParams()
		tc.mutate(&p)
		if err := p.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
