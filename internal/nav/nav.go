package nav

import (
	"fmt"

	"LevGuard/internal/fixedpoint"
)

// LeverageTier identifies the leverage ratio a token bucket was minted at.
type LeverageTier int32

const (
	TierConservative LeverageTier = iota // 1:8
	TierModerate                         // 1:4
	TierAggressive                       // 1:1
)

func (t LeverageTier) String() string {
	switch t {
	case TierConservative:
		return "Conservative"
	case TierModerate:
		return "Moderate"
	case TierAggressive:
		return "Aggressive"
	default:
		return "Unknown"
	}
}

// coefficients define the gross-NAV formula for one tier:
// gross = (priceCoeff*Pt - mintCoeff*P0) / (denominator*P0).
// Adding a tier means adding a row here, not touching formula sites.
type coefficients struct {
	priceCoeff  int64
	mintCoeff   int64
	denominator int64
}

var tierCoefficients = map[LeverageTier]coefficients{
	TierConservative: {priceCoeff: 9, mintCoeff: 1, denominator: 8},
	TierModerate:     {priceCoeff: 5, mintCoeff: 1, denominator: 4},
	TierAggressive:   {priceCoeff: 2, mintCoeff: 1, denominator: 1},
}

// ErrUnknownTier is returned for a LeverageTier with no coefficient row.
var ErrUnknownTier = fmt.Errorf("nav: unknown leverage tier")

// GrossNav returns the per-unit net asset value of the leveraged claim
// relative to its mint price, before interest. The result is signed: a
// collapsed price can push it below zero. Risk classification clamps
// downstream (see TotalValue).
func GrossNav(tier LeverageTier, mintPrice, currentPrice fixedpoint.Wad) (fixedpoint.Wad, error) {
	c, ok := tierCoefficients[tier]
	if !ok {
		return fixedpoint.Zero(), fmt.Errorf("%w: %d", ErrUnknownTier, tier)
	}
	if mintPrice.IsZero() {
		return fixedpoint.Zero(), fmt.Errorf("nav: gross nav: %w", fixedpoint.ErrDivisionByZero)
	}

	numerator := currentPrice.MulInt(c.priceCoeff).Sub(mintPrice.MulInt(c.mintCoeff))
	denominator := mintPrice.MulInt(c.denominator)
	return numerator.Div(denominator)
}

// TotalValue returns balance * grossNav, with negative gross NAV
// clamped to zero. Policy: a position whose gross NAV has gone
// negative is worth nothing to the holder, never a debt.
func TotalValue(balance, grossNav fixedpoint.Wad) fixedpoint.Wad {
	return balance.Mul(grossNav.ClampZero())
}

// NetTotalValue deducts accrued interest from the position value,
// floored at zero.
func NetTotalValue(totalValue, accruedInterest fixedpoint.Wad) fixedpoint.Wad {
	return totalValue.Sub(accruedInterest).ClampZero()
}

// NetNav returns the per-unit ex-interest NAV used for risk
// classification: max(0, totalValue - accruedInterest) / balance.
func NetNav(totalValue, accruedInterest, balance fixedpoint.Wad) (fixedpoint.Wad, error) {
	if balance.IsZero() {
		return fixedpoint.Zero(), fmt.Errorf("nav: net nav: %w", fixedpoint.ErrDivisionByZero)
	}
	return NetTotalValue(totalValue, accruedInterest).Div(balance)
}

// Thresholds partition the net-NAV axis into risk bands.
// Adjustment must be strictly above Liquidation.
type Thresholds struct {
	Adjustment  fixedpoint.Wad
	Liquidation fixedpoint.Wad
}

func (t Thresholds) Validate() error {
	if t.Adjustment.Cmp(t.Liquidation) <= 0 {
		return fmt.Errorf("nav: adjustment threshold %s must exceed liquidation threshold %s",
			t.Adjustment, t.Liquidation)
	}
	return nil
}

// MaxRiskLevel is the seizure-eligible level.
const MaxRiskLevel = 4

// RiskLevel buckets a net NAV into levels 0 (safe) through 4 (seizure
// eligible). The interval (liquidation, adjustment] is split into three
// equal bands mapped to levels 3, 2, 1 nearest-liquidation-first. Band
// boundaries are inclusive-upper / exclusive-lower: a net NAV exactly on
// a boundary takes the lower-risk level's band.
func RiskLevel(netNav fixedpoint.Wad, t Thresholds) int {
	if netNav.Cmp(t.Adjustment) > 0 {
		return 0
	}
	if netNav.Cmp(t.Liquidation) <= 0 {
		return MaxRiskLevel
	}

	span := t.Adjustment.Sub(t.Liquidation)
	offset3 := t.Adjustment.Sub(netNav).MulInt(3)

	switch {
	case offset3.Cmp(span) < 0:
		return 1
	case offset3.Cmp(span.MulInt(2)) < 0:
		return 2
	default:
		return 3
	}
}

// LiquidationPrice solves for the underlying price at which a bucket's
// gross NAV equals threshold: Pt = P0 * (threshold*denominator + mintCoeff) / priceCoeff.
// Keepers use it to monitor how far a position sits from seizure.
func LiquidationPrice(tier LeverageTier, mintPrice, threshold fixedpoint.Wad) (fixedpoint.Wad, error) {
	c, ok := tierCoefficients[tier]
	if !ok {
		return fixedpoint.Zero(), fmt.Errorf("%w: %d", ErrUnknownTier, tier)
	}
	factor := threshold.MulInt(c.denominator).Add(fixedpoint.FromInt(c.mintCoeff))
	return mintPrice.Mul(factor).DivInt(c.priceCoeff)
}
