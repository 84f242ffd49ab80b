package nav_test

import (
	"errors"
	"testing"

	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/nav"
)

func wad(s string) fixedpoint.Wad { return fixedpoint.MustParse(s) }

// ============================================================================
// Test: GrossNav
// ============================================================================

func TestGrossNav_ModerateExample(t *testing.T) {
	// (5*30 - 120) / (4*120) = 30/480 = 0.0625
	got, err := nav.GrossNav(nav.TierModerate, fixedpoint.FromInt(120), fixedpoint.FromInt(30))
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "0.0625" {
		t.Errorf("got %s, want 0.0625", got)
	}
}

func TestGrossNav_AtMintPriceIsOne(t *testing.T) {
	// Pt == P0 => gross NAV = 1.0 for every tier.
	p := fixedpoint.FromInt(250)
	for _, tier := range []nav.LeverageTier{nav.TierConservative, nav.TierModerate, nav.TierAggressive} {
		got, err := nav.GrossNav(tier, p, p)
		if err != nil {
			t.Fatal(err)
		}
		if got.Cmp(fixedpoint.One()) != 0 {
			t.Errorf("%s: gross NAV at mint price = %s, want 1", tier, got)
		}
	}
}

func TestGrossNav_CanBeNegative(t *testing.T) {
	// Aggressive: (2*10 - 100) / 100 = -0.8
	got, err := nav.GrossNav(nav.TierAggressive, fixedpoint.FromInt(100), fixedpoint.FromInt(10))
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "-0.8" {
		t.Errorf("got %s, want -0.8", got)
	}
}

func TestGrossNav_ZeroMintPrice(t *testing.T) {
	_, err := nav.GrossNav(nav.TierModerate, fixedpoint.Zero(), fixedpoint.FromInt(30))
	if !errors.Is(err, fixedpoint.ErrDivisionByZero) {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

func TestGrossNav_UnknownTier(t *testing.T) {
	_, err := nav.GrossNav(nav.LeverageTier(99), fixedpoint.FromInt(100), fixedpoint.FromInt(100))
	if !errors.Is(err, nav.ErrUnknownTier) {
		t.Errorf("got %v, want ErrUnknownTier", err)
	}
}

func TestGrossNav_StrictlyIncreasingInPrice(t *testing.T) {
	mint := fixedpoint.FromInt(120)
	for _, tier := range []nav.LeverageTier{nav.TierConservative, nav.TierModerate, nav.TierAggressive} {
		prev, err := nav.GrossNav(tier, mint, fixedpoint.FromInt(1))
		if err != nil {
			t.Fatal(err)
		}
		for p := int64(2); p <= 400; p += 7 {
			cur, err := nav.GrossNav(tier, mint, fixedpoint.FromInt(p))
			if err != nil {
				t.Fatal(err)
			}
			if cur.Cmp(prev) <= 0 {
				t.Fatalf("%s: gross NAV not strictly increasing at Pt=%d", tier, p)
			}
			prev = cur
		}
	}
}

// ============================================================================
// Test: NetNav / TotalValue
// ============================================================================

func TestTotalValue_ClampsNegativeGross(t *testing.T) {
	got := nav.TotalValue(fixedpoint.FromInt(10), wad("-0.5"))
	if !got.IsZero() {
		t.Errorf("got %s, want 0", got)
	}
}

func TestNetNav_InterestDeducted(t *testing.T) {
	// totalValue 10, interest 4, balance 8 => 0.75
	got, err := nav.NetNav(fixedpoint.FromInt(10), fixedpoint.FromInt(4), fixedpoint.FromInt(8))
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "0.75" {
		t.Errorf("got %s, want 0.75", got)
	}
}

func TestNetNav_InterestExceedsValue(t *testing.T) {
	got, err := nav.NetNav(fixedpoint.FromInt(3), fixedpoint.FromInt(5), fixedpoint.FromInt(8))
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("got %s, want 0", got)
	}
}

func TestNetNav_ZeroBalance(t *testing.T) {
	_, err := nav.NetNav(fixedpoint.FromInt(3), fixedpoint.Zero(), fixedpoint.Zero())
	if !errors.Is(err, fixedpoint.ErrDivisionByZero) {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

// ============================================================================
// Test: RiskLevel
// ============================================================================

var testThresholds = nav.Thresholds{
	Adjustment:  wad("0.9"),
	Liquidation: wad("0.3"),
}

func TestRiskLevel_Bands(t *testing.T) {
	// span = 0.6, bands of width 0.2:
	// level 1: (0.7, 0.9], level 2: (0.5, 0.7], level 3: (0.3, 0.5]
	cases := []struct {
		netNav string
		want   int
	}{
		{"1.5", 0},
		{"0.91", 0},
		{"0.9", 1}, // inclusive upper bound of band 1
		{"0.75", 1},
		{"0.7", 2}, // boundary goes to the higher-risk band
		{"0.6", 2},
		{"0.5", 3},
		{"0.31", 3},
		{"0.3", 4}, // at liquidation threshold: seizure eligible
		{"0.0625", 4},
		{"0", 4},
	}

	for _, tc := range cases {
		got := nav.RiskLevel(wad(tc.netNav), testThresholds)
		if got != tc.want {
			t.Errorf("RiskLevel(%s) = %d, want %d", tc.netNav, got, tc.want)
		}
	}
}

func TestRiskLevel_PartitionTotality(t *testing.T) {
	// Every non-negative net NAV maps to exactly one level, and the level
	// never increases as net NAV increases.
	prevLevel := nav.MaxRiskLevel + 1
	for i := int64(0); i <= 200; i++ {
		netNav := fixedpoint.FromUnits(i * 10_000_000_000_000_000) // 0.00 .. 2.00
		level := nav.RiskLevel(netNav, testThresholds)
		if level < 0 || level > nav.MaxRiskLevel {
			t.Fatalf("RiskLevel(%s) = %d out of range", netNav, level)
		}
		if level > prevLevel {
			t.Fatalf("risk level increased with net NAV at %s: %d > %d", netNav, level, prevLevel)
		}
		prevLevel = level
	}
}

// ============================================================================
// Test: LiquidationPrice
// ============================================================================

func TestLiquidationPrice_RoundTrip(t *testing.T) {
	mint := fixedpoint.FromInt(120)
	threshold := wad("0.3")

	price, err := nav.LiquidationPrice(nav.TierModerate, mint, threshold)
	if err != nil {
		t.Fatal(err)
	}
	// Moderate: Pt = P0*(0.3*4 + 1)/5 = 120*2.2/5 = 52.8
	if price.String() != "52.8" {
		t.Errorf("got %s, want 52.8", price)
	}

	gross, err := nav.GrossNav(nav.TierModerate, mint, price)
	if err != nil {
		t.Fatal(err)
	}
	if gross.Cmp(threshold) != 0 {
		t.Errorf("gross NAV at liquidation price = %s, want %s", gross, threshold)
	}
}
