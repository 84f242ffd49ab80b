package decay_test

import (
	"testing"
	"time"

	"LevGuard/internal/decay"
	"LevGuard/internal/fixedpoint"
)

// ============================================================================
// Test: Linear
// ============================================================================

func TestLinear_Halfway(t *testing.T) {
	l, err := decay.NewLinear(3600 * time.Second)
	if err != nil {
		t.Fatal(err)
	}

	top := fixedpoint.FromInt(36)
	got := l.Price(top, 1800*time.Second)
	if got.Cmp(fixedpoint.FromInt(18)) != 0 {
		t.Errorf("price at t=1800s: got %s, want 18", got)
	}
}

func TestLinear_ZeroAtTau(t *testing.T) {
	l, _ := decay.NewLinear(time.Hour)
	top := fixedpoint.FromInt(100)

	if got := l.Price(top, time.Hour); !got.IsZero() {
		t.Errorf("price at tau: got %s, want 0", got)
	}
	if got := l.Price(top, 2*time.Hour); !got.IsZero() {
		t.Errorf("price past tau: got %s, want 0", got)
	}
}

func TestLinear_InvalidTau(t *testing.T) {
	if _, err := decay.NewLinear(0); err == nil {
		t.Error("expected error for zero tau")
	}
}

// ============================================================================
// Test: Stairstep
// ============================================================================

func TestStairstep_HoldsWithinWindow(t *testing.T) {
	s, err := decay.NewStairstep(60*time.Second, fixedpoint.MustParse("0.99"))
	if err != nil {
		t.Fatal(err)
	}

	top := fixedpoint.FromInt(100)
	p0 := s.Price(top, 0)
	p59 := s.Price(top, 59*time.Second)
	if p0.Cmp(p59) != 0 {
		t.Errorf("price changed within a window: %s vs %s", p0, p59)
	}

	p60 := s.Price(top, 60*time.Second)
	if p60.Cmp(fixedpoint.FromInt(99)) != 0 {
		t.Errorf("price after one step: got %s, want 99", p60)
	}
}

// ============================================================================
// Test: Exponential
// ============================================================================

func TestExponential_PerSecondCut(t *testing.T) {
	e, err := decay.NewExponential(fixedpoint.MustParse("0.5"))
	if err != nil {
		t.Fatal(err)
	}

	top := fixedpoint.FromInt(64)
	got := e.Price(top, 4*time.Second)
	if got.Cmp(fixedpoint.FromInt(4)) != 0 {
		t.Errorf("64 * 0.5^4: got %s, want 4", got)
	}
}

func TestExponential_InvalidCut(t *testing.T) {
	for _, cut := range []string{"0", "1", "1.5", "-0.5"} {
		if _, err := decay.NewExponential(fixedpoint.MustParse(cut)); err == nil {
			t.Errorf("cut=%s: expected error", cut)
		}
	}
}

// ============================================================================
// Test: monotone non-increasing decay (all algorithms)
// ============================================================================

func TestPrice_MonotoneDecay(t *testing.T) {
	linear, _ := decay.NewLinear(2 * time.Hour)
	stairstep, _ := decay.NewStairstep(30*time.Second, fixedpoint.MustParse("0.97"))
	exponential, _ := decay.NewExponential(fixedpoint.MustParse("0.999"))

	calcs := map[string]decay.Calculator{
		"linear":      linear,
		"stairstep":   stairstep,
		"exponential": exponential,
	}

	top := fixedpoint.MustParse("1234.5")
	for name, c := range calcs {
		prev := c.Price(top, 0)
		for sec := 1; sec <= 7200; sec += 13 {
			cur := c.Price(top, time.Duration(sec)*time.Second)
			if cur.Cmp(prev) > 0 {
				t.Fatalf("%s: price increased at t=%ds: %s > %s", name, sec, cur, prev)
			}
			if cur.Sign() < 0 {
				t.Fatalf("%s: price went negative at t=%ds", name, sec)
			}
			prev = cur
		}
	}
}

// ============================================================================
// Test: Config selection
// ============================================================================

func TestNew_UnknownAlgorithm(t *testing.T) {
	_, err := decay.New(decay.Config{Algorithm: "quadratic"})
	if err == nil {
		t.Error("expected error for unknown algorithm")
	}
}

func TestNew_SelectsLinear(t *testing.T) {
	c, err := decay.New(decay.Config{Algorithm: "linear", Tau: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*decay.Linear); !ok {
		t.Errorf("got %T, want *decay.Linear", c)
	}
}
