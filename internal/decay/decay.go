package decay

import (
	"fmt"
	"time"

	"LevGuard/internal/fixedpoint"
)

// Calculator computes the current auction price from the starting price
// and the time elapsed since the auction started or was last reset.
// Implementations must be monotone non-increasing in elapsed time and
// must never return a negative price.
type Calculator interface {
	Price(top fixedpoint.Wad, elapsed time.Duration) fixedpoint.Wad
}

// Linear decays the price to zero over a fixed window tau.
// price = top * (tau - elapsed) / tau, exactly 0 once elapsed >= tau.
type Linear struct {
	tau time.Duration
}

func NewLinear(tau time.Duration) (*Linear, error) {
	if tau <= 0 {
		return nil, fmt.Errorf("decay: linear tau must be positive, got %s", tau)
	}
	return &Linear{tau: tau}, nil
}

func (l *Linear) Price(top fixedpoint.Wad, elapsed time.Duration) fixedpoint.Wad {
	if elapsed >= l.tau {
		return fixedpoint.Zero()
	}
	if elapsed < 0 {
		elapsed = 0
	}
	remain := l.tau - elapsed
	scaled := top.MulInt(remain.Nanoseconds())
	price, _ := scaled.DivInt(l.tau.Nanoseconds())
	return price.ClampZero()
}

// Stairstep holds the price constant within each step-length window
// and multiplies by cut at every window boundary.
// price = top * cut^floor(elapsed / step).
type Stairstep struct {
	step time.Duration
	cut  fixedpoint.Wad
}

func NewStairstep(step time.Duration, cut fixedpoint.Wad) (*Stairstep, error) {
	if step <= 0 {
		return nil, fmt.Errorf("decay: stairstep step must be positive, got %s", step)
	}
	if err := validateCut(cut); err != nil {
		return nil, err
	}
	return &Stairstep{step: step, cut: cut}, nil
}

func (s *Stairstep) Price(top fixedpoint.Wad, elapsed time.Duration) fixedpoint.Wad {
	if elapsed < 0 {
		elapsed = 0
	}
	steps := uint64(elapsed / s.step)
	return top.Mul(s.cut.Pow(steps)).ClampZero()
}

// Exponential decays the price by a per-second ratio.
// price = top * cut^floor(elapsed seconds). Exponentiation by
// squaring bounds the rounding error over large elapsed times.
type Exponential struct {
	cut fixedpoint.Wad
}

func NewExponential(cut fixedpoint.Wad) (*Exponential, error) {
	if err := validateCut(cut); err != nil {
		return nil, err
	}
	return &Exponential{cut: cut}, nil
}

func (e *Exponential) Price(top fixedpoint.Wad, elapsed time.Duration) fixedpoint.Wad {
	if elapsed < 0 {
		elapsed = 0
	}
	seconds := uint64(elapsed / time.Second)
	return top.Mul(e.cut.Pow(seconds)).ClampZero()
}

func validateCut(cut fixedpoint.Wad) error {
	if cut.Sign() <= 0 || cut.Cmp(fixedpoint.One()) >= 0 {
		return fmt.Errorf("decay: cut must be in (0,1), got %s", cut)
	}
	return nil
}

// Config selects and parameterizes a decay algorithm per deployment.
type Config struct {
	Algorithm string        // "linear", "stairstep", "exponential"
	Tau       time.Duration // linear: time to reach zero
	Step      time.Duration // stairstep: window length
	Cut       fixedpoint.Wad
}

// New builds the configured Calculator.
func New(cfg Config) (Calculator, error) {
	switch cfg.Algorithm {
	case "linear":
		return NewLinear(cfg.Tau)
	case "stairstep":
		return NewStairstep(cfg.Step, cfg.Cut)
	case "exponential":
		return NewExponential(cfg.Cut)
	default:
		return nil, fmt.Errorf("decay: unknown algorithm %q", cfg.Algorithm)
	}
}
