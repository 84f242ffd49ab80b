package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Scale is the number of decimal places carried by a Wad.
// Matches the 1e18 scale used by the on-chain price oracle and
// the leverage-token contracts this core settles against.
const Scale = 18

var (
	unit    = new(big.Int).Exp(big.NewInt(10), big.NewInt(Scale), nil)
	bigZero = new(big.Int)
)

// ErrDivisionByZero is returned by Div when the divisor is zero.
var ErrDivisionByZero = errors.New("fixedpoint: division by zero")

// Wad is a signed fixed-point value with 18 decimal places.
// The zero value is usable and equals 0. All operations return
// new values; a Wad is never mutated after construction.
type Wad struct {
	i *big.Int
}

func (w Wad) int() *big.Int {
	if w.i == nil {
		return bigZero
	}
	return w.i
}

// FromInt returns n as a Wad (n * 10^18).
func FromInt(n int64) Wad {
	return Wad{i: new(big.Int).Mul(big.NewInt(n), unit)}
}

// FromUnits returns a Wad holding n raw 10^-18 units.
func FromUnits(n int64) Wad {
	return Wad{i: big.NewInt(n)}
}

// FromBig returns a Wad holding a copy of raw 10^-18 units.
func FromBig(n *big.Int) Wad {
	return Wad{i: new(big.Int).Set(n)}
}

// Parse converts a decimal string such as "0.9972" or "-12.5" to a Wad.
func Parse(s string) (Wad, error) {
	neg := false
	body := s
	switch {
	case strings.HasPrefix(body, "-"):
		neg = true
		body = body[1:]
	case strings.HasPrefix(body, "+"):
		body = body[1:]
	}

	intPart := body
	fracPart := ""
	if dot := strings.IndexByte(body, '.'); dot >= 0 {
		intPart = body[:dot]
		fracPart = body[dot+1:]
	}
	if intPart == "" && fracPart == "" {
		return Wad{}, fmt.Errorf("fixedpoint: empty decimal %q", s)
	}
	if len(fracPart) > Scale {
		return Wad{}, fmt.Errorf("fixedpoint: %q exceeds %d decimal places", s, Scale)
	}
	if intPart == "" {
		intPart = "0"
	}

	digits := intPart + fracPart + strings.Repeat("0", Scale-len(fracPart))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Wad{}, fmt.Errorf("fixedpoint: malformed decimal %q", s)
	}
	if neg {
		v.Neg(v)
	}
	return Wad{i: v}, nil
}

// MustParse is Parse for literal constants; panics on malformed input.
func MustParse(s string) Wad {
	w, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return w
}

// Zero returns the Wad 0.
func Zero() Wad { return Wad{} }

// One returns the Wad 1.0.
func One() Wad { return Wad{i: new(big.Int).Set(unit)} }

// Big returns a copy of the raw 10^-18 units.
func (w Wad) Big() *big.Int {
	return new(big.Int).Set(w.int())
}

func (w Wad) Add(o Wad) Wad {
	return Wad{i: new(big.Int).Add(w.int(), o.int())}
}

func (w Wad) Sub(o Wad) Wad {
	return Wad{i: new(big.Int).Sub(w.int(), o.int())}
}

// Mul returns w*o at Wad scale, truncating toward zero.
func (w Wad) Mul(o Wad) Wad {
	p := new(big.Int).Mul(w.int(), o.int())
	return Wad{i: p.Quo(p, unit)}
}

// MulInt returns w*n for an unscaled integer n.
func (w Wad) MulInt(n int64) Wad {
	return Wad{i: new(big.Int).Mul(w.int(), big.NewInt(n))}
}

// Div returns w/o at Wad scale, truncating toward zero.
func (w Wad) Div(o Wad) (Wad, error) {
	if o.IsZero() {
		return Wad{}, ErrDivisionByZero
	}
	p := new(big.Int).Mul(w.int(), unit)
	return Wad{i: p.Quo(p, o.int())}, nil
}

// DivInt returns w/n for an unscaled integer n, truncating toward zero.
func (w Wad) DivInt(n int64) (Wad, error) {
	if n == 0 {
		return Wad{}, ErrDivisionByZero
	}
	return Wad{i: new(big.Int).Quo(w.int(), big.NewInt(n))}, nil
}

// Pow returns w^n at Wad scale by repeated squaring, truncating at
// each step. For bases in [0,1] the truncation keeps the result
// monotone non-increasing in n, which the auction decay relies on.
func (w Wad) Pow(n uint64) Wad {
	result := One()
	base := Wad{i: w.Big()}
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(base)
		}
		n >>= 1
		if n > 0 {
			base = base.Mul(base)
		}
	}
	return result
}

func (w Wad) Cmp(o Wad) int { return w.int().Cmp(o.int()) }

func (w Wad) Sign() int { return w.int().Sign() }

func (w Wad) IsZero() bool { return w.int().Sign() == 0 }

// ClampZero returns w, or 0 if w is negative.
func (w Wad) ClampZero() Wad {
	if w.Sign() < 0 {
		return Wad{}
	}
	return Wad{i: w.Big()}
}

// Min returns the smaller of w and o.
func (w Wad) Min(o Wad) Wad {
	if w.Cmp(o) <= 0 {
		return Wad{i: w.Big()}
	}
	return Wad{i: o.Big()}
}

// String renders the value as a plain decimal with trailing zeros trimmed.
func (w Wad) String() string {
	v := w.int()
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	q, r := new(big.Int).QuoRem(abs, unit, new(big.Int))
	frac := strings.TrimRight(fmt.Sprintf("%018d", r), "0")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(q.String())
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// MarshalJSON renders the Wad as a JSON string to avoid float precision loss.
func (w Wad) MarshalJSON() ([]byte, error) {
	return []byte(`"` + w.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare number.
func (w *Wad) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
