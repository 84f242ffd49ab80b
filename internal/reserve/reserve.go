package reserve

import (
	"errors"
	"fmt"

	"LevGuard/internal/fixedpoint"
)

// ErrInsufficient is returned when a debit would take the reserve
// negative. Debits never wrap; callers treat this as a resource error.
var ErrInsufficient = errors.New("reserve: insufficient stable reserve")

// StableReserve is the protocol's stable-asset accounting used for
// keeper rewards and retained liquidation penalties. It is a pure
// counter: actual value movement happens at the custodian.
type StableReserve struct {
	balance fixedpoint.Wad
	penalty fixedpoint.Wad
}

func NewStableReserve(initial fixedpoint.Wad) *StableReserve {
	return &StableReserve{balance: initial}
}

func (r *StableReserve) Credit(amount fixedpoint.Wad) {
	r.balance = r.balance.Add(amount)
}

// Debit subtracts amount with an explicit sufficiency check.
func (r *StableReserve) Debit(amount fixedpoint.Wad) error {
	if r.balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficient, r.balance, amount)
	}
	r.balance = r.balance.Sub(amount)
	return nil
}

// Has reports whether a debit of amount would succeed.
func (r *StableReserve) Has(amount fixedpoint.Wad) bool {
	return r.balance.Cmp(amount) >= 0
}

// AddPenalty records a retained liquidation penalty. The stable value
// itself was already credited when the auction proceeds arrived; this
// only grows the cumulative penalty figure.
func (r *StableReserve) AddPenalty(amount fixedpoint.Wad) {
	r.penalty = r.penalty.Add(amount)
}

func (r *StableReserve) Balance() fixedpoint.Wad { return r.balance }

// Load replaces both counters, for snapshot recovery.
func (r *StableReserve) Load(balance, penalty fixedpoint.Wad) {
	r.balance = balance
	r.penalty = penalty
}

// PenaltyAccrued is the cumulative penalty retained across all
// liquidation episodes.
func (r *StableReserve) PenaltyAccrued() fixedpoint.Wad { return r.penalty }
