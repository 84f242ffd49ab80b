package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/oracle"
)

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type priceUpdateJSON struct {
	Price       string `json:"price"` // decimal string, e.g. "30.25"
	Source      string `json:"source"`
	Valid       *bool  `json:"valid,omitempty"` // absent means valid
	TimestampUs int64  `json:"timestamp_us"`
}

// PriceUpdate is a parsed oracle observation from the price feed.
type PriceUpdate struct {
	Price     fixedpoint.Wad
	Source    string
	Valid     bool
	Timestamp time.Time
}

// ParsePriceUpdate validates and converts a raw price message.
func ParsePriceUpdate(data []byte) (PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return PriceUpdate{}, fmt.Errorf("parse price update: %w", err)
	}

	price, err := fixedpoint.Parse(j.Price)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("parse price %q: %w", j.Price, err)
	}
	if price.Sign() < 0 {
		return PriceUpdate{}, fmt.Errorf("negative price %s", price)
	}
	if j.TimestampUs <= 0 {
		return PriceUpdate{}, fmt.Errorf("missing timestamp_us")
	}

	valid := true
	if j.Valid != nil {
		valid = *j.Valid
	}
	// A zero price is only usable as an explicit invalidation.
	if price.IsZero() && valid {
		return PriceUpdate{}, fmt.Errorf("zero price without valid=false")
	}

	return PriceUpdate{
		Price:     price,
		Source:    j.Source,
		Valid:     valid,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

// Quote converts the update into the oracle's representation.
func (p PriceUpdate) Quote() oracle.Quote {
	return oracle.Quote{
		Price:     p.Price,
		UpdatedAt: p.Timestamp,
		Valid:     p.Valid,
	}
}
