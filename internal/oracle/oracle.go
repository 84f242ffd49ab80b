package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"LevGuard/internal/fixedpoint"
)

// Quote is a single oracle observation for the underlying asset.
type Quote struct {
	Price     fixedpoint.Wad
	UpdatedAt time.Time
	Valid     bool
}

// Source supplies the latest underlying price. Implementations may be
// backed by a NATS feed, an RPC poller, or a fixture in tests.
type Source interface {
	Latest() (Quote, error)
}

var (
	// ErrStale marks a price older than the configured maximum age.
	// Keepers should retry after the feed catches up.
	ErrStale = errors.New("oracle: price is stale")
	// ErrInvalid marks a quote the feed itself flagged as unusable.
	ErrInvalid = errors.New("oracle: price is invalid")
	// ErrNoPrice means no observation has been received yet.
	ErrNoPrice = errors.New("oracle: no price available")
)

// Guard wraps a Source with a staleness check. Every risk and auction
// decision reads prices through a Guard, never the raw Source.
type Guard struct {
	source Source
	maxAge time.Duration
	now    func() time.Time
}

func NewGuard(source Source, maxAge time.Duration, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{source: source, maxAge: maxAge, now: now}
}

// Fresh returns the current price or an error when the quote is
// missing, flagged invalid, or older than maxAge.
func (g *Guard) Fresh() (fixedpoint.Wad, error) {
	q, err := g.source.Latest()
	if err != nil {
		return fixedpoint.Zero(), err
	}
	if !q.Valid {
		return fixedpoint.Zero(), ErrInvalid
	}
	if age := g.now().Sub(q.UpdatedAt); age > g.maxAge {
		return fixedpoint.Zero(), fmt.Errorf("%w: age %s exceeds max %s", ErrStale, age, g.maxAge)
	}
	return q.Price, nil
}

// Cache is a Source fed by an external subscriber (see ingestion).
// Safe for concurrent update and read.
type Cache struct {
	mu    sync.RWMutex
	quote Quote
	set   bool
}

func NewCache() *Cache {
	return &Cache{}
}

// Update replaces the cached quote. Older updates are ignored so a
// delayed redelivery can never roll the price back.
func (c *Cache) Update(q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set && q.UpdatedAt.Before(c.quote.UpdatedAt) {
		return
	}
	c.quote = q
	c.set = true
}

func (c *Cache) Latest() (Quote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.set {
		return Quote{}, ErrNoPrice
	}
	return c.quote, nil
}

// Fixed is a Source returning a constant quote. Test fixture.
type Fixed struct {
	Quote Quote
}

func (f *Fixed) Latest() (Quote, error) {
	return f.Quote, nil
}
