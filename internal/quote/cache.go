package quote

import (
	"sync"

	"github.com/noah-isme/payflow/internal/rail"
)

// Cache holds at most one live quote per payment attempt together with the
// rail and coupon selection it was created for. A quote stays reusable only
// while both are unchanged; any change invalidates the entry.
type Cache struct {
	mu    sync.Mutex
	entry *cacheEntry
}

type cacheEntry struct {
	q      Quote
	rail   rail.Rail
	coupon string
}

// Get returns the cached quote when it was obtained for exactly the given
// rail and coupon selection.
func (c *Cache) Get(r rail.Rail, coupon CouponSelection) (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil || c.entry.rail != r || c.entry.coupon != coupon.Fingerprint() {
		return Quote{}, false
	}
	return c.entry.q, true
}

// GetAny returns the cached quote regardless of the rail it was created for,
// provided the coupon selection still matches. The gateway accepts any method
// against the same reference, which is what makes the wallet rail's reuse
// safe.
func (c *Cache) GetAny(coupon CouponSelection) (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil || c.entry.coupon != coupon.Fingerprint() {
		return Quote{}, false
	}
	return c.entry.q, true
}

// Put replaces the cached quote.
func (c *Cache) Put(r rail.Rail, coupon CouponSelection, q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = &cacheEntry{q: q, rail: r, coupon: coupon.Fingerprint()}
}

// Invalidate discards the cached quote.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}
