package oracle

import (
	"sync"
	"time"
)

type cachedPrice struct {
	price   float64
	ok      bool
	expires time.Time
}

// PriceCache keeps recent lookups, including misses, so one backfill does
// not query the same unlisted token for every lock.
type PriceCache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	prices map[string]cachedPrice
	now    func() time.Time
}

func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{
		ttl:    ttl,
		prices: make(map[string]cachedPrice),
		now:    time.Now,
	}
}

// Get returns the cached price, whether a price was known, and whether the
// entry was present at all.
func (c *PriceCache) Get(key string) (float64, bool, bool) {
	if c.ttl <= 0 {
		return 0, false, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, found := c.prices[key]
	if !found || c.now().After(entry.expires) {
		return 0, false, false
	}
	return entry.price, entry.ok, true
}

func (c *PriceCache) Set(key string, price float64, ok bool) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[key] = cachedPrice{price: price, ok: ok, expires: c.now().Add(c.ttl)}
}
