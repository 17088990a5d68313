package fees

import (
	"fmt"
	"time"

	"gobridgetracker/types"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
)

// Cache holds fee estimates for a short window. Entries expire by age only,
// the cache has no size bound.
type Cache struct {
	lru *expirable.LRU[string, types.FeeEstimate]
	ttl time.Duration
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		lru: expirable.NewLRU[string, types.FeeEstimate](0, nil, ttl),
		ttl: ttl,
	}
}

func cacheKey(source, destination int, token string, amount decimal.Decimal) string {
	return fmt.Sprintf("%d:%d:%s:%s", source, destination, token, amount.String())
}

func (c *Cache) Get(key string) (types.FeeEstimate, bool) {
	return c.lru.Get(key)
}

func (c *Cache) Add(key string, estimate types.FeeEstimate) {
	c.lru.Add(key, estimate)
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

func (c *Cache) Purge() {
	c.lru.Purge()
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}
