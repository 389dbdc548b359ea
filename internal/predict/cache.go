package predict

import (
	"container/list"
	"sync"
	"time"

	"threatmem/internal/model"
)

// resultCache is a small LRU with TTL for prediction results.
// Predictions are ephemeral; the cache only absorbs repeated requests for
// the same analyst/threat pair inside the TTL window.
type resultCache struct {
	maxSize int
	ttl     time.Duration
	items   map[string]*cacheItem
	lru     *list.List
	mu      sync.Mutex
}

type cacheItem struct {
	key       string
	value     *model.PredictionResult
	element   *list.Element
	expiresAt time.Time
}

func newResultCache(maxSize int, ttl time.Duration) *resultCache {
	return &resultCache{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*cacheItem),
		lru:     list.New(),
	}
}

func (c *resultCache) get(key string) (*model.PredictionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(item.expiresAt) {
		c.remove(item)
		return nil, false
	}
	c.lru.MoveToFront(item.element)
	return item.value, true
}

func (c *resultCache) set(key string, value *model.PredictionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, ok := c.items[key]; ok {
		item.value = value
		item.expiresAt = time.Now().Add(c.ttl)
		c.lru.MoveToFront(item.element)
		return
	}
	item := &cacheItem{key: key, value: value, expiresAt: time.Now().Add(c.ttl)}
	item.element = c.lru.PushFront(item)
	c.items[key] = item
	if len(c.items) > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.remove(oldest.Value.(*cacheItem))
		}
	}
}

func (c *resultCache) remove(item *cacheItem) {
	delete(c.items, item.key)
	c.lru.Remove(item.element)
}
