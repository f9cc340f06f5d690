// Package dedupe is a small TTL cache used to absorb bursts of identical
// non-cacheable requests. Explicit lifecycle: construct, sweep, Close.
package dedupe

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	body      []byte
	expiresAt time.Time
}

type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, entry]
	ttl time.Duration

	done      chan struct{}
	closeOnce sync.Once
	nowFn     func() time.Time
}

// New starts the background sweep. sweepEvery <= 0 defaults to the TTL.
func New(size int, ttl, sweepEvery time.Duration) *Cache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if sweepEvery <= 0 {
		sweepEvery = ttl
	}
	c, _ := lru.New[string, entry](size)
	d := &Cache{
		lru:   c,
		ttl:   ttl,
		done:  make(chan struct{}),
		nowFn: time.Now,
	}
	go d.sweepLoop(sweepEvery)
	return d
}

func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.nowFn().After(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.body, true
}

func (c *Cache) Set(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{body: body, expiresAt: c.nowFn().Add(c.ttl)})
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && now.After(e.expiresAt) {
			c.lru.Remove(k)
		}
	}
}
