// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xecgo/xec/pkg/xec"
)

// Publisher is the subset of *eventbus.Bus the cache depends on.
type Publisher interface {
	Publish(xec.Event)
}

// Cache memoizes ExecutionResult values by key, evicting on TTL expiry,
// explicit tag invalidation, and an overall entry-count bound using
// least-recently-used order. The zero value is not usable; construct one
// with New.
type Cache struct {
	bus        Publisher
	maxEntries int

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*list.Element // key -> element holding *entry
	order   *list.List               // front = most recently used
}

type entry struct {
	key       string
	result    *xec.ExecutionResult
	tags      []string
	expiresAt time.Time // zero means no expiry
	ttl       time.Duration
	refresh   bool
}

// New constructs a Cache. maxEntries <= 0 means unbounded.
func New(bus Publisher, maxEntries int) *Cache {
	return &Cache{
		bus:        bus,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get returns the cached result for key if present and unexpired, emitting
// cache:hit. On a miss, it runs build exactly once even if Get is called
// concurrently for the same key from multiple goroutines (golang.org/x/sync
// /singleflight), stores the result per policy, and emits cache:miss
// followed by cache:set.
func (c *Cache) Get(key string, policy *xec.CachePolicy, build func() (*xec.ExecutionResult, error)) (*xec.ExecutionResult, error) {
	if result, ok := c.lookup(key); ok {
		c.publish(xec.EventCacheHit, key, policy, nil)
		return result, nil
	}

	c.publish(xec.EventCacheMiss, key, policy, nil)

	v, err, _ := c.group.Do(key, func() (any, error) {
		result, err := build()
		if err != nil {
			return nil, err
		}
		c.store(key, result, policy)
		c.publish(xec.EventCacheSet, key, policy, nil)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*xec.ExecutionResult), nil
}

func (c *Cache) lookup(key string) (*xec.ExecutionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeLocked(el, "expired")
		return nil, false
	}
	c.order.MoveToFront(el)
	if e.refresh && !e.expiresAt.IsZero() {
		e.expiresAt = time.Now().Add(e.ttl)
	}
	return e.result, true
}

func (c *Cache) store(key string, result *xec.ExecutionResult, policy *xec.CachePolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{key: key, result: result}
	if policy != nil {
		e.tags = append([]string(nil), policy.Tags...)
		e.refresh = policy.RefreshOnHit
		if policy.TTL > 0 {
			e.ttl = policy.TTL
			e.expiresAt = time.Now().Add(policy.TTL)
		}
	}

	if el, ok := c.entries[key]; ok {
		el.Value = e
		c.order.MoveToFront(el)
	} else {
		c.entries[key] = c.order.PushFront(e)
	}

	c.evictOverflowLocked()
}

func (c *Cache) evictOverflowLocked() {
	if c.maxEntries <= 0 {
		return
	}
	for c.order.Len() > c.maxEntries {
		back := c.order.Back()
		if back == nil {
			return
		}
		c.removeLocked(back, "size")
	}
}

func (c *Cache) removeLocked(el *list.Element, reason string) {
	e := el.Value.(*entry)
	delete(c.entries, e.key)
	c.order.Remove(el)
	c.publish(xec.EventCacheEvict, e.key, nil, xec.Fields{"reason": reason})
}

// Invalidate evicts every entry tagged with tag, emitting cache:evict for
// each with reason "tag".
func (c *Cache) Invalidate(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for _, el := range c.entries {
		e := el.Value.(*entry)
		for _, t := range e.tags {
			if t == tag {
				toRemove = append(toRemove, el)
				break
			}
		}
	}
	for _, el := range toRemove {
		c.removeLocked(el, "tag")
	}
}

// Delete evicts a single key unconditionally, emitting cache:evict with
// reason "manual". It is a no-op if key is not present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el, "manual")
	}
}

// Len reports the current number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) publish(name xec.EventName, key string, policy *xec.CachePolicy, extra xec.Fields) {
	if c.bus == nil {
		return
	}
	fields := xec.Fields{"key": key}
	if policy != nil && policy.TTL > 0 {
		fields["ttl"] = policy.TTL
	}
	for k, v := range extra {
		fields[k] = v
	}
	c.bus.Publish(xec.Event{Name: name, Timestamp: time.Now(), Fields: fields})
}
