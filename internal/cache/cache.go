// Package cache provides a two-tier read-through cache for hot read paths.
// Tier one is an in-process TTL map; tier two is optional and pluggable.
package cache

import (
	"sync"
	"time"
)

// Layer is a single cache tier. Implementations must be safe for concurrent
// use.
type Layer interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process TTL cache. Values are copied on read and write so
// callers can never alias cached bytes.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.now().After(e.expiresAt) {
		return nil, false
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, true
}

func (m *Memory) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.entries[key] = entry{value: cp, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Sweep drops expired entries. Call periodically; correctness does not
// depend on it since Get checks expiry.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// TwoTier reads through L1 then L2, promoting L2 hits into L1. A nil L2
// degrades to single-tier.
type TwoTier struct {
	l1  Layer
	l2  Layer
	ttl time.Duration
}

// NewTwoTier builds the read-through pair. ttl applies to both tiers.
func NewTwoTier(l1, l2 Layer, ttl time.Duration) *TwoTier {
	return &TwoTier{l1: l1, l2: l2, ttl: ttl}
}

// TTL reports the configured entry lifetime.
func (c *TwoTier) TTL() time.Duration { return c.ttl }

func (c *TwoTier) Get(key string) ([]byte, bool) {
	if v, ok := c.l1.Get(key); ok {
		return v, true
	}
	if c.l2 == nil {
		return nil, false
	}
	v, ok := c.l2.Get(key)
	if !ok {
		return nil, false
	}
	c.l1.Set(key, v, c.ttl)
	return v, true
}

func (c *TwoTier) Set(key string, value []byte) {
	c.l1.Set(key, value, c.ttl)
	if c.l2 != nil {
		c.l2.Set(key, value, c.ttl)
	}
}

func (c *TwoTier) Delete(key string) {
	c.l1.Delete(key)
	if c.l2 != nil {
		c.l2.Delete(key)
	}
}
