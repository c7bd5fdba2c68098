// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package cache provides the bounded, TTL-expiring key/value store
// shared by the receipt replay cache, the ISM replay set, the SSRF
// outbound caller's DNS pin cache, and the server's request-nonce cache.
// Capacity and TTL are constructor arguments so tests
// can exercise eviction and expiry deterministically.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// TTLCache is a generic bounded cache that evicts the least-recently-used
// entry on overflow and treats expired entries as absent.
type TTLCache[K comparable, V any] struct {
	mu    sync.Mutex
	inner *lru.LRU[K, V]
}

// New builds a TTLCache holding at most maxSize entries, each expiring
// defaultTTL after insertion.
func New[K comparable, V any](maxSize int, defaultTTL time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		inner: lru.NewLRU[K, V](maxSize, nil, defaultTTL),
	}
}

// Get returns the value for key if present and unexpired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(key)
}

// Add inserts or overwrites key with value, resetting its TTL.
func (c *TTLCache[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, value)
}

// CheckAndInsert performs an atomic check-and-insert: if key is already
// present (and unexpired), it returns (existing, true) without
// modifying the cache; otherwise it inserts value and returns
// (value, false). This is the primitive the replay cache and the
// request-nonce cache both need so two concurrent lookups of the same
// key cannot both observe a miss.
func (c *TTLCache[K, V]) CheckAndInsert(key K, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.inner.Get(key); ok {
		return existing, true
	}
	c.inner.Add(key, value)
	return value, false
}

// Len returns the current number of live entries.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}

// Remove deletes key if present.
func (c *TTLCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(key)
}
