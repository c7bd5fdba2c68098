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

// Package ratelimit implements a per-client token bucket rate limiter
// and the client-key derivation rule used across the admission
// pipeline.
package ratelimit

import (
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const idleSweepInterval = 10 * time.Minute

type bucketEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter tracks one token bucket per client key.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucketEntry
	burst    int
	perSec   float64
	idleStop chan struct{}
}

// New builds a Limiter with the given burst capacity and sustained
// per-second refill rate, and starts a background sweep of buckets
// idle for more than an hour.
func New(burst int, perSecond float64) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*bucketEntry),
		burst:    burst,
		perSec:   perSecond,
		idleStop: make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow reports whether key may proceed, consuming one token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	entry, ok := l.buckets[key]
	if !ok {
		entry = &bucketEntry{limiter: rate.NewLimiter(rate.Limit(l.perSec), l.burst)}
		l.buckets[key] = entry
	}
	entry.lastAccess = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// RetryAfter reports how long the caller should wait before retrying
// for key, given the current bucket state.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	entry, ok := l.buckets[key]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	reservation := entry.limiter.Reserve()
	defer reservation.Cancel()
	return reservation.Delay()
}

// Close stops the background idle-bucket sweep.
func (l *Limiter) Close() {
	close(l.idleStop)
}

// Buckets returns the number of client buckets currently tracked, for
// health reporting.
func (l *Limiter) Buckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.idleStop:
			return
		}
	}
}

func (l *Limiter) sweep() {
	cutoff := time.Now().Add(-time.Hour)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.buckets {
		if entry.lastAccess.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// ClientKey derives the rate-limiter bucket key for an inbound request:
// the first value of X-Forwarded-For, else X-Real-Ip, else a
// non-cryptographic fingerprint of User-Agent and Accept-Language so
// anonymous clients still share a bucket rather than each bypassing the
// limiter entirely.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return firstCommaField(fwd)
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	return fnv32a(r.Header.Get("User-Agent") + "|" + r.Header.Get("Accept-Language"))
}

func firstCommaField(s string) string {
	field, _, _ := strings.Cut(s, ",")
	return strings.TrimSpace(field)
}

// fnv32a is a non-cryptographic fingerprint; it only needs to group
// similar anonymous clients, not resist collision attacks.
func fnv32a(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return "anon-" + strconv.FormatUint(uint64(h.Sum32()), 10)
}
