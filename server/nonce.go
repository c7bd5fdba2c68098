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

package server

import "github.com/vin-protocol/vin/cache"

// nonceCache tracks the envelope nonces seen on /v1/generate so the same
// encrypted request cannot be replayed within requestNonceTTL.
type nonceCache struct {
	entries *cache.TTLCache[string, struct{}]
}

func newNonceCache(maxSize int) *nonceCache {
	return &nonceCache{entries: cache.New[string, struct{}](maxSize, requestNonceTTL)}
}

// seen reports whether nonce has already been admitted, atomically
// recording it as seen if not.
func (n *nonceCache) seen(nonce string) bool {
	_, existed := n.entries.CheckAndInsert(nonce, struct{}{})
	return existed
}
