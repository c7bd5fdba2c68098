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

package keys

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSigningKey(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)
	assert.Len(t, key.Public, ed25519.PublicKeySize)
	assert.NotEmpty(t, key.ID())
}

func TestSigningKeyFromSeedRoundTrip(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	restored, err := NewSigningKeyFromSeed(key.Seed())
	require.NoError(t, err)
	assert.Equal(t, key.Public, restored.Public)
	assert.Equal(t, key.ID(), restored.ID())
}

func TestSigningKeyFromSeedRejectsBadLength(t *testing.T) {
	_, err := NewSigningKeyFromSeed(make([]byte, 10))
	assert.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	message := []byte("vin receipt payload")
	sig := key.Sign(message)
	assert.NoError(t, key.Verify(message, sig))

	sig[0] ^= 0xFF
	assert.ErrorIs(t, key.Verify(message, sig), ErrInvalidSignature)
}

func TestTwoKeysHaveDifferentIDs(t *testing.T) {
	k1, err := GenerateSigningKey()
	require.NoError(t, err)
	k2, err := GenerateSigningKey()
	require.NoError(t, err)
	assert.NotEqual(t, k1.ID(), k2.ID())
}
