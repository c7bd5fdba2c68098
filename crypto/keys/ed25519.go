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

// Package keys holds the two concrete key types vin uses: Ed25519 for
// receipt signing and secp256k1 for hybrid encryption. There is no
// pluggable key-type registry here; the node never needs a third kind.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned by SigningKey.Verify on a bad signature.
var ErrInvalidSignature = errors.New("keys: invalid signature")

// SigningKey wraps an Ed25519 key pair used for receipt signatures.
type SigningKey struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// NewSigningKeyFromSeed builds a SigningKey from a 32-byte seed, as
// produced by the TEE adapter's derivation path or by plain random
// generation when no TEE is available.
func NewSigningKeyFromSeed(seed []byte) (*SigningKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &SigningKey{
		Private: priv,
		Public:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// NewSigningKeyFromPublic builds a verify-only SigningKey from a raw
// 32-byte Ed25519 public key, as carried in a receipt's node_pubkey
// field. Its Private field is nil; calling Sign on it panics.
func NewSigningKeyFromPublic(public []byte) (*SigningKey, error) {
	if len(public) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("keys: ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(public))
	}
	return &SigningKey{Public: ed25519.PublicKey(public)}, nil
}

// GenerateSigningKey generates a fresh random Ed25519 signing key.
func GenerateSigningKey() (*SigningKey, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("keys: generate ed25519 seed: %w", err)
	}
	return NewSigningKeyFromSeed(seed)
}

// Sign signs message with the private key.
func (k *SigningKey) Sign(message []byte) []byte {
	return ed25519.Sign(k.Private, message)
}

// Verify verifies signature over message against the public key.
func (k *SigningKey) Verify(message, signature []byte) error {
	if !ed25519.Verify(k.Public, message, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// ID returns a short identifier derived from the public key, used for
// log correlation and file naming; it is not part of the wire protocol.
func (k *SigningKey) ID() string {
	return hex.EncodeToString(k.Public)[:16]
}

// Seed returns the 32-byte seed backing this key, for persistence.
func (k *SigningKey) Seed() []byte {
	return k.Private.Seed()
}
