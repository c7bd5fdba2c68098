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
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// EncryptionKey wraps a secp256k1 key pair used for the ECDH step of
// hybrid encryption. It is never used for signing.
type EncryptionKey struct {
	Private *secp256k1.PrivateKey
	Public  *secp256k1.PublicKey
}

// NewEncryptionKeyFromScalar builds an EncryptionKey from a 32-byte
// scalar, as produced by the TEE adapter's derivation path.
func NewEncryptionKeyFromScalar(scalar []byte) (*EncryptionKey, error) {
	if len(scalar) != 32 {
		return nil, fmt.Errorf("keys: secp256k1 scalar must be 32 bytes, got %d", len(scalar))
	}
	priv := secp256k1.PrivKeyFromBytes(scalar)
	return &EncryptionKey{
		Private: priv,
		Public:  priv.PubKey(),
	}, nil
}

// GenerateEncryptionKey generates a fresh random secp256k1 key.
func GenerateEncryptionKey() (*EncryptionKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("keys: generate secp256k1 key: %w", err)
	}
	return &EncryptionKey{Private: priv, Public: priv.PubKey()}, nil
}

// ECDH computes the shared secret with a remote compressed public key,
// returning the X coordinate of the shared point (33 bytes including
// the parity prefix are not included; this is the raw X coordinate,
// 32 bytes, matching the convention used by the HPKE-lite scheme).
func (k *EncryptionKey) ECDH(remoteCompressed []byte) ([]byte, error) {
	remotePub, err := secp256k1.ParsePubKey(remoteCompressed)
	if err != nil {
		return nil, fmt.Errorf("keys: parse remote public key: %w", err)
	}

	var point, result secp256k1.JacobianPoint
	remotePub.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&k.Private.Key, &point, &result)
	result.ToAffine()

	xBytes := result.X.Bytes()
	shared := make([]byte, 32)
	copy(shared, xBytes[:])
	return shared, nil
}

// PublicCompressed returns the 33-byte SEC1-compressed public key.
func (k *EncryptionKey) PublicCompressed() []byte {
	return k.Public.SerializeCompressed()
}
