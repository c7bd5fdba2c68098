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

// Package hpke implements VIN's hybrid encryption scheme: an ephemeral
// secp256k1 ECDH key agreement feeding HKDF-SHA256, sealing the
// plaintext with AES-256-GCM. It is a lightweight ECIES variant, not
// full RFC 9180 HPKE.
package hpke

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vin-protocol/vin/crypto/keys"
	"github.com/vin-protocol/vin/internal/metrics"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo is the fixed HKDF info string binding derived keys to this
// protocol version.
const hkdfInfo = "vin-ecies-v1"

const nonceSize = 12

// ErrOpenFailed is returned for every open failure — curve-point parse
// error, GCM tag mismatch, or malformed nonce — collapsed into one
// opaque error so callers cannot distinguish the cause.
var ErrOpenFailed = errors.New("hpke: open failed")

// Envelope is the wire form of a sealed message.
type Envelope struct {
	Ciphertext        []byte // AES-GCM output including the appended tag
	EphemeralPubkey   []byte // 33-byte compressed secp256k1 point
	Nonce             []byte // 12 bytes
}

// Seal encrypts plaintext to recipientCompressed using a freshly
// generated ephemeral secp256k1 key pair.
func Seal(plaintext []byte, recipientCompressed []byte) (*Envelope, error) {
	start := time.Now()
	env, err := seal(plaintext, recipientCompressed)
	metrics.CryptoOperationDuration.WithLabelValues("encrypt", "aes-256-gcm").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return nil, err
	}
	metrics.CryptoOperations.WithLabelValues("encrypt", "aes-256-gcm").Inc()
	return env, nil
}

func seal(plaintext []byte, recipientCompressed []byte) (*Envelope, error) {
	ephemeral, err := keys.GenerateEncryptionKey()
	if err != nil {
		return nil, fmt.Errorf("hpke: generate ephemeral key: %w", err)
	}

	shared, err := ephemeral.ECDH(recipientCompressed)
	if err != nil {
		return nil, ErrOpenFailed
	}

	aesKey, err := deriveAESKey(shared)
	if err != nil {
		return nil, fmt.Errorf("hpke: derive key: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("hpke: generate nonce: %w", err)
	}

	ciphertext, err := gcmSeal(aesKey, nonce, plaintext)
	if err != nil {
		return nil, fmt.Errorf("hpke: seal: %w", err)
	}

	return &Envelope{
		Ciphertext:      ciphertext,
		EphemeralPubkey: ephemeral.PublicCompressed(),
		Nonce:           nonce,
	}, nil
}

// Open decrypts env using the recipient's private encryption key. Every
// failure mode — bad curve point, bad tag, malformed nonce — is
// collapsed into ErrOpenFailed so the caller cannot distinguish them,
// matching the admission pipeline's invalid_payload collapse rule.
func Open(env *Envelope, recipient *keys.EncryptionKey) ([]byte, error) {
	start := time.Now()
	plaintext, err := open(env, recipient)
	metrics.CryptoOperationDuration.WithLabelValues("decrypt", "aes-256-gcm").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, err
	}
	metrics.CryptoOperations.WithLabelValues("decrypt", "aes-256-gcm").Inc()
	return plaintext, nil
}

func open(env *Envelope, recipient *keys.EncryptionKey) ([]byte, error) {
	if len(env.Nonce) != nonceSize {
		return nil, ErrOpenFailed
	}

	shared, err := recipient.ECDH(env.EphemeralPubkey)
	if err != nil {
		return nil, ErrOpenFailed
	}

	aesKey, err := deriveAESKey(shared)
	if err != nil {
		return nil, ErrOpenFailed
	}

	plaintext, err := gcmOpen(aesKey, env.Nonce, env.Ciphertext)
	if err != nil {
		return nil, ErrOpenFailed
	}

	return plaintext, nil
}

// deriveAESKey runs HKDF-SHA256 over the 32-byte shared X coordinate
// with an empty salt and the fixed info string, producing a 32-byte
// AES-256 key.
func deriveAESKey(shared []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func gcmSeal(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func gcmOpen(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}
