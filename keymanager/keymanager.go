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

// Package keymanager resolves the node's signing and encryption keys on
// startup, preferring TEE-derived material over a persisted key file
// over ephemeral generation, and owns their on-disk persistence.
package keymanager

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vin-protocol/vin/crypto/keys"
	"github.com/vin-protocol/vin/internal/logger"
	"github.com/vin-protocol/vin/teeadapter"
)

const (
	signingDerivationPath    = "vin-signing-v1"
	encryptionDerivationPath = "vin-encryption-v1"
)

// Manager holds the resolved, read-only key pairs for the life of the
// process. Private key material is never exposed through String/Error
// formatting or logged.
type Manager struct {
	signing    *keys.SigningKey
	encryption *keys.EncryptionKey
	ephemeral  bool
}

// keyFile is the on-disk persistence format for the node's keys. Both
// the signing seed and the encryption seed are persisted, so a restored
// node keeps both identities from a single file.
type keyFile struct {
	SigningSeedHex    string `json:"signing_seed_hex"`
	EncryptionSeedHex string `json:"encryption_seed_hex"`
}

// Resolve implements the C3 key resolution order: TEE adapter, then a
// persisted key file, then fresh generation (persisted if keyPath is
// set, otherwise fully ephemeral).
func Resolve(ctx context.Context, tee *teeadapter.Adapter, keyPath string) (*Manager, error) {
	log := logger.GetDefaultLogger()

	if tee != nil && tee.Available(ctx) {
		signingSeed, err := tee.DeriveKey(ctx, signingDerivationPath)
		if err == nil && len(signingSeed) >= ed25519.SeedSize {
			encSeed, encErr := tee.DeriveKey(ctx, encryptionDerivationPath)
			if encErr == nil && len(encSeed) >= 32 {
				signing, err := keys.NewSigningKeyFromSeed(signingSeed[:ed25519.SeedSize])
				if err == nil {
					encryption, err := keys.NewEncryptionKeyFromScalar(encSeed[:32])
					if err == nil {
						log.Info("resolved node identity from tee adapter")
						return &Manager{signing: signing, encryption: encryption}, nil
					}
				}
			}
		}
		log.Warn("tee adapter reported available but key derivation failed, falling back")
	}

	if keyPath != "" {
		if _, err := os.Stat(keyPath); err == nil {
			mgr, err := loadFromFile(keyPath)
			if err != nil {
				return nil, fmt.Errorf("keymanager: load key file: %w", err)
			}
			log.Info("resolved node identity from key file", logger.String("path", keyPath))
			return mgr, nil
		}

		mgr, err := generate()
		if err != nil {
			return nil, err
		}
		if err := mgr.persist(keyPath); err != nil {
			return nil, fmt.Errorf("keymanager: persist generated key: %w", err)
		}
		log.Warn("no key file found, generated and persisted a new node identity",
			logger.String("path", keyPath))
		return mgr, nil
	}

	mgr, err := generate()
	if err != nil {
		return nil, err
	}
	mgr.ephemeral = true
	log.Warn("running with an ephemeral node identity; node_pubkey will change on restart")
	return mgr, nil
}

func generate() (*Manager, error) {
	signing, err := keys.GenerateSigningKey()
	if err != nil {
		return nil, fmt.Errorf("keymanager: generate signing key: %w", err)
	}
	encryption, err := keys.GenerateEncryptionKey()
	if err != nil {
		return nil, fmt.Errorf("keymanager: generate encryption key: %w", err)
	}
	return &Manager{signing: signing, encryption: encryption}, nil
}

func loadFromFile(path string) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}

	signingSeed, err := hex.DecodeString(kf.SigningSeedHex)
	if err != nil {
		return nil, fmt.Errorf("decode signing seed: %w", err)
	}
	encSeed, err := hex.DecodeString(kf.EncryptionSeedHex)
	if err != nil {
		return nil, fmt.Errorf("decode encryption seed: %w", err)
	}

	signing, err := keys.NewSigningKeyFromSeed(signingSeed)
	if err != nil {
		return nil, err
	}
	encryption, err := keys.NewEncryptionKeyFromScalar(encSeed)
	if err != nil {
		return nil, err
	}

	return &Manager{signing: signing, encryption: encryption}, nil
}

func (m *Manager) persist(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
	}

	kf := keyFile{
		SigningSeedHex:    hex.EncodeToString(m.signing.Seed()),
		EncryptionSeedHex: hex.EncodeToString(m.encryption.Private.Serialize()),
	}

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// SigningKey returns the node's read-only Ed25519 signing key.
func (m *Manager) SigningKey() *keys.SigningKey {
	return m.signing
}

// EncryptionKey returns the node's read-only secp256k1 encryption key.
func (m *Manager) EncryptionKey() *keys.EncryptionKey {
	return m.encryption
}

// Ephemeral reports whether the node identity was generated without
// persistence and will change on the next restart.
func (m *Manager) Ephemeral() bool {
	return m.ephemeral
}

// NodePubkeyBase64URL returns the base64url (no padding) encoding of
// the Ed25519 public key, as carried in receipts and /health.
func (m *Manager) NodePubkeyBase64URL() string {
	return base64.RawURLEncoding.EncodeToString(m.signing.Public)
}
