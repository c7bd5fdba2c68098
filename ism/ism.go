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

// Package ism implements the Input Sanitization Module: the sibling
// service that attests an input arrived from an approved non-human
// source before it ever reaches the confidential inference proxy. All
// rejection reasons collapse to one opaque message so a caller cannot
// enumerate which sources are configured or which inputs were already
// seen.
package ism

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vin-protocol/vin/cache"
	"github.com/vin-protocol/vin/canon"
	"github.com/vin-protocol/vin/crypto/keys"
)

const (
	Schema = "ism.input.v0"

	DefaultMaxInputSize    = 1 << 20 // 1 MB
	DefaultReplaySetMax    = 10_000
	DefaultMaxClockDriftMS = 5 * 60 * 1000

	// replaySetHorizon bounds the replay set by count, not time; the TTL
	// is set far longer than any realistic verify window so eviction is
	// driven by the LRU policy, matching the spec's "bounded set" model.
	replaySetHorizon = 365 * 24 * time.Hour
)

var (
	// ErrInputRejected is the single opaque reason returned for every
	// source, signature, or replay failure in attest.
	ErrInputRejected = errors.New("Input rejected")
	ErrInputTooLarge = errors.New("Input too large")
	ErrClockError    = errors.New("Clock error")
)

// Source types recognized by ApprovedSource.Type.
const (
	SourceBlockchainEvent = "blockchain_event"
	SourceAPISigned       = "api_signed"
	SourceISMChain        = "ism_chain"
	SourceCron            = "cron"
	SourceVRFChallenge    = "vrf_challenge"
)

// ApprovedSource is one source the ISM instance will attest input
// from. Immutable once constructed.
type ApprovedSource struct {
	ID        string
	Type      string
	PubkeyHex string // Ed25519 hex, required for api_signed sources
	Contract  string
	ChainID   string
}

// RawInput is the unattested input submitted to attest.
type RawInput struct {
	SourceID        string
	SourceType      string
	Data            interface{} // object (canonicalized via C1) or string (used as-is)
	SourceSignature string      // base64url, required for api_signed
	SourcePubkey    string
	BlockHash       string      // required for blockchain_event
	TeeAttestation  string
}

// InputAttestation is the signed record attest produces.
type InputAttestation struct {
	payload
	Sig string `json:"sig"`
}

type payload struct {
	Schema          string `json:"schema"`
	ISMID           string `json:"ism_id"`
	ISMPubkey       string `json:"ism_pubkey"`
	InputHash       string `json:"input_hash"`
	InputType       string `json:"input_type"`
	InputSource     string `json:"input_source"`
	ReceivedAt      int64  `json:"received_at"`
	Sequence        uint64 `json:"sequence"`
	SourceSignature string `json:"source_signature,omitempty"`
	SourcePubkey    string `json:"source_pubkey,omitempty"`
	BlockHash       string `json:"block_hash,omitempty"`
	TeeAttestation  string `json:"tee_attestation,omitempty"`
}

// Module is one ISM instance: an identity, an approved-source table,
// and the monotonic counter / replay set that make its output
// tamper-evident and replay-resistant.
type Module struct {
	id      string
	signer  *keys.SigningKey
	sources map[string]ApprovedSource
	clock   func() time.Time

	mu       sync.Mutex
	sequence uint64
	replay   *cache.TTLCache[string, struct{}]

	maxInputSize    int
	maxClockDriftMS int64
}

// Option configures a Module at construction.
type Option func(*Module)

// WithClock overrides the clock source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Module) { m.clock = clock }
}

// WithMaxInputSize overrides the default 1 MB input size ceiling.
func WithMaxInputSize(n int) Option {
	return func(m *Module) { m.maxInputSize = n }
}

// WithReplaySetMax overrides the default 10,000-entry replay set bound.
func WithReplaySetMax(n int) Option {
	return func(m *Module) { m.replay = cache.New[string, struct{}](n, replaySetHorizon) }
}

// New builds a Module identified by id, signing with signer, trusting
// exactly the given approved sources.
func New(id string, signer *keys.SigningKey, sources []ApprovedSource, opts ...Option) *Module {
	m := &Module{
		id:              id,
		signer:          signer,
		sources:         make(map[string]ApprovedSource, len(sources)),
		clock:           time.Now,
		replay:          cache.New[string, struct{}](DefaultReplaySetMax, replaySetHorizon),
		maxInputSize:    DefaultMaxInputSize,
		maxClockDriftMS: DefaultMaxClockDriftMS,
	}
	for _, s := range sources {
		m.sources[s.ID] = s
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sequence returns the number of attestations issued so far.
func (m *Module) Sequence() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sequence
}

// Attest runs the first-failure-wins attestation algorithm over raw.
func (m *Module) Attest(raw RawInput) (*InputAttestation, error) {
	source, ok := m.sources[raw.SourceID]
	if !ok {
		return nil, ErrInputRejected
	}
	if source.Type != raw.SourceType {
		return nil, ErrInputRejected
	}

	data, err := canonicalizeInput(raw.Data)
	if err != nil {
		return nil, ErrInputRejected
	}
	if len(data) > m.maxInputSize {
		return nil, ErrInputTooLarge
	}

	hashBytes := sha256.Sum256(data)
	inputHash := hex.EncodeToString(hashBytes[:])

	replayKey := raw.SourceID + ":" + inputHash
	if _, seen := m.replay.Get(replayKey); seen {
		return nil, ErrInputRejected
	}

	if source.Type == SourceAPISigned && source.PubkeyHex != "" {
		if raw.SourceSignature == "" {
			return nil, ErrInputRejected
		}
		if err := verifySourceSignature(source.PubkeyHex, data, raw.SourceSignature); err != nil {
			return nil, ErrInputRejected
		}
	}
	if source.Type == SourceBlockchainEvent && raw.BlockHash == "" {
		return nil, ErrInputRejected
	}

	m.replay.Add(replayKey, struct{}{})

	now := m.clock()
	nowMS := now.UnixMilli()
	if nowMS < 0 {
		return nil, ErrClockError
	}

	m.mu.Lock()
	m.sequence++
	seq := m.sequence
	m.mu.Unlock()

	pl := payload{
		Schema:          Schema,
		ISMID:           m.id,
		ISMPubkey:       hex.EncodeToString(m.signer.Public),
		InputHash:       inputHash,
		InputType:       raw.SourceType,
		InputSource:     raw.SourceID,
		ReceivedAt:      nowMS,
		Sequence:        seq,
		SourceSignature: raw.SourceSignature,
		SourcePubkey:    raw.SourcePubkey,
		BlockHash:       raw.BlockHash,
		TeeAttestation:  raw.TeeAttestation,
	}

	sig, err := signAttestation(m.signer, pl)
	if err != nil {
		return nil, ErrInputRejected
	}

	return &InputAttestation{payload: pl, Sig: sig}, nil
}

// Verify checks att's signature against the ism_pubkey it carries
// (self-describing verification — any party, not just the issuing
// Module, can run this). It rejects attestations whose received_at is
// further in the future than maxClockDriftMS allows.
func Verify(att *InputAttestation, nowMS int64, maxClockDriftMS int64) error {
	if maxClockDriftMS <= 0 {
		maxClockDriftMS = DefaultMaxClockDriftMS
	}
	if att.ReceivedAt > nowMS+maxClockDriftMS {
		return fmt.Errorf("ism: attestation received_at too far in the future")
	}

	pubkey, err := hex.DecodeString(att.ISMPubkey)
	if err != nil {
		return fmt.Errorf("ism: malformed ism_pubkey: %w", err)
	}
	verifyKey, err := keys.NewSigningKeyFromPublic(pubkey)
	if err != nil {
		return fmt.Errorf("ism: malformed ism_pubkey: %w", err)
	}

	sig, err := canon.DecodeBase64URL(att.Sig)
	if err != nil {
		return fmt.Errorf("ism: malformed signature: %w", err)
	}

	canonical, err := canon.JCS(att.payload)
	if err != nil {
		return fmt.Errorf("ism: canonicalize payload: %w", err)
	}
	digest := sha256.Sum256(canonical)

	if err := verifyKey.Verify(digest[:], sig); err != nil {
		return fmt.Errorf("ism: signature invalid")
	}
	return nil
}

func canonicalizeInput(data interface{}) ([]byte, error) {
	switch v := data.(type) {
	case string:
		return []byte(v), nil
	default:
		return canon.JCS(v)
	}
}

func verifySourceSignature(pubkeyHex string, data []byte, sigB64URL string) error {
	pubkey, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pubkey) != ed25519.PublicKeySize {
		return fmt.Errorf("ism: malformed source pubkey")
	}
	sig, err := canon.DecodeBase64URL(sigB64URL)
	if err != nil {
		return fmt.Errorf("ism: malformed source signature")
	}
	if !ed25519.Verify(ed25519.PublicKey(pubkey), data, sig) {
		return fmt.Errorf("ism: source signature invalid")
	}
	return nil
}

// signAttestation canonicalizes pl, signs sha256 of the canonical
// bytes (the historical quirk preserved from the original protocol:
// the ISM signs the hash of the payload, not the payload directly),
// and returns the base64url signature.
func signAttestation(signer *keys.SigningKey, pl payload) (string, error) {
	canonical, err := canon.JCS(pl)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(canonical)
	sig := signer.Sign(digest[:])
	return canon.Base64URL(sig), nil
}
