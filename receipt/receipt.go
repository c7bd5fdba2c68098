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

// Package receipt builds and verifies the signed, tamper-evident
// record VIN issues for every confidential inference: a commitment
// over the request bound to a hash of the produced output, inside an
// Ed25519 signature.
package receipt

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/vin-protocol/vin/cache"
	"github.com/vin-protocol/vin/canon"
	"github.com/vin-protocol/vin/crypto/keys"
	"github.com/vin-protocol/vin/internal/metrics"
)

const (
	Schema  = "vin.receipt.v0"
	Version = "0.1"

	// DefaultValiditySeconds is how long a freshly built receipt remains
	// verifiable after issue.
	DefaultValiditySeconds = 600
	// DefaultReplayCacheMax bounds the verify-side replay cache.
	DefaultReplayCacheMax = 10_000
	// clockSkewTolerance allows a receipt issued slightly in the future
	// (clock drift between issuer and verifier) to still verify.
	clockSkewTolerance = 60 * time.Second
)

// Attestation is the receipt's attestation sub-object.
type Attestation struct {
	Type        string `json:"type"`
	ReportHash  string `json:"report_hash,omitempty"`
	Measurement string `json:"measurement,omitempty"`
}

// Payment is the receipt's payment sub-object.
type Payment struct {
	Type              string `json:"type"`
	PaymentRef        string `json:"payment_ref,omitempty"`
	PaymentCommitment string `json:"payment_commitment,omitempty"`
}

// payload is every receipt field except sig; it is what gets
// canonicalized and signed.
type payload struct {
	Schema                 string      `json:"schema"`
	Version                string      `json:"version"`
	NodePubkey             string      `json:"node_pubkey"`
	RequestID              string      `json:"request_id"`
	ActionType             string      `json:"action_type"`
	PolicyID               string      `json:"policy_id"`
	InputsCommitment       string      `json:"inputs_commitment"`
	ConstraintsCommitment  string      `json:"constraints_commitment"`
	LLMCommitment          string      `json:"llm_commitment"`
	OutputCleanHash        string      `json:"output_clean_hash"`
	OutputTransportHash    string      `json:"output_transport_hash"`
	IAT                    int64       `json:"iat"`
	EXP                    int64       `json:"exp"`
	Nonce                  string      `json:"nonce"`
	Attestation            Attestation `json:"attestation"`
	Payment                Payment     `json:"payment"`
}

// Receipt is the full, immutable, signed record.
type Receipt struct {
	payload
	Sig string `json:"sig"`
}

// Request is the subset of an inference request a receipt commits to.
type Request struct {
	Inputs      interface{}
	Constraints interface{}
	LLM         interface{}
}

// Output is the subset of a response a receipt commits to.
type Output struct {
	CleanText string
	Text      string
}

// BuildParams carries everything Build needs beyond the signing key.
type BuildParams struct {
	NodePubkeyB64URL string
	RequestID        string
	ActionType       string
	PolicyID         string
	Request          Request
	Output           Output
	Attestation      Attestation
	Payment          Payment
	ValiditySeconds  int64
	Now              time.Time
}

// Build constructs and signs a new receipt.
func Build(signer *keys.SigningKey, p BuildParams) (*Receipt, error) {
	validity := p.ValiditySeconds
	if validity <= 0 {
		validity = DefaultValiditySeconds
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}

	inputsCommitment, err := canon.HashHex(nonNilInterface(p.Request.Inputs))
	if err != nil {
		return nil, fmt.Errorf("receipt: hash inputs: %w", err)
	}
	constraintsCommitment, err := canon.HashHex(orEmptyObject(p.Request.Constraints))
	if err != nil {
		return nil, fmt.Errorf("receipt: hash constraints: %w", err)
	}
	llmCommitment, err := canon.HashHex(orEmptyObject(p.Request.LLM))
	if err != nil {
		return nil, fmt.Errorf("receipt: hash llm: %w", err)
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("receipt: generate nonce: %w", err)
	}

	attestation := p.Attestation
	if attestation.Type == "" {
		attestation.Type = "none"
	}
	pmt := p.Payment
	if pmt.Type == "" {
		pmt.Type = "none"
	}

	pl := payload{
		Schema:                Schema,
		Version:               Version,
		NodePubkey:            p.NodePubkeyB64URL,
		RequestID:             p.RequestID,
		ActionType:            p.ActionType,
		PolicyID:              p.PolicyID,
		InputsCommitment:      inputsCommitment,
		ConstraintsCommitment: constraintsCommitment,
		LLMCommitment:         llmCommitment,
		OutputCleanHash:       canon.HashText(p.Output.CleanText),
		OutputTransportHash:   canon.HashText(p.Output.Text),
		IAT:                   now.Unix(),
		EXP:                   now.Unix() + validity,
		Nonce:                 canon.Base64URL(nonce),
		Attestation:           attestation,
		Payment:               pmt,
	}

	sigBytes, err := signPayload(signer, pl)
	if err != nil {
		return nil, err
	}

	return &Receipt{payload: pl, Sig: canon.Base64URL(sigBytes)}, nil
}

func signPayload(signer *keys.SigningKey, pl payload) ([]byte, error) {
	start := time.Now()
	canonical, err := canon.JCS(pl)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("sign").Inc()
		return nil, fmt.Errorf("receipt: canonicalize payload: %w", err)
	}
	sig := signer.Sign(canonical)
	metrics.CryptoOperationDuration.WithLabelValues("sign", "ed25519").Observe(time.Since(start).Seconds())
	metrics.CryptoOperations.WithLabelValues("sign", "ed25519").Inc()
	return sig, nil
}

func nonNilInterface(v interface{}) interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v
}

func orEmptyObject(v interface{}) interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v
}

// VerifyResult is the outcome of Verify.
type VerifyResult struct {
	Valid  bool
	Reason string
}

// ReplayCache bounds the (node_pubkey, nonce) replay window a Verifier
// enforces.
type ReplayCache = cache.TTLCache[string, int64]

// NewReplayCache builds a ReplayCache with the given capacity, whose
// fixed TTL is derived from validitySeconds (the same
// receipt_validity_seconds a receipt is actually built with) rather
// than the package default. The TTL must outlive the longest-lived
// receipt's own exp, or a receipt could be replayed a second time
// after its cache entry ages out but before it has actually expired;
// doubling validitySeconds keeps the cache entry alive for the whole
// window plus the same margin again.
func NewReplayCache(maxSize int, validitySeconds int64) *ReplayCache {
	if maxSize <= 0 {
		maxSize = DefaultReplayCacheMax
	}
	if validitySeconds <= 0 {
		validitySeconds = DefaultValiditySeconds
	}
	return cache.New[string, int64](maxSize, time.Duration(validitySeconds)*time.Second*2)
}

// Verifier checks receipts against a replay cache and a clock.
type Verifier struct {
	Replay *ReplayCache
	Now    func() time.Time
}

// NewVerifier builds a Verifier backed by its own replay cache, sized
// to outlive receipts issued with validitySeconds.
func NewVerifier(replayCacheMax int, validitySeconds int64) *Verifier {
	return &Verifier{Replay: NewReplayCache(replayCacheMax, validitySeconds), Now: time.Now}
}

// Verify checks r against req/out per the ordered, first-failure-wins
// algorithm: schema, timestamps, replay, commitments, output hashes,
// signature.
func (v *Verifier) Verify(r *Receipt, req Request, out Output) VerifyResult {
	now := v.now()

	if r.Schema != Schema {
		return VerifyResult{Reason: "invalid_schema"}
	}
	if r.IAT > now.Add(clockSkewTolerance).Unix() {
		return VerifyResult{Reason: "issued_in_future"}
	}
	if r.EXP < now.Unix() {
		return VerifyResult{Reason: "expired"}
	}

	replayKey := r.NodePubkey + ":" + r.Nonce
	if _, existed := v.Replay.CheckAndInsert(replayKey, r.EXP); existed {
		return VerifyResult{Reason: "replay_detected"}
	}

	inputsCommitment, err := canon.HashHex(nonNilInterface(req.Inputs))
	if err != nil || inputsCommitment != r.InputsCommitment {
		return VerifyResult{Reason: "inputs_commitment_mismatch"}
	}
	constraintsCommitment, err := canon.HashHex(orEmptyObject(req.Constraints))
	if err != nil || constraintsCommitment != r.ConstraintsCommitment {
		return VerifyResult{Reason: "constraints_commitment_mismatch"}
	}
	llmCommitment, err := canon.HashHex(orEmptyObject(req.LLM))
	if err != nil || llmCommitment != r.LLMCommitment {
		return VerifyResult{Reason: "llm_commitment_mismatch"}
	}

	if canon.HashText(out.CleanText) != r.OutputCleanHash {
		return VerifyResult{Reason: "output_clean_hash_mismatch"}
	}
	if canon.HashText(out.Text) != r.OutputTransportHash {
		return VerifyResult{Reason: "output_transport_hash_mismatch"}
	}

	pubkey, err := canon.DecodeBase64URL(r.NodePubkey)
	if err != nil {
		return VerifyResult{Reason: "signature_invalid"}
	}
	sig, err := canon.DecodeBase64URL(r.Sig)
	if err != nil {
		return VerifyResult{Reason: "signature_invalid"}
	}
	canonical, err := canon.JCS(r.payload)
	if err != nil {
		return VerifyResult{Reason: "signature_invalid"}
	}
	verifyKey, err := keys.NewSigningKeyFromPublic(pubkey)
	if err != nil {
		return VerifyResult{Reason: "signature_invalid"}
	}
	start := time.Now()
	verifyErr := verifyKey.Verify(canonical, sig)
	metrics.CryptoOperationDuration.WithLabelValues("verify", "ed25519").Observe(time.Since(start).Seconds())
	if verifyErr != nil {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return VerifyResult{Reason: "signature_invalid"}
	}
	metrics.CryptoOperations.WithLabelValues("verify", "ed25519").Inc()

	return VerifyResult{Valid: true}
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}
