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

// Package server wires the twelve-step request admission pipeline to
// the VIN node's HTTP surface: rate limiting, payment gating, envelope
// decryption, outbound inference, receipt issuance, and response
// sealing, all behind net/http handlers with explicit timeouts.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/vin-protocol/vin/canon"
	"github.com/vin-protocol/vin/config"
	"github.com/vin-protocol/vin/hpke"
	"github.com/vin-protocol/vin/internal/logger"
	"github.com/vin-protocol/vin/internal/metrics"
	"github.com/vin-protocol/vin/keymanager"
	"github.com/vin-protocol/vin/outbound"
	"github.com/vin-protocol/vin/payment"
	"github.com/vin-protocol/vin/protocol"
	"github.com/vin-protocol/vin/ratelimit"
	"github.com/vin-protocol/vin/receipt"
	"github.com/vin-protocol/vin/teeadapter"
)

const (
	PolicyID   = "P2_CONFIDENTIAL_PROXY_V1"
	ActionType = "confidential_llm_call"

	nodeVersion = "0.1.0"

	requestNonceTTL = 10 * time.Minute
)

// Server holds every component the admission pipeline orchestrates.
type Server struct {
	cfg *config.Config

	keys    *keymanager.Manager
	tee     *teeadapter.Adapter
	limiter *ratelimit.Limiter
	gate    *payment.Gate
	caller  *outbound.Caller
	verify  *receipt.Verifier

	nonces *nonceCache
	log    logger.Logger
}

// New builds a Server from resolved keys and configuration.
func New(cfg *config.Config, km *keymanager.Manager, tee *teeadapter.Adapter) *Server {
	return &Server{
		cfg:     cfg,
		keys:    km,
		tee:     tee,
		limiter: ratelimit.New(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond),
		gate:    payment.NewGate(cfg.Payment.PayTo, cfg.Payment.PriceAmount, cfg.Payment.Network, cfg.TestMode),
		caller:  outbound.NewCaller(),
		verify:  receipt.NewVerifier(cfg.ReplayCacheMax, cfg.ReceiptValiditySeconds),
		nonces:  newNonceCache(cfg.ReplayCacheMax),
		log:     logger.GetDefaultLogger(),
	}
}

// Mux builds the full HTTP surface.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/tee-pubkey", s.handleTeePubkey)
	mux.HandleFunc("/v1/policies", s.handlePolicies)
	mux.HandleFunc("/v1/attestation", s.handleAttestation)
	mux.HandleFunc("/v1/generate", s.handleGenerate)
	mux.HandleFunc("/v1/verify", s.handleVerify)
	return mux
}

// ReplayCacheLen reports the number of entries currently tracked by the
// receipt replay cache, for health reporting.
func (s *Server) ReplayCacheLen() int {
	return s.verify.Replay.Len()
}

// RateLimiterBuckets reports the number of client buckets currently
// tracked by the rate limiter, for health reporting.
func (s *Server) RateLimiterBuckets() int {
	return s.limiter.Buckets()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":                 true,
		"node_pubkey":        s.keys.NodePubkeyBase64URL(),
		"encryption_pubkey":  canon.Hex(s.keys.EncryptionKey().PublicCompressed()),
		"version":            nodeVersion,
		"x402":               true,
		"confidential_proxy": true,
	})
}

func (s *Server) handleTeePubkey(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	att := s.tee.AttestationReport(ctx, []byte(s.keys.NodePubkeyBase64URL()), s.keys.EncryptionKey().PublicCompressed())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"encryption_pubkey": canon.Hex(s.keys.EncryptionKey().PublicCompressed()),
		"signing_pubkey":    s.keys.NodePubkeyBase64URL(),
		"attestation":       attestationToWire(att),
	})
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": []map[string]string{
			{"policy_id": PolicyID, "action_type": ActionType},
		},
	})
}

func (s *Server) handleAttestation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	att := s.tee.AttestationReport(ctx, []byte(s.keys.NodePubkeyBase64URL()), s.keys.EncryptionKey().PublicCompressed())
	writeJSON(w, http.StatusOK, attestationToWire(att))
}

func attestationToWire(att teeadapter.Attestation) map[string]interface{} {
	out := map[string]interface{}{"type": att.Type, "available": att.Available}
	if len(att.Report) > 0 {
		out["report_hash"] = canon.HashText(string(att.Report))
	}
	if len(att.Measurement) > 0 {
		out["measurement"] = canon.Hex(att.Measurement)
	}
	return out
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	clientKey := ratelimit.ClientKey(r)
	if !s.limiter.Allow(clientKey) {
		metrics.RateLimitDecisions.WithLabelValues("throttled").Inc()
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", s.limiter.RetryAfter(clientKey).Seconds()))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}
	metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()

	acceptance := s.gate.Check(r)
	if !acceptance.Accepted {
		metrics.PaymentChallenges.Inc()
		if err := s.gate.WriteChallenge(w, r.URL.String()); err != nil {
			s.log.Error("write payment challenge failed", logger.Error(err))
		}
		return
	}

	start := time.Now()
	outcome := "generation_failed"
	defer func() {
		metrics.AdmissionRequests.WithLabelValues(outcome).Inc()
		metrics.AdmissionDuration.Observe(time.Since(start).Seconds())
	}()

	var req protocol.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		outcome = "invalid_payload"
		writeError(w, http.StatusBadRequest, outcome, "malformed request body")
		return
	}

	if req.EncryptedPayload == "" {
		if !s.cfg.AllowLegacy {
			outcome = "legacy_mode_disabled"
			writeError(w, http.StatusBadRequest, outcome, "legacy request branch is disabled")
			return
		}
		outcome = "invalid_payload"
		writeError(w, http.StatusBadRequest, outcome, "legacy branch not yet implemented")
		return
	}

	if s.nonces.seen(req.Nonce) {
		outcome = "replay_detected"
		writeError(w, http.StatusBadRequest, outcome, "envelope nonce already used")
		return
	}

	llmReq, userPubkey, err := s.openEnvelope(req)
	if err != nil {
		outcome = "invalid_payload"
		writeError(w, http.StatusBadRequest, outcome, "request could not be processed")
		return
	}

	inputsCommitment, err := canon.HashHex(llmReq.Subset())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generation_failed", "internal error")
		return
	}

	callStart := time.Now()
	resp, callErr := s.caller.Call(r.Context(), outbound.CallParams{
		ProviderURL: llmReq.ProviderURL,
		APIKey:      llmReq.APIKey,
		Model:       llmReq.Model,
		Messages:    convertMessages(llmReq.Messages),
		MaxTokens:   llmReq.MaxTokens,
		Temperature: llmReq.Temperature,
		Headers:     llmReq.Headers,
	})
	metrics.OutboundDuration.Observe(time.Since(callStart).Seconds())
	if callErr != nil {
		oerr, _ := callErr.(*outbound.Error)
		if oerr != nil && oerr.Kind == outbound.ErrUpstreamTimeout {
			metrics.OutboundCalls.WithLabelValues("timeout").Inc()
			outcome = "upstream_timeout"
			writeError(w, http.StatusGatewayTimeout, outcome, "provider request timed out")
			return
		}
		if oerr != nil && (oerr.Kind == outbound.ErrDisallowedHost || oerr.Kind == outbound.ErrBlockedAddress) {
			// provider_url should already have failed LLMRequest.Validate's
			// allowlist check; this is the belt for the case it didn't
			// (e.g. a DNS rebind discovered only at dial time).
			metrics.OutboundCalls.WithLabelValues("disallowed").Inc()
			outcome = "invalid_payload"
			writeError(w, http.StatusBadRequest, outcome, "request could not be processed")
			return
		}
		metrics.OutboundCalls.WithLabelValues("error").Inc()
		outcome = "upstream_error"
		writeError(w, http.StatusBadGateway, outcome, "provider request failed")
		return
	}
	metrics.OutboundCalls.WithLabelValues("ok").Inc()

	out := protocol.Output{Text: resp.Text, CleanText: resp.Text}

	r5, err := receipt.Build(s.keys.SigningKey(), receipt.BuildParams{
		NodePubkeyB64URL: s.keys.NodePubkeyBase64URL(),
		RequestID:        uuid.NewString(),
		ActionType:       ActionType,
		PolicyID:         PolicyID,
		Request:          receipt.Request{Inputs: llmReq.Subset()},
		Output:           receipt.Output{CleanText: out.CleanText, Text: out.Text},
		Payment:          receipt.Payment{Type: "x402", PaymentCommitment: acceptance.PaymentCommitment},
		ValiditySeconds:  s.cfg.ReceiptValiditySeconds,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generation_failed", "internal error")
		return
	}
	actionReq := protocol.ActionRequest{
		PolicyID:   PolicyID,
		ActionType: ActionType,
		Prompt:     "[commitment:" + inputsCommitment + "]",
	}
	s.log.Debug("admission action request built", logger.String("policy_id", actionReq.PolicyID), logger.String("prompt", actionReq.Prompt))
	metrics.ReceiptsIssued.Inc()

	sealed := protocol.SealedResponse{Text: resp.Text, Usage: protocol.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens}, RequestNonce: req.Nonce}
	sealedBytes, err := json.Marshal(sealed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generation_failed", "internal error")
		return
	}
	env, err := hpke.Seal(sealedBytes, userPubkey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generation_failed", "internal error")
		return
	}

	outcome = "ok"
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"encrypted_response":        canon.Base64URL(env.Ciphertext),
		"response_ephemeral_pubkey": canon.Hex(env.EphemeralPubkey),
		"response_nonce":            canon.Hex(env.Nonce),
		"receipt":                   r5,
	})
}

// openEnvelope parses and decrypts the confidential envelope. Per the
// EncryptedEnvelope entity, ciphertext is base64url and ephemeral_pubkey
// / nonce / user_pubkey are hex; every failure — parse, curve-point, or
// GCM tag — collapses into a single untyped error so the caller cannot
// distinguish the cause.
func (s *Server) openEnvelope(req protocol.GenerateRequest) (*protocol.LLMRequest, []byte, error) {
	ciphertext, err := canon.DecodeBase64URL(req.EncryptedPayload)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid encrypted_payload")
	}
	ephemeral, err := canon.DecodeHex(req.EphemeralPubkey)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid ephemeral_pubkey")
	}
	nonce, err := canon.DecodeHex(req.Nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid nonce")
	}
	userPubkey, err := canon.DecodeHex(req.UserPubkey)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid user_pubkey")
	}

	env := &hpke.Envelope{Ciphertext: ciphertext, EphemeralPubkey: ephemeral, Nonce: nonce}
	plaintext, err := hpke.Open(env, s.keys.EncryptionKey())
	if err != nil {
		return nil, nil, fmt.Errorf("envelope open failed")
	}

	var llmReq protocol.LLMRequest
	if err := json.Unmarshal(plaintext, &llmReq); err != nil {
		return nil, nil, fmt.Errorf("malformed decrypted payload")
	}
	if err := llmReq.Validate(); err != nil {
		return nil, nil, err
	}

	return &llmReq, userPubkey, nil
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Request struct {
			Inputs      interface{} `json:"inputs"`
			Constraints interface{} `json:"constraints"`
			LLM         interface{} `json:"llm"`
		} `json:"request"`
		Output struct {
			Text      string `json:"text"`
			CleanText string `json:"clean_text"`
		} `json:"output"`
		Receipt receipt.Receipt `json:"receipt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "malformed verify request")
		return
	}

	result := s.verify.Verify(&body.Receipt,
		receipt.Request{Inputs: body.Request.Inputs, Constraints: body.Request.Constraints, LLM: body.Request.LLM},
		receipt.Output{Text: body.Output.Text, CleanText: body.Output.CleanText},
	)
	metrics.ReceiptVerifyResults.WithLabelValues(result.Reason).Inc()

	if result.Valid {
		writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": false, "reason": result.Reason})
}

func convertMessages(in []protocol.Message) []outbound.Message {
	out := make([]outbound.Message, len(in))
	for i, m := range in {
		out[i] = outbound.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}
