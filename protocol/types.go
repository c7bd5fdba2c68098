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

// Package protocol holds the wire types that cross the VIN HTTP
// surface: the decrypted LLM request, the encrypted envelope, and the
// generate/action request and response bodies; the receipt type lives
// in package receipt. Field names are canonical protocol names and must not be
// renamed even where Go convention would prefer otherwise, because
// they are serialized directly.
package protocol

import (
	"fmt"
	"net/url"

	"github.com/vin-protocol/vin/outbound"
)

// Message is one entry of an LLMRequest's ordered conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	maxMessageContentBytes = 1 << 20 // 1 MB
	maxMessages            = 100
	maxTokensCeiling       = 100_000
)

var validRoles = map[string]bool{"system": true, "user": true, "assistant": true}

// LLMRequest is the decrypted payload a confidential envelope carries.
type LLMRequest struct {
	ProviderURL string            `json:"provider_url"`
	APIKey      string            `json:"api_key"`
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Validate enforces the LLMRequest invariants from the protocol
// schema. It never includes api_key in any returned error.
func (r *LLMRequest) Validate() error {
	if r.ProviderURL == "" {
		return fmt.Errorf("provider_url is required")
	}
	// Reject anything outside the outbound allowlist here, at the schema
	// boundary, rather than letting it reach the outbound caller: a
	// userinfo trick like "https://api.openai.com@127.0.0.1/" parses to
	// Host=127.0.0.1 and must fail as a malformed request, not a 502.
	u, err := url.Parse(r.ProviderURL)
	if err != nil || u.Scheme != "https" || !outbound.AllowedHosts[u.Hostname()] {
		return fmt.Errorf("provider_url must be an https URL to an allowlisted provider")
	}
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must be non-empty")
	}
	if len(r.Messages) > maxMessages {
		return fmt.Errorf("messages exceeds maximum of %d entries", maxMessages)
	}
	for i, m := range r.Messages {
		if !validRoles[m.Role] {
			return fmt.Errorf("messages[%d].role is invalid", i)
		}
		if len(m.Content) > maxMessageContentBytes {
			return fmt.Errorf("messages[%d].content exceeds maximum size", i)
		}
	}
	if r.MaxTokens != nil && (*r.MaxTokens <= 0 || *r.MaxTokens > maxTokensCeiling) {
		return fmt.Errorf("max_tokens out of range")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature out of range")
	}
	return nil
}

// InputsCommitmentSubset is the {provider_url, model, messages} subset
// that InputsCommitment hashes; api_key and everything else is
// deliberately excluded.
type InputsCommitmentSubset struct {
	ProviderURL string    `json:"provider_url"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
}

// Subset extracts the commitment subset of r.
func (r *LLMRequest) Subset() InputsCommitmentSubset {
	return InputsCommitmentSubset{ProviderURL: r.ProviderURL, Model: r.Model, Messages: r.Messages}
}

// EncryptedEnvelope is the confidential request/response wire shape.
type EncryptedEnvelope struct {
	Ciphertext      string `json:"ciphertext"`       // base64, incl. GCM tag
	EphemeralPubkey string `json:"ephemeral_pubkey"` // hex, 33-byte compressed secp256k1
	Nonce           string `json:"nonce"`            // hex, 12 bytes
}

// GenerateRequest is the POST /v1/generate confidential request body.
type GenerateRequest struct {
	EncryptedPayload string `json:"encrypted_payload"`
	EphemeralPubkey  string `json:"ephemeral_pubkey"`
	Nonce            string `json:"nonce"`
	UserPubkey       string `json:"user_pubkey"`

	// Request carries the legacy branch's body. It is decoded whenever
	// present, whatever allow_legacy says.
	Request *ActionRequest `json:"request,omitempty"`
}

// ActionRequest is the legacy, non-encrypted request branch.
type ActionRequest struct {
	PolicyID   string                 `json:"policy_id"`
	ActionType string                 `json:"action_type"`
	Prompt     string                 `json:"prompt"`
	Inputs     map[string]interface{} `json:"inputs,omitempty"`
}

// Output is the produced text in both its clean and transport forms;
// for VIN the two are currently identical, but the receipt hashes them
// independently so a future transport-level rewrite (e.g. markdown
// stripping) does not require a schema change.
type Output struct {
	Text      string `json:"text"`
	CleanText string `json:"clean_text"`
}

// Usage mirrors a provider's token accounting, when it reports one.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// SealedResponse is the plaintext sealed back to the client under
// user_pubkey.
type SealedResponse struct {
	Text         string `json:"text"`
	Usage        Usage  `json:"usage"`
	RequestNonce string `json:"request_nonce"`
}
