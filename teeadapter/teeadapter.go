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

// Package teeadapter speaks the narrow local HTTP-RPC contract exposed
// by a platform agent running alongside a TEE enclave: attestation,
// key derivation, and an availability probe. It never retries; callers
// decide whether an unavailable adapter is fatal.
package teeadapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vin-protocol/vin/internal/logger"
)

// callDeadline bounds every RPC to the platform agent.
const callDeadline = 10 * time.Second

// Attestation is the result of an attestation RPC. Type is "none" and
// Available is false whenever the adapter could not reach the agent or
// the agent reported no enclave, which the caller must treat the same
// way regardless of the underlying cause.
type Attestation struct {
	Type         string `json:"type"`
	Available    bool   `json:"available"`
	Report       []byte `json:"report,omitempty"`
	Measurement  []byte `json:"measurement,omitempty"`
	SignerPubkey []byte `json:"signer_pubkey,omitempty"`
}

type attestationWire struct {
	Type         string `json:"type"`
	Available    bool   `json:"available"`
	Report       string `json:"report,omitempty"`
	Measurement  string `json:"measurement,omitempty"`
	SignerPubkey string `json:"signer_pubkey,omitempty"`
}

// Adapter is a client for the local platform agent's TEE RPC surface.
type Adapter struct {
	baseURL string
	client  *http.Client
	logger  logger.Logger
}

// New builds an Adapter that talks to the platform agent at baseURL.
// An empty baseURL is valid and simply makes Available always return
// false, which is the expected configuration outside a TEE host.
func New(baseURL string) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: callDeadline},
		logger:  logger.GetDefaultLogger(),
	}
}

// Available reports whether the platform agent is reachable and backed
// by a live enclave. Any transport or protocol error is swallowed and
// reported as false; the adapter does not retry.
func (a *Adapter) Available(ctx context.Context) bool {
	if a.baseURL == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, callDeadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/available", nil)
	if err != nil {
		return false
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Debug("tee adapter unavailable", logger.Error(err))
		return false
	}
	defer resp.Body.Close()

	var out struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.Available
}

// DeriveKey asks the platform agent to derive key material along path.
// It returns (nil, nil) when the agent reports no such path rather than
// treating that as an error, matching the "bytes | none" contract.
func (a *Adapter) DeriveKey(ctx context.Context, path string) ([]byte, error) {
	if a.baseURL == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, callDeadline)
	defer cancel()

	body, err := json.Marshal(struct {
		Path string `json:"path"`
	}{Path: path})
	if err != nil {
		return nil, fmt.Errorf("teeadapter: encode derive_key request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/derive_key", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("teeadapter: derive_key request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("teeadapter: derive_key returned status %d", resp.StatusCode)
	}

	var out struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("teeadapter: decode derive_key response: %w", err)
	}
	if out.Key == "" {
		return nil, nil
	}

	key, err := base64.StdEncoding.DecodeString(out.Key)
	if err != nil {
		return nil, fmt.Errorf("teeadapter: decode derived key: %w", err)
	}
	return key, nil
}

// AttestationReport requests an attestation over reportData, optionally
// bound to bindingPubkey. On any failure it returns the zero-value,
// type-none Attestation rather than an error, per the adapter contract.
func (a *Adapter) AttestationReport(ctx context.Context, reportData, bindingPubkey []byte) Attestation {
	unavailable := Attestation{Type: "none", Available: false}

	if a.baseURL == "" {
		return unavailable
	}

	ctx, cancel := context.WithTimeout(ctx, callDeadline)
	defer cancel()

	reqBody := struct {
		ReportData    string `json:"report_data"`
		BindingPubkey string `json:"binding_pubkey,omitempty"`
	}{
		ReportData: base64.StdEncoding.EncodeToString(reportData),
	}
	if len(bindingPubkey) > 0 {
		reqBody.BindingPubkey = base64.StdEncoding.EncodeToString(bindingPubkey)
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return unavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/attestation", bytes.NewReader(body))
	if err != nil {
		return unavailable
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Debug("tee attestation request failed", logger.Error(err))
		return unavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unavailable
	}

	var wire attestationWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return unavailable
	}
	if !wire.Available {
		return unavailable
	}

	att := Attestation{Type: wire.Type, Available: true}
	att.Report, _ = base64.StdEncoding.DecodeString(wire.Report)
	att.Measurement, _ = base64.StdEncoding.DecodeString(wire.Measurement)
	att.SignerPubkey, _ = base64.StdEncoding.DecodeString(wire.SignerPubkey)
	return att
}
