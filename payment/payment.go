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

// Package payment implements the x402 v2 payment-challenge protocol:
// the 402 body VIN returns on unauthenticated requests, and the
// records-only acceptance check on subsequent requests. No settlement
// facilitator is contacted; a production deployment integrates one at
// the call site that uses the acceptance result.
package payment

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/vin-protocol/vin/canon"
)

// PaymentRequirements describes one accepted payment scheme, per the
// x402 v2 schema.
type PaymentRequirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"` // CAIP-2, e.g. eip155:8453
	Amount            string            `json:"amount"`  // minor units
	Asset             string            `json:"asset"`
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Extra             map[string]string `json:"extra"`
}

// Resource describes the protected resource a challenge is issued for.
type Resource struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// Challenge is the full x402 v2 402 response body.
type Challenge struct {
	X402Version int                   `json:"x402Version"`
	Resource    Resource              `json:"resource"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// Gate evaluates payment acceptance and builds challenges from static
// configuration.
type Gate struct {
	PayTo       string
	PriceAmount string
	Network     string
	TestMode    bool
}

// NewGate builds a Gate from configuration values.
func NewGate(payTo, priceAmount, network string, testMode bool) *Gate {
	return &Gate{PayTo: payTo, PriceAmount: priceAmount, Network: network, TestMode: testMode}
}

// Challenge builds the 402 challenge body for resourceURL.
func (g *Gate) Challenge(resourceURL string) Challenge {
	return Challenge{
		X402Version: 2,
		Resource: Resource{
			URL:         resourceURL,
			Description: "VIN confidential inference",
			MimeType:    "application/json",
		},
		Accepts: []PaymentRequirements{
			{
				Scheme:            "exact",
				Network:           g.Network,
				Amount:            g.PriceAmount,
				Asset:             "",
				PayTo:             g.PayTo,
				MaxTimeoutSeconds: 120,
				Extra: map[string]string{
					"assetTransferMethod": "transfer",
					"name":                "VIN",
					"version":             "2",
				},
			},
		},
	}
}

// WriteChallenge writes the 402 status, the PAYMENT-REQUIRED header
// (base64 of the JSON body), and the JSON body itself.
func (g *Gate) WriteChallenge(w http.ResponseWriter, resourceURL string) error {
	challenge := g.Challenge(resourceURL)
	body, err := json.Marshal(challenge)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("PAYMENT-REQUIRED", base64.StdEncoding.EncodeToString(body))
	w.WriteHeader(http.StatusPaymentRequired)
	_, err = w.Write(body)
	return err
}

// Acceptance is the outcome of checking a request for payment evidence.
type Acceptance struct {
	Accepted          bool
	PaymentCommitment string // sha256(utf8(header_value)) hex, when accepted
}

// Check evaluates a request against the acceptance order: the
// PAYMENT-SIGNATURE header (v2, preferred), the X-Payment header (v1
// fallback), or — only in test mode — a paid=true query parameter.
// This core records the outcome; it never verifies payment evidence
// against a settlement facilitator.
func (g *Gate) Check(r *http.Request) Acceptance {
	if sig := r.Header.Get("PAYMENT-SIGNATURE"); sig != "" {
		return Acceptance{Accepted: true, PaymentCommitment: canon.HashText(sig)}
	}
	if xpay := r.Header.Get("X-Payment"); xpay != "" {
		return Acceptance{Accepted: true, PaymentCommitment: canon.HashText(xpay)}
	}
	if g.TestMode && r.URL.Query().Get("paid") == "true" {
		return Acceptance{Accepted: true, PaymentCommitment: canon.HashText("test-mode")}
	}
	return Acceptance{Accepted: false}
}
