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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionRequests tracks requests entering the admission pipeline.
	AdmissionRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "requests_total",
			Help:      "Total requests seen by the admission pipeline",
		},
		[]string{"outcome"}, // ok, invalid_payload, legacy_mode_disabled, replay_detected, upstream_timeout, upstream_error, generation_failed
	)

	// AdmissionDuration tracks end-to-end pipeline latency.
	AdmissionDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "duration_seconds",
			Help:      "Admission pipeline duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ReceiptsIssued tracks receipts built by the receipt engine.
	ReceiptsIssued = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receipt",
			Name:      "issued_total",
			Help:      "Total receipts issued",
		},
	)

	// ReceiptVerifyResults tracks receipt verification outcomes by reason.
	ReceiptVerifyResults = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receipt",
			Name:      "verify_total",
			Help:      "Total receipt verifications by result",
		},
		[]string{"result"}, // ok, or a verify error kind
	)

	// PaymentChallenges tracks 402 challenges issued.
	PaymentChallenges = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "challenges_total",
			Help:      "Total x402 payment challenges issued",
		},
	)

	// OutboundCalls tracks SSRF-safe outbound calls by result kind.
	OutboundCalls = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "calls_total",
			Help:      "Total outbound calls by result",
		},
		[]string{"result"}, // ok, disallowed, timeout, error
	)

	// OutboundDuration tracks outbound call latency.
	OutboundDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "duration_seconds",
			Help:      "Outbound call duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
		},
	)

	// ISMEvents tracks ISM admission decisions.
	ISMEvents = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ism",
			Name:      "events_total",
			Help:      "Total input sanitization events by outcome",
		},
		[]string{"outcome"}, // accepted, rejected_too_large, rejected_clock_error, rejected
	)

	// RateLimitDecisions tracks per-client token bucket outcomes.
	RateLimitDecisions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total rate limiter decisions",
		},
		[]string{"outcome"}, // allowed, throttled
	)
)
