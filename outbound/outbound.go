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

// Package outbound makes the one HTTPS call the admission pipeline
// allows: to an allowlisted LLM provider, with the host resolved
// through a pinned DNS cache and checked against the full SSRF
// blocked-range table before every connection. No other package in
// this module is permitted to dial an arbitrary host.
package outbound

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/vin-protocol/vin/cache"
)

// AllowedHosts is the compile-time provider allowlist. It is mutable
// only by changing this source file; there is no environment-variable
// or configuration override.
var AllowedHosts = map[string]bool{
	"api.openai.com":                    true,
	"api.anthropic.com":                 true,
	"api.together.xyz":                  true,
	"api.groq.com":                      true,
	"generativelanguage.googleapis.com": true,
	"api.mistral.ai":                    true,
	"api.perplexity.ai":                 true,
	"api.deepseek.com":                  true,
	"openrouter.ai":                     true,
}

const (
	dnsPinTTL       = 60 * time.Second
	dnsPinCacheSize = 256
	callDeadline    = 120 * time.Second
	resolveDeadline = 5 * time.Second
)

// ErrorKind distinguishes the surfaced failure modes.
type ErrorKind string

const (
	ErrDisallowedHost  ErrorKind = "disallowed_host"
	ErrBlockedAddress  ErrorKind = "blocked_address"
	ErrUpstreamError   ErrorKind = "upstream_error"
	ErrUpstreamTimeout ErrorKind = "upstream_timeout"
)

// Error carries a surfaced failure kind plus, for ErrUpstreamError, the
// provider's HTTP status code.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("outbound: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("outbound: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Caller issues the single outbound provider request per generation,
// enforcing the allowlist, DNS pin, and blocked-range checks.
type Caller struct {
	dnsPins *cache.TTLCache[string, netip.Addr]
	client  *http.Client
}

// NewCaller builds a Caller with its own DNS-pin cache and an
// http.Client whose dialer always connects to the pinned address.
func NewCaller() *Caller {
	c := &Caller{dnsPins: cache.New[string, netip.Addr](dnsPinCacheSize, dnsPinTTL)}
	c.client = &http.Client{
		Timeout: callDeadline,
		Transport: &http.Transport{
			DialContext: c.dialPinned,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
	return c
}

// Response is the provider-agnostic shape the pipeline builds from a
// successful call.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Usage mirrors a provider's reported token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Message is one turn of the conversation sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallParams carries everything needed to shape and authenticate the
// outbound request.
type CallParams struct {
	ProviderURL string
	APIKey      string
	Model       string
	Messages    []Message
	MaxTokens   *int
	Temperature *float64
	Headers     map[string]string
}

// Call validates providerURL against the allowlist and blocked-range
// rules, resolves and pins its host, and issues the request shaped for
// the auto-detected provider.
func (c *Caller) Call(ctx context.Context, p CallParams) (*Response, error) {
	u, err := url.Parse(p.ProviderURL)
	if err != nil || u.Scheme != "https" {
		return nil, &Error{Kind: ErrDisallowedHost, Err: errors.New("provider_url must be an https URL")}
	}
	host := u.Hostname()
	if !AllowedHosts[host] {
		return nil, &Error{Kind: ErrDisallowedHost, Err: fmt.Errorf("host %q is not allowlisted", host)}
	}

	if _, err := c.resolveAndPin(ctx, host); err != nil {
		return nil, &Error{Kind: ErrBlockedAddress, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, callDeadline)
	defer cancel()

	body, contentType := shapeRequest(host, p)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.ProviderURL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: ErrUpstreamError, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	applyAuth(req, host, p.APIKey)
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: ErrUpstreamTimeout, Err: err}
		}
		return nil, &Error{Kind: ErrUpstreamError, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrUpstreamError, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Kind: ErrUpstreamError, StatusCode: resp.StatusCode, Err: fmt.Errorf("provider returned %d", resp.StatusCode)}
	}

	return parseResponse(host, p.Model, raw)
}

// resolveAndPin resolves host, validates every candidate address
// against the blocked-range table, pins the first acceptable one, and
// reuses an unexpired pin on subsequent calls.
func (c *Caller) resolveAndPin(ctx context.Context, host string) (netip.Addr, error) {
	if addr, ok := c.dnsPins.Get(host); ok {
		return addr, nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, resolveDeadline)
	defer cancel()

	ips, err := net.DefaultResolver.LookupIP(resolveCtx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addr = unmapIPv4(addr)
		if isBlockedAddr(addr) {
			continue
		}
		c.dnsPins.Add(host, addr)
		return addr, nil
	}
	return netip.Addr{}, fmt.Errorf("no acceptable address for %s", host)
}

// dialPinned connects to the pinned address for the host in addr
// rather than re-resolving, closing the DNS-rebinding window between
// the check and the connect.
func (c *Caller) dialPinned(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	pinned, ok := c.dnsPins.Get(host)
	if !ok {
		return nil, fmt.Errorf("outbound: no DNS pin for %s", host)
	}
	dialer := &net.Dialer{Timeout: resolveDeadline}
	return dialer.DialContext(ctx, network, net.JoinHostPort(pinned.String(), port))
}

// unmapIPv4 unwraps an IPv4-mapped IPv6 address (::ffff:a.b.c.d) to its
// embedded IPv4 form so the blocked-range check cannot be bypassed by
// mapping.
func unmapIPv4(addr netip.Addr) netip.Addr {
	if addr.Is4In6() {
		return addr.Unmap()
	}
	return addr
}

var blockedIPv4Prefixes = mustParsePrefixes(
	"10.0.0.0/8",
	"127.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"100.64.0.0/10",
)

func mustParsePrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			panic(err)
		}
		out = append(out, p)
	}
	return out
}

// isBlockedAddr reports whether addr falls in any disallowed range:
// private, loopback, link-local, CGNAT, or unroutable IPv6 space.
func isBlockedAddr(addr netip.Addr) bool {
	if addr.Is4() {
		for _, p := range blockedIPv4Prefixes {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}
	if addr.IsUnspecified() || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
		return true
	}
	// fc00::/7 unique local addresses.
	if addr.Is6() && addr.AsSlice()[0]&0xfe == 0xfc {
		return true
	}
	return false
}

func applyAuth(req *http.Request, host, apiKey string) {
	switch {
	case strings.Contains(host, "anthropic.com"):
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func shapeRequest(host string, p CallParams) ([]byte, string) {
	switch {
	case strings.Contains(host, "anthropic.com"):
		body, _ := json.Marshal(anthropicRequest{
			Model:       p.Model,
			Messages:    p.Messages,
			MaxTokens:   orDefault(p.MaxTokens, 1024),
			Temperature: p.Temperature,
		})
		return body, "application/json"
	default:
		body, _ := json.Marshal(openAICompatRequest{
			Model:       p.Model,
			Messages:    p.Messages,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
		})
		return body, "application/json"
	}
}

func parseResponse(host, model string, raw []byte) (*Response, error) {
	switch {
	case strings.Contains(host, "anthropic.com"):
		var resp anthropicResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, &Error{Kind: ErrUpstreamError, Err: err}
		}
		var text strings.Builder
		for _, block := range resp.Content {
			text.WriteString(block.Text)
		}
		return &Response{
			Text:  text.String(),
			Model: model,
			Usage: Usage{PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.InputTokens + resp.Usage.OutputTokens},
		}, nil
	default:
		var resp openAICompatResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, &Error{Kind: ErrUpstreamError, Err: err}
		}
		text := ""
		if len(resp.Choices) > 0 {
			text = resp.Choices[0].Message.Content
		}
		return &Response{
			Text:  text,
			Model: model,
			Usage: Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens},
		}, nil
	}
}

func orDefault(v *int, d int) int {
	if v == nil {
		return d
	}
	return *v
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type openAICompatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type openAICompatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
