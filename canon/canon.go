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

// Package canon implements RFC 8785 JSON Canonicalization (JCS) and the
// sha256-based hashing conventions built on top of it. It is the sole
// source of truth for "what bytes does a commitment cover" across the
// rest of the module.
package canon

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// JCS serializes v to RFC 8785 canonical JSON bytes: UTF-8, object keys
// sorted by UTF-16 code unit, shortest round-tripping number form, no
// insignificant whitespace, array order preserved.
//
// v may be a Go struct, map, slice, or any value encoding/json already
// knows how to marshal; it is first normalized to the generic
// nil/bool/string/float64/map/slice shape so callers can pass typed
// payloads (e.g. a receipt struct) directly rather than building
// map[string]interface{} by hand.
func JCS(v interface{}) ([]byte, error) {
	generic, err := normalize(v)
	if err != nil {
		return nil, fmt.Errorf("canon: normalize value: %w", err)
	}
	var sb strings.Builder
	if err := encode(&sb, generic); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// normalize round-trips v through encoding/json so structs and typed
// maps/slices become the generic shape encode understands.
func normalize(v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil, bool, string, float64, int, int64, uint64,
		map[string]interface{}, []interface{}, []string:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

// Hash returns sha256(JCS(v)) as the canonical commitment hash.
func Hash(v interface{}) ([]byte, error) {
	data, err := JCS(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// HashHex returns Hash(v) as lowercase hex, the wire form used for
// every *_commitment and *_hash field.
func HashHex(v interface{}) (string, error) {
	sum, err := Hash(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// HashText returns sha256(utf8(s)) as lowercase hex — the convention
// for hashing raw text rather than a canonicalized structure.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Base64URL encodes data without padding, the wire convention for
// nonces and signatures.
func Base64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeBase64URL decodes an unpadded base64url string.
func DecodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// Hex encodes data as lowercase hex, with no 0x prefix.
func Hex(data []byte) string {
	return hex.EncodeToString(data)
}

// DecodeHex decodes a lowercase, unprefixed hex string.
func DecodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func encode(sb *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
		return nil
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
		return nil
	case string:
		encodeString(sb, val)
		return nil
	case float64:
		return encodeNumber(sb, val)
	case int:
		sb.WriteString(strconv.Itoa(val))
		return nil
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
		return nil
	case uint64:
		sb.WriteString(strconv.FormatUint(val, 10))
		return nil
	case map[string]interface{}:
		return encodeObject(sb, val)
	case []interface{}:
		return encodeArray(sb, val)
	case []string:
		arr := make([]interface{}, len(val))
		for i, s := range val {
			arr[i] = s
		}
		return encodeArray(sb, arr)
	default:
		return fmt.Errorf("canon: cannot canonicalize value of type %T", v)
	}
}

func encodeObject(sb *strings.Builder, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessUTF16(keys[i], keys[j])
	})

	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		encodeString(sb, k)
		sb.WriteByte(':')
		if err := encode(sb, m[k]); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}

func encodeArray(sb *strings.Builder, arr []interface{}) error {
	sb.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			sb.WriteByte(',')
		}
		if err := encode(sb, item); err != nil {
			return err
		}
	}
	sb.WriteByte(']')
	return nil
}

// encodeNumber renders f as the shortest decimal form that round-trips,
// matching JCS's ECMAScript Number-to-String convention: plain decimal
// notation for magnitudes in [1e-6, 1e21), exponent notation otherwise.
// Non-finite values are rejected with an error.
func encodeNumber(sb *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canon: cannot canonicalize non-finite number %v", f)
	}
	if f == 0 {
		sb.WriteString("0")
		return nil
	}
	if abs := math.Abs(f); abs >= 1e-6 && abs < 1e21 {
		sb.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	// Go pads the exponent to two digits ("1e-07"); ECMAScript does not.
	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	sb.WriteString(mantissa + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0"))
	return nil
}

// encodeString writes s as a JSON string literal with the minimal
// required escaping, per RFC 8785 §3.2.2.
func encodeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(sb, `\u%04x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}

// lessUTF16 compares two strings by UTF-16 code unit, as RFC 8785
// requires for object key ordering (not by raw UTF-8 byte value, which
// diverges from UTF-16 ordering for characters outside the BMP).
func lessUTF16(a, b string) bool {
	ar := []rune(a)
	br := []rune(b)
	au := utf16Units(ar)
	bu := utf16Units(br)
	n := len(au)
	if len(bu) < n {
		n = len(bu)
	}
	for i := 0; i < n; i++ {
		if au[i] != bu[i] {
			return au[i] < bu[i]
		}
	}
	return len(au) < len(bu)
}

func utf16Units(runes []rune) []uint32 {
	units := make([]uint32, 0, len(runes))
	for _, r := range runes {
		if r > 0xFFFF {
			r -= 0x10000
			units = append(units, uint32(0xD800+(r>>10)), uint32(0xDC00+(r&0x3FF)))
		} else {
			units = append(units, uint32(r))
		}
	}
	return units
}
