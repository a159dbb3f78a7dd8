// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package core

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// FingerprintHeader lets clients pin their own identity.
	FingerprintHeader = "X-Stellar-Fingerprint"
	// FingerprintCookie carries the identity between HTTP requests.
	FingerprintCookie = "stellar_fingerprint"
)

// ClientFingerprint derives a stable identity for an HTTP client.
func ClientFingerprint(r *http.Request) string {
	if fp := r.Header.Get(FingerprintHeader); fp != "" {
		return fp
	}
	if c, err := r.Cookie(FingerprintCookie); err == nil && c.Value != "" {
		return c.Value
	}

	host := RemoteIP(r)
	if host == "" {
		return uuid.New().String()
	}

	hash := sha256.Sum256([]byte(host + "|" + r.Header.Get("User-Agent")))
	return hex.EncodeToString(hash[:])[:24]
}

// RemoteIP returns the client address, honouring proxy headers.
func RemoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

// SplitAddr splits a net.Addr style "host:port" string. Unparseable input
// yields the whole string as host and an empty port.
func SplitAddr(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, ""
	}
	return host, port
}
