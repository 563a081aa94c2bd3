// Package crypto signs and verifies requests exchanged with services that
// authenticate with a shared secret, such as the decision oracle.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Signature header names.
const (
	HeaderKey       = "X-Scalp-Key"
	HeaderTimestamp = "X-Scalp-Timestamp"
	HeaderSignature = "X-Scalp-Signature"
)

// HMACAuth holds the credentials for HMAC-authenticated requests.
type HMACAuth struct {
	Key    string // key id sent in the clear
	Secret string
}

// Headers returns the signature headers for a request. The signature is
// HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
func (h *HMACAuth) Headers(method, path string, body []byte) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKey:       h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: h.sign(ts, method, path, body),
	}
}

// Verify checks a signature produced by Headers. Timestamps further than
// skew from now are rejected.
func (h *HMACAuth) Verify(method, path string, body []byte, ts, sig string, now time.Time, skew time.Duration) bool {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if d := now.Sub(time.Unix(unix, 0)); d > skew || d < -skew {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(h.sign(ts, method, path, body)))
}

func (h *HMACAuth) sign(ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(ts + method + path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
