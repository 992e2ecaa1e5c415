// Package crypto provides HMAC request signing for the exchange REST API
// and password-sealed secret files.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// HMACAuth holds the credentials for HMAC-signed exchange REST requests.
type HMACAuth struct {
	Key    string // API key, sent in the X-BX-APIKEY header
	Secret string // API secret, used as the HMAC key
}

// APIKeyHeader is the header carrying the API key.
const APIKeyHeader = "X-BX-APIKEY"

// SignedQuery adds the current millisecond timestamp to params and returns
// the signed query string.
//
// The signature is HMAC-SHA256(secret, k1=v1&k2=v2...) over the parameters
// sorted by key, hex encoded and appended as the last parameter.
func (h *HMACAuth) SignedQuery(params map[string]string) string {
	return h.SignedQueryAt(params, time.Now().UnixMilli())
}

// SignedQueryAt is like SignedQuery but lets the caller supply the
// timestamp (useful for deterministic testing).
func (h *HMACAuth) SignedQueryAt(params map[string]string, unixMilli int64) string {
	all := make(map[string]string, len(params)+1)
	for k, v := range params {
		all[k] = v
	}
	all["timestamp"] = strconv.FormatInt(unixMilli, 10)

	query := canonicalQuery(all)
	return query + "&signature=" + hmacSHA256Hex([]byte(h.Secret), query)
}

// Headers returns the HTTP headers for a signed request.
func (h *HMACAuth) Headers() map[string]string {
	return map[string]string{APIKeyHeader: h.Key}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// canonicalQuery joins params as k=v pairs sorted by key. Values are not
// escaped; the exchange signs the raw text.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result hex encoded.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
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
