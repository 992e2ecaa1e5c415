package middleware

import (
	"crypto/subtle"
	"net/http"
)

// WebhookSecretHeader carries the shared secret configured in the alert
// source.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecret rejects requests whose X-Webhook-Secret header does not
// match secret. An empty secret disables the check.
func WebhookSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(WebhookSecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeUnauthorized(w, "invalid webhook secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
