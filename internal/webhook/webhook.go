// Package webhook verifies GitHub-style webhook signatures for the
// hub's optional /webhook/github endpoint (spec.md §4.3), grounded on
// jvs-project-jvs/pkg/webhook/webhook.go's hmac.New(sha256, secret)
// signing approach, used here for verification instead of signing.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HeaderName is the GitHub webhook signature header.
const HeaderName = "X-Hub-Signature-256"

// Verify reports whether signatureHeader (e.g. "sha256=<hex>") is a
// valid HMAC-SHA256 signature of payload under secret, using a
// constant-time comparison (spec.md §4.3, §9 "Auth model").
func Verify(payload []byte, signatureHeader, secret string) bool {
	if secret == "" {
		// No secret configured: verification is skipped (spec.md §6).
		return true
	}
	const prefix = "sha256="
	if !strings.HasPrefix(signatureHeader, prefix) {
		return false
	}
	given, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	return hmac.Equal(given, expected)
}
