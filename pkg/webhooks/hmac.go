// Package webhooks verifies the HMAC signature the signature provider puts
// on its callback requests.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

const SignatureHeader = "X-Signature"

// VerifyHMAC checks the hex-encoded HMAC-SHA256 of the raw body carried in
// the X-Signature header. An empty secret disables verification (dev mode).
func VerifyHMAC(headers http.Header, rawBody []byte, secret string) bool {
	if strings.TrimSpace(secret) == "" {
		return true
	}
	sigHex := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHex == "" {
		return false
	}
	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return hmac.Equal(mac.Sum(nil), provided)
}
