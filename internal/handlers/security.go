package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

const signatureHeader = "X-Pushsub-Signature"

// validateSharedSecret checks X-Pushsub-Signature against HMAC-SHA256(body, secret).
func validateSharedSecret(r *http.Request, secret string) bool {
	sig := r.Header.Get(signatureHeader)
	if sig == "" || secret == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body)) // restore for downstream handlers

	return hmac.Equal([]byte(sig), []byte(Sign(body, secret)))
}

// Sign returns the hex HMAC-SHA256 of body, as expected in the signature header.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
