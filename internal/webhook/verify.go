// Package webhook verifies inbound n8n webhook signatures.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// ExtractSignature pulls the signature value out of a header. The header
// may carry the bare signature or a comma-separated key=value list such
// as "t=123,v1=abcdef". Recognized keys are v1, sha256 and signature,
// matched case-insensitively. A header with no recognized key is treated
// as a bare signature, so base64 padding never confuses extraction.
func ExtractSignature(header string) string {
	header = strings.TrimSpace(header)
	if strings.Contains(header, ",") {
		for _, part := range strings.Split(header, ",") {
			if v, ok := recognizedPair(strings.TrimSpace(part)); ok {
				return v
			}
		}
	}
	if v, ok := recognizedPair(header); ok {
		return v
	}
	return header
}

func recognizedPair(s string) (string, bool) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || value == "" {
		return "", false
	}
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "v1", "sha256", "signature":
		return strings.TrimSpace(value), true
	}
	return "", false
}

// VerifySignature checks an HMAC-SHA256 signature over body using
// secret. The provided signature may be hex or base64 encoded. An empty
// secret disables verification and every payload is accepted.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(signature); err == nil {
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return true
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil {
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return true
		}
	}
	return false
}
