// Package signature signs webhook bodies and verifies received signatures.
//
// The signature is the lowercase hex HMAC-SHA256 of the exact request body,
// keyed with the subscription's shared secret. Receivers must verify against
// the raw bytes they received, never a re-serialized copy.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	return hex.EncodeToString(compute(payload, secret))
}

// Verify reports whether signatureHex is the signature of payload under
// secret. The comparison runs in constant time for well-formed signatures.
func Verify(payload []byte, secret, signatureHex string) bool {
	got, err := hex.DecodeString(signatureHex)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, compute(payload, secret))
}

func compute(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
