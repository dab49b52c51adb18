// Package signing implements the HMAC-SHA256 request signature shared
// between the platform and its registered apps. The signed message is the
// raw request body concatenated with the request timestamp.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex-encoded HMAC-SHA256 of body||timestamp under secret.
func Sign(secret []byte, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time.
// Malformed hex input never verifies.
func Verify(secret []byte, body []byte, timestamp string, signature string) bool {
	supplied, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	mac.Write([]byte(timestamp))
	return hmac.Equal(supplied, mac.Sum(nil))
}
