package providerevent

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// VerifySignature checks an inbound webhook's signature header against
// base64url(HMAC-SHA256(secret, body)) with trailing '=' padding
// stripped, matching how every provider in this pack signs webhook
// bodies. Constant-time compare against timing attacks.
func VerifySignature(secret []byte, body []byte, header string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(header)) == 1
}
