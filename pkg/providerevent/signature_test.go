package providerevent_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/providerevent"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"type":"sandbox.lifecycle.paused","sandboxId":"sbx-1"}`)

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	valid := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	assert.True(t, providerevent.VerifySignature(secret, body, valid))
	assert.False(t, providerevent.VerifySignature(secret, body, valid+"x"))
	assert.False(t, providerevent.VerifySignature([]byte("wrong-secret"), body, valid))
}
