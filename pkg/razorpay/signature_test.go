package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_Valid(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{}}`)
	secret := "whsec_test"

	assert.NoError(t, VerifySignature(body, sign(body, secret), secret))
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)

	err := VerifySignature(body, sign(body, "whsec_other"), "whsec_test")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	body := []byte(`{"event":"payment.captured","amount":100}`)
	secret := "whsec_test"
	signature := sign(body, secret)

	tampered := []byte(`{"event":"payment.captured","amount":999}`)
	err := VerifySignature(tampered, signature, secret)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignature_EmptySignature(t *testing.T) {
	err := VerifySignature([]byte(`{}`), "", "whsec_test")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestClientVerifyWebhookSignature(t *testing.T) {
	c := New("rzp_key", "rzp_secret", "whsec_test")
	body := []byte(`{"event":"token.confirmed"}`)

	assert.NoError(t, c.VerifyWebhookSignature(body, sign(body, "whsec_test")))
	assert.Error(t, c.VerifyWebhookSignature(body, "deadbeef"))
}
