// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"encoding/hex"
	"fmt"

	"Stencil/internal/conf"
	"Stencil/internal/data"
	"Stencil/pkg/crypto"
	"Stencil/pkg/httpclient"
	"Stencil/pkg/razorpay"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewAuthUsecase,
	NewPaymentUsecase,
	NewWeatherUsecase,
	NewAESCrypto,
	NewRazorpayGateway,
	httpclient.NewBreakerRegistry,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(UserRepo), new(*data.UserRepo)),
	wire.Bind(new(APIKeyRepo), new(*data.APIKeyRepo)),
	wire.Bind(new(PaymentRepo), new(*data.PaymentRepo)),
	wire.Bind(new(httpclient.CallRecorder), new(*data.LogStore)),
	wire.Bind(new(razorpay.Gateway), new(*razorpay.Client)),
)

// NewAESCrypto builds the AES service from the configured encryption key.
// The key is accepted raw (32 bytes) or hex encoded (64 chars).
func NewAESCrypto(c *conf.Auth) (*crypto.AESCrypto, error) {
	if c == nil || c.Encryption == nil || c.Encryption.Key == "" {
		return nil, fmt.Errorf("encryption key is required")
	}

	key := []byte(c.Encryption.Key)
	if len(key) == 64 {
		decoded, err := hex.DecodeString(c.Encryption.Key)
		if err == nil {
			key = decoded
		}
	}
	return crypto.NewAESCrypto(key)
}

// NewRazorpayGateway builds the payment gateway client from configuration.
func NewRazorpayGateway(c *conf.Vendors) *razorpay.Client {
	if c == nil || c.Razorpay == nil {
		return razorpay.New("", "", "")
	}
	return razorpay.New(c.Razorpay.Key, c.Razorpay.Secret, c.Razorpay.WebhookSecret)
}
