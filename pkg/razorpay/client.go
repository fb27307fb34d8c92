// Package razorpay wraps the Razorpay SDK behind a narrow interface so the
// business layer does not depend on SDK types and webhook signatures can be
// verified without network access.
package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
)

// ErrInvalidSignature is returned when a webhook signature does not match.
var ErrInvalidSignature = errors.New("razorpay: webhook signature mismatch")

// Gateway is the subset of gateway operations the service uses.
type Gateway interface {
	CreateCustomer(name, email, contact string, notes map[string]any) (map[string]any, error)
	FetchCustomer(customerID string) (map[string]any, error)
	CreateMandateOrder(customerID string, amount int64, currency, method string, notes map[string]any) (map[string]any, error)
	FetchPayment(paymentID string) (map[string]any, error)
	CapturePayment(paymentID string, amount int64, currency string) (map[string]any, error)
	RefundPayment(paymentID string, amount int64, notes map[string]any) (map[string]any, error)
	VerifyWebhookSignature(body []byte, signature string) error
}

// Client is the SDK-backed Gateway implementation.
type Client struct {
	sdk           *razorpay.Client
	webhookSecret string
}

// New creates a gateway client from API credentials.
func New(key, secret, webhookSecret string) *Client {
	return &Client{
		sdk:           razorpay.NewClient(key, secret),
		webhookSecret: webhookSecret,
	}
}

// CreateCustomer registers a customer with the gateway.
// fail_existing=0 makes the call idempotent on (email, contact): the gateway
// returns the existing customer instead of an error.
func (c *Client) CreateCustomer(name, email, contact string, notes map[string]any) (map[string]any, error) {
	data := map[string]interface{}{
		"name":          name,
		"email":         email,
		"contact":       contact,
		"fail_existing": "0",
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}
	resp, err := c.sdk.Customer.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay: create customer: %w", err)
	}
	return resp, nil
}

// FetchCustomer fetches a customer by gateway ID.
func (c *Client) FetchCustomer(customerID string) (map[string]any, error) {
	resp, err := c.sdk.Customer.Fetch(customerID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay: fetch customer %s: %w", customerID, err)
	}
	return resp, nil
}

// CreateMandateOrder creates an order that registers a recurring-payment
// mandate (e-mandate / UPI autopay) for the customer. amount is in the
// currency's smallest unit.
func (c *Client) CreateMandateOrder(customerID string, amount int64, currency, method string, notes map[string]any) (map[string]any, error) {
	data := map[string]interface{}{
		"amount":          amount,
		"currency":        currency,
		"customer_id":     customerID,
		"method":          method,
		"payment_capture": 1,
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}
	resp, err := c.sdk.Order.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay: create mandate order: %w", err)
	}
	return resp, nil
}

// FetchPayment fetches a payment by gateway ID.
func (c *Client) FetchPayment(paymentID string) (map[string]any, error) {
	resp, err := c.sdk.Payment.Fetch(paymentID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay: fetch payment %s: %w", paymentID, err)
	}
	return resp, nil
}

// CapturePayment captures an authorized payment.
func (c *Client) CapturePayment(paymentID string, amount int64, currency string) (map[string]any, error) {
	data := map[string]interface{}{
		"currency": currency,
	}
	resp, err := c.sdk.Payment.Capture(paymentID, int(amount), data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay: capture payment %s: %w", paymentID, err)
	}
	return resp, nil
}

// RefundPayment refunds a captured payment, fully when amount is 0.
func (c *Client) RefundPayment(paymentID string, amount int64, notes map[string]any) (map[string]any, error) {
	if amount <= 0 {
		// Full refund: resolve the captured amount first.
		payment, err := c.FetchPayment(paymentID)
		if err != nil {
			return nil, err
		}
		captured, ok := payment["amount"].(float64)
		if !ok {
			return nil, fmt.Errorf("razorpay: payment %s has no amount field", paymentID)
		}
		amount = int64(captured)
	}
	data := map[string]interface{}{}
	if len(notes) > 0 {
		data["notes"] = notes
	}
	resp, err := c.sdk.Payment.Refund(paymentID, int(amount), data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay: refund payment %s: %w", paymentID, err)
	}
	return resp, nil
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header against the
// raw request body. The signature is HMAC-SHA256(body, webhook secret), hex
// encoded. Comparison is constant time.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) error {
	return VerifySignature(body, signature, c.webhookSecret)
}

// VerifySignature verifies an HMAC-SHA256 hex signature over body.
func VerifySignature(body []byte, signature, secret string) error {
	if signature == "" {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
