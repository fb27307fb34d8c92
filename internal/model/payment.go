package model

// MandateStatus tracks the lifecycle of a recurring-payment mandate.
type MandateStatus string

// Mandate lifecycle states.
const (
	MandateCreated   MandateStatus = "created"
	MandateActive    MandateStatus = "active"
	MandatePaused    MandateStatus = "paused"
	MandateCancelled MandateStatus = "cancelled"
	MandateExpired   MandateStatus = "expired"
)

// PaymentStatus tracks the lifecycle of a payment transaction.
type PaymentStatus string

// Payment lifecycle states.
const (
	PaymentCreated           PaymentStatus = "created"
	PaymentAuthorized        PaymentStatus = "authorized"
	PaymentCaptured          PaymentStatus = "captured"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// WebhookStatus tracks how far a gateway webhook event got through
// processing.
type WebhookStatus string

// Webhook processing states.
const (
	WebhookPending   WebhookStatus = "pending"
	WebhookProcessed WebhookStatus = "processed"
	WebhookFailed    WebhookStatus = "failed"
	WebhookIgnored   WebhookStatus = "ignored"
)

// Gateway webhook event types the service acts on. Anything else is stored
// and marked ignored.
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventTokenConfirmed    = "token.confirmed"
	EventTokenRejected     = "token.rejected"
	EventTokenPaused       = "token.paused"
	EventTokenCancelled    = "token.cancelled"
	EventRefundProcessed   = "refund.processed"
)

// mandateTransitions lists the legal state moves. Webhooks can arrive out of
// order; an illegal move is ignored rather than applied.
var mandateTransitions = map[MandateStatus][]MandateStatus{
	MandateCreated:   {MandateActive, MandateCancelled, MandateExpired},
	MandateActive:    {MandatePaused, MandateCancelled, MandateExpired},
	MandatePaused:    {MandateActive, MandateCancelled, MandateExpired},
	MandateCancelled: {},
	MandateExpired:   {},
}

// CanTransition reports whether a mandate may move from one status to
// another.
func (s MandateStatus) CanTransition(to MandateStatus) bool {
	for _, allowed := range mandateTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}
