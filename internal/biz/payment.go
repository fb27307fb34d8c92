package biz

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"Stencil/internal/conf"
	"Stencil/internal/data"
	"Stencil/internal/model"
	"Stencil/pkg/httpclient"
	pkglog "Stencil/pkg/log"
	"Stencil/pkg/razorpay"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// Payment errors mapped to transport status codes.
var (
	ErrCustomerNotFound   = kratoserrors.NotFound("CUSTOMER_NOT_FOUND", "no gateway customer registered for user")
	ErrMandateNotFound    = kratoserrors.NotFound("MANDATE_NOT_FOUND", "mandate not found")
	ErrMandateNotActive   = kratoserrors.BadRequest("MANDATE_NOT_ACTIVE", "mandate is not active")
	ErrMandateNoToken     = kratoserrors.BadRequest("MANDATE_NO_TOKEN", "mandate token not available yet")
	ErrPaymentNotFound    = kratoserrors.NotFound("PAYMENT_NOT_FOUND", "payment not found")
	ErrWebhookSignature   = kratoserrors.Unauthorized("INVALID_WEBHOOK_SIGNATURE", "webhook signature verification failed")
	ErrWebhookMalformed   = kratoserrors.BadRequest("MALFORMED_WEBHOOK", "webhook payload is not valid JSON")
	ErrGatewayUnavailable = kratoserrors.New(http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "payment gateway call failed")
)

// maxWebhookAttempts bounds webhook retries before an event is parked.
const maxWebhookAttempts = 5

// PaymentRepo defines the payment repository interface.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
type PaymentRepo interface {
	CreateCustomer(ctx context.Context, customer *data.GatewayCustomer) error
	GetCustomerByUserID(ctx context.Context, userID int64) (*data.GatewayCustomer, error)
	GetCustomerByGatewayID(ctx context.Context, gatewayCustomerID string) (*data.GatewayCustomer, error)

	CreateMandate(ctx context.Context, mandate *data.Mandate) error
	GetMandate(ctx context.Context, id int64) (*data.Mandate, error)
	GetMandateByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*data.Mandate, error)
	GetMandateByTokenID(ctx context.Context, tokenID string) (*data.Mandate, error)
	ListMandatesByCustomer(ctx context.Context, customerID int64) ([]*data.Mandate, error)
	UpdateMandate(ctx context.Context, mandate *data.Mandate) error

	CreateTransaction(ctx context.Context, tx *data.PaymentTransaction) error
	GetTransactionByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*data.PaymentTransaction, error)
	ListTransactionsByCustomer(ctx context.Context, customerID int64, limit, offset int) ([]*data.PaymentTransaction, int64, error)
	UpdateTransaction(ctx context.Context, tx *data.PaymentTransaction) error

	CreateRefund(ctx context.Context, refund *data.PaymentRefund) error
	ListRefundsByTransaction(ctx context.Context, transactionID int64) ([]*data.PaymentRefund, error)

	CreateWebhookEvent(ctx context.Context, event *data.WebhookEvent) (bool, error)
	GetWebhookEventByGatewayID(ctx context.Context, gatewayEventID string) (*data.WebhookEvent, error)
	ListPendingWebhookEvents(ctx context.Context, maxAttempts, limit int) ([]*data.WebhookEvent, error)
	UpdateWebhookEvent(ctx context.Context, event *data.WebhookEvent) error
}

// MandateInput carries mandate creation parameters.
type MandateInput struct {
	Amount      int64
	Currency    string
	MaxAmount   int64
	Method      string
	Frequency   string
	Description string
	Contact     string
}

// ChargeInput carries recurring charge parameters.
type ChargeInput struct {
	MandateID   int64
	Amount      int64
	Description string
	Receipt     string
}

// PaymentUsecase implements customer, mandate, payment and webhook logic.
type PaymentUsecase struct {
	repo    PaymentRepo
	users   UserRepo
	gateway razorpay.Gateway

	// rest carries the recurring-charge call, which goes through the
	// circuit-breaking client instead of the SDK so charges get the same
	// fallback-free breaker and call-log treatment as other vendors.
	rest    *httpclient.Client
	authHdr string
	logger  *pkglog.LogHelper
}

// NewPaymentUsecase creates the payment usecase.
func NewPaymentUsecase(
	c *conf.Vendors,
	repo PaymentRepo,
	users UserRepo,
	gateway razorpay.Gateway,
	breakers *httpclient.BreakerRegistry,
	recorder httpclient.CallRecorder,
	logger log.Logger,
) *PaymentUsecase {
	cfg := httpclient.Config{
		Vendor:  "razorpay",
		BaseURL: "https://api.razorpay.com/v1",
	}
	var authHdr string
	if c != nil && c.Razorpay != nil {
		if c.Razorpay.BaseUrl != "" {
			cfg.BaseURL = c.Razorpay.BaseUrl
		}
		if c.Razorpay.Timeout != nil {
			cfg.Timeout = c.Razorpay.Timeout.AsDuration()
		}
		basic := c.Razorpay.Key + ":" + c.Razorpay.Secret
		authHdr = "Basic " + base64.StdEncoding.EncodeToString([]byte(basic))
	}

	return &PaymentUsecase{
		repo:    repo,
		users:   users,
		gateway: gateway,
		rest:    httpclient.New(cfg, breakers, recorder, logger),
		authHdr: authHdr,
		logger:  pkglog.NewLogHelper(logger),
	}
}

// EnsureCustomer returns the user's gateway customer, creating one at the
// gateway and locally on first use. The created flag is true on first
// registration.
func (uc *PaymentUsecase) EnsureCustomer(ctx context.Context, userID int64, contact, gstin string) (*data.GatewayCustomer, bool, error) {
	existing, err := uc.repo.GetCustomerByUserID(ctx, userID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		return nil, false, err
	}

	user, err := uc.users.GetUser(ctx, userID)
	if err != nil {
		return nil, false, ErrUserNotFound
	}

	name := user.FullName
	if name == "" {
		name = user.Username
	}

	resp, err := uc.gateway.CreateCustomer(name, user.Email, contact, map[string]any{
		"user_id": fmt.Sprintf("%d", userID),
	})
	if err != nil {
		uc.logger.Payment("gateway customer creation failed", "user_id", userID, "error", err)
		return nil, false, ErrGatewayUnavailable
	}

	gatewayID, _ := resp["id"].(string)
	if gatewayID == "" {
		return nil, false, ErrGatewayUnavailable
	}

	customer := &data.GatewayCustomer{
		UserID:            userID,
		GatewayCustomerID: gatewayID,
		Name:              name,
		Email:             user.Email,
		Contact:           contact,
		Gstin:             gstin,
		IsActive:          true,
	}
	if err := uc.repo.CreateCustomer(ctx, customer); err != nil {
		return nil, false, err
	}

	uc.logger.Payment("gateway customer created",
		"user_id", userID, "gateway_customer_id", gatewayID)
	return customer, true, nil
}

// GetCustomer returns the user's gateway customer.
func (uc *PaymentUsecase) GetCustomer(ctx context.Context, userID int64) (*data.GatewayCustomer, error) {
	customer, err := uc.repo.GetCustomerByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return customer, nil
}

// CreateMandate registers a recurring-payment mandate: a gateway order is
// created for the registration payment and a local mandate row tracks it.
// The mandate stays in created state until the gateway confirms the token
// via webhook.
func (uc *PaymentUsecase) CreateMandate(ctx context.Context, userID int64, in MandateInput) (*data.Mandate, map[string]any, error) {
	customer, _, err := uc.EnsureCustomer(ctx, userID, in.Contact, "")
	if err != nil {
		return nil, nil, err
	}

	currency := in.Currency
	if currency == "" {
		currency = "INR"
	}
	method := in.Method
	if method == "" {
		method = "emandate"
	}

	order, err := uc.gateway.CreateMandateOrder(customer.GatewayCustomerID, in.Amount, currency, method, map[string]any{
		"description": in.Description,
		"frequency":   in.Frequency,
		"user_id":     fmt.Sprintf("%d", userID),
	})
	if err != nil {
		uc.logger.Payment("mandate order creation failed", "user_id", userID, "error", err)
		return nil, nil, ErrGatewayUnavailable
	}

	orderID, _ := order["id"].(string)
	if orderID == "" {
		return nil, nil, ErrGatewayUnavailable
	}

	mandate := &data.Mandate{
		CustomerID: customer.ID,
		// The registration payment ID arrives with the checkout callback;
		// until then the order ID is the only gateway handle.
		GatewayPaymentID: "pending_" + orderID,
		GatewayOrderID:   orderID,
		Amount:           in.Amount,
		Currency:         currency,
		MaxAmount:        in.MaxAmount,
		Method:           method,
		Description:      in.Description,
		Frequency:        in.Frequency,
		Status:           model.MandateCreated,
	}
	if err := uc.repo.CreateMandate(ctx, mandate); err != nil {
		return nil, nil, err
	}

	uc.logger.Payment("mandate created",
		"user_id", userID, "mandate_id", mandate.ID, "order_id", orderID, "amount", in.Amount)
	return mandate, order, nil
}

// GetMandate fetches a mandate owned by the given user.
func (uc *PaymentUsecase) GetMandate(ctx context.Context, userID, mandateID int64) (*data.Mandate, error) {
	mandate, err := uc.repo.GetMandate(ctx, mandateID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, ErrMandateNotFound
		}
		return nil, err
	}
	if err := uc.checkMandateOwner(ctx, mandate, userID); err != nil {
		return nil, err
	}
	return mandate, nil
}

// ListMandates lists the user's mandates.
func (uc *PaymentUsecase) ListMandates(ctx context.Context, userID int64) ([]*data.Mandate, error) {
	customer, err := uc.repo.GetCustomerByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return []*data.Mandate{}, nil
		}
		return nil, err
	}
	return uc.repo.ListMandatesByCustomer(ctx, customer.ID)
}

// CancelMandate moves a mandate to cancelled.
func (uc *PaymentUsecase) CancelMandate(ctx context.Context, userID, mandateID int64) (*data.Mandate, error) {
	mandate, err := uc.GetMandate(ctx, userID, mandateID)
	if err != nil {
		return nil, err
	}
	if !mandate.Status.CanTransition(model.MandateCancelled) {
		return nil, kratoserrors.BadRequest("MANDATE_STATE",
			fmt.Sprintf("cannot cancel mandate in state %s", mandate.Status))
	}
	mandate.Status = model.MandateCancelled
	if err := uc.repo.UpdateMandate(ctx, mandate); err != nil {
		return nil, err
	}
	uc.logger.Payment("mandate cancelled", "mandate_id", mandateID, "user_id", userID)
	return mandate, nil
}

// ChargeMandate debits an active mandate. The charge is a direct REST call
// through the circuit-breaking client.
func (uc *PaymentUsecase) ChargeMandate(ctx context.Context, userID int64, in ChargeInput) (*data.PaymentTransaction, error) {
	mandate, err := uc.GetMandate(ctx, userID, in.MandateID)
	if err != nil {
		return nil, err
	}
	if mandate.Status != model.MandateActive {
		return nil, ErrMandateNotActive
	}
	if mandate.TokenID == "" {
		return nil, ErrMandateNoToken
	}
	if mandate.MaxAmount > 0 && in.Amount > mandate.MaxAmount {
		return nil, kratoserrors.BadRequest("AMOUNT_EXCEEDS_MANDATE",
			fmt.Sprintf("amount %d exceeds mandate maximum %d", in.Amount, mandate.MaxAmount))
	}

	customer, err := uc.repo.GetCustomerByUserID(ctx, userID)
	if err != nil {
		return nil, ErrCustomerNotFound
	}

	payload, _, status, err := uc.rest.Post(ctx, "/payments/create/recurring", &httpclient.RequestOptions{
		Body: map[string]any{
			"amount":      in.Amount,
			"currency":    mandate.Currency,
			"recurring":   "1",
			"customer_id": customer.GatewayCustomerID,
			"token":       mandate.TokenID,
			"description": in.Description,
			"receipt":     in.Receipt,
		},
		Headers: map[string]string{"Authorization": uc.authHdr},
	})
	if err != nil || status >= 400 {
		uc.logger.Payment("recurring charge failed",
			"mandate_id", mandate.ID, "amount", in.Amount, "status", status, "error", err)
		return nil, ErrGatewayUnavailable
	}

	paymentID := stringField(payload, "razorpay_payment_id")
	if paymentID == "" {
		paymentID = stringField(payload, "id")
	}
	if paymentID == "" {
		return nil, ErrGatewayUnavailable
	}

	tx := &data.PaymentTransaction{
		CustomerID:       customer.ID,
		MandateID:        &mandate.ID,
		GatewayPaymentID: paymentID,
		GatewayOrderID:   stringField(payload, "order_id"),
		Amount:           in.Amount,
		Currency:         mandate.Currency,
		Method:           mandate.Method,
		Status:           model.PaymentCreated,
		Description:      in.Description,
		Receipt:          in.Receipt,
	}
	if err := uc.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	uc.logger.Payment("recurring charge created",
		"mandate_id", mandate.ID, "payment_id", paymentID, "amount", in.Amount)
	return tx, nil
}

// ListPayments lists the user's payment transactions.
func (uc *PaymentUsecase) ListPayments(ctx context.Context, userID int64, limit, offset int) ([]*data.PaymentTransaction, int64, error) {
	customer, err := uc.repo.GetCustomerByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return []*data.PaymentTransaction{}, 0, nil
		}
		return nil, 0, err
	}
	return uc.repo.ListTransactionsByCustomer(ctx, customer.ID, limit, offset)
}

// SyncPayment refreshes a local transaction from the gateway's view of it.
func (uc *PaymentUsecase) SyncPayment(ctx context.Context, userID int64, gatewayPaymentID string) (*data.PaymentTransaction, error) {
	tx, err := uc.repo.GetTransactionByGatewayPaymentID(ctx, gatewayPaymentID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if err := uc.checkTransactionOwner(ctx, tx, userID); err != nil {
		return nil, err
	}

	remote, err := uc.gateway.FetchPayment(gatewayPaymentID)
	if err != nil {
		return nil, ErrGatewayUnavailable
	}

	applyGatewayPayment(tx, remote)
	if err := uc.repo.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// RefundPayment refunds a captured payment through the gateway and records
// the refund. amount 0 means full refund.
func (uc *PaymentUsecase) RefundPayment(ctx context.Context, userID int64, gatewayPaymentID string, amount int64, reason string) (*data.PaymentRefund, error) {
	tx, err := uc.repo.GetTransactionByGatewayPaymentID(ctx, gatewayPaymentID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if err := uc.checkTransactionOwner(ctx, tx, userID); err != nil {
		return nil, err
	}
	if tx.Status != model.PaymentCaptured && tx.Status != model.PaymentPartiallyRefunded {
		return nil, kratoserrors.BadRequest("PAYMENT_NOT_CAPTURED", "only captured payments can be refunded")
	}

	notes := map[string]any{}
	if reason != "" {
		notes["reason"] = reason
	}
	resp, err := uc.gateway.RefundPayment(gatewayPaymentID, amount, notes)
	if err != nil {
		uc.logger.Payment("refund failed", "payment_id", gatewayPaymentID, "error", err)
		return nil, ErrGatewayUnavailable
	}

	refundID := stringField(resp, "id")
	refundedAmount := amount
	if f, ok := resp["amount"].(float64); ok {
		refundedAmount = int64(f)
	}

	refund := &data.PaymentRefund{
		TransactionID:    tx.ID,
		GatewayRefundID:  refundID,
		GatewayPaymentID: gatewayPaymentID,
		Amount:           refundedAmount,
		Currency:         tx.Currency,
		Status:           stringField(resp, "status"),
		Notes:            reason,
	}
	if err := uc.repo.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}

	if refundedAmount >= tx.CapturedAmount {
		tx.Status = model.PaymentRefunded
	} else {
		tx.Status = model.PaymentPartiallyRefunded
	}
	if err := uc.repo.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	uc.logger.Payment("refund recorded",
		"payment_id", gatewayPaymentID, "refund_id", refundID, "amount", refundedAmount)
	return refund, nil
}

// webhookEnvelope is the parsed shape of a gateway webhook body.
type webhookEnvelope struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   map[string]struct {
		Entity map[string]any `json:"entity"`
	} `json:"payload"`
}

// ProcessWebhook verifies, stores and applies one gateway webhook delivery.
// Redeliveries of an already-stored event are acknowledged without
// reprocessing. Application failures leave the stored event pending retry by
// the webhook job.
func (uc *PaymentUsecase) ProcessWebhook(ctx context.Context, rawBody []byte, signature string) (model.WebhookStatus, error) {
	if err := uc.gateway.VerifyWebhookSignature(rawBody, signature); err != nil {
		uc.logger.Security("webhook signature verification failed")
		return "", ErrWebhookSignature
	}

	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil || env.ID == "" || env.Event == "" {
		return "", ErrWebhookMalformed
	}

	entityType, entity := primaryEntity(env)

	event := &data.WebhookEvent{
		GatewayEventID: env.ID,
		EventType:      env.Event,
		EntityID:       stringField(entity, "id"),
		EntityType:     entityType,
		Payload:        string(rawBody),
		Signature:      signature,
		Status:         model.WebhookPending,
		EventCreatedAt: time.Unix(env.CreatedAt, 0).UTC(),
		ReceivedAt:     time.Now().UTC(),
	}

	created, err := uc.repo.CreateWebhookEvent(ctx, event)
	if err != nil {
		return "", err
	}
	if !created {
		uc.logger.Webhook("duplicate webhook delivery acknowledged", "event_id", env.ID)
		existing, err := uc.repo.GetWebhookEventByGatewayID(ctx, env.ID)
		if err != nil {
			return model.WebhookProcessed, nil
		}
		return existing.Status, nil
	}

	return uc.applyStoredEvent(ctx, event)
}

// RetryPendingWebhooks re-applies stored events that have not been processed
// yet. Returns how many events were retried. Called by the webhook job.
func (uc *PaymentUsecase) RetryPendingWebhooks(ctx context.Context) (int, error) {
	events, err := uc.repo.ListPendingWebhookEvents(ctx, maxWebhookAttempts, 50)
	if err != nil {
		return 0, err
	}

	for _, event := range events {
		if _, err := uc.applyStoredEvent(ctx, event); err != nil {
			uc.logger.Webhook("webhook retry failed",
				"event_id", event.GatewayEventID, "attempts", event.ProcessingAttempts, "error", err)
		}
	}
	return len(events), nil
}

// applyStoredEvent applies one stored webhook event and records the outcome.
func (uc *PaymentUsecase) applyStoredEvent(ctx context.Context, event *data.WebhookEvent) (model.WebhookStatus, error) {
	var env webhookEnvelope
	if err := json.Unmarshal([]byte(event.Payload), &env); err != nil {
		event.Status = model.WebhookFailed
		event.ProcessingError = "stored payload is not valid JSON"
		event.ProcessingAttempts++
		_ = uc.repo.UpdateWebhookEvent(ctx, event)
		return event.Status, ErrWebhookMalformed
	}

	_, entity := primaryEntity(env)
	applyErr := uc.applyEvent(ctx, env.Event, entity)

	event.ProcessingAttempts++
	now := time.Now().UTC()
	switch {
	case applyErr == nil:
		event.Status = model.WebhookProcessed
		event.ProcessedAt = &now
		event.ProcessingError = ""
	case errors.Is(applyErr, errIgnoredEvent):
		event.Status = model.WebhookIgnored
		event.ProcessedAt = &now
		event.ProcessingError = ""
		applyErr = nil
	default:
		event.Status = model.WebhookFailed
		event.ProcessingError = applyErr.Error()
	}

	if err := uc.repo.UpdateWebhookEvent(ctx, event); err != nil {
		return event.Status, err
	}

	uc.logger.Webhook("webhook event applied",
		"event_id", event.GatewayEventID, "event_type", event.EventType, "status", event.Status)
	return event.Status, applyErr
}

// errIgnoredEvent marks event types the service does not act on.
var errIgnoredEvent = errors.New("event type not handled")

// applyEvent routes one webhook event to the matching state update.
func (uc *PaymentUsecase) applyEvent(ctx context.Context, eventType string, entity map[string]any) error {
	switch eventType {
	case model.EventPaymentAuthorized, model.EventPaymentCaptured, model.EventPaymentFailed:
		return uc.applyPaymentEvent(ctx, eventType, entity)
	case model.EventTokenConfirmed, model.EventTokenRejected, model.EventTokenPaused, model.EventTokenCancelled:
		return uc.applyTokenEvent(ctx, eventType, entity)
	case model.EventRefundProcessed:
		// Refunds are recorded at initiation; the processed event is
		// informational.
		return nil
	default:
		return errIgnoredEvent
	}
}

// applyPaymentEvent updates the local transaction, and the mandate when the
// payment is a mandate registration.
func (uc *PaymentUsecase) applyPaymentEvent(ctx context.Context, eventType string, entity map[string]any) error {
	paymentID := stringField(entity, "id")
	if paymentID == "" {
		return fmt.Errorf("payment event has no entity id")
	}

	tx, err := uc.repo.GetTransactionByGatewayPaymentID(ctx, paymentID)
	if errors.Is(err, data.ErrNotFound) {
		// First sight of a mandate registration payment: the order ID links
		// it back to the mandate created at order time.
		return uc.adoptRegistrationPayment(ctx, eventType, entity)
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	switch eventType {
	case model.EventPaymentCaptured:
		tx.Status = model.PaymentCaptured
		if f, ok := entity["amount"].(float64); ok {
			tx.CapturedAmount = int64(f)
		}
		tx.CapturedAt = &now
	case model.EventPaymentFailed:
		tx.Status = model.PaymentFailed
		tx.ErrorCode = stringField(entity, "error_code")
		tx.ErrorDescription = stringField(entity, "error_description")
	case model.EventPaymentAuthorized:
		tx.Status = model.PaymentAuthorized
		tx.AuthorizedAt = &now
	}
	applyGatewayPayment(tx, entity)

	if err := uc.repo.UpdateTransaction(ctx, tx); err != nil {
		return err
	}

	if tx.MandateID != nil {
		return uc.syncMandateFromPayment(ctx, *tx.MandateID, eventType, entity)
	}
	return nil
}

// adoptRegistrationPayment attaches a registration payment to its mandate
// the first time the gateway reports it.
func (uc *PaymentUsecase) adoptRegistrationPayment(ctx context.Context, eventType string, entity map[string]any) error {
	orderID := stringField(entity, "order_id")
	if orderID == "" {
		return fmt.Errorf("payment %s not known and carries no order_id", stringField(entity, "id"))
	}

	mandate, err := uc.repo.GetMandateByGatewayPaymentID(ctx, "pending_"+orderID)
	if err != nil {
		return fmt.Errorf("no mandate for order %s", orderID)
	}

	mandate.GatewayPaymentID = stringField(entity, "id")
	if err := uc.repo.UpdateMandate(ctx, mandate); err != nil {
		return err
	}

	now := time.Now().UTC()
	tx := &data.PaymentTransaction{
		CustomerID:       mandate.CustomerID,
		MandateID:        &mandate.ID,
		GatewayPaymentID: mandate.GatewayPaymentID,
		GatewayOrderID:   orderID,
		Amount:           mandate.Amount,
		Currency:         mandate.Currency,
		Method:           mandate.Method,
		Status:           model.PaymentCreated,
	}
	switch eventType {
	case model.EventPaymentCaptured:
		tx.Status = model.PaymentCaptured
		if f, ok := entity["amount"].(float64); ok {
			tx.CapturedAmount = int64(f)
		}
		tx.CapturedAt = &now
	case model.EventPaymentAuthorized:
		tx.Status = model.PaymentAuthorized
		tx.AuthorizedAt = &now
	case model.EventPaymentFailed:
		tx.Status = model.PaymentFailed
		tx.ErrorCode = stringField(entity, "error_code")
		tx.ErrorDescription = stringField(entity, "error_description")
	}
	applyGatewayPayment(tx, entity)

	if err := uc.repo.CreateTransaction(ctx, tx); err != nil {
		return err
	}
	return uc.syncMandateFromPayment(ctx, mandate.ID, eventType, entity)
}

// syncMandateFromPayment moves the mandate along when its registration
// payment settles.
func (uc *PaymentUsecase) syncMandateFromPayment(ctx context.Context, mandateID int64, eventType string, entity map[string]any) error {
	mandate, err := uc.repo.GetMandate(ctx, mandateID)
	if err != nil {
		return err
	}

	switch eventType {
	case model.EventPaymentCaptured:
		tokenID := stringField(entity, "token_id")
		if tokenID == "" {
			tokenID = stringField(entity, "token")
		}
		if tokenID == "" {
			return nil
		}
		if !mandate.Status.CanTransition(model.MandateActive) {
			return nil
		}
		mandate.Status = model.MandateActive
		mandate.TokenID = tokenID
	case model.EventPaymentFailed:
		if !mandate.Status.CanTransition(model.MandateCancelled) {
			return nil
		}
		mandate.Status = model.MandateCancelled
		mandate.FailureReason = stringField(entity, "error_description")
	default:
		return nil
	}

	if err := uc.repo.UpdateMandate(ctx, mandate); err != nil {
		return err
	}
	uc.logger.Payment("mandate status updated from webhook",
		"mandate_id", mandate.ID, "status", mandate.Status)
	return nil
}

// applyTokenEvent moves a mandate on token lifecycle events.
func (uc *PaymentUsecase) applyTokenEvent(ctx context.Context, eventType string, entity map[string]any) error {
	tokenID := stringField(entity, "id")
	if tokenID == "" {
		return fmt.Errorf("token event has no entity id")
	}

	mandate, err := uc.repo.GetMandateByTokenID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return errIgnoredEvent
		}
		return err
	}

	var target model.MandateStatus
	switch eventType {
	case model.EventTokenConfirmed:
		target = model.MandateActive
	case model.EventTokenPaused:
		target = model.MandatePaused
	case model.EventTokenRejected, model.EventTokenCancelled:
		target = model.MandateCancelled
	}

	if !mandate.Status.CanTransition(target) {
		return nil
	}
	mandate.Status = target
	return uc.repo.UpdateMandate(ctx, mandate)
}

// checkMandateOwner verifies the mandate belongs to the user.
func (uc *PaymentUsecase) checkMandateOwner(ctx context.Context, mandate *data.Mandate, userID int64) error {
	customer, err := uc.repo.GetCustomerByUserID(ctx, userID)
	if err != nil || customer.ID != mandate.CustomerID {
		return ErrMandateNotFound
	}
	return nil
}

// checkTransactionOwner verifies the transaction belongs to the user.
func (uc *PaymentUsecase) checkTransactionOwner(ctx context.Context, tx *data.PaymentTransaction, userID int64) error {
	customer, err := uc.repo.GetCustomerByUserID(ctx, userID)
	if err != nil || customer.ID != tx.CustomerID {
		return ErrPaymentNotFound
	}
	return nil
}

// applyGatewayPayment copies incidental fields from a gateway payment
// entity.
func applyGatewayPayment(tx *data.PaymentTransaction, entity map[string]any) {
	if f, ok := entity["fee"].(float64); ok {
		tx.Fee = int64(f)
	}
	if f, ok := entity["tax"].(float64); ok {
		tx.Tax = int64(f)
	}
	if bank := stringField(entity, "bank"); bank != "" {
		tx.Bank = bank
	}
	if status := stringField(entity, "status"); status != "" {
		switch status {
		case "captured":
			tx.Status = model.PaymentCaptured
			if f, ok := entity["amount"].(float64); ok && tx.CapturedAmount == 0 {
				tx.CapturedAmount = int64(f)
			}
		case "authorized":
			tx.Status = model.PaymentAuthorized
		case "failed":
			tx.Status = model.PaymentFailed
		case "refunded":
			tx.Status = model.PaymentRefunded
		}
	}
}

// primaryEntity pulls the first entity out of a webhook payload, preferring
// payment over token.
func primaryEntity(env webhookEnvelope) (string, map[string]any) {
	for _, kind := range []string{"payment", "token", "refund", "order"} {
		if wrapped, ok := env.Payload[kind]; ok && wrapped.Entity != nil {
			return kind, wrapped.Entity
		}
	}
	for kind, wrapped := range env.Payload {
		if wrapped.Entity != nil {
			return kind, wrapped.Entity
		}
	}
	return "", map[string]any{}
}

// stringField reads a string out of a decoded JSON map.
func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
