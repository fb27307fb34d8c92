package service

import (
	"context"
	"io"
	"strconv"
	"time"

	"Stencil/internal/biz"
	"Stencil/internal/data"
	pkglog "Stencil/pkg/log"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// Operation names for the payment surface.
const (
	OperationPaymentEnsureCustomer = "/stencil.v1.Payment/EnsureCustomer"
	OperationPaymentGetCustomer    = "/stencil.v1.Payment/GetCustomer"
	OperationPaymentCreateMandate  = "/stencil.v1.Payment/CreateMandate"
	OperationPaymentListMandates   = "/stencil.v1.Payment/ListMandates"
	OperationPaymentGetMandate     = "/stencil.v1.Payment/GetMandate"
	OperationPaymentCancelMandate  = "/stencil.v1.Payment/CancelMandate"
	OperationPaymentChargeMandate  = "/stencil.v1.Payment/ChargeMandate"
	OperationPaymentList           = "/stencil.v1.Payment/ListPayments"
	OperationPaymentSync           = "/stencil.v1.Payment/SyncPayment"
	OperationPaymentRefund         = "/stencil.v1.Payment/RefundPayment"
	OperationPaymentWebhook        = "/stencil.v1.Payment/Webhook"
)

// webhookSignatureHeader carries the gateway's HMAC signature.
const webhookSignatureHeader = "X-Razorpay-Signature"

// PaymentService exposes customer, mandate, payment and webhook endpoints.
type PaymentService struct {
	uc     *biz.PaymentUsecase
	logger *log.Helper
}

// NewPaymentService creates the payment service.
func NewPaymentService(uc *biz.PaymentUsecase, logger log.Logger) *PaymentService {
	return &PaymentService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the payment endpoints on the router.
func (s *PaymentService) RegisterRoutes(r *khttp.Router) {
	r.POST("/payments/customer", s.EnsureCustomer)
	r.GET("/payments/customer", s.GetCustomer)
	r.POST("/payments/mandates", s.CreateMandate)
	r.GET("/payments/mandates", s.ListMandates)
	r.GET("/payments/mandates/{id}", s.GetMandate)
	r.POST("/payments/mandates/{id}/cancel", s.CancelMandate)
	r.POST("/payments/mandates/{id}/charge", s.ChargeMandate)
	r.GET("/payments", s.ListPayments)
	r.POST("/payments/{payment_id}/sync", s.SyncPayment)
	r.POST("/payments/{payment_id}/refund", s.RefundPayment)
	r.POST("/payments/webhook", s.Webhook)
}

type customerRequest struct {
	Contact string `json:"contact"`
	Gstin   string `json:"gstin,omitempty"`
}

type mandateRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	MaxAmount   int64  `json:"max_amount,omitempty"`
	Method      string `json:"method,omitempty"`
	Frequency   string `json:"frequency,omitempty"`
	Description string `json:"description,omitempty"`
	Contact     string `json:"contact,omitempty"`
}

type chargeRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	Receipt     string `json:"receipt,omitempty"`
}

type refundRequest struct {
	Amount int64  `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type customerView struct {
	ID                int64  `json:"id"`
	GatewayCustomerID string `json:"gateway_customer_id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	Contact           string `json:"contact"`
	CreatedAt         string `json:"created_at"`
}

type mandateView struct {
	ID             int64  `json:"id"`
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	MaxAmount      int64  `json:"max_amount,omitempty"`
	Method         string `json:"method"`
	Frequency      string `json:"frequency,omitempty"`
	Status         string `json:"status"`
	FailureReason  string `json:"failure_reason,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type transactionView struct {
	ID               int64  `json:"id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	MandateID        *int64 `json:"mandate_id,omitempty"`
	Amount           int64  `json:"amount"`
	CapturedAmount   int64  `json:"captured_amount"`
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	Status           string `json:"status"`
	Description      string `json:"description,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func newCustomerView(c *data.GatewayCustomer) customerView {
	return customerView{
		ID:                c.ID,
		GatewayCustomerID: c.GatewayCustomerID,
		Name:              c.Name,
		Email:             c.Email,
		Contact:           c.Contact,
		CreatedAt:         c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func newMandateView(m *data.Mandate) mandateView {
	return mandateView{
		ID:             m.ID,
		GatewayOrderID: m.GatewayOrderID,
		Amount:         m.Amount,
		Currency:       m.Currency,
		MaxAmount:      m.MaxAmount,
		Method:         m.Method,
		Frequency:      m.Frequency,
		Status:         string(m.Status),
		FailureReason:  m.FailureReason,
		CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func newTransactionView(t *data.PaymentTransaction) transactionView {
	return transactionView{
		ID:               t.ID,
		GatewayPaymentID: t.GatewayPaymentID,
		MandateID:        t.MandateID,
		Amount:           t.Amount,
		CapturedAmount:   t.CapturedAmount,
		Currency:         t.Currency,
		Method:           t.Method,
		Status:           string(t.Status),
		Description:      t.Description,
		ErrorCode:        t.ErrorCode,
		ErrorDescription: t.ErrorDescription,
		CreatedAt:        t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// EnsureCustomer handles POST /payments/customer.
func (s *PaymentService) EnsureCustomer(ctx khttp.Context) error {
	var req customerRequest
	if err := ctx.Bind(&req); err != nil || req.Contact == "" {
		return kratoserrors.BadRequest("INVALID_BODY", "contact is required")
	}

	khttp.SetOperation(ctx, OperationPaymentEnsureCustomer)
	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		r := in.(*customerRequest)
		customer, created, err := s.uc.EnsureCustomer(c, id.UserID, r.Contact, r.Gstin)
		if err != nil {
			return nil, err
		}
		msg := "existing customer returned"
		if created {
			msg = "customer registered with gateway"
		}
		return Success(c, msg, newCustomerView(customer)), nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// GetCustomer handles GET /payments/customer.
func (s *PaymentService) GetCustomer(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationPaymentGetCustomer)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		customer, err := s.uc.GetCustomer(c, id.UserID)
		if err != nil {
			return nil, err
		}
		return Success(c, "", newCustomerView(customer)), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// CreateMandate handles POST /payments/mandates.
func (s *PaymentService) CreateMandate(ctx khttp.Context) error {
	var req mandateRequest
	if err := ctx.Bind(&req); err != nil {
		return kratoserrors.BadRequest("INVALID_BODY", "request body is not valid JSON")
	}
	if req.Amount <= 0 {
		return kratoserrors.BadRequest("INVALID_AMOUNT", "amount must be positive (smallest currency unit)")
	}

	khttp.SetOperation(ctx, OperationPaymentCreateMandate)
	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		r := in.(*mandateRequest)
		mandate, order, err := s.uc.CreateMandate(c, id.UserID, biz.MandateInput{
			Amount:      r.Amount,
			Currency:    r.Currency,
			MaxAmount:   r.MaxAmount,
			Method:      r.Method,
			Frequency:   r.Frequency,
			Description: r.Description,
			Contact:     r.Contact,
		})
		if err != nil {
			return nil, err
		}
		pkglog.SetStatusCode(c, 201)
		return Success(c, "mandate registration started", map[string]any{
			"mandate": newMandateView(mandate),
			"order":   order,
		}), nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(201, out)
}

// ListMandates handles GET /payments/mandates.
func (s *PaymentService) ListMandates(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationPaymentListMandates)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		mandates, err := s.uc.ListMandates(c, id.UserID)
		if err != nil {
			return nil, err
		}
		views := make([]mandateView, 0, len(mandates))
		for _, m := range mandates {
			views = append(views, newMandateView(m))
		}
		return Success(c, "", views), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// GetMandate handles GET /payments/mandates/{id}.
func (s *PaymentService) GetMandate(ctx khttp.Context) error {
	mandateID, err := strconv.ParseInt(ctx.Vars().Get("id"), 10, 64)
	if err != nil {
		return kratoserrors.BadRequest("INVALID_MANDATE_ID", "mandate id must be numeric")
	}

	khttp.SetOperation(ctx, OperationPaymentGetMandate)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		mandate, err := s.uc.GetMandate(c, id.UserID, mandateID)
		if err != nil {
			return nil, err
		}
		return Success(c, "", newMandateView(mandate)), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// CancelMandate handles POST /payments/mandates/{id}/cancel.
func (s *PaymentService) CancelMandate(ctx khttp.Context) error {
	mandateID, err := strconv.ParseInt(ctx.Vars().Get("id"), 10, 64)
	if err != nil {
		return kratoserrors.BadRequest("INVALID_MANDATE_ID", "mandate id must be numeric")
	}

	khttp.SetOperation(ctx, OperationPaymentCancelMandate)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		mandate, err := s.uc.CancelMandate(c, id.UserID, mandateID)
		if err != nil {
			return nil, err
		}
		return Success(c, "mandate cancelled", newMandateView(mandate)), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// ChargeMandate handles POST /payments/mandates/{id}/charge.
func (s *PaymentService) ChargeMandate(ctx khttp.Context) error {
	mandateID, err := strconv.ParseInt(ctx.Vars().Get("id"), 10, 64)
	if err != nil {
		return kratoserrors.BadRequest("INVALID_MANDATE_ID", "mandate id must be numeric")
	}
	var req chargeRequest
	if err := ctx.Bind(&req); err != nil || req.Amount <= 0 {
		return kratoserrors.BadRequest("INVALID_AMOUNT", "amount must be positive (smallest currency unit)")
	}

	khttp.SetOperation(ctx, OperationPaymentChargeMandate)
	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		r := in.(*chargeRequest)
		tx, err := s.uc.ChargeMandate(c, id.UserID, biz.ChargeInput{
			MandateID:   mandateID,
			Amount:      r.Amount,
			Description: r.Description,
			Receipt:     r.Receipt,
		})
		if err != nil {
			return nil, err
		}
		pkglog.SetStatusCode(c, 201)
		return Success(c, "recurring charge created", newTransactionView(tx)), nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(201, out)
}

// ListPayments handles GET /payments.
func (s *PaymentService) ListPayments(ctx khttp.Context) error {
	limit, _ := strconv.Atoi(ctx.Query().Get("limit"))
	offset, _ := strconv.Atoi(ctx.Query().Get("offset"))

	khttp.SetOperation(ctx, OperationPaymentList)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		txs, total, err := s.uc.ListPayments(c, id.UserID, limit, offset)
		if err != nil {
			return nil, err
		}
		views := make([]transactionView, 0, len(txs))
		for _, t := range txs {
			views = append(views, newTransactionView(t))
		}
		return Success(c, "", map[string]any{
			"payments": views,
			"total":    total,
		}), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// SyncPayment handles POST /payments/{payment_id}/sync.
func (s *PaymentService) SyncPayment(ctx khttp.Context) error {
	paymentID := ctx.Vars().Get("payment_id")
	if paymentID == "" {
		return kratoserrors.BadRequest("INVALID_PAYMENT_ID", "payment id is required")
	}

	khttp.SetOperation(ctx, OperationPaymentSync)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		tx, err := s.uc.SyncPayment(c, id.UserID, paymentID)
		if err != nil {
			return nil, err
		}
		return Success(c, "payment synced from gateway", newTransactionView(tx)), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// RefundPayment handles POST /payments/{payment_id}/refund.
func (s *PaymentService) RefundPayment(ctx khttp.Context) error {
	paymentID := ctx.Vars().Get("payment_id")
	if paymentID == "" {
		return kratoserrors.BadRequest("INVALID_PAYMENT_ID", "payment id is required")
	}
	var req refundRequest
	if err := ctx.Bind(&req); err != nil {
		return kratoserrors.BadRequest("INVALID_BODY", "request body is not valid JSON")
	}

	khttp.SetOperation(ctx, OperationPaymentRefund)
	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		id, ok := biz.IdentityFromContext(c)
		if !ok {
			return nil, ErrUnauthenticated
		}
		r := in.(*refundRequest)
		refund, err := s.uc.RefundPayment(c, id.UserID, paymentID, r.Amount, r.Reason)
		if err != nil {
			return nil, err
		}
		return Success(c, "refund initiated", map[string]any{
			"gateway_refund_id": refund.GatewayRefundID,
			"amount":            refund.Amount,
			"status":            refund.Status,
		}), nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// Webhook handles POST /payments/webhook. The endpoint is public: the
// gateway authenticates itself through the body signature, not a bearer
// token. The raw body is needed for signature verification, so this handler
// reads it before any JSON binding.
func (s *PaymentService) Webhook(ctx khttp.Context) error {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil || len(body) == 0 {
		return kratoserrors.BadRequest("EMPTY_BODY", "webhook body is required")
	}
	signature := ctx.Header().Get(webhookSignatureHeader)

	khttp.SetOperation(ctx, OperationPaymentWebhook)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		status, err := s.uc.ProcessWebhook(c, body, signature)
		if err != nil {
			return nil, err
		}
		return Success(c, "webhook accepted", map[string]any{
			"processing_status": string(status),
		}), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}
