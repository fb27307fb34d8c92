package data

import (
	"context"
	"errors"
	"time"

	"Stencil/internal/model"
	pkgerrors "Stencil/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// GatewayCustomer links an application user to their payment-gateway
// customer profile.
type GatewayCustomer struct {
	ID                int64     `gorm:"primaryKey;column:id"`
	UserID            int64     `gorm:"column:user_id;not null;uniqueIndex"`
	GatewayCustomerID string    `gorm:"column:gateway_customer_id;size:255;uniqueIndex;not null"`
	Name              string    `gorm:"column:name;size:255;not null"`
	Email             string    `gorm:"column:email;size:255;not null;index"`
	Contact           string    `gorm:"column:contact;size:20;not null"`
	Gstin             string    `gorm:"column:gstin;size:20"`
	IsActive          bool      `gorm:"column:is_active;default:true;not null"`
	Notes             string    `gorm:"column:notes;type:text"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (GatewayCustomer) TableName() string {
	return "gateway_customers"
}

// Mandate is a recurring-payment mandate registration.
type Mandate struct {
	ID               int64               `gorm:"primaryKey;column:id"`
	CustomerID       int64               `gorm:"column:customer_id;not null;index"`
	GatewayPaymentID string              `gorm:"column:gateway_payment_id;size:255;uniqueIndex;not null"`
	GatewayOrderID   string              `gorm:"column:gateway_order_id;size:255;not null;index"`
	TokenID          string              `gorm:"column:token_id;size:255;index"`
	Amount           int64               `gorm:"column:amount;not null"`
	Currency         string              `gorm:"column:currency;size:3;default:'INR';not null"`
	MaxAmount        int64               `gorm:"column:max_amount"`
	Method           string              `gorm:"column:method;size:50;default:'emandate';not null"`
	Description      string              `gorm:"column:description;type:text"`
	Frequency        string              `gorm:"column:frequency;size:50"`
	Status           model.MandateStatus `gorm:"column:status;size:20;default:'created';not null"`
	StartDate        *time.Time          `gorm:"column:start_date"`
	EndDate          *time.Time          `gorm:"column:end_date"`
	FailureReason    string              `gorm:"column:failure_reason;type:text"`
	Notes            string              `gorm:"column:notes;type:text"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Mandate) TableName() string {
	return "mandates"
}

// PaymentTransaction is one payment attempt, recurring or one-off.
type PaymentTransaction struct {
	ID               int64               `gorm:"primaryKey;column:id"`
	CustomerID       int64               `gorm:"column:customer_id;not null;index"`
	MandateID        *int64              `gorm:"column:mandate_id;index"`
	GatewayPaymentID string              `gorm:"column:gateway_payment_id;size:255;uniqueIndex;not null"`
	GatewayOrderID   string              `gorm:"column:gateway_order_id;size:255;index"`
	Amount           int64               `gorm:"column:amount;not null"`
	Currency         string              `gorm:"column:currency;size:3;default:'INR';not null"`
	Method           string              `gorm:"column:method;size:50;not null"`
	Status           model.PaymentStatus `gorm:"column:status;size:20;default:'created';not null"`
	CapturedAmount   int64               `gorm:"column:captured_amount;default:0;not null"`
	Description      string              `gorm:"column:description;type:text"`
	Receipt          string              `gorm:"column:receipt;size:255"`
	Bank             string              `gorm:"column:bank;size:100"`
	ErrorCode        string              `gorm:"column:error_code;size:100"`
	ErrorDescription string              `gorm:"column:error_description;type:text"`
	Fee              int64               `gorm:"column:fee;default:0;not null"`
	Tax              int64               `gorm:"column:tax;default:0;not null"`
	Notes            string              `gorm:"column:notes;type:text"`
	AuthorizedAt     *time.Time          `gorm:"column:authorized_at"`
	CapturedAt       *time.Time          `gorm:"column:captured_at"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

// PaymentRefund is one refund against a captured payment.
type PaymentRefund struct {
	ID               int64      `gorm:"primaryKey;column:id"`
	TransactionID    int64      `gorm:"column:transaction_id;not null;index"`
	GatewayRefundID  string     `gorm:"column:gateway_refund_id;size:255;uniqueIndex;not null"`
	GatewayPaymentID string     `gorm:"column:gateway_payment_id;size:255;not null;index"`
	Amount           int64      `gorm:"column:amount;not null"`
	Currency         string     `gorm:"column:currency;size:3;default:'INR';not null"`
	Status           string     `gorm:"column:status;size:50;not null"`
	Notes            string     `gorm:"column:notes;type:text"`
	ProcessedAt      *time.Time `gorm:"column:processed_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (PaymentRefund) TableName() string {
	return "payment_refunds"
}

// WebhookEvent records one received gateway webhook. The unique gateway
// event ID is the idempotency key: a redelivered event inserts nothing.
type WebhookEvent struct {
	ID                 int64               `gorm:"primaryKey;column:id"`
	GatewayEventID     string              `gorm:"column:gateway_event_id;size:255;uniqueIndex;not null"`
	EventType          string              `gorm:"column:event_type;size:100;not null;index"`
	EntityID           string              `gorm:"column:entity_id;size:255;not null;index"`
	EntityType         string              `gorm:"column:entity_type;size:50;not null"`
	Payload            string              `gorm:"column:payload;type:text;not null"`
	Signature          string              `gorm:"column:signature;size:255;not null"`
	Status             model.WebhookStatus `gorm:"column:status;size:20;default:'pending';not null"`
	ProcessingAttempts int                 `gorm:"column:processing_attempts;default:0;not null"`
	ProcessingError    string              `gorm:"column:processing_error;type:text"`
	ProcessedAt        *time.Time          `gorm:"column:processed_at"`
	EventCreatedAt     time.Time           `gorm:"column:event_created_at;not null"`
	ReceivedAt         time.Time           `gorm:"column:received_at;not null"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// PaymentRepo is the GORM-backed repository for payment entities.
type PaymentRepo struct {
	db     *gorm.DB
	data   *Data
	logger *log.Helper
}

// NewPaymentRepo creates a payment repository.
func NewPaymentRepo(data *Data, db *gorm.DB, logger log.Logger) *PaymentRepo {
	return &PaymentRepo{
		db:     db,
		data:   data,
		logger: log.NewHelper(logger),
	}
}

// CreateCustomer inserts a gateway customer record.
func (r *PaymentRepo) CreateCustomer(ctx context.Context, customer *GatewayCustomer) error {
	if err := r.db.WithContext(ctx).Create(customer).Error; err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// GetCustomerByUserID fetches a customer by owning user.
func (r *PaymentRepo) GetCustomerByUserID(ctx context.Context, userID int64) (*GatewayCustomer, error) {
	var customer GatewayCustomer
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return &customer, nil
}

// GetCustomerByGatewayID fetches a customer by gateway customer ID.
func (r *PaymentRepo) GetCustomerByGatewayID(ctx context.Context, gatewayCustomerID string) (*GatewayCustomer, error) {
	var customer GatewayCustomer
	err := r.db.WithContext(ctx).Where("gateway_customer_id = ?", gatewayCustomerID).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return &customer, nil
}

// CreateMandate inserts a mandate record.
func (r *PaymentRepo) CreateMandate(ctx context.Context, mandate *Mandate) error {
	if err := r.db.WithContext(ctx).Create(mandate).Error; err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// GetMandate fetches a mandate by ID.
func (r *PaymentRepo) GetMandate(ctx context.Context, id int64) (*Mandate, error) {
	var mandate Mandate
	err := r.db.WithContext(ctx).First(&mandate, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return &mandate, nil
}

// GetMandateByGatewayPaymentID fetches a mandate by its registration
// payment ID.
func (r *PaymentRepo) GetMandateByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*Mandate, error) {
	var mandate Mandate
	err := r.db.WithContext(ctx).Where("gateway_payment_id = ?", gatewayPaymentID).First(&mandate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return &mandate, nil
}

// GetMandateByTokenID fetches a mandate by its gateway token ID.
func (r *PaymentRepo) GetMandateByTokenID(ctx context.Context, tokenID string) (*Mandate, error) {
	var mandate Mandate
	err := r.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&mandate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return &mandate, nil
}

// ListMandatesByCustomer lists a customer's mandates, newest first.
func (r *PaymentRepo) ListMandatesByCustomer(ctx context.Context, customerID int64) ([]*Mandate, error) {
	var mandates []*Mandate
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&mandates).Error
	if err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return mandates, nil
}

// UpdateMandate saves the given mandate record.
func (r *PaymentRepo) UpdateMandate(ctx context.Context, mandate *Mandate) error {
	if err := r.db.WithContext(ctx).Save(mandate).Error; err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// CreateTransaction inserts a payment transaction record.
func (r *PaymentRepo) CreateTransaction(ctx context.Context, tx *PaymentTransaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// GetTransactionByGatewayPaymentID fetches a transaction by gateway
// payment ID.
func (r *PaymentRepo) GetTransactionByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*PaymentTransaction, error) {
	var tx PaymentTransaction
	err := r.db.WithContext(ctx).Where("gateway_payment_id = ?", gatewayPaymentID).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return &tx, nil
}

// ListTransactionsByCustomer lists a customer's transactions, newest first.
func (r *PaymentRepo) ListTransactionsByCustomer(ctx context.Context, customerID int64, limit, offset int) ([]*PaymentTransaction, int64, error) {
	var (
		txs   []*PaymentTransaction
		total int64
	)
	q := r.db.WithContext(ctx).Model(&PaymentTransaction{}).Where("customer_id = ?", customerID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, pkgerrors.ClassifyDBError(err)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&txs).Error
	if err != nil {
		return nil, 0, pkgerrors.ClassifyDBError(err)
	}
	return txs, total, nil
}

// UpdateTransaction saves the given transaction record.
func (r *PaymentRepo) UpdateTransaction(ctx context.Context, tx *PaymentTransaction) error {
	if err := r.db.WithContext(ctx).Save(tx).Error; err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// CreateRefund inserts a refund record.
func (r *PaymentRepo) CreateRefund(ctx context.Context, refund *PaymentRefund) error {
	if err := r.db.WithContext(ctx).Create(refund).Error; err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// ListRefundsByTransaction lists refunds against one transaction.
func (r *PaymentRepo) ListRefundsByTransaction(ctx context.Context, transactionID int64) ([]*PaymentRefund, error) {
	var refunds []*PaymentRefund
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&refunds).Error
	if err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return refunds, nil
}

// CreateWebhookEvent stores a received webhook. Returns (false, nil) when
// the gateway event ID was already recorded, which makes redelivery a no-op.
func (r *PaymentRepo) CreateWebhookEvent(ctx context.Context, event *WebhookEvent) (bool, error) {
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		if pkgerrors.IsDuplicateKeyError(dbErr) {
			return false, nil
		}
		return false, dbErr
	}
	return true, nil
}

// GetWebhookEventByGatewayID fetches a webhook event by gateway event ID.
func (r *PaymentRepo) GetWebhookEventByGatewayID(ctx context.Context, gatewayEventID string) (*WebhookEvent, error) {
	var event WebhookEvent
	err := r.db.WithContext(ctx).Where("gateway_event_id = ?", gatewayEventID).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return &event, nil
}

// ListPendingWebhookEvents returns pending or failed events eligible for a
// retry, oldest first. Events past maxAttempts are left for inspection.
func (r *PaymentRepo) ListPendingWebhookEvents(ctx context.Context, maxAttempts, limit int) ([]*WebhookEvent, error) {
	var events []*WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status IN ? AND processing_attempts < ?",
			[]model.WebhookStatus{model.WebhookPending, model.WebhookFailed}, maxAttempts).
		Order("received_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return events, nil
}

// UpdateWebhookEvent saves processing outcome fields on an event.
func (r *PaymentRepo) UpdateWebhookEvent(ctx context.Context, event *WebhookEvent) error {
	if err := r.db.WithContext(ctx).Save(event).Error; err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}
