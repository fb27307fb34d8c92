package data

import (
	"context"
	"errors"
	"time"

	pkgerrors "Stencil/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// APIKey is the GORM model for the api_keys table. Only the SHA-256 digest
// of the key is stored; the plaintext is shown to the caller exactly once at
// creation.
type APIKey struct {
	ID         int64      `gorm:"primaryKey;column:id"`
	UserID     int64      `gorm:"column:user_id;not null;index"`
	Name       string     `gorm:"column:name;size:100;not null"`
	KeyDigest  string     `gorm:"column:key_digest;size:64;uniqueIndex;not null"`
	KeyPrefix  string     `gorm:"column:key_prefix;size:12;not null"`
	Scopes     string     `gorm:"column:scopes;size:255"`
	IsActive   bool       `gorm:"column:is_active;default:true;not null"`
	LastUsedAt *time.Time `gorm:"column:last_used_at"`
	ExpiresAt  *time.Time `gorm:"column:expires_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (APIKey) TableName() string {
	return "api_keys"
}

// APIKeyRepo is the GORM-backed API key repository.
type APIKeyRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewAPIKeyRepo creates an API key repository.
func NewAPIKeyRepo(db *gorm.DB, logger log.Logger) *APIKeyRepo {
	return &APIKeyRepo{
		db:     db,
		logger: log.NewHelper(logger),
	}
}

// CreateAPIKey inserts a new API key record.
func (r *APIKeyRepo) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// GetAPIKeyByDigest looks up an active API key by its SHA-256 digest.
// Expired keys are treated as not found.
func (r *APIKeyRepo) GetAPIKeyByDigest(ctx context.Context, digest string) (*APIKey, error) {
	var key APIKey
	err := r.db.WithContext(ctx).
		Where("key_digest = ? AND is_active = ?", digest, true).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return &key, nil
}

// ListAPIKeys lists a user's keys, newest first.
func (r *APIKeyRepo) ListAPIKeys(ctx context.Context, userID int64) ([]*APIKey, error) {
	var keys []*APIKey
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return keys, nil
}

// TouchAPIKey stamps last_used_at. Best effort: failures are logged, not
// surfaced, so a stats write never fails an authenticated request.
func (r *APIKeyRepo) TouchAPIKey(ctx context.Context, id int64) {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", now).Error
	if err != nil {
		r.logger.Warnw("msg", "failed to update api key last_used_at", "key_id", id, "error", err)
	}
}

// RevokeAPIKey deactivates a key owned by the given user.
func (r *APIKeyRepo) RevokeAPIKey(ctx context.Context, userID, id int64) error {
	res := r.db.WithContext(ctx).Model(&APIKey{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_active", false)
	if res.Error != nil {
		return pkgerrors.ClassifyDBError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
