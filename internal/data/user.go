package data

import (
	"context"
	"errors"
	"time"

	pkgerrors "Stencil/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("record not found")

// User is the GORM model for the users table.
type User struct {
	ID             int64      `gorm:"primaryKey;column:id"`
	Email          string     `gorm:"column:email;size:255;uniqueIndex;not null"`
	Username       string     `gorm:"column:username;size:100;uniqueIndex;not null"`
	FullName       string     `gorm:"column:full_name;size:255"`
	HashedPassword string     `gorm:"column:hashed_password;size:255;not null"`
	IsActive       bool       `gorm:"column:is_active;default:true;not null"`
	IsVerified     bool       `gorm:"column:is_verified;default:false;not null"`
	IsSuperuser    bool       `gorm:"column:is_superuser;default:false;not null"`
	LastLogin      *time.Time `gorm:"column:last_login"`
	AvatarURL      string     `gorm:"column:avatar_url;type:text"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (User) TableName() string {
	return "users"
}

// RefreshToken is the GORM model for the refresh_tokens table.
// TokenEncrypted holds the AES-256-GCM ciphertext of the refresh token, so a
// database leak does not leak usable credentials.
type RefreshToken struct {
	ID             int64      `gorm:"primaryKey;column:id"`
	UserID         int64      `gorm:"column:user_id;not null;index"`
	TokenEncrypted string     `gorm:"column:token_encrypted;type:text;not null"`
	TokenDigest    string     `gorm:"column:token_digest;size:64;uniqueIndex;not null"`
	ExpiresAt      time.Time  `gorm:"column:expires_at;not null"`
	RevokedAt      *time.Time `gorm:"column:revoked_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// UserRepo is the GORM-backed user repository.
type UserRepo struct {
	db     *gorm.DB
	data   *Data
	logger *log.Helper
}

// NewUserRepo creates a user repository.
func NewUserRepo(data *Data, db *gorm.DB, logger log.Logger) *UserRepo {
	return &UserRepo{
		db:     db,
		data:   data,
		logger: log.NewHelper(logger),
	}
}

// CreateUser inserts a new user. Duplicate email or username surfaces as a
// classified duplicate-entry error.
func (r *UserRepo) CreateUser(ctx context.Context, user *User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// GetUser fetches a user by ID.
func (r *UserRepo) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return &user, nil
}

// GetUserByUsername fetches a user by username.
func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return &user, nil
}

// GetUserByEmail fetches a user by email.
func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return &user, nil
}

// UpdateUser saves the given user record.
func (r *UserRepo) UpdateUser(ctx context.Context, user *User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// UpdateLastLogin stamps the user's last successful login.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("last_login", at).Error
	if err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, userID int64, hashedPassword string) error {
	err := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("hashed_password", hashedPassword).Error
	if err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// CreateRefreshToken stores a refresh token record.
func (r *UserRepo) CreateRefreshToken(ctx context.Context, token *RefreshToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// GetRefreshTokenByDigest looks up an unexpired, unrevoked refresh token by
// its SHA-256 digest.
func (r *UserRepo) GetRefreshTokenByDigest(ctx context.Context, digest string) (*RefreshToken, error) {
	var token RefreshToken
	err := r.db.WithContext(ctx).
		Where("token_digest = ? AND revoked_at IS NULL AND expires_at > ?", digest, time.Now().UTC()).
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return &token, nil
}

// RevokeRefreshToken marks one refresh token revoked.
func (r *UserRepo) RevokeRefreshToken(ctx context.Context, digest string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("token_digest = ? AND revoked_at IS NULL", digest).
		Update("revoked_at", now).Error
	if err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes every live refresh token for a user.
// Called on password change.
func (r *UserRepo) RevokeUserRefreshTokens(ctx context.Context, userID int64) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", now).Error
	if err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}
