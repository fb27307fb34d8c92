package biz

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"Stencil/internal/conf"
	"Stencil/internal/data"
	"Stencil/pkg/crypto"
	pkgerrors "Stencil/pkg/errors"
	pkglog "Stencil/pkg/log"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"
)

// API keys look like stk_<40 hex chars>; the prefix is stored alongside the
// digest so keys can be listed recognizably without storing plaintext.
const (
	apiKeyPrefix    = "stk_"
	apiKeyRandBytes = 20
	apiKeyCacheSize = 1024
	apiKeyCacheTTL  = 5 * time.Minute

	refreshTokenBytes = 32
	refreshTokenTTL   = 30 * 24 * time.Hour
)

// Authentication errors mapped to transport status codes.
var (
	ErrInvalidCredentials = kratoserrors.Unauthorized("INVALID_CREDENTIALS", "invalid username or password")
	ErrInvalidToken       = kratoserrors.Unauthorized("INVALID_TOKEN", "token is invalid or expired")
	ErrInvalidAPIKey      = kratoserrors.Unauthorized("INVALID_API_KEY", "api key is invalid or expired")
	ErrUserInactive       = kratoserrors.Forbidden("USER_INACTIVE", "user account is deactivated")
	ErrUserExists         = kratoserrors.Conflict("USER_EXISTS", "email or username already registered")
	ErrUserNotFound       = kratoserrors.NotFound("USER_NOT_FOUND", "user not found")
	ErrWeakPassword       = kratoserrors.BadRequest("WEAK_PASSWORD", "password must be at least 8 characters")
)

// UserRepo defines the user repository interface.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
type UserRepo interface {
	CreateUser(ctx context.Context, user *data.User) error
	GetUser(ctx context.Context, id int64) (*data.User, error)
	GetUserByUsername(ctx context.Context, username string) (*data.User, error)
	GetUserByEmail(ctx context.Context, email string) (*data.User, error)
	UpdateUser(ctx context.Context, user *data.User) error
	UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error
	UpdatePassword(ctx context.Context, userID int64, hashedPassword string) error
	CreateRefreshToken(ctx context.Context, token *data.RefreshToken) error
	GetRefreshTokenByDigest(ctx context.Context, digest string) (*data.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, digest string) error
	RevokeUserRefreshTokens(ctx context.Context, userID int64) error
}

// APIKeyRepo defines the API key repository interface.
type APIKeyRepo interface {
	CreateAPIKey(ctx context.Context, key *data.APIKey) error
	GetAPIKeyByDigest(ctx context.Context, digest string) (*data.APIKey, error)
	ListAPIKeys(ctx context.Context, userID int64) ([]*data.APIKey, error)
	TouchAPIKey(ctx context.Context, id int64)
	RevokeAPIKey(ctx context.Context, userID, id int64) error
}

// Claims are the JWT claims issued in access tokens.
type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	UserID   int64
	Username string
	Via      string // "jwt" or "api_key"
}

type identityKey struct{}

// NewIdentityContext stores the resolved caller on the request context.
// Set by the auth middleware after credential validation.
func NewIdentityContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the resolved caller, if authenticated.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok
}

// AuthUsecase implements registration, login, token and API key management.
type AuthUsecase struct {
	users   UserRepo
	apiKeys APIKeyRepo
	crypto  *crypto.AESCrypto

	jwtSecret  []byte
	jwtExpires time.Duration

	// keyCache short-circuits the DB lookup for hot API keys. Entries are
	// keyed by digest and expire so revocation takes effect within the TTL.
	keyCache *expirable.LRU[string, int64]

	logger *pkglog.LogHelper
}

// NewAuthUsecase creates the auth usecase.
func NewAuthUsecase(c *conf.Auth, users UserRepo, apiKeys APIKeyRepo, aes *crypto.AESCrypto, logger log.Logger) (*AuthUsecase, error) {
	if c == nil || c.Jwt == nil || c.Jwt.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	expires := 30 * time.Minute
	if c.Jwt.Expires != nil {
		expires = c.Jwt.Expires.AsDuration()
	}

	return &AuthUsecase{
		users:      users,
		apiKeys:    apiKeys,
		crypto:     aes,
		jwtSecret:  []byte(c.Jwt.Secret),
		jwtExpires: expires,
		keyCache:   expirable.NewLRU[string, int64](apiKeyCacheSize, nil, apiKeyCacheTTL),
		logger:     pkglog.NewLogHelper(logger),
	}, nil
}

// Register creates a new user account.
func (uc *AuthUsecase) Register(ctx context.Context, email, username, fullName, password string) (*data.User, error) {
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &data.User{
		Email:          email,
		Username:       username,
		FullName:       fullName,
		HashedPassword: string(hashed),
		IsActive:       true,
	}

	if err := uc.users.CreateUser(ctx, user); err != nil {
		if pkgerrors.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	uc.logger.Auth("user registered", "user_id", user.ID, "username", username)
	return user, nil
}

// Login verifies credentials and issues a token pair. The refresh token is
// stored AES encrypted; only its digest is used for lookup.
func (uc *AuthUsecase) Login(ctx context.Context, username, password string) (*TokenPair, *data.User, error) {
	user, err := uc.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			// Burn a comparison anyway so missing users cost the same as
			// wrong passwords.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		uc.logger.Security("login failed: bad password", "username", username)
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, nil, ErrUserInactive
	}

	pair, err := uc.issueTokens(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	if err := uc.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		uc.logger.Warnw("msg", "failed to update last login", "user_id", user.ID, "error", err)
	}

	uc.logger.Auth("user logged in", "user_id", user.ID, "username", username)
	return pair, user, nil
}

// Refresh exchanges a valid refresh token for a new token pair. The used
// token is revoked (rotation).
func (uc *AuthUsecase) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	digest := digestOf(refreshToken)

	stored, err := uc.users.GetRefreshTokenByDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	user, err := uc.users.GetUser(ctx, stored.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	if err := uc.users.RevokeRefreshToken(ctx, digest); err != nil {
		return nil, err
	}

	return uc.issueTokens(ctx, user)
}

// Logout revokes the given refresh token.
func (uc *AuthUsecase) Logout(ctx context.Context, refreshToken string) error {
	return uc.users.RevokeRefreshToken(ctx, digestOf(refreshToken))
}

// ChangePassword verifies the current password, stores the new hash and
// revokes all refresh tokens.
func (uc *AuthUsecase) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}

	user, err := uc.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := uc.users.UpdatePassword(ctx, userID, string(hashed)); err != nil {
		return err
	}
	if err := uc.users.RevokeUserRefreshTokens(ctx, userID); err != nil {
		uc.logger.Warnw("msg", "failed to revoke refresh tokens after password change",
			"user_id", userID, "error", err)
	}

	uc.logger.Security("password changed", "user_id", userID)
	return nil
}

// GetUser fetches one user by ID.
func (uc *AuthUsecase) GetUser(ctx context.Context, userID int64) (*data.User, error) {
	user, err := uc.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// ValidateToken parses and verifies a JWT access token.
func (uc *AuthUsecase) ValidateToken(_ context.Context, tokenString string) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return uc.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	return &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Via:      "jwt",
	}, nil
}

// CreateAPIKey mints a new API key for the user. The plaintext key is
// returned exactly once; only its digest and prefix are stored.
func (uc *AuthUsecase) CreateAPIKey(ctx context.Context, userID int64, name string, expiresAt *time.Time) (string, *data.APIKey, error) {
	raw := make([]byte, apiKeyRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("failed to generate api key: %w", err)
	}
	plaintext := apiKeyPrefix + hex.EncodeToString(raw)

	key := &data.APIKey{
		UserID:    userID,
		Name:      name,
		KeyDigest: digestOf(plaintext),
		KeyPrefix: plaintext[:12],
		IsActive:  true,
		ExpiresAt: expiresAt,
	}

	if err := uc.apiKeys.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}

	uc.logger.Auth("api key created", "user_id", userID, "key_id", key.ID, "name", name)
	return plaintext, key, nil
}

// ListAPIKeys lists the user's keys (digests only, never plaintext).
func (uc *AuthUsecase) ListAPIKeys(ctx context.Context, userID int64) ([]*data.APIKey, error) {
	return uc.apiKeys.ListAPIKeys(ctx, userID)
}

// RevokeAPIKey deactivates a key and purges any cached validation of it on
// this instance. Other instances converge within the cache TTL.
func (uc *AuthUsecase) RevokeAPIKey(ctx context.Context, userID, keyID int64) error {
	if err := uc.apiKeys.RevokeAPIKey(ctx, userID, keyID); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return kratoserrors.NotFound("API_KEY_NOT_FOUND", "api key not found")
		}
		return err
	}

	keys, err := uc.apiKeys.ListAPIKeys(ctx, userID)
	if err == nil {
		for _, k := range keys {
			if k.ID == keyID {
				uc.keyCache.Remove(k.KeyDigest)
			}
		}
	}

	uc.logger.Auth("api key revoked", "user_id", userID, "key_id", keyID)
	return nil
}

// ValidateAPIKey resolves the caller behind an API key, via cache when warm.
func (uc *AuthUsecase) ValidateAPIKey(ctx context.Context, plaintext string) (*Identity, error) {
	digest := digestOf(plaintext)

	if userID, ok := uc.keyCache.Get(digest); ok {
		return uc.identityForUser(ctx, userID)
	}

	key, err := uc.apiKeys.GetAPIKeyByDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}

	uc.keyCache.Add(digest, key.UserID)
	uc.apiKeys.TouchAPIKey(ctx, key.ID)

	return uc.identityForUser(ctx, key.UserID)
}

func (uc *AuthUsecase) identityForUser(ctx context.Context, userID int64) (*Identity, error) {
	user, err := uc.users.GetUser(ctx, userID)
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return &Identity{
		UserID:   user.ID,
		Username: user.Username,
		Via:      "api_key",
	}, nil
}

// issueTokens creates an access token and a rotated refresh token.
func (uc *AuthUsecase) issueTokens(ctx context.Context, user *data.User) (*TokenPair, error) {
	now := time.Now().UTC()

	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(uc.jwtExpires)),
			Issuer:    "stencil",
		},
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(uc.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	refresh := hex.EncodeToString(raw)

	encrypted := refresh
	if uc.crypto != nil {
		encrypted, err = uc.crypto.Encrypt(refresh)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	record := &data.RefreshToken{
		UserID:         user.ID,
		TokenEncrypted: encrypted,
		TokenDigest:    digestOf(refresh),
		ExpiresAt:      now.Add(refreshTokenTTL),
	}
	if err := uc.users.CreateRefreshToken(ctx, record); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(uc.jwtExpires.Seconds()),
	}, nil
}

// digestOf returns the hex SHA-256 digest used to index stored credentials.
func digestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
